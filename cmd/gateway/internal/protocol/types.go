package protocol

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shubham-shewale/bullion-desk/pkg/models"
)

const (
	ActionSubscribe      = "subscribe"
	ActionUnsubscribe    = "unsubscribe"
	ActionUnsubscribeAll = "unsubscribe_all"
	ActionOrder          = "order"
	ActionPortfolio      = "portfolio"
)

// Frame types pushed to clients.
const (
	TypeAck         = "ack"
	TypeError       = "error"
	TypeSnapshot    = "snapshot"
	TypePoint       = "point"
	TypeDegraded    = "degraded"
	TypeFeedError   = "feed_error"
	TypeControl     = "control"
	TypeOrderUpdate = "order_update"
	TypePortfolio   = "portfolio"
)

type WSRequest struct {
	Action  string         `json:"action"`
	Payload RequestPayload `json:"payload"`
	ID      string         `json:"id,omitempty"`
}

type RequestPayload struct {
	Symbols []string `json:"symbols,omitempty"`
	Symbol  string   `json:"symbol,omitempty"`
	Side    string   `json:"side,omitempty"`
	Amount  Text     `json:"amount,omitempty"`
}

// Text takes a JSON string or number verbatim, so "2,000" and 2000 both
// reach the order validator untouched.
type Text string

func (t *Text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if string(b) == "null" {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = Text(s)
		return nil
	}
	*t = Text(b)
	return nil
}

type WSResponse struct {
	Type    string      `json:"type"`
	ID      string      `json:"id,omitempty"`     // Matches request ID
	Status  string      `json:"status,omitempty"` // "success", "error"
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

type PointFrame struct {
	Symbol    models.Symbol     `json:"symbol"`
	Kind      models.SeriesKind `json:"kind"`
	Timestamp time.Time         `json:"timestamp"`
	Value     decimal.Decimal   `json:"value"`
}

// SnapshotFrame carries the buffered series sent right after a subscribe.
type SnapshotFrame struct {
	Symbol  models.Symbol                              `json:"symbol"`
	Control models.ControlState                        `json:"control"`
	Series  map[models.SeriesKind][]models.SeriesPoint `json:"series"`
}

type DegradedFrame struct {
	Symbol models.Symbol `json:"symbol"`
	Reason string        `json:"reason"`
	Raw    string        `json:"raw"`
}

type FeedErrorFrame struct {
	Symbol models.Symbol `json:"symbol"`
	Error  string        `json:"error"`
}

type ControlFrame struct {
	Symbol models.Symbol       `json:"symbol"`
	State  models.ControlState `json:"state"`
}

type PortfolioFrame struct {
	TotalBought decimal.Decimal                   `json:"total_bought"`
	TotalSold   decimal.Decimal                   `json:"total_sold"`
	NetPosition decimal.Decimal                   `json:"net_position"`
	TotalPnL    decimal.Decimal                   `json:"total_pnl"`
	Holdings    map[models.Symbol]decimal.Decimal `json:"holdings"`
	Cash        decimal.Decimal                   `json:"cash"`
	Value       decimal.Decimal                   `json:"value"`
}
