package tradeapi

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/shubham-shewale/bullion-desk/pkg/models"
	"github.com/shubham-shewale/bullion-desk/pkg/numeric"
)

// flexString accepts both JSON strings and numbers, ids have been seen as both.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	if string(b) == "null" {
		return nil
	}
	*f = flexString(b)
	return nil
}

// OrderRecord is an order as the trading service reports it. Numeric fields
// stay raw until Apply reconciles them against a locally known order.
// Legacy column names (price_per_unit, total_amount) are accepted as aliases.
type OrderRecord struct {
	ID              flexString      `json:"id"`
	Symbol          string          `json:"symbol"`
	Type            string          `json:"type"`
	TransactionType string          `json:"transaction_type"`
	Amount          json.RawMessage `json:"amount"`
	Quantity        json.RawMessage `json:"quantity"`
	Price           json.RawMessage `json:"price"`
	PricePerUnit    json.RawMessage `json:"price_per_unit"`
	Total           json.RawMessage `json:"total"`
	TotalAmount     json.RawMessage `json:"total_amount"`
	Fee             json.RawMessage `json:"fee"`
	Status          string          `json:"status"`
	ErrorMessage    string          `json:"error_message"`
	CreatedAt       json.RawMessage `json:"created_at"`
}

func firstRaw(raws ...json.RawMessage) json.RawMessage {
	for _, r := range raws {
		if len(r) > 0 && string(r) != "null" {
			return r
		}
	}
	return nil
}

// Side maps "buy"/"sell" in any casing; empty when neither.
func (r OrderRecord) Side() models.Side {
	t := r.Type
	if t == "" {
		t = r.TransactionType
	}
	switch strings.ToUpper(strings.TrimSpace(t)) {
	case "BUY":
		return models.Buy
	case "SELL":
		return models.Sell
	}
	return ""
}

// Apply overlays the record on prev. Absent or unparsable numbers keep the
// value prev already had, and so do empty strings.
func (r OrderRecord) Apply(prev models.Order) models.Order {
	out := prev
	if r.ID != "" {
		out.ID = string(r.ID)
	}
	if r.Symbol != "" {
		out.Symbol = models.Symbol(r.Symbol)
	}
	if side := r.Side(); side != "" {
		out.Side = side
	}
	if r.Status != "" {
		out.Status = models.OrderStatus(strings.ToLower(r.Status))
	}
	if r.ErrorMessage != "" {
		out.Message = r.ErrorMessage
	}
	out.Quantity = numeric.Reconcile(firstRaw(r.Amount, r.Quantity), prev.Quantity)
	out.Price = numeric.Reconcile(firstRaw(r.Price, r.PricePerUnit), prev.Price)
	out.Total = numeric.Reconcile(firstRaw(r.Total, r.TotalAmount), prev.Total)
	out.Fee = numeric.Reconcile(r.Fee, prev.Fee)
	out.CreatedAt = numeric.ParseTime(r.CreatedAt, prev.CreatedAt)
	return out
}

// Transaction converts a history record. Numbers that cannot be read are zero.
func (r OrderRecord) Transaction() models.Transaction {
	o := r.Apply(models.Order{})
	return models.Transaction{
		ID:        o.ID,
		Symbol:    o.Symbol,
		Side:      o.Side,
		Amount:    o.Quantity,
		Price:     o.Price,
		Total:     o.Total,
		Status:    o.Status,
		CreatedAt: o.CreatedAt,
	}
}

type submitBody struct {
	Symbol string      `json:"symbol"`
	Amount json.Number `json:"amount"`
}
