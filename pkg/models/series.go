package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ControlState is the operator trading gate for a symbol.
type ControlState string

const (
	ControlOnline  ControlState = "ONLINE"
	ControlPaused  ControlState = "PAUSED"
	ControlStopped ControlState = "STOPPED"
)

// ParseControlState accepts any casing of the three states.
func ParseControlState(s string) (ControlState, error) {
	switch st := ControlState(strings.ToUpper(strings.TrimSpace(s))); st {
	case ControlOnline, ControlPaused, ControlStopped:
		return st, nil
	default:
		return "", fmt.Errorf("unknown control state %q", s)
	}
}

// SeriesKind selects one of the per-symbol display series.
type SeriesKind string

const (
	SeriesSpot SeriesKind = "spot"
	SeriesBuy  SeriesKind = "buy"
	SeriesSell SeriesKind = "sell"
)

// SeriesKinds lists every kind in display order.
var SeriesKinds = []SeriesKind{SeriesSpot, SeriesBuy, SeriesSell}

// SeriesPoint is one display-ready sample.
type SeriesPoint struct {
	Timestamp time.Time       `json:"timestamp"`
	Value     decimal.Decimal `json:"value"`
}
