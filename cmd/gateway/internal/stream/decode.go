package stream

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shubham-shewale/bullion-desk/pkg/models"
	"github.com/shubham-shewale/bullion-desk/pkg/numeric"
)

// MalformedFeedData describes a message that could not be turned into a tick.
// It is never fatal; the raw payload is still forwarded.
type MalformedFeedData struct {
	Symbol models.Symbol
	Reason string
	Err    error
}

func (e *MalformedFeedData) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed feed data for %s: %s: %v", e.Symbol, e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed feed data for %s: %s", e.Symbol, e.Reason)
}

func (e *MalformedFeedData) Unwrap() error { return e.Err }

type wireEvent struct {
	Symbol    string          `json:"symbol"`
	BuyPrice  json.RawMessage `json:"buy_price"`
	SellPrice json.RawMessage `json:"sell_price"`
	Price     json.RawMessage `json:"price"`
	Time      json.RawMessage `json:"time"`
	Timestamp json.RawMessage `json:"timestamp"`
	Type      string          `json:"type"`
}

// Decode parses one feed message for the subscribed symbol. A price field
// that is present but unreadable makes the whole message malformed, as does
// a payload addressed to another symbol.
func Decode(symbol models.Symbol, raw []byte, now time.Time) (models.PriceTick, error) {
	var w wireEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return models.PriceTick{}, &MalformedFeedData{Symbol: symbol, Reason: "invalid json", Err: err}
	}
	if w.Symbol != "" && models.Symbol(w.Symbol) != symbol {
		return models.PriceTick{}, &MalformedFeedData{Symbol: symbol, Reason: "symbol mismatch " + w.Symbol}
	}

	tick := models.PriceTick{Symbol: symbol}
	fields := []struct {
		name string
		raw  json.RawMessage
		dst  **decimal.Decimal
	}{
		{"buy_price", w.BuyPrice, &tick.Buy},
		{"sell_price", w.SellPrice, &tick.Sell},
		{"price", w.Price, &tick.Spot},
	}
	for _, f := range fields {
		if len(f.raw) == 0 || string(f.raw) == "null" {
			continue
		}
		d, ok := numeric.Parse(f.raw)
		if !ok {
			return models.PriceTick{}, &MalformedFeedData{Symbol: symbol, Reason: "unreadable " + f.name}
		}
		*f.dst = &d
	}
	if !tick.HasPrice() {
		return models.PriceTick{}, &MalformedFeedData{Symbol: symbol, Reason: "no price field"}
	}

	ts := w.Time
	if len(ts) == 0 {
		ts = w.Timestamp
	}
	tick.ObservedAt = numeric.ParseTime(ts, now)
	return tick, nil
}
