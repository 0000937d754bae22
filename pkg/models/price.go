package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Symbol identifies a tradable instrument. Case-sensitive.
type Symbol string

// PriceTick is one decoded update from the remote feed. At least one of
// Buy, Sell or Spot is set.
type PriceTick struct {
	Symbol     Symbol
	Buy        *decimal.Decimal
	Sell       *decimal.Decimal
	Spot       *decimal.Decimal
	ObservedAt time.Time
}

// HasPrice reports whether any price field is present.
func (t PriceTick) HasPrice() bool {
	return t.Buy != nil || t.Sell != nil || t.Spot != nil
}

// FeedEvent is the wire shape of a feed message, shared by the generator,
// the processor and the gateway feed decoders.
type FeedEvent struct {
	Symbol    string   `json:"symbol"`
	BuyPrice  *float64 `json:"buy_price,omitempty"`
	SellPrice *float64 `json:"sell_price,omitempty"`
	Price     *float64 `json:"price,omitempty"`
	Time      string   `json:"time"`
	Type      string   `json:"type"`
	SeqID     int64    `json:"seq_id,omitempty"` // monotonic counter per symbol
}

const (
	EventTypeQuote = "quote"
	EventTypeSpot  = "spot"
)

// Redis naming shared by the processor (writer) and the gateway (reader).
const (
	snapshotKeyPrefix  = "price:"
	priceChannelPrefix = "prices."
)

// SnapshotKey is the Redis key holding the latest raw event for symbol.
func SnapshotKey(symbol string) string { return snapshotKeyPrefix + symbol }

// PriceChannel is the Redis pub/sub channel carrying symbol's events.
func PriceChannel(symbol string) string { return priceChannelPrefix + symbol }
