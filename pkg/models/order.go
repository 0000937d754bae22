package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// ParseSide accepts "buy" or "sell" in any casing.
func ParseSide(s string) (Side, error) {
	switch side := Side(strings.ToUpper(strings.TrimSpace(s))); side {
	case Buy, Sell:
		return side, nil
	default:
		return "", fmt.Errorf("unknown side %q", s)
	}
}

type OrderStatus string

const (
	StatusPending    OrderStatus = "pending"
	StatusProcessing OrderStatus = "processing"
	StatusCompleted  OrderStatus = "completed"
	StatusFailed     OrderStatus = "failed"
)

// Terminal reports whether the status will not change any further.
func (s OrderStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Order is the locally observed view of an order owned by the remote service.
type Order struct {
	ID              string          `json:"id"`
	Symbol          Symbol          `json:"symbol"`
	Side            Side            `json:"side"`
	AmountRequested decimal.Decimal `json:"amount_requested"`
	Quantity        decimal.Decimal `json:"quantity"`
	Price           decimal.Decimal `json:"price"`
	Total           decimal.Decimal `json:"total"`
	Fee             decimal.Decimal `json:"fee"`
	Status          OrderStatus     `json:"status"`
	Message         string          `json:"message,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Transaction is a historical record fetched from the trade history.
type Transaction struct {
	ID        string          `json:"id"`
	Symbol    Symbol          `json:"symbol"`
	Side      Side            `json:"side"`
	Amount    decimal.Decimal `json:"amount"`
	Price     decimal.Decimal `json:"price"`
	Total     decimal.Decimal `json:"total"`
	Status    OrderStatus     `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}

// Account normalizes the balance endpoint. Holdings is only populated when
// the account reports a multi-instrument portfolio.
type Account struct {
	Available   decimal.Decimal
	Holdings    map[Symbol]decimal.Decimal
	HasHoldings bool
}

// Held returns the quantity held for symbol, zero when unknown.
func (a Account) Held(symbol Symbol) decimal.Decimal {
	if q, ok := a.Holdings[symbol]; ok {
		return q
	}
	return decimal.Zero
}
