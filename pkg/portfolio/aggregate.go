// Package portfolio folds trade history into derived position metrics.
// Everything here is a pure function of its inputs except Service, which only
// fetches the history it then folds.
package portfolio

import (
	"github.com/shopspring/decimal"

	"github.com/shubham-shewale/bullion-desk/pkg/models"
)

// Metrics are computed over completed transactions only.
type Metrics struct {
	TotalBought decimal.Decimal `json:"total_bought"`
	TotalSold   decimal.Decimal `json:"total_sold"`
	NetPosition decimal.Decimal `json:"net_position"`
	TotalPnL    decimal.Decimal `json:"total_pnl"`
}

// Aggregate sums amounts and totals of completed buys and sells. Pending,
// processing and failed records are excluded from every sum.
func Aggregate(txs []models.Transaction) Metrics {
	bought, sold := decimal.Zero, decimal.Zero
	spent, received := decimal.Zero, decimal.Zero

	for _, tx := range txs {
		if tx.Status != models.StatusCompleted {
			continue
		}
		switch tx.Side {
		case models.Buy:
			bought = bought.Add(tx.Amount)
			spent = spent.Add(tx.Total)
		case models.Sell:
			sold = sold.Add(tx.Amount)
			received = received.Add(tx.Total)
		}
	}

	return Metrics{
		TotalBought: bought,
		TotalSold:   sold,
		NetPosition: bought.Sub(sold),
		TotalPnL:    received.Sub(spent),
	}
}

// Holdings is the net completed quantity per symbol.
func Holdings(txs []models.Transaction) map[models.Symbol]decimal.Decimal {
	out := make(map[models.Symbol]decimal.Decimal)
	for _, tx := range txs {
		if tx.Status != models.StatusCompleted || !tx.Amount.IsPositive() {
			continue
		}
		switch tx.Side {
		case models.Buy:
			out[tx.Symbol] = out[tx.Symbol].Add(tx.Amount)
		case models.Sell:
			out[tx.Symbol] = out[tx.Symbol].Sub(tx.Amount)
		}
	}
	return out
}

// Value marks the positive holdings to market and adds the cash balance.
// Symbols without a known price contribute nothing.
func Value(cash decimal.Decimal, holdings map[models.Symbol]decimal.Decimal, prices map[models.Symbol]decimal.Decimal) decimal.Decimal {
	total := cash
	for sym, qty := range holdings {
		price, ok := prices[sym]
		if !ok || !qty.IsPositive() {
			continue
		}
		total = total.Add(qty.Mul(price))
	}
	return total
}
