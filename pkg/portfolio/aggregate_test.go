package portfolio_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/shubham-shewale/bullion-desk/pkg/models"
	"github.com/shubham-shewale/bullion-desk/pkg/portfolio"
)

func tx(side models.Side, amount, total int64, status models.OrderStatus) models.Transaction {
	return models.Transaction{
		Symbol: "gold96",
		Side:   side,
		Amount: decimal.NewFromInt(amount),
		Total:  decimal.NewFromInt(total),
		Status: status,
	}
}

func TestAggregate_MixedStatuses(t *testing.T) {
	txs := []models.Transaction{
		tx(models.Buy, 100, 200000, models.StatusCompleted),
		tx(models.Sell, 40, 90000, models.StatusCompleted),
		tx(models.Buy, 10, 25000, models.StatusPending),
	}

	m := portfolio.Aggregate(txs)

	checks := map[string]struct{ got, want decimal.Decimal }{
		"totalBought": {m.TotalBought, decimal.NewFromInt(100)},
		"totalSold":   {m.TotalSold, decimal.NewFromInt(40)},
		"netPosition": {m.NetPosition, decimal.NewFromInt(60)},
		"totalPnL":    {m.TotalPnL, decimal.NewFromInt(-110000)},
	}
	for name, c := range checks {
		if !c.got.Equal(c.want) {
			t.Errorf("%s = %s, want %s", name, c.got, c.want)
		}
	}
}

func TestAggregate_Empty(t *testing.T) {
	m := portfolio.Aggregate(nil)
	if !m.TotalBought.IsZero() || !m.TotalSold.IsZero() || !m.NetPosition.IsZero() || !m.TotalPnL.IsZero() {
		t.Errorf("expected all zero metrics, got %+v", m)
	}
}

func TestAggregate_OnlyNonTerminal(t *testing.T) {
	m := portfolio.Aggregate([]models.Transaction{
		tx(models.Buy, 5, 1000, models.StatusProcessing),
		tx(models.Sell, 5, 1000, models.StatusFailed),
	})
	if !m.NetPosition.IsZero() || !m.TotalPnL.IsZero() {
		t.Errorf("non-completed records must be excluded, got %+v", m)
	}
}

func TestHoldingsAndValue(t *testing.T) {
	txs := []models.Transaction{
		tx(models.Buy, 3, 90000, models.StatusCompleted),
		tx(models.Sell, 1, 31000, models.StatusCompleted),
		{Symbol: "spot", Side: models.Buy, Amount: decimal.NewFromInt(2), Status: models.StatusCompleted},
		{Symbol: "spot", Side: models.Sell, Amount: decimal.NewFromInt(5), Status: models.StatusCompleted},
	}

	h := portfolio.Holdings(txs)
	if !h["gold96"].Equal(decimal.NewFromInt(2)) {
		t.Errorf("gold96 holding = %s, want 2", h["gold96"])
	}
	if !h["spot"].Equal(decimal.NewFromInt(-3)) {
		t.Errorf("spot holding = %s, want -3", h["spot"])
	}

	prices := map[models.Symbol]decimal.Decimal{
		"gold96": decimal.NewFromInt(40000),
		"spot":   decimal.NewFromInt(1000),
	}
	got := portfolio.Value(decimal.NewFromInt(500), h, prices)
	if !got.Equal(decimal.NewFromInt(80500)) {
		t.Errorf("value = %s, want 80500 (negative holdings are not marked)", got)
	}
}

type pagedHistory struct {
	records []models.Transaction
	calls   int
	fail    bool
}

func (p *pagedHistory) History(_ context.Context, limit, offset int) ([]models.Transaction, error) {
	p.calls++
	if p.fail {
		return nil, errors.New("connection refused")
	}
	if offset >= len(p.records) {
		return nil, nil
	}
	end := min(offset+limit, len(p.records))
	return p.records[offset:end], nil
}

func TestService_RefreshPages(t *testing.T) {
	src := &pagedHistory{}
	for i := 0; i < 5; i++ {
		src.records = append(src.records, tx(models.Buy, 1, 100, models.StatusCompleted))
	}

	snap, err := portfolio.NewService(src, 2, 100).Refresh(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snap.Transactions) != 5 {
		t.Errorf("expected 5 transactions, got %d", len(snap.Transactions))
	}
	if src.calls != 3 {
		t.Errorf("expected 3 page fetches, got %d", src.calls)
	}
	if !snap.Metrics.TotalBought.Equal(decimal.NewFromInt(5)) {
		t.Errorf("totalBought = %s, want 5", snap.Metrics.TotalBought)
	}
}

func TestService_RefreshError(t *testing.T) {
	_, err := portfolio.NewService(&pagedHistory{fail: true}, 10, 10).Refresh(context.Background())
	if err == nil {
		t.Fatal("expected error from failing source")
	}
}
