package testutils

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shubham-shewale/bullion-desk/cmd/gateway/internal/tradeapi"
	"github.com/shubham-shewale/bullion-desk/pkg/models"
)

// Record builds a tradeapi.OrderRecord from its JSON form and panics on bad
// input.
func Record(js string) tradeapi.OrderRecord {
	var r tradeapi.OrderRecord
	if err := json.Unmarshal([]byte(js), &r); err != nil {
		panic(err)
	}
	return r
}

// FakeTradeAPI is a scripted trading service. Statuses are served in order,
// the last one repeating.
type FakeTradeAPI struct {
	Mu sync.Mutex

	SubmitResult tradeapi.OrderRecord
	SubmitErr    error
	Statuses     []tradeapi.OrderRecord
	StatusErr    error
	StatusDelay  time.Duration
	Detail       tradeapi.OrderRecord
	DetailErr    error
	AccountValue models.Account
	AccountErr   error

	calls   map[string]int
	served  int
	Amounts []decimal.Decimal
}

func (f *FakeTradeAPI) count(op string) {
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[op]++
}

// Calls returns how many times op was invoked. Empty op counts everything.
func (f *FakeTradeAPI) Calls(op string) int {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	if op == "" {
		n := 0
		for _, c := range f.calls {
			n += c
		}
		return n
	}
	return f.calls[op]
}

func (f *FakeTradeAPI) SubmitOrder(_ context.Context, _ models.Symbol, _ models.Side, amount decimal.Decimal) (tradeapi.OrderRecord, error) {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	f.count("submit")
	f.Amounts = append(f.Amounts, amount)
	return f.SubmitResult, f.SubmitErr
}

func (f *FakeTradeAPI) OrderStatus(ctx context.Context, _ string) (tradeapi.OrderRecord, error) {
	f.Mu.Lock()
	f.count("status")
	delay := f.StatusDelay
	f.Mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return tradeapi.OrderRecord{}, ctx.Err()
		}
	}

	f.Mu.Lock()
	defer f.Mu.Unlock()
	if f.StatusErr != nil {
		return tradeapi.OrderRecord{}, f.StatusErr
	}
	if len(f.Statuses) == 0 {
		return tradeapi.OrderRecord{}, nil
	}
	i := min(f.served, len(f.Statuses)-1)
	f.served++
	return f.Statuses[i], nil
}

func (f *FakeTradeAPI) OrderDetail(_ context.Context, _ string) (tradeapi.OrderRecord, error) {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	f.count("detail")
	return f.Detail, f.DetailErr
}

func (f *FakeTradeAPI) Account(_ context.Context) (models.Account, error) {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	f.count("account")
	return f.AccountValue, f.AccountErr
}

// FakeMarket is a fixed control state and price table.
type FakeMarket struct {
	State  models.ControlState
	Prices map[models.Side]decimal.Decimal
}

func (m *FakeMarket) Control(models.Symbol) models.ControlState {
	if m.State == "" {
		return models.ControlOnline
	}
	return m.State
}

func (m *FakeMarket) ReferencePrice(_ models.Symbol, side models.Side) (decimal.Decimal, bool) {
	p, ok := m.Prices[side]
	return p, ok
}
