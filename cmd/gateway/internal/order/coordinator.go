// Package order validates, submits and tracks trade orders until the remote
// trading service reports them settled.
package order

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/shubham-shewale/bullion-desk/cmd/gateway/internal/tradeapi"
	"github.com/shubham-shewale/bullion-desk/pkg/models"
	"github.com/shubham-shewale/bullion-desk/pkg/numeric"
)

// API is the part of the trading service the coordinator talks to.
type API interface {
	SubmitOrder(ctx context.Context, symbol models.Symbol, side models.Side, amount decimal.Decimal) (tradeapi.OrderRecord, error)
	OrderStatus(ctx context.Context, id string) (tradeapi.OrderRecord, error)
	OrderDetail(ctx context.Context, id string) (tradeapi.OrderRecord, error)
	Account(ctx context.Context) (models.Account, error)
}

// Market reports the trading gate and the last known prices. The
// continuity filter satisfies it.
type Market interface {
	Control(symbol models.Symbol) models.ControlState
	ReferencePrice(symbol models.Symbol, side models.Side) (decimal.Decimal, bool)
}

// Limits bounds the money amount of a single order.
type Limits struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

// Request is an order as the user typed it.
type Request struct {
	Symbol models.Symbol
	Side   string
	Amount string
}

type Coordinator struct {
	api    API
	market Market
	limits Limits
	logger *zap.Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error

	polls singleflight.Group
	// Shared poll loops run under base so one caller leaving does not end
	// them for the others.
	base context.Context
	stop context.CancelFunc

	mu       sync.Mutex
	tracked  map[string]models.Order
	inflight map[string]struct{}
	account  *models.Account
}

type Option func(*Coordinator)

// WithSleep replaces the wait between status fetches.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Coordinator) { c.sleep = sleep }
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func NewCoordinator(api API, market Market, limits Limits, logger *zap.Logger, opts ...Option) *Coordinator {
	base, stop := context.WithCancel(context.Background())
	c := &Coordinator{
		base:     base,
		stop:     stop,
		api:      api,
		market:   market,
		limits:   limits,
		logger:   logger,
		now:      time.Now,
		sleep:    sleepContext,
		tracked:  make(map[string]models.Order),
		inflight: make(map[string]struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Close ends running poll loops. Waiters get context.Canceled.
func (c *Coordinator) Close() {
	c.stop()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Submit validates req and, if it passes, sends it. Validation failures
// return *ValidationError. The balance check reads the account snapshot,
// which is fetched only when it has never been loaded or the last refresh
// failed.
func (c *Coordinator) Submit(ctx context.Context, req Request) (models.Order, error) {
	symbol := models.Symbol(strings.TrimSpace(string(req.Symbol)))
	if symbol == "" {
		return models.Order{}, &ValidationError{Field: "symbol", Reason: "required"}
	}
	side, err := models.ParseSide(req.Side)
	if err != nil {
		return models.Order{}, &ValidationError{Field: "side", Reason: "must be BUY or SELL"}
	}
	amount, err := c.checkAmount(req.Amount)
	if err != nil {
		return models.Order{}, err
	}
	if st := c.market.Control(symbol); st != models.ControlOnline {
		return models.Order{}, &ValidationError{Field: "symbol", Reason: fmt.Sprintf("trading is %s", strings.ToLower(string(st)))}
	}
	ref, ok := c.market.ReferencePrice(symbol, side)
	if !ok || !ref.IsPositive() {
		return models.Order{}, &ValidationError{Field: "symbol", Reason: "no price available yet"}
	}

	acct, err := c.Account(ctx)
	if err != nil {
		return models.Order{}, err
	}
	switch side {
	case models.Buy:
		if amount.GreaterThan(acct.Available) {
			return models.Order{}, &ValidationError{Field: "amount", Reason: "exceeds available balance"}
		}
	case models.Sell:
		// A plain balance account carries no holdings, the remote side decides.
		if acct.HasHoldings && amount.Div(ref).GreaterThan(acct.Held(symbol)) {
			return models.Order{}, &ValidationError{Field: "amount", Reason: "exceeds held quantity"}
		}
	}

	rec, err := c.api.SubmitOrder(ctx, symbol, side, amount)
	if err != nil {
		return models.Order{}, err
	}

	o := rec.Apply(models.Order{
		Symbol:          symbol,
		Side:            side,
		AmountRequested: amount,
		Price:           ref,
		Status:          models.StatusPending,
		CreatedAt:       c.now(),
	})
	if o.Status.Terminal() {
		c.reloadAccount(ctx)
	} else if o.ID != "" {
		c.mu.Lock()
		c.tracked[o.ID] = o
		c.mu.Unlock()
	}

	c.logger.Info("Order submitted",
		zap.String("id", o.ID),
		zap.String("symbol", string(symbol)),
		zap.String("side", string(side)),
		zap.String("amount", amount.String()),
		zap.String("status", string(o.Status)))
	return o, nil
}

func (c *Coordinator) checkAmount(raw string) (decimal.Decimal, error) {
	if strings.TrimSpace(raw) == "" {
		return decimal.Zero, &ValidationError{Field: "amount", Reason: "required"}
	}
	amount, ok := numeric.ParseString(raw)
	if !ok {
		return decimal.Zero, &ValidationError{Field: "amount", Reason: "not a number"}
	}
	if !amount.IsPositive() {
		return decimal.Zero, &ValidationError{Field: "amount", Reason: "must be greater than zero"}
	}
	if amount.LessThan(c.limits.Min) || amount.GreaterThan(c.limits.Max) {
		return decimal.Zero, &ValidationError{
			Field:  "amount",
			Reason: fmt.Sprintf("must be between %s and %s", c.limits.Min, c.limits.Max),
		}
	}
	return amount, nil
}

// Account returns the account snapshot, loading it on first use.
func (c *Coordinator) Account(ctx context.Context) (models.Account, error) {
	c.mu.Lock()
	if c.account != nil {
		a := *c.account
		c.mu.Unlock()
		return a, nil
	}
	c.mu.Unlock()
	return c.RefreshAccount(ctx)
}

// RefreshAccount fetches the account and replaces the snapshot.
func (c *Coordinator) RefreshAccount(ctx context.Context) (models.Account, error) {
	a, err := c.api.Account(ctx)
	if err != nil {
		return models.Account{}, err
	}
	c.mu.Lock()
	c.account = &a
	c.mu.Unlock()
	return a, nil
}

// reloadAccount refreshes the snapshot after a fill changed the balance. On
// failure the stale snapshot is dropped so the next Submit loads it.
func (c *Coordinator) reloadAccount(ctx context.Context) {
	if _, err := c.RefreshAccount(ctx); err != nil {
		c.logger.Warn("Account refresh failed", zap.Error(err))
		c.mu.Lock()
		c.account = nil
		c.mu.Unlock()
	}
}

// AwaitTerminal polls id until it settles. Concurrent calls for the same id
// share one loop and get the same result. The loop is bounded by
// maxAttempts and Close, not by ctx; a caller whose ctx ends stops waiting
// with ctx.Err() while the loop carries on for the rest.
func (c *Coordinator) AwaitTerminal(ctx context.Context, id string, interval time.Duration, maxAttempts int) (models.Order, error) {
	if maxAttempts < 1 {
		return models.Order{}, fmt.Errorf("await %s: max attempts must be positive, got %d", id, maxAttempts)
	}
	ch := c.polls.DoChan(id, func() (any, error) {
		return c.poll(c.base, id, interval, maxAttempts)
	})
	select {
	case res := <-ch:
		if res.Shared {
			c.logger.Debug("Joined in-flight poll", zap.String("id", id))
		}
		return res.Val.(models.Order), res.Err
	case <-ctx.Done():
		return models.Order{ID: id}, fmt.Errorf("await %s: %w", id, ctx.Err())
	}
}

func (c *Coordinator) poll(ctx context.Context, id string, interval time.Duration, maxAttempts int) (models.Order, error) {
	c.mu.Lock()
	c.inflight[id] = struct{}{}
	o, ok := c.tracked[id]
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.inflight, id)
		c.mu.Unlock()
	}()
	if !ok {
		o = models.Order{ID: id}
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		rec, err := c.api.OrderStatus(ctx, id)
		if err != nil {
			c.logger.Warn("Order status fetch failed", zap.String("id", id), zap.Int("attempt", attempt), zap.Error(err))
			return o, err
		}
		o = rec.Apply(o)
		if o.Status.Terminal() {
			return c.settle(ctx, o), nil
		}
		c.track(o)

		if attempt < maxAttempts {
			if err := c.sleep(ctx, interval); err != nil {
				return o, fmt.Errorf("await %s: %w", id, err)
			}
		}
	}

	c.logger.Warn("Order poll budget exhausted", zap.String("id", id), zap.Int("attempts", maxAttempts))
	return o, &PollTimeoutError{OrderID: id, Attempts: maxAttempts}
}

// settle enriches a completed order with its detail record, drops it from
// the tracked set and reloads the account.
func (c *Coordinator) settle(ctx context.Context, o models.Order) models.Order {
	if o.Status == models.StatusCompleted {
		rec, err := c.api.OrderDetail(ctx, o.ID)
		if err != nil {
			c.logger.Warn("Order detail fetch failed", zap.String("id", o.ID), zap.Error(err))
		} else {
			status := o.Status
			o = rec.Apply(o)
			o.Status = status
		}
	}

	c.mu.Lock()
	delete(c.tracked, o.ID)
	c.mu.Unlock()
	c.reloadAccount(ctx)

	c.logger.Info("Order settled",
		zap.String("id", o.ID),
		zap.String("status", string(o.Status)),
		zap.String("quantity", o.Quantity.String()),
		zap.String("total", o.Total.String()))
	return o
}

func (c *Coordinator) track(o models.Order) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tracked[o.ID]; ok {
		c.tracked[o.ID] = o
	}
}

// Tracked lists accepted orders that have not settled, oldest first.
func (c *Coordinator) Tracked() []models.Order {
	c.mu.Lock()
	out := make([]models.Order, 0, len(c.tracked))
	for _, o := range c.tracked {
		out = append(out, o)
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// MarkFailed settles a tracked order locally, for orders the caller gave up
// on. It reports false when id is not tracked.
func (c *Coordinator) MarkFailed(id, reason string) (models.Order, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.tracked[id]
	if !ok {
		return models.Order{}, false
	}
	delete(c.tracked, id)
	o.Status = models.StatusFailed
	o.Message = reason
	return o, true
}

// Polling reports whether a status loop for id is running.
func (c *Coordinator) Polling(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inflight[id]
	return ok
}
