// Package continuity turns raw ticks plus the operator trading gate into a
// gap-free display series per symbol.
//
// Per symbol the filter mirrors the control state:
//
//	ONLINE   ticks are appended verbatim and become the last known value
//	PAUSED   ticks are ignored, the last known value stays put
//	STOPPED  ticks append zero, the last known value is left untouched
//
// A heartbeat appends one point per period to every series that stayed quiet
// since the previous beat, so the series keeps moving without feed activity.
package continuity

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/shubham-shewale/bullion-desk/pkg/models"
)

// Sink receives every appended point. It runs under the symbol's lock, so
// calls for one symbol are ordered; it must not block or call back into the
// Filter.
type Sink func(symbol models.Symbol, kind models.SeriesKind, p models.SeriesPoint)

type Filter struct {
	capacity int
	period   time.Duration
	now      func() time.Time
	logger   *zap.Logger

	mu      sync.RWMutex
	symbols map[models.Symbol]*symbolState
	sink    Sink
}

type symbolState struct {
	mu      sync.Mutex
	control models.ControlState
	series  map[models.SeriesKind]*series
}

type series struct {
	ring     *Ring
	observed bool // a tick for this kind arrived, in any state
	hasLast  bool
	last     decimal.Decimal
	dirty    bool // appended since the previous heartbeat
}

type Option func(*Filter)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(f *Filter) { f.now = now }
}

func New(capacity int, period time.Duration, logger *zap.Logger, opts ...Option) *Filter {
	f := &Filter{
		capacity: capacity,
		period:   period,
		now:      time.Now,
		logger:   logger,
		symbols:  make(map[models.Symbol]*symbolState),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// SetSink installs the append listener. Pass nil to remove it.
func (f *Filter) SetSink(s Sink) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sink = s
}

// lookup returns the state of a symbol the filter has seen, or nil. Read
// paths use it so querying a symbol never allocates one.
func (f *Filter) lookup(symbol models.Symbol) *symbolState {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.symbols[symbol]
}

func (f *Filter) state(symbol models.Symbol) *symbolState {
	if st := f.lookup(symbol); st != nil {
		return st
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.symbols[symbol]; ok {
		return st
	}
	st := &symbolState{control: models.ControlOnline, series: make(map[models.SeriesKind]*series)}
	for _, k := range models.SeriesKinds {
		st.series[k] = &series{ring: NewRing(f.capacity)}
	}
	f.symbols[symbol] = st
	return st
}

func (f *Filter) currentSink() Sink {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.sink
}

// SetControl switches symbol's gate and returns the previous state. Missed
// ticks are not replayed. Setting ONLINE on an unseen symbol is a no-op.
func (f *Filter) SetControl(symbol models.Symbol, state models.ControlState) models.ControlState {
	if state == models.ControlOnline && f.lookup(symbol) == nil {
		return models.ControlOnline
	}
	st := f.state(symbol)
	st.mu.Lock()
	defer st.mu.Unlock()

	prev := st.control
	st.control = state
	if prev != state {
		f.logger.Info("Trading control changed",
			zap.String("symbol", string(symbol)),
			zap.String("from", string(prev)),
			zap.String("to", string(state)))
	}
	return prev
}

// Control reports symbol's gate. Unseen symbols are ONLINE.
func (f *Filter) Control(symbol models.Symbol) models.ControlState {
	st := f.lookup(symbol)
	if st == nil {
		return models.ControlOnline
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.control
}

func tickValues(t models.PriceTick) map[models.SeriesKind]*decimal.Decimal {
	return map[models.SeriesKind]*decimal.Decimal{
		models.SeriesSpot: t.Spot,
		models.SeriesBuy:  t.Buy,
		models.SeriesSell: t.Sell,
	}
}

// Observe applies one raw tick according to the symbol's control state.
func (f *Filter) Observe(tick models.PriceTick) {
	st := f.state(tick.Symbol)
	sink := f.currentSink()

	st.mu.Lock()
	defer st.mu.Unlock()

	now := f.now()
	values := tickValues(tick)
	for _, kind := range models.SeriesKinds {
		v := values[kind]
		if v == nil {
			continue
		}
		s := st.series[kind]
		switch st.control {
		case models.ControlOnline:
			s.observed = true
			s.hasLast = true
			s.last = *v
			f.append(tick.Symbol, kind, s, models.SeriesPoint{Timestamp: now, Value: *v}, sink)
		case models.ControlStopped:
			s.observed = true
			f.append(tick.Symbol, kind, s, models.SeriesPoint{Timestamp: now, Value: decimal.Zero}, sink)
		case models.ControlPaused:
			s.observed = true
		}
	}
}

// Heartbeat appends a filler point to every series that has seen a tick and
// had nothing appended since the previous heartbeat.
func (f *Filter) Heartbeat(now time.Time) {
	f.mu.RLock()
	symbols := make(map[models.Symbol]*symbolState, len(f.symbols))
	for sym, st := range f.symbols {
		symbols[sym] = st
	}
	sink := f.sink
	f.mu.RUnlock()

	for sym, st := range symbols {
		st.mu.Lock()
		for _, kind := range models.SeriesKinds {
			s := st.series[kind]
			if s.dirty {
				s.dirty = false
				continue
			}
			var v decimal.Decimal
			switch {
			case st.control == models.ControlStopped && s.observed:
				v = decimal.Zero
			case st.control != models.ControlStopped && s.hasLast:
				v = s.last
			default:
				continue
			}
			f.append(sym, kind, s, models.SeriesPoint{Timestamp: now, Value: v}, sink)
			s.dirty = false
		}
		st.mu.Unlock()
	}
}

// append must be called with the symbol lock held.
func (f *Filter) append(sym models.Symbol, kind models.SeriesKind, s *series, p models.SeriesPoint, sink Sink) {
	s.ring.Push(p)
	s.dirty = true
	if sink != nil {
		sink(sym, kind, p)
	}
}

// Run drives Heartbeat until ctx is done.
func (f *Filter) Run(ctx context.Context) {
	ticker := time.NewTicker(f.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.Heartbeat(f.now())
		}
	}
}

// Controls reports the gate of every symbol the filter holds state for.
func (f *Filter) Controls() map[models.Symbol]models.ControlState {
	f.mu.RLock()
	symbols := make(map[models.Symbol]*symbolState, len(f.symbols))
	for sym, st := range f.symbols {
		symbols[sym] = st
	}
	f.mu.RUnlock()

	out := make(map[models.Symbol]models.ControlState, len(symbols))
	for sym, st := range symbols {
		st.mu.Lock()
		out[sym] = st.control
		st.mu.Unlock()
	}
	return out
}

// Series copies the points of one series, oldest first.
func (f *Filter) Series(symbol models.Symbol, kind models.SeriesKind) []models.SeriesPoint {
	st := f.lookup(symbol)
	if st == nil {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.series[kind]
	if !ok {
		return nil
	}
	return s.ring.Snapshot()
}

// LastKnown returns the cached value of a series.
func (f *Filter) LastKnown(symbol models.Symbol, kind models.SeriesKind) (decimal.Decimal, bool) {
	st := f.lookup(symbol)
	if st == nil {
		return decimal.Zero, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.series[kind]
	if !ok || !s.hasLast {
		return decimal.Zero, false
	}
	return s.last, true
}

// ReferencePrice is the last known price an order on side would trade at:
// the buy or sell leg of a two-sided quote, else the spot price.
func (f *Filter) ReferencePrice(symbol models.Symbol, side models.Side) (decimal.Decimal, bool) {
	kind := models.SeriesBuy
	if side == models.Sell {
		kind = models.SeriesSell
	}
	if v, ok := f.LastKnown(symbol, kind); ok {
		return v, true
	}
	return f.LastKnown(symbol, models.SeriesSpot)
}
