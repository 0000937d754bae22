package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/shubham-shewale/bullion-desk/pkg/models"
)

var ErrRegistryClosed = errors.New("stream registry closed")

// Registry owns the upstream connections. It is created once per process and
// torn down with Close. Subscriptions have no timeout: a caller that never
// unsubscribes keeps its symbol's connection open.
type Registry struct {
	feed   Feed
	logger *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	conns  map[models.Symbol]*feedConn
	closed bool
	wg     sync.WaitGroup
}

// feedConn is pending until ready is closed. After that either conn is set
// or err says why the dial failed.
type feedConn struct {
	symbol  models.Symbol
	conn    Conn
	err     error
	ready   chan struct{}
	subs    map[*Handle]struct{}
	closing atomic.Bool
}

// Handle is one subscription. It only receives messages dispatched after
// Subscribe returned, and no new delivery starts once Unsubscribe returned.
type Handle struct {
	symbol models.Symbol
	sub    Subscriber
	owner  *feedConn
	active atomic.Bool
}

func (h *Handle) Symbol() models.Symbol { return h.symbol }

// Active is false once the handle was unsubscribed or its connection failed.
func (h *Handle) Active() bool { return h.active.Load() }

func NewRegistry(feed Feed, logger *zap.Logger) *Registry {
	return &Registry{
		feed:   feed,
		logger: logger,
		now:    time.Now,
		conns:  make(map[models.Symbol]*feedConn),
	}
}

// Subscribe attaches sub to symbol's feed, dialing it if this is the first
// subscriber. The dial runs without the registry lock, so other symbols keep
// flowing; concurrent subscribers of the same symbol wait for that one dial.
func (r *Registry) Subscribe(ctx context.Context, symbol models.Symbol, sub Subscriber) (*Handle, error) {
	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return nil, ErrRegistryClosed
		}

		fc, ok := r.conns[symbol]
		if !ok {
			fc = &feedConn{symbol: symbol, ready: make(chan struct{}), subs: make(map[*Handle]struct{})}
			r.conns[symbol] = fc
			r.mu.Unlock()
			return r.dial(ctx, fc, sub)
		}

		select {
		case <-fc.ready:
		default:
			r.mu.Unlock()
			select {
			case <-fc.ready:
			case <-ctx.Done():
				return nil, fmt.Errorf("open feed for %s: %w", symbol, ctx.Err())
			}
			continue
		}

		if fc.err != nil {
			r.mu.Unlock()
			if errors.Is(fc.err, ErrRegistryClosed) {
				return nil, fc.err
			}
			return nil, fmt.Errorf("open feed for %s: %w", symbol, fc.err)
		}
		if fc.closing.Load() {
			// Torn down between ready and now; dial again.
			r.mu.Unlock()
			continue
		}
		h := r.attach(fc, sub)
		r.mu.Unlock()
		return h, nil
	}
}

// dial opens fc's connection. Callers must not hold mu.
func (r *Registry) dial(ctx context.Context, fc *feedConn, sub Subscriber) (*Handle, error) {
	conn, err := r.feed.Open(ctx, fc.symbol)

	r.mu.Lock()
	defer r.mu.Unlock()
	defer close(fc.ready)

	if err == nil && r.closed {
		conn.Close()
		err = ErrRegistryClosed
	}
	if err != nil {
		if r.conns[fc.symbol] == fc {
			delete(r.conns, fc.symbol)
		}
		fc.err = err
		fc.closing.Store(true)
		if errors.Is(err, ErrRegistryClosed) {
			return nil, err
		}
		return nil, fmt.Errorf("open feed for %s: %w", fc.symbol, err)
	}

	fc.conn = conn
	r.wg.Add(1)
	go r.readLoop(fc)
	r.logger.Info("Feed connection opened", zap.String("symbol", string(fc.symbol)))

	return r.attach(fc, sub), nil
}

// attach registers a handle on fc. Callers hold mu.
func (r *Registry) attach(fc *feedConn, sub Subscriber) *Handle {
	h := &Handle{symbol: fc.symbol, sub: sub, owner: fc}
	h.active.Store(true)
	fc.subs[h] = struct{}{}
	return h
}

// Unsubscribe detaches h. The last subscriber of a symbol closes its
// connection. Calling it twice, or after the connection failed, is a no-op.
func (r *Registry) Unsubscribe(h *Handle) {
	if h == nil || !h.active.CompareAndSwap(true, false) {
		return
	}

	r.mu.Lock()
	fc := h.owner
	delete(fc.subs, h)
	var toClose *feedConn
	if len(fc.subs) == 0 && r.conns[fc.symbol] == fc {
		delete(r.conns, fc.symbol)
		fc.closing.Store(true)
		toClose = fc
	}
	r.mu.Unlock()

	if toClose != nil {
		if err := toClose.conn.Close(); err != nil {
			r.logger.Warn("Feed close error", zap.String("symbol", string(toClose.symbol)), zap.Error(err))
		}
		r.logger.Info("Feed connection closed", zap.String("symbol", string(toClose.symbol)))
	}
}

// Subscribers returns how many live handles share symbol's connection.
func (r *Registry) Subscribers(symbol models.Symbol) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if fc, ok := r.conns[symbol]; ok {
		return len(fc.subs)
	}
	return 0
}

// Close tears down every connection and waits for the read loops to exit.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	conns := r.conns
	r.conns = make(map[models.Symbol]*feedConn)
	for _, fc := range conns {
		fc.closing.Store(true)
		for h := range fc.subs {
			h.active.Store(false)
		}
	}
	r.mu.Unlock()

	for _, fc := range conns {
		// Pending dials see closed and clean up themselves.
		if fc.conn != nil {
			fc.conn.Close()
		}
	}
	r.wg.Wait()
}

func (r *Registry) readLoop(fc *feedConn) {
	defer r.wg.Done()
	for {
		raw, err := fc.conn.Next()
		if err != nil {
			r.connFailed(fc, err)
			return
		}
		r.dispatch(fc, raw)
	}
}

func (r *Registry) dispatch(fc *feedConn, raw []byte) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return
	}

	now := r.now()
	ev := Event{Symbol: fc.symbol, ReceivedAt: now}
	tick, err := Decode(fc.symbol, raw, now)
	if err != nil {
		r.logger.Warn("Malformed feed data", zap.String("symbol", string(fc.symbol)), zap.Error(err))
		ev.Degraded = true
		ev.Raw = append([]byte(nil), raw...)
		ev.Err = err
	} else {
		ev.Tick = tick
	}

	for _, h := range r.snapshot(fc) {
		if h.active.Load() && h.sub.OnEvent != nil {
			h.sub.OnEvent(ev)
		}
	}
}

func (r *Registry) snapshot(fc *feedConn) []*Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Handle, 0, len(fc.subs))
	for h := range fc.subs {
		out = append(out, h)
	}
	return out
}

// connFailed drops a broken connection so the next Subscribe dials fresh.
// Reconnecting is left to the subscribers.
func (r *Registry) connFailed(fc *feedConn, err error) {
	if fc.closing.Load() {
		return
	}

	r.mu.Lock()
	if r.conns[fc.symbol] == fc {
		delete(r.conns, fc.symbol)
	}
	fc.closing.Store(true)
	subs := make([]*Handle, 0, len(fc.subs))
	for h := range fc.subs {
		if h.active.CompareAndSwap(true, false) {
			subs = append(subs, h)
		}
	}
	fc.subs = make(map[*Handle]struct{})
	r.mu.Unlock()

	fc.conn.Close()
	r.logger.Error("Feed connection lost", zap.String("symbol", string(fc.symbol)), zap.Error(err))

	for _, h := range subs {
		if h.sub.OnError != nil {
			h.sub.OnError(h, err)
		}
	}
}
