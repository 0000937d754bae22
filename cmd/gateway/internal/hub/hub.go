package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/shubham-shewale/bullion-desk/cmd/gateway/internal/continuity"
	"github.com/shubham-shewale/bullion-desk/cmd/gateway/internal/order"
	"github.com/shubham-shewale/bullion-desk/cmd/gateway/internal/protocol"
	"github.com/shubham-shewale/bullion-desk/cmd/gateway/internal/stream"
	"github.com/shubham-shewale/bullion-desk/pkg/models"
	"github.com/shubham-shewale/bullion-desk/pkg/portfolio"
)

type ClientInterface interface {
	ID() string
	SendJSON(v interface{})
	SendBytes(b []byte)
	Close()
}

// Snapshotter returns the last stored raw event for a symbol, nil when there
// is none.
type Snapshotter interface {
	Snapshot(ctx context.Context, symbol models.Symbol) ([]byte, error)
}

type Deps struct {
	Registry  *stream.Registry
	Filter    *continuity.Filter
	Orders    *order.Coordinator
	Portfolio *portfolio.Service
	Snapshots Snapshotter
}

type Config struct {
	ValidTickers map[string]bool // empty allows every symbol
	PollInterval time.Duration
	MaxAttempts  int
	DialTimeout  time.Duration // bounds one upstream dial, 10s when zero
}

// watch is one registry handle and the clients riding on it.
type watch struct {
	sym     models.Symbol
	handle  *stream.Handle
	clients map[ClientInterface]bool
}

// Hub fans feed events out to websocket clients. It holds one registry
// handle per symbol for as long as at least one client watches it.
type Hub struct {
	watches    map[models.Symbol]*watch
	byHandle   map[*stream.Handle]*watch // includes failed watches until onFeedError ran
	clientSubs map[ClientInterface]map[models.Symbol]*watch

	deps   Deps
	cfg    Config
	logger *zap.Logger
	mu     sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewHub(deps Deps, cfg Config, logger *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		watches:    make(map[models.Symbol]*watch),
		byHandle:   make(map[*stream.Handle]*watch),
		clientSubs: make(map[ClientInterface]map[models.Symbol]*watch),
		deps:       deps,
		cfg:        cfg,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
	if h.cfg.DialTimeout <= 0 {
		h.cfg.DialTimeout = 10 * time.Second
	}
	deps.Filter.SetSink(h.publishPoint)
	return h
}

func (h *Hub) HandleCommand(client ClientInterface, req protocol.WSRequest) {
	switch req.Action {
	case protocol.ActionSubscribe:
		h.handleSubscribe(client, req)
	case protocol.ActionUnsubscribe:
		h.handleUnsubscribe(client, req)
	case protocol.ActionUnsubscribeAll:
		h.handleUnsubscribeAll(client, req)
	case protocol.ActionOrder:
		h.handleOrder(client, req)
	case protocol.ActionPortfolio:
		h.handlePortfolio(client, req)
	default:
		h.sendError(client, req.ID, "Unknown action: "+req.Action)
	}
}

func (h *Hub) validTicker(s string) bool {
	return len(h.cfg.ValidTickers) == 0 || h.cfg.ValidTickers[s]
}

// current returns sym's live watch. A watch whose handle already failed is
// retired here so the next subscriber dials fresh. Callers hold mu.
func (h *Hub) current(sym models.Symbol) *watch {
	w := h.watches[sym]
	if w != nil && !w.handle.Active() {
		delete(h.watches, sym)
		return nil
	}
	return w
}

func (h *Hub) handleSubscribe(client ClientInterface, req protocol.WSRequest) {
	h.mu.Lock()
	var valid, toOpen []models.Symbol
	for _, s := range req.Payload.Symbols {
		sym := models.Symbol(s)
		if !h.validTicker(s) {
			continue
		}
		w := h.current(sym)
		// Idempotency: Ignore if already subscribed
		if w != nil && h.clientSubs[client][sym] == w {
			continue
		}
		valid = append(valid, sym)
		if w == nil {
			toOpen = append(toOpen, sym)
		}
	}
	h.mu.Unlock()

	if len(valid) == 0 {
		h.sendError(client, req.ID, "No valid/new symbols provided")
		return
	}

	// Dial without mu: the filter sink needs it to broadcast other symbols.
	fresh := make(map[models.Symbol]*stream.Handle, len(toOpen))
	var failed []models.Symbol
	for _, sym := range toOpen {
		ctx, cancel := context.WithTimeout(h.ctx, h.cfg.DialTimeout)
		handle, err := h.deps.Registry.Subscribe(ctx, sym, stream.Subscriber{
			OnEvent: h.onEvent,
			OnError: h.onFeedError,
		})
		cancel()
		if err != nil {
			h.logger.Error("Failed to subscribe upstream", zap.String("symbol", string(sym)), zap.Error(err))
			failed = append(failed, sym)
			continue
		}
		fresh[sym] = handle
	}

	var accepted, opened []models.Symbol
	var extra []*stream.Handle
	h.mu.Lock()
	if h.clientSubs[client] == nil {
		h.clientSubs[client] = make(map[models.Symbol]*watch)
	}
	for _, sym := range valid {
		handle, dialed := fresh[sym]
		w := h.current(sym)
		switch {
		case w != nil && dialed:
			// Another client installed one meanwhile.
			extra = append(extra, handle)
		case w == nil && dialed && handle.Active():
			w = &watch{sym: sym, handle: handle, clients: make(map[ClientInterface]bool)}
			h.watches[sym] = w
			h.byHandle[handle] = w
			opened = append(opened, sym)
		case w == nil:
			// Dial failed, or the feed died while we were unlocked.
			if !contains(failed, sym) {
				failed = append(failed, sym)
			}
			continue
		}
		if old := h.clientSubs[client][sym]; old != nil && old != w {
			delete(old.clients, client)
		}
		w.clients[client] = true
		h.clientSubs[client][sym] = w
		accepted = append(accepted, sym)
	}
	h.mu.Unlock()

	for _, handle := range extra {
		h.deps.Registry.Unsubscribe(handle)
	}

	if len(accepted) == 0 {
		h.sendError(client, req.ID, fmt.Sprintf("Feed unavailable for %v", failed))
		return
	}
	msg := fmt.Sprintf("Subscribed to %v", accepted)
	if len(failed) > 0 {
		msg += fmt.Sprintf(", feed unavailable for %v", failed)
	}
	h.sendAck(client, req.ID, "success", msg)

	// The filter calls back into the hub, so it is only touched unlocked.
	for _, sym := range opened {
		h.seed(sym)
	}
	for _, sym := range accepted {
		client.SendJSON(protocol.WSResponse{Type: protocol.TypeSnapshot, Data: h.snapshotFrame(sym)})
	}
}

func contains(syms []models.Symbol, sym models.Symbol) bool {
	for _, s := range syms {
		if s == sym {
			return true
		}
	}
	return false
}

// seed warms an empty series with the last event the processor stored.
func (h *Hub) seed(sym models.Symbol) {
	if h.deps.Snapshots == nil {
		return
	}
	for _, k := range models.SeriesKinds {
		if len(h.deps.Filter.Series(sym, k)) > 0 {
			return
		}
	}

	ctx, cancel := context.WithTimeout(h.ctx, 2*time.Second)
	defer cancel()
	raw, err := h.deps.Snapshots.Snapshot(ctx, sym)
	if err != nil {
		h.logger.Warn("Snapshot lookup failed", zap.String("symbol", string(sym)), zap.Error(err))
		return
	}
	if raw == nil {
		return
	}
	tick, err := stream.Decode(sym, raw, time.Now())
	if err != nil {
		h.logger.Warn("Stored snapshot unreadable", zap.String("symbol", string(sym)), zap.Error(err))
		return
	}
	h.deps.Filter.Observe(tick)
}

func (h *Hub) snapshotFrame(sym models.Symbol) protocol.SnapshotFrame {
	f := protocol.SnapshotFrame{
		Symbol:  sym,
		Control: h.deps.Filter.Control(sym),
		Series:  make(map[models.SeriesKind][]models.SeriesPoint, len(models.SeriesKinds)),
	}
	for _, k := range models.SeriesKinds {
		if pts := h.deps.Filter.Series(sym, k); len(pts) > 0 {
			f.Series[k] = pts
		}
	}
	return f
}

func (h *Hub) handleUnsubscribe(client ClientInterface, req protocol.WSRequest) {
	h.mu.Lock()
	var removed []models.Symbol
	var drop []*stream.Handle
	if subs, ok := h.clientSubs[client]; ok {
		for _, s := range req.Payload.Symbols {
			sym := models.Symbol(s)
			if w := subs[sym]; w != nil {
				delete(subs, sym)
				removed = append(removed, sym)
				drop = h.leave(w, client, drop)
			}
		}
	}
	h.mu.Unlock()
	h.unsubscribe(drop)

	if len(removed) > 0 {
		h.sendAck(client, req.ID, "success", fmt.Sprintf("Unsubscribed from %v", removed))
	} else {
		h.sendError(client, req.ID, fmt.Sprintf("Not subscribed to: %v", req.Payload.Symbols))
	}
}

func (h *Hub) handleUnsubscribeAll(client ClientInterface, req protocol.WSRequest) {
	h.mu.Lock()
	var drop []*stream.Handle
	if subs, ok := h.clientSubs[client]; ok {
		for _, w := range subs {
			drop = h.leave(w, client, drop)
		}
		// Clear the map but keep the client registered
		h.clientSubs[client] = make(map[models.Symbol]*watch)
	}
	h.mu.Unlock()
	h.unsubscribe(drop)

	h.sendAck(client, req.ID, "success", "Unsubscribed from all symbols")
}

func (h *Hub) Unregister(client ClientInterface) {
	h.mu.Lock()
	var drop []*stream.Handle
	if subs, ok := h.clientSubs[client]; ok {
		for _, w := range subs {
			drop = h.leave(w, client, drop)
		}
		delete(h.clientSubs, client)
	}
	h.mu.Unlock()
	h.unsubscribe(drop)

	client.Close()
}

// leave removes client from w and collects w's handle once nobody is left.
// Callers hold mu.
func (h *Hub) leave(w *watch, client ClientInterface, drop []*stream.Handle) []*stream.Handle {
	delete(w.clients, client)
	if len(w.clients) > 0 {
		return drop
	}
	if h.watches[w.sym] == w {
		delete(h.watches, w.sym)
	}
	delete(h.byHandle, w.handle)
	return append(drop, w.handle)
}

func (h *Hub) unsubscribe(handles []*stream.Handle) {
	for _, handle := range handles {
		h.deps.Registry.Unsubscribe(handle)
	}
}

// Watchers returns how many clients watch sym.
func (h *Hub) Watchers(sym models.Symbol) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if w := h.watches[sym]; w != nil {
		return len(w.clients)
	}
	return 0
}

func (h *Hub) onEvent(ev stream.Event) {
	if !ev.Degraded {
		h.deps.Filter.Observe(ev.Tick)
		return
	}
	reason := "malformed"
	var mf *stream.MalformedFeedData
	if errors.As(ev.Err, &mf) {
		reason = mf.Reason
	}
	h.broadcast(ev.Symbol, protocol.WSResponse{
		Type: protocol.TypeDegraded,
		Data: protocol.DegradedFrame{Symbol: ev.Symbol, Reason: reason, Raw: string(ev.Raw)},
	})
}

// onFeedError forgets the subscriptions riding on a lost handle. Clients
// resubscribe, which dials a fresh connection. A handle that was already
// replaced or released is ignored.
func (h *Hub) onFeedError(handle *stream.Handle, err error) {
	sym := handle.Symbol()
	h.mu.Lock()
	w := h.byHandle[handle]
	if w == nil {
		h.mu.Unlock()
		return
	}
	delete(h.byHandle, handle)
	if h.watches[sym] == w {
		delete(h.watches, sym)
	}
	clients := make([]ClientInterface, 0, len(w.clients))
	for c := range w.clients {
		if h.clientSubs[c][sym] == w {
			delete(h.clientSubs[c], sym)
		}
		clients = append(clients, c)
	}
	w.clients = nil
	h.mu.Unlock()

	b, mErr := json.Marshal(protocol.WSResponse{
		Type: protocol.TypeFeedError,
		Data: protocol.FeedErrorFrame{Symbol: sym, Error: err.Error()},
	})
	if mErr != nil {
		return
	}
	for _, c := range clients {
		c.SendBytes(b)
	}
}

func (h *Hub) publishPoint(sym models.Symbol, kind models.SeriesKind, p models.SeriesPoint) {
	h.broadcast(sym, protocol.WSResponse{
		Type: protocol.TypePoint,
		Data: protocol.PointFrame{Symbol: sym, Kind: kind, Timestamp: p.Timestamp, Value: p.Value},
	})
}

func (h *Hub) broadcast(sym models.Symbol, resp protocol.WSResponse) {
	b, err := json.Marshal(resp)
	if err != nil {
		h.logger.Error("Frame encode failed", zap.String("type", resp.Type), zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if w := h.watches[sym]; w != nil {
		for client := range w.clients {
			client.SendBytes(b)
		}
	}
}

// SetControl switches the trading gate for sym and tells its watchers.
func (h *Hub) SetControl(sym models.Symbol, state models.ControlState) models.ControlState {
	prev := h.deps.Filter.SetControl(sym, state)
	h.broadcast(sym, protocol.WSResponse{
		Type: protocol.TypeControl,
		Data: protocol.ControlFrame{Symbol: sym, State: state},
	})
	return prev
}

func (h *Hub) Control(sym models.Symbol) models.ControlState {
	return h.deps.Filter.Control(sym)
}

func (h *Hub) Controls() map[models.Symbol]models.ControlState {
	return h.deps.Filter.Controls()
}

func (h *Hub) handleOrder(client ClientInterface, req protocol.WSRequest) {
	if h.deps.Orders == nil {
		h.sendError(client, req.ID, "Trading is not configured")
		return
	}
	sym := strings.TrimSpace(req.Payload.Symbol)
	if sym != "" && !h.validTicker(sym) {
		h.sendError(client, req.ID, "Unknown symbol: "+sym)
		return
	}
	r := order.Request{Symbol: models.Symbol(sym), Side: req.Payload.Side, Amount: string(req.Payload.Amount)}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()

		o, err := h.deps.Orders.Submit(h.ctx, r)
		if err != nil {
			h.sendError(client, req.ID, err.Error())
			return
		}
		client.SendJSON(protocol.WSResponse{Type: protocol.TypeAck, ID: req.ID, Status: "success", Message: "Order accepted", Data: o})
		if o.Status.Terminal() {
			client.SendJSON(protocol.WSResponse{Type: protocol.TypeOrderUpdate, ID: req.ID, Status: "success", Data: o})
			return
		}

		final, err := h.deps.Orders.AwaitTerminal(h.ctx, o.ID, h.cfg.PollInterval, h.cfg.MaxAttempts)
		resp := protocol.WSResponse{Type: protocol.TypeOrderUpdate, ID: req.ID, Status: "success", Data: final}
		if err != nil {
			resp.Status = "error"
			resp.Message = err.Error()
			var pe *order.PollTimeoutError
			if errors.As(err, &pe) {
				resp.Message = fmt.Sprintf("Order %s still pending after %d checks", pe.OrderID, pe.Attempts)
			}
		}
		client.SendJSON(resp)
	}()
}

func (h *Hub) handlePortfolio(client ClientInterface, req protocol.WSRequest) {
	if h.deps.Portfolio == nil {
		h.sendError(client, req.ID, "Portfolio is not configured")
		return
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()

		snap, err := h.deps.Portfolio.Refresh(h.ctx)
		if err != nil {
			h.logger.Warn("Portfolio refresh failed", zap.Error(err))
			h.sendError(client, req.ID, err.Error())
			return
		}

		frame := protocol.PortfolioFrame{
			TotalBought: snap.Metrics.TotalBought,
			TotalSold:   snap.Metrics.TotalSold,
			NetPosition: snap.Metrics.NetPosition,
			TotalPnL:    snap.Metrics.TotalPnL,
			Holdings:    snap.Holdings,
		}
		if h.deps.Orders != nil {
			if acct, err := h.deps.Orders.RefreshAccount(h.ctx); err == nil {
				frame.Cash = acct.Available
				if acct.HasHoldings {
					frame.Holdings = acct.Holdings
				}
			} else {
				h.logger.Warn("Account lookup failed", zap.Error(err))
			}
		}
		prices := make(map[models.Symbol]decimal.Decimal, len(frame.Holdings))
		for sym := range frame.Holdings {
			if p, ok := h.deps.Filter.ReferencePrice(sym, models.Sell); ok {
				prices[sym] = p
			}
		}
		frame.Value = portfolio.Value(frame.Cash, frame.Holdings, prices)

		client.SendJSON(protocol.WSResponse{Type: protocol.TypePortfolio, ID: req.ID, Status: "success", Data: frame})
	}()
}

// Close stops in-flight order work and drops every upstream handle.
func (h *Hub) Close() {
	h.cancel()
	h.wg.Wait()

	h.mu.Lock()
	drop := make([]*stream.Handle, 0, len(h.byHandle))
	for handle := range h.byHandle {
		drop = append(drop, handle)
	}
	h.watches = make(map[models.Symbol]*watch)
	h.byHandle = make(map[*stream.Handle]*watch)
	h.mu.Unlock()
	h.unsubscribe(drop)
}

func (h *Hub) sendAck(c ClientInterface, id, status, msg string) {
	c.SendJSON(protocol.WSResponse{Type: protocol.TypeAck, ID: id, Status: status, Message: msg})
}

func (h *Hub) sendError(c ClientInterface, id, msg string) {
	c.SendJSON(protocol.WSResponse{Type: protocol.TypeError, ID: id, Message: msg})
}
