// Package stream multiplexes per-symbol price feeds. A Registry keeps at most
// one upstream connection per symbol no matter how many subscribers share it.
package stream

import (
	"context"
	"time"

	"github.com/shubham-shewale/bullion-desk/pkg/models"
)

// Feed opens upstream connections. ctx bounds the dial only; the returned
// Conn lives until Close.
type Feed interface {
	Open(ctx context.Context, symbol models.Symbol) (Conn, error)
}

// Conn is one live upstream stream. Next blocks for the next raw message and
// must return an error once Close has been called.
type Conn interface {
	Next() ([]byte, error)
	Close() error
}

// Event is what subscribers receive. When Degraded is set Tick is empty and
// Raw holds the payload that failed to decode.
type Event struct {
	Symbol     models.Symbol
	Tick       models.PriceTick
	Degraded   bool
	Raw        []byte
	Err        error
	ReceivedAt time.Time
}

// Subscriber callbacks run on the connection's read goroutine, in arrival
// order, and must not block.
type Subscriber struct {
	OnEvent func(Event)
	OnError func(h *Handle, err error)
}
