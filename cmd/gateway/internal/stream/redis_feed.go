package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shubham-shewale/bullion-desk/pkg/models"
)

// RedisFeed reads the per-symbol channels the processor publishes to. Each
// Open holds its own PubSub connection.
type RedisFeed struct {
	client      *redis.Client
	dialTimeout time.Duration
}

// NewRedisFeed bounds each subscription handshake by dialTimeout; zero means
// ctx alone decides.
func NewRedisFeed(client *redis.Client, dialTimeout time.Duration) *RedisFeed {
	return &RedisFeed{client: client, dialTimeout: dialTimeout}
}

func (f *RedisFeed) Open(ctx context.Context, symbol models.Symbol) (Conn, error) {
	if f.dialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.dialTimeout)
		defer cancel()
	}
	channel := models.PriceChannel(string(symbol))
	ps := f.client.Subscribe(ctx, channel)

	// Wait for the subscription confirmation so failures surface here.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	connCtx, cancel := context.WithCancel(context.Background())
	return &redisConn{ps: ps, ctx: connCtx, cancel: cancel}, nil
}

// Snapshot returns the latest stored event for symbol, if any.
func (f *RedisFeed) Snapshot(ctx context.Context, symbol models.Symbol) ([]byte, error) {
	val, err := f.client.Get(ctx, models.SnapshotKey(string(symbol))).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	return val, err
}

type redisConn struct {
	ps     *redis.PubSub
	ctx    context.Context
	cancel context.CancelFunc
}

func (c *redisConn) Next() ([]byte, error) {
	msg, err := c.ps.ReceiveMessage(c.ctx)
	if err != nil {
		return nil, err
	}
	return []byte(msg.Payload), nil
}

func (c *redisConn) Close() error {
	c.cancel()
	return c.ps.Close()
}
