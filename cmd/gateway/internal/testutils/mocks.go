package testutils

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/shubham-shewale/bullion-desk/cmd/gateway/internal/protocol"
	"github.com/shubham-shewale/bullion-desk/cmd/gateway/internal/stream"
	"github.com/shubham-shewale/bullion-desk/pkg/models"
)

// MockClient simulates a connected websocket client
type MockClient struct {
	IDVal    string
	Messages []protocol.WSResponse // Stores decoded JSON messages
	Closed   bool
	Mu       sync.Mutex
}

func NewMockClient(id string) *MockClient {
	return &MockClient{IDVal: id, Messages: make([]protocol.WSResponse, 0)}
}

func (m *MockClient) ID() string { return m.IDVal }

func (m *MockClient) Close() {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Closed = true
}

func (m *MockClient) SendJSON(v interface{}) {
	m.Mu.Lock()
	defer m.Mu.Unlock()

	if resp, ok := v.(protocol.WSResponse); ok {
		m.Messages = append(m.Messages, resp)
	}
}

// SendBytes decodes a pre-encoded frame so tests can inspect it like SendJSON.
func (m *MockClient) SendBytes(b []byte) {
	var resp protocol.WSResponse
	if err := json.Unmarshal(b, &resp); err != nil {
		return
	}
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Messages = append(m.Messages, resp)
}

// Count returns how many messages were received.
func (m *MockClient) Count() int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return len(m.Messages)
}

func (m *MockClient) LastMsgType() string {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if len(m.Messages) == 0 {
		return ""
	}
	return m.Messages[len(m.Messages)-1].Type
}

// OfType returns a copy of every message with the given type.
func (m *MockClient) OfType(typ string) []protocol.WSResponse {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	var out []protocol.WSResponse
	for _, msg := range m.Messages {
		if msg.Type == typ {
			out = append(out, msg)
		}
	}
	return out
}

// FakeFeed hands out FakeConns and counts dials per symbol. Block makes
// Open for a symbol wait until released or its ctx ends.
type FakeFeed struct {
	Mu      sync.Mutex
	Opens   map[models.Symbol]int
	Conns   map[models.Symbol][]*FakeConn
	OpenErr error

	gates   map[models.Symbol]chan struct{}
	dialing map[models.Symbol]int
}

func NewFakeFeed() *FakeFeed {
	return &FakeFeed{
		Opens:   make(map[models.Symbol]int),
		Conns:   make(map[models.Symbol][]*FakeConn),
		gates:   make(map[models.Symbol]chan struct{}),
		dialing: make(map[models.Symbol]int),
	}
}

// Block holds every Open for symbol until the returned func is called.
func (f *FakeFeed) Block(symbol models.Symbol) (release func()) {
	gate := make(chan struct{})
	f.Mu.Lock()
	f.gates[symbol] = gate
	f.Mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			f.Mu.Lock()
			delete(f.gates, symbol)
			f.Mu.Unlock()
			close(gate)
		})
	}
}

// Dialing reports how many Opens for symbol are waiting on a Block.
func (f *FakeFeed) Dialing(symbol models.Symbol) int {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	return f.dialing[symbol]
}

func (f *FakeFeed) Open(ctx context.Context, symbol models.Symbol) (stream.Conn, error) {
	f.Mu.Lock()
	gate := f.gates[symbol]
	f.Mu.Unlock()

	if gate != nil {
		f.Mu.Lock()
		f.dialing[symbol]++
		f.Mu.Unlock()
		select {
		case <-gate:
		case <-ctx.Done():
		}
		f.Mu.Lock()
		f.dialing[symbol]--
		f.Mu.Unlock()
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	f.Mu.Lock()
	defer f.Mu.Unlock()
	if f.OpenErr != nil {
		return nil, f.OpenErr
	}
	f.Opens[symbol]++
	c := NewFakeConn()
	f.Conns[symbol] = append(f.Conns[symbol], c)
	return c, nil
}

func (f *FakeFeed) OpenCount(symbol models.Symbol) int {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	return f.Opens[symbol]
}

// Last returns the most recently opened connection for symbol.
func (f *FakeFeed) Last(symbol models.Symbol) *FakeConn {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	conns := f.Conns[symbol]
	if len(conns) == 0 {
		return nil
	}
	return conns[len(conns)-1]
}

type FakeConn struct {
	msgs   chan []byte
	fail   chan error
	closed chan struct{}
	once   sync.Once
}

func NewFakeConn() *FakeConn {
	return &FakeConn{
		msgs:   make(chan []byte, 64),
		fail:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (c *FakeConn) Push(raw string) { c.msgs <- []byte(raw) }

func (c *FakeConn) Fail(err error) { c.fail <- err }

func (c *FakeConn) Next() ([]byte, error) {
	select {
	case m := <-c.msgs:
		return m, nil
	case err := <-c.fail:
		return nil, err
	case <-c.closed:
		return nil, io.EOF
	}
}

func (c *FakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *FakeConn) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Eventually polls cond until it holds or the timeout passes.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Errorf("condition not met within %v: %s", timeout, msg)
}

var ErrBrokenPipe = errors.New("broken pipe")
