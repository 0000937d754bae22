package stream

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shubham-shewale/bullion-desk/pkg/models"
)

const maxLineSize = 1024 * 1024

// HTTPFeed streams GET {base}/stream/price/{symbol}. Messages are newline
// delimited JSON; SSE "data:" framing is unwrapped.
type HTTPFeed struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPFeed(baseURL, token string, dialTimeout time.Duration) *HTTPFeed {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.ResponseHeaderTimeout = dialTimeout
	return &HTTPFeed{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Transport: tr},
	}
}

func (f *HTTPFeed) Open(ctx context.Context, symbol models.Symbol) (Conn, error) {
	// The stream outlives ctx; ctx only cancels while we wait for headers.
	connCtx, cancel := context.WithCancel(context.Background())
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	req, err := http.NewRequestWithContext(connCtx, http.MethodGet, f.baseURL+"/stream/price/"+url.PathEscape(string(symbol)), nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream, application/x-ndjson")
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("stream %s: unexpected status %d", symbol, resp.StatusCode)
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &httpConn{body: resp.Body, scanner: sc, cancel: cancel}, nil
}

type httpConn struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	cancel  context.CancelFunc
}

func (c *httpConn) Next() ([]byte, error) {
	for c.scanner.Scan() {
		line := bytes.TrimSpace(c.scanner.Bytes())
		if len(line) == 0 || line[0] == ':' {
			continue
		}
		if rest, ok := bytes.CutPrefix(line, []byte("data:")); ok {
			line = bytes.TrimSpace(rest)
		} else if isSSEField(line) {
			continue
		}
		return append([]byte(nil), line...), nil
	}
	if err := c.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func isSSEField(line []byte) bool {
	for _, p := range []string{"event:", "id:", "retry:"} {
		if bytes.HasPrefix(line, []byte(p)) {
			return true
		}
	}
	return false
}

func (c *httpConn) Close() error {
	c.cancel()
	return c.body.Close()
}
