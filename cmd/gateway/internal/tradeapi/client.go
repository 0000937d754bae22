// Package tradeapi is the HTTP client for the remote trading service. It owns
// no state; every call is one request.
package tradeapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/shubham-shewale/bullion-desk/pkg/models"
	"github.com/shubham-shewale/bullion-desk/pkg/numeric"
)

const maxErrorBody = 4 * 1024

type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *zap.Logger
}

func NewClient(baseURL, token string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// SubmitOrder posts {symbol, amount} to the buy or sell endpoint.
func (c *Client) SubmitOrder(ctx context.Context, symbol models.Symbol, side models.Side, amount decimal.Decimal) (OrderRecord, error) {
	path := "/trading/buy"
	if side == models.Sell {
		path = "/trading/sell"
	}
	body := submitBody{Symbol: string(symbol), Amount: json.Number(amount.String())}

	var rec OrderRecord
	if err := c.do(ctx, "submit order", http.MethodPost, path, body, &rec); err != nil {
		return OrderRecord{}, err
	}
	return rec, nil
}

// OrderStatus fetches the current status of an order.
func (c *Client) OrderStatus(ctx context.Context, id string) (OrderRecord, error) {
	var rec OrderRecord
	err := c.do(ctx, "poll order", http.MethodGet, "/trading/poll/"+url.PathEscape(id), nil, &rec)
	return rec, err
}

// OrderDetail fetches the authoritative record of an order.
func (c *Client) OrderDetail(ctx context.Context, id string) (OrderRecord, error) {
	var rec OrderRecord
	err := c.do(ctx, "order detail", http.MethodGet, "/trading/transaction/"+url.PathEscape(id), nil, &rec)
	return rec, err
}

// History returns one page of transactions, newest first.
func (c *Client) History(ctx context.Context, limit, offset int) ([]models.Transaction, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))

	var recs []OrderRecord
	if err := c.do(ctx, "history", http.MethodGet, "/trading/history?"+q.Encode(), nil, &recs); err != nil {
		return nil, err
	}

	txs := make([]models.Transaction, 0, len(recs))
	for _, r := range recs {
		txs = append(txs, r.Transaction())
	}
	return txs, nil
}

// Account reads the balance endpoint. A plain account reports only
// "balance"; a portfolio account also reports "holdings" keyed
// "<symbol>_<unit>".
func (c *Client) Account(ctx context.Context) (models.Account, error) {
	var raw map[string]json.RawMessage
	if err := c.do(ctx, "balance", http.MethodGet, "/trading/portfolio", nil, &raw); err != nil {
		return models.Account{}, err
	}
	return decodeAccount(raw)
}

func decodeAccount(raw map[string]json.RawMessage) (models.Account, error) {
	balance, ok := numeric.Parse(raw["balance"])
	if !ok {
		return models.Account{}, &TransportError{Op: "balance", Err: errors.New("response has no usable balance")}
	}
	acct := models.Account{Available: balance}

	holdingsRaw, ok := raw["holdings"]
	if !ok {
		return acct, nil
	}
	var holdings map[string]json.RawMessage
	if err := json.Unmarshal(holdingsRaw, &holdings); err != nil {
		return models.Account{}, &TransportError{Op: "balance", Err: fmt.Errorf("decode holdings: %w", err)}
	}

	acct.HasHoldings = true
	acct.Holdings = make(map[models.Symbol]decimal.Decimal, len(holdings))
	for key, v := range holdings {
		qty, ok := numeric.Parse(v)
		if !ok {
			continue
		}
		sym := key
		if i := strings.LastIndex(key, "_"); i > 0 {
			sym = key[:i]
		}
		acct.Holdings[models.Symbol(sym)] = acct.Holdings[models.Symbol(sym)].Add(qty)
	}
	return acct, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	reqID := uuid.NewString()
	req.Header.Set("X-Request-ID", reqID)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Debug("Trading API error",
			zap.String("op", op),
			zap.String("request_id", reqID),
			zap.Int("status", resp.StatusCode))
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Err: errors.New(strings.TrimSpace(string(msg)))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
