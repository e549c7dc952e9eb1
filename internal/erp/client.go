// Package erp talks to the ERP over JSON-RPC: product and quant lookups for
// stock validation, and creation of internal stock movements (pickings).
package erp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"github.com/odyssey-erp/stocksync/internal/platform/resilience"
	"github.com/odyssey-erp/stocksync/internal/shared"
)

// Config groups ERP connection settings.
type Config struct {
	URL      string
	Database string
	UserID   int64
	APIKey   string
	Timeout  time.Duration

	// OnBreakerChange observes circuit breaker transitions.
	OnBreakerChange func(name string, open bool)
}

// Client performs execute_kw calls. All calls go through a circuit breaker so a
// dead ERP fails fast instead of tying up request goroutines.
type Client struct {
	endpoint string
	db       string
	uid      int64
	apiKey   string
	http     *http.Client
	breaker  *gobreaker.CircuitBreaker
	logger   *slog.Logger
	seq      atomic.Int64
}

// RemoteError is an error reported by the ERP itself (as opposed to transport failure).
type RemoteError struct {
	Model   string
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("erp: %s.%s: %s", e.Model, e.Method, e.Message)
}

func (e *RemoteError) Unwrap() error { return shared.ErrUpstream }

// NewClient constructs Client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		endpoint: strings.TrimRight(cfg.URL, "/") + "/jsonrpc",
		db:       cfg.Database,
		uid:      cfg.UserID,
		apiKey:   cfg.APIKey,
		http:     &http.Client{Timeout: timeout},
		breaker:  resilience.NewBreaker(resilience.BreakerConfig{Name: "erp", OnStateChange: cfg.OnBreakerChange}, logger),
		logger:   logger,
	}
}

type rpcRequest struct {
	JSONRPC string    `json:"jsonrpc"`
	Method  string    `json:"method"`
	Params  rpcParams `json:"params"`
	ID      int64     `json:"id"`
}

type rpcParams struct {
	Service string `json:"service"`
	Method  string `json:"method"`
	Args    []any  `json:"args"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"data"`
}

// Execute calls method on model with positional args and keyword args and decodes
// the result into out (which may be nil).
func (c *Client) Execute(ctx context.Context, model, method string, args []any, kwargs map[string]any, out any) error {
	if args == nil {
		args = []any{}
	}
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	req := rpcRequest{
		JSONRPC: "2.0",
		Method:  "call",
		Params: rpcParams{
			Service: "object",
			Method:  "execute_kw",
			Args:    []any{c.db, c.uid, c.apiKey, model, method, args, kwargs},
		},
		ID: c.seq.Add(1),
	}
	raw, err := c.breaker.Execute(func() (interface{}, error) {
		return c.roundTrip(ctx, req)
	})
	if err != nil {
		var remote *RemoteError
		if errors.As(err, &remote) {
			remote.Model, remote.Method = model, method
			return remote
		}
		if resilience.IsOpen(err) {
			return fmt.Errorf("erp: %s.%s: circuit open: %w", model, method, shared.ErrUpstream)
		}
		return fmt.Errorf("erp: %s.%s: %w: %w", model, method, shared.ErrUpstream, err)
	}
	msg, _ := raw.(json.RawMessage)
	if out == nil || len(msg) == 0 {
		return nil
	}
	if err := json.Unmarshal(msg, out); err != nil {
		return fmt.Errorf("erp: %s.%s: decode result: %w", model, method, err)
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, req rpcRequest) (json.RawMessage, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, err
	}
	c.logger.Debug("erp call",
		slog.Any("args", req.Params.Args[3:5]),
		slog.Int("status", resp.StatusCode),
		slog.Duration("took", time.Since(start)))
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("http status %d", resp.StatusCode)
	}
	var decoded rpcResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if decoded.Error != nil {
		msg := decoded.Error.Data.Message
		if msg == "" {
			msg = decoded.Error.Message
		}
		// Business errors must not trip the breaker.
		return nil, resilience.Exclude(&RemoteError{Message: msg})
	}
	return decoded.Result, nil
}

// SearchRead runs search_read with a domain and field list.
func (c *Client) SearchRead(ctx context.Context, model string, domain []any, fields []string, kwargs map[string]any, out any) error {
	kw := map[string]any{"fields": fields}
	for k, v := range kwargs {
		kw[k] = v
	}
	return c.Execute(ctx, model, "search_read", []any{domain}, kw, out)
}

// Search returns ids matching domain.
func (c *Client) Search(ctx context.Context, model string, domain []any, limit int) ([]int64, error) {
	kw := map[string]any{}
	if limit > 0 {
		kw["limit"] = limit
	}
	var ids []int64
	if err := c.Execute(ctx, model, "search", []any{domain}, kw, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// Read loads fields for ids.
func (c *Client) Read(ctx context.Context, model string, ids []int64, fields []string, out any) error {
	return c.Execute(ctx, model, "read", []any{ids}, map[string]any{"fields": fields}, out)
}

// Create creates one record and returns its id.
func (c *Client) Create(ctx context.Context, model string, values map[string]any, kwargs map[string]any) (int64, error) {
	var id int64
	if err := c.Execute(ctx, model, "create", []any{values}, kwargs, &id); err != nil {
		return 0, err
	}
	return id, nil
}

// Write updates ids with values.
func (c *Client) Write(ctx context.Context, model string, ids []int64, values map[string]any) error {
	var ok bool
	return c.Execute(ctx, model, "write", []any{ids, values}, nil, &ok)
}

// Call invokes a named model method (e.g. action_confirm) on ids and returns the raw result.
func (c *Client) Call(ctx context.Context, model, method string, ids []int64, kwargs map[string]any) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.Execute(ctx, model, method, []any{ids}, kwargs, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}
