// Package shop talks to the e-commerce platform's Admin API: variant lookup,
// the inventory transfer protocol and quantity adjustments.
package shop

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/odyssey-erp/stocksync/internal/platform/resilience"
	"github.com/odyssey-erp/stocksync/internal/shared"
)

// Config groups Admin API settings.
type Config struct {
	URL         string
	AccessToken string
	APIVersion  string
	Timeout     time.Duration

	// OnBreakerChange observes circuit breaker transitions.
	OnBreakerChange func(name string, open bool)
}

// Client issues GraphQL and REST Admin API calls behind a circuit breaker.
type Client struct {
	base    string
	token   string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// APIError is a rejection reported by the platform (GraphQL errors, user
// errors, or a 4xx response).
type APIError struct {
	Op       string
	Status   int
	Messages []string
}

func (e *APIError) Error() string {
	msg := strings.Join(e.Messages, "; ")
	if e.Status != 0 {
		return fmt.Sprintf("shop: %s: status %d: %s", e.Op, e.Status, msg)
	}
	return fmt.Sprintf("shop: %s: %s", e.Op, msg)
}

// NewClient constructs Client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	version := cfg.APIVersion
	if version == "" {
		version = "2025-10"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		base:    strings.TrimRight(cfg.URL, "/") + "/admin/api/" + version,
		token:   cfg.AccessToken,
		http:    &http.Client{Timeout: timeout},
		breaker: resilience.NewBreaker(resilience.BreakerConfig{Name: "shop", OnStateChange: cfg.OnBreakerChange}, logger),
		logger:  logger,
	}
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// UserError is a per-field validation failure returned in a mutation payload.
type UserError struct {
	Field   []string `json:"field"`
	Message string   `json:"message"`
	Code    string   `json:"code,omitempty"`
}

func userErrorsErr(op string, errs []UserError) error {
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		if len(e.Field) > 0 {
			msgs = append(msgs, strings.Join(e.Field, ".")+": "+e.Message)
			continue
		}
		msgs = append(msgs, e.Message)
	}
	return &APIError{Op: op, Messages: msgs}
}

// GraphQL runs query with variables and decodes the data object into out.
func (c *Client) GraphQL(ctx context.Context, op, query string, variables map[string]any, out any) error {
	body, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("shop: %s: encode: %w", op, err)
	}
	payload, err := c.do(ctx, op, http.MethodPost, c.base+"/graphql.json", body)
	if err != nil {
		return err
	}
	var decoded graphQLResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return fmt.Errorf("shop: %s: decode: %w", op, err)
	}
	if len(decoded.Errors) > 0 {
		msgs := make([]string, 0, len(decoded.Errors))
		for _, e := range decoded.Errors {
			msgs = append(msgs, e.Message)
		}
		return &APIError{Op: op, Messages: msgs}
	}
	if out == nil || len(decoded.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(decoded.Data, out); err != nil {
		return fmt.Errorf("shop: %s: decode data: %w", op, err)
	}
	return nil
}

// getJSON performs a REST GET relative to the versioned Admin API root.
func (c *Client) getJSON(ctx context.Context, op, path string, query url.Values, out any) error {
	target := c.base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	payload, err := c.do(ctx, op, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("shop: %s: decode: %w", op, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, op, method, target string, body []byte) ([]byte, error) {
	raw, err := c.breaker.Execute(func() (interface{}, error) {
		return c.roundTrip(ctx, op, method, target, body)
	})
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return nil, apiErr
		}
		if resilience.IsOpen(err) {
			return nil, fmt.Errorf("shop: %s: circuit open: %w", op, shared.ErrUpstream)
		}
		return nil, fmt.Errorf("shop: %s: %w: %w", op, shared.ErrUpstream, err)
	}
	payload, _ := raw.([]byte)
	return payload, nil
}

func (c *Client) roundTrip(ctx context.Context, op, method, target string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Shopify-Access-Token", c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, err
	}
	c.logger.Debug("shop call",
		slog.String("op", op),
		slog.Int("status", resp.StatusCode),
		slog.Duration("took", time.Since(start)))
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("http status %d", resp.StatusCode)
	case resp.StatusCode >= 300:
		return nil, resilience.Exclude(&APIError{Op: op, Status: resp.StatusCode, Messages: []string{strings.TrimSpace(string(payload))}})
	}
	return payload, nil
}
