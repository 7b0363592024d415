// Package api is the REST client for the backend: snapshot fetches of the
// signal and execution collections, the system status probe, and the
// execution commands (confirm, reject, modify, close). Snapshot fetches are
// the authoritative source the reconciler trusts over streamed events.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ZE-BOSS/telegram-bot/internal/model"
)

// TokenSource supplies the current bearer token for request auth.
type TokenSource func() string

// Client talks to the backend REST API.
type Client struct {
	baseURL string
	token   TokenSource
	http    *http.Client
}

// Option configures Client construction.
type Option func(*Client)

// WithHTTPClient substitutes the underlying HTTP client (tests, transports).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// NewClient constructs a REST client rooted at baseURL (e.g. "https://host/api").
func NewClient(baseURL string, token TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ServerError is a non-2xx response carrying the backend's detail message.
type ServerError struct {
	Status int
	Detail string
}

func (e *ServerError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("api: server returned %d", e.Status)
	}
	return fmt.Sprintf("api: server returned %d: %s", e.Status, e.Detail)
}

// FetchSignals returns one page of the signal collection, newest first.
func (c *Client) FetchSignals(ctx context.Context, limit, offset int) ([]model.Signal, error) {
	var out []model.Signal
	if err := c.get(ctx, pagedPath("/signals", limit, offset), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FetchExecutions returns one page of the execution collection, newest first.
func (c *Client) FetchExecutions(ctx context.Context, limit, offset int) ([]model.Execution, error) {
	var out []model.Execution
	if err := c.get(ctx, pagedPath("/executions", limit, offset), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FetchStatus returns the backend listener process status.
func (c *Client) FetchStatus(ctx context.Context) (model.SystemStatus, error) {
	var out model.SystemStatus
	if err := c.get(ctx, "/system/status", &out); err != nil {
		return model.SystemStatus{}, err
	}
	return out, nil
}

// Overrides carries the optional stop-loss/take-profit values supplied when
// confirming or modifying an execution.
type Overrides struct {
	StopLoss   *float64 `json:"stop_loss,omitempty"`
	TakeProfit *float64 `json:"take_profit,omitempty"`
}

// ConfirmExecution approves a pending execution, optionally overriding its
// protective levels. The backend validates the current state; confirming an
// execution that is not awaiting approval yields a ServerError.
func (c *Client) ConfirmExecution(ctx context.Context, id string, o Overrides) error {
	return c.post(ctx, "/executions/"+url.PathEscape(id)+"/confirm", o)
}

// RejectExecution declines a pending execution.
func (c *Client) RejectExecution(ctx context.Context, id string) error {
	return c.post(ctx, "/executions/"+url.PathEscape(id)+"/cancel", nil)
}

// ModifyExecution updates stop-loss/take-profit on an open position.
func (c *Client) ModifyExecution(ctx context.Context, id string, o Overrides) error {
	return c.post(ctx, "/executions/"+url.PathEscape(id)+"/modify", o)
}

// CloseExecution closes an open position at market.
func (c *Client) CloseExecution(ctx context.Context, id string) error {
	return c.post(ctx, "/executions/"+url.PathEscape(id)+"/close", nil)
}

func pagedPath(path string, limit, offset int) string {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	return path + "?" + q.Encode()
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode body: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, nil)
}

func (c *Client) do(req *http.Request, out any) error {
	if tok := c.token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ServerError{Status: resp.StatusCode, Detail: readDetail(resp.Body)}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// readDetail extracts the {"detail": "..."} payload FastAPI-style backends
// attach to error responses.
func readDetail(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return ""
	}
	var payload struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(b, &payload); err != nil || payload.Detail == "" {
		return strings.TrimSpace(string(b))
	}
	return payload.Detail
}
