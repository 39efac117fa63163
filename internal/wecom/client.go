// Package wecom is a client for the WeCom server API.
//
// Every call obtains an access token from a TokenSource and appends it as
// the access_token query parameter. A response whose errcode says the token
// was rejected invalidates the cached token and the call is retried exactly
// once; every other non-zero errcode is returned as an *APIError.
package wecom

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// TokenSource hands out cached access tokens. *tokencache.Cache implements it.
type TokenSource interface {
	Get(ctx context.Context, appID string) (string, error)
	Invalidate(ctx context.Context, appID string) error
}

// Request describes one API call relative to the base URL.
type Request struct {
	Endpoint string
	Method   string
	Query    url.Values
	Body     any
}

type Client struct {
	t       transport
	tokens  TokenSource
	observe func(endpoint, outcome string, d time.Duration)
}

type Option func(*Client)

// WithObserver is called once per Do with the outcome label and latency.
func WithObserver(fn func(endpoint, outcome string, d time.Duration)) Option {
	return func(c *Client) { c.observe = fn }
}

func NewClient(tokens TokenSource, cfg Config, opts ...Option) *Client {
	c := &Client{t: newTransport(cfg), tokens: tokens}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Call performs a request and returns the decoded JSON payload.
func (c *Client) Call(ctx context.Context, appID, endpoint, method string, query url.Values, body any) (map[string]any, error) {
	var out map[string]any
	if err := c.Do(ctx, appID, Request{Endpoint: endpoint, Method: method, Query: query, Body: body}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Do performs a request and decodes a successful payload into out, which may be nil.
func (c *Client) Do(ctx context.Context, appID string, req Request, out any) error {
	start := time.Now()
	err := c.do(ctx, appID, req, out)
	if c.observe != nil {
		c.observe(req.Endpoint, outcome(err), time.Since(start))
	}
	return err
}

func (c *Client) do(ctx context.Context, appID string, req Request, out any) error {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}
	if method != http.MethodGet && method != http.MethodPost {
		return &ValidationError{Field: "method", Reason: "unsupported method " + req.Method}
	}
	if strings.TrimSpace(req.Endpoint) == "" {
		return &ValidationError{Field: "endpoint", Reason: "empty"}
	}
	if appID == "" {
		return &ValidationError{Field: "app_id", Reason: "empty"}
	}
	body := req.Body
	if method == http.MethodGet {
		body = nil
	}

	for attempt := 0; ; attempt++ {
		token, err := c.tokens.Get(ctx, appID)
		if err != nil {
			return tokenErr(err)
		}

		q := make(url.Values, len(req.Query)+1)
		for k, v := range req.Query {
			q[k] = append([]string(nil), v...)
		}
		q.Set("access_token", token)

		data, err := c.t.roundTrip(ctx, method, req.Endpoint, q, body)
		if err != nil {
			return err
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return &NetworkError{Endpoint: req.Endpoint, Err: fmt.Errorf("decode response: %w", err)}
		}
		if env.ErrCode == 0 {
			if out == nil {
				return nil
			}
			if err := json.Unmarshal(data, out); err != nil {
				return &NetworkError{Endpoint: req.Endpoint, Err: fmt.Errorf("decode payload: %w", err)}
			}
			return nil
		}

		if IsTokenRejected(env.ErrCode) && attempt == 0 {
			slog.Warn("access token rejected, refreshing once", "app", appID, "endpoint", req.Endpoint, "errcode", env.ErrCode)
			if err := c.tokens.Invalidate(ctx, appID); err != nil {
				slog.Warn("invalidate access token", "app", appID, "err", err)
			}
			continue
		}
		return &APIError{Endpoint: req.Endpoint, Code: env.ErrCode, Message: env.ErrMsg}
	}
}

// tokenErr maps context failures while waiting for a token onto NetworkError.
func tokenErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &NetworkError{Endpoint: "gettoken", Timeout: isTimeout(err), Err: err}
	}
	return err
}

func outcome(err error) string {
	var (
		apiErr   *APIError
		netErr   *NetworkError
		tokErr   *TokenError
		validErr *ValidationError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &apiErr):
		return "api_error"
	case errors.As(err, &netErr):
		if netErr.Timeout {
			return "timeout"
		}
		return "network_error"
	case errors.As(err, &tokErr):
		return "token_error"
	case errors.As(err, &validErr):
		return "invalid"
	default:
		return "error"
	}
}
