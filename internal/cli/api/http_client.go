package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// StatusError is a non-2xx answer from the gateway.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.StatusCode, e.Message)
}

// HTTPClient talks to the gateway admin API.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
}

// NewHTTPClient creates a client for the gateway at baseURL (no trailing slash needed).
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// SetBaseURL points the client at another gateway. Commands call it once
// flags and config have been resolved.
func (c *HTTPClient) SetBaseURL(baseURL string) {
	c.baseURL = strings.TrimRight(baseURL, "/")
}

func (c *HTTPClient) CreateTenant(ctx context.Context, req *CreateTenantRequest) (*Tenant, error) {
	var t Tenant
	if err := c.do(ctx, http.MethodPost, "/tenants", req, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *HTTPClient) DeleteTenant(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/tenants/"+url.PathEscape(id), nil, nil)
}

func (c *HTTPClient) ListTenants(ctx context.Context) ([]Tenant, error) {
	var ts []Tenant
	if err := c.do(ctx, http.MethodGet, "/tenants", nil, &ts); err != nil {
		return nil, err
	}
	return ts, nil
}

func (c *HTTPClient) GetTenant(ctx context.Context, id string) (*Tenant, error) {
	var t Tenant
	if err := c.do(ctx, http.MethodGet, "/tenants/"+url.PathEscape(id), nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *HTTPClient) UpdateTenant(ctx context.Context, id string, req *UpdateTenantRequest) (*Tenant, error) {
	var t Tenant
	if err := c.do(ctx, http.MethodPatch, "/tenants/"+url.PathEscape(id), req, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *HTTPClient) InvalidateToken(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/tenants/"+url.PathEscape(id)+"/token", nil, nil)
}

func (c *HTTPClient) SendMessage(ctx context.Context, tenantID string, req *MessageRequest) (*SendResult, error) {
	var res SendResult
	if err := c.do(ctx, http.MethodPost, "/tenants/"+url.PathEscape(tenantID)+"/messages", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *HTTPClient) SyncTenant(ctx context.Context, tenantID string) (*SyncResult, error) {
	var res SyncResult
	if err := c.do(ctx, http.MethodPost, "/tenants/"+url.PathEscape(tenantID)+"/sync", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
