package wecom

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

const (
	DefaultBaseURL = "https://qyapi.weixin.qq.com/cgi-bin/"
	DefaultTimeout = 10 * time.Second

	maxResponseBytes = 4 << 20
)

// Config is shared by the token fetcher and the API client.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(c.BaseURL, "/") {
		c.BaseURL += "/"
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: DefaultTimeout}
	}
	return c
}

type envelope struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

type transport struct {
	baseURL string
	http    *http.Client
}

func newTransport(cfg Config) transport {
	cfg = cfg.withDefaults()
	return transport{baseURL: cfg.BaseURL, http: cfg.HTTPClient}
}

// roundTrip sends one request and returns the raw body of a 2xx response.
func (t transport) roundTrip(ctx context.Context, method, endpoint string, query url.Values, body any) ([]byte, error) {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, &ValidationError{Field: "body", Reason: err.Error()}
		}
		rdr = bytes.NewReader(b)
	}

	u := t.baseURL + strings.TrimPrefix(endpoint, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return nil, &ValidationError{Field: "endpoint", Reason: endpoint}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.http.Do(req)
	if err != nil {
		return nil, networkErr(endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, networkErr(endpoint, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &NetworkError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
	}
	return data, nil
}
