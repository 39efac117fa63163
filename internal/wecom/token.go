package wecom

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shawn/wecom-gateway/internal/credstore"
	"github.com/shawn/wecom-gateway/internal/tokencache"
)

// CredentialLookup is the part of the credential store the fetcher needs.
type CredentialLookup interface {
	GetTenant(ctx context.Context, tenantID string) (*credstore.Credentials, error)
}

// TokenFetcher implements tokencache.Fetcher against the gettoken endpoint.
type TokenFetcher struct {
	creds CredentialLookup
	t     transport
	now   func() time.Time
}

func NewTokenFetcher(creds CredentialLookup, cfg Config) *TokenFetcher {
	return &TokenFetcher{creds: creds, t: newTransport(cfg), now: time.Now}
}

type tokenResponse struct {
	envelope
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (f *TokenFetcher) FetchToken(ctx context.Context, appID string) (tokencache.Token, error) {
	creds, err := f.creds.GetTenant(ctx, appID)
	if err != nil {
		return tokencache.Token{}, fmt.Errorf("load credentials for %s: %w", appID, err)
	}
	if creds == nil {
		return tokencache.Token{}, &ValidationError{Field: "app_id", Reason: "unknown application " + appID}
	}
	if creds.CorpID == "" {
		return tokencache.Token{}, &ValidationError{Field: "corpid", Reason: "not configured"}
	}
	if creds.Secret == "" {
		return tokencache.Token{}, &ValidationError{Field: "corpsecret", Reason: "not configured"}
	}

	issued := f.now()
	q := url.Values{"corpid": {creds.CorpID}, "corpsecret": {creds.Secret}}
	data, err := f.t.roundTrip(ctx, http.MethodGet, "gettoken", q, nil)
	if err != nil {
		return tokencache.Token{}, err
	}

	var resp tokenResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return tokencache.Token{}, &NetworkError{Endpoint: "gettoken", Err: fmt.Errorf("decode response: %w", err)}
	}
	if resp.ErrCode != 0 {
		return tokencache.Token{}, &TokenError{AppID: appID, Code: resp.ErrCode, Message: resp.ErrMsg}
	}
	if resp.AccessToken == "" {
		return tokencache.Token{}, &TokenError{AppID: appID, Message: "response carried no access_token"}
	}

	return tokencache.Token{
		Value:    resp.AccessToken,
		IssuedAt: issued,
		TTL:      time.Duration(resp.ExpiresIn) * time.Second,
	}, nil
}
