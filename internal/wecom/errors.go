package wecom

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

// Vendor error codes that mean the access token itself was rejected.
const (
	CodeInvalidAccessToken = 40014
	CodeAccessTokenExpired = 42001
)

// IsTokenRejected reports whether code means the token should be refreshed.
func IsTokenRejected(code int) bool {
	return code == CodeInvalidAccessToken || code == CodeAccessTokenExpired
}

// ValidationError is returned before any network call when inputs are unusable.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("wecom: invalid %s: %s", e.Field, e.Reason)
}

// TokenError is returned when gettoken answers with a non-zero errcode.
type TokenError struct {
	AppID   string
	Code    int
	Message string
}

func (e *TokenError) Error() string {
	return fmt.Sprintf("wecom: acquire token for %s: errcode %d: %s", e.AppID, e.Code, e.Message)
}

// APIError carries a non-zero errcode from a business endpoint.
type APIError struct {
	Endpoint string
	Code     int
	Message  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("wecom %s: errcode %d: %s", e.Endpoint, e.Code, e.Message)
}

// NetworkError covers transport failures, timeouts, non-2xx statuses and
// undecodable bodies. It never includes the request URL.
type NetworkError struct {
	Endpoint   string
	StatusCode int
	Timeout    bool
	Err        error
}

func (e *NetworkError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("wecom %s: timeout: %v", e.Endpoint, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("wecom %s: http %d: %v", e.Endpoint, e.StatusCode, e.Err)
	default:
		return fmt.Sprintf("wecom %s: %v", e.Endpoint, e.Err)
	}
}

func (e *NetworkError) Unwrap() error { return e.Err }

func networkErr(endpoint string, err error) *NetworkError {
	// url.Error embeds the full URL, which carries the access token.
	var uerr *url.Error
	if errors.As(err, &uerr) {
		err = uerr.Err
	}
	return &NetworkError{Endpoint: endpoint, Timeout: isTimeout(err), Err: err}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
