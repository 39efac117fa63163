// Package callback authenticates and decrypts inbound WeCom callbacks.
//
// Both entry points check the source address first, so a request from an
// untrusted address costs neither a credential lookup nor any crypto work.
package callback

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/netip"

	"github.com/shawn/wecom-gateway/internal/msgcrypt"
)

type Reason string

const (
	ReasonMissingParam    Reason = "MISSING_PARAM"
	ReasonBadSignature    Reason = "BAD_SIGNATURE"
	ReasonUntrustedSource Reason = "UNTRUSTED_SOURCE"
	ReasonUnknownTenant   Reason = "UNKNOWN_TENANT"
	ReasonInternalError   Reason = "INTERNAL_ERROR"
)

// Rejection is the only error type returned by the Verifier.
type Rejection struct {
	Reason Reason
	Err    error
}

func (r *Rejection) Error() string {
	if r.Err == nil {
		return "callback rejected: " + string(r.Reason)
	}
	return fmt.Sprintf("callback rejected: %s: %v", r.Reason, r.Err)
}

func (r *Rejection) Unwrap() error { return r.Err }

// StatusCode is the HTTP status returned to the caller.
func (r *Rejection) StatusCode() int {
	switch r.Reason {
	case ReasonMissingParam:
		return 400
	case ReasonBadSignature, ReasonUntrustedSource:
		return 403
	case ReasonUnknownTenant:
		return 404
	default:
		return 500
	}
}

// Body is the plaintext response body. It never carries error details.
func (r *Rejection) Body() string {
	switch r.Reason {
	case ReasonMissingParam:
		return "Missing parameters"
	case ReasonBadSignature:
		return "Invalid signature"
	case ReasonUntrustedSource:
		return "Invalid request"
	case ReasonUnknownTenant:
		return "Tenant not found"
	default:
		return "Internal server error"
	}
}

func reject(reason Reason, err error) *Rejection {
	return &Rejection{Reason: reason, Err: err}
}

// Secrets are the per-tenant values needed to authenticate a callback.
// ReceiverID is the corp ID embedded in every encrypted payload.
type Secrets struct {
	Token          string
	EncodingAESKey string
	ReceiverID     string
}

var (
	ErrUnknownTenant = errors.New("unknown tenant")
	ErrNotConfigured = errors.New("callback token or key not configured")
)

// SecretSource resolves tenant secrets. It returns ErrUnknownTenant or
// ErrNotConfigured when the tenant cannot receive callbacks.
type SecretSource interface {
	CallbackSecrets(ctx context.Context, tenantID string) (Secrets, error)
}

// Crypto is the signature and decryption primitive set.
type Crypto interface {
	Signature(token, timestamp, nonce, extra string) string
	Decrypt(ciphertext, encodingAESKey, receiverID string) ([]byte, error)
}

type msgCrypto struct{}

func (msgCrypto) Signature(token, timestamp, nonce, extra string) string {
	return msgcrypt.Signature(token, timestamp, nonce, extra)
}

func (msgCrypto) Decrypt(ciphertext, encodingAESKey, receiverID string) ([]byte, error) {
	return msgcrypt.Decrypt(ciphertext, encodingAESKey, receiverID)
}

// SourceChecker decides whether a remote address may deliver callbacks.
type SourceChecker interface {
	Allowed(addr netip.Addr) bool
}

// Query holds the URL parameters of a callback.
type Query struct {
	Signature string
	Timestamp string
	Nonce     string
	EchoStr   string
}

// Request is one inbound callback.
type Request struct {
	TenantID   string
	RemoteAddr string
	Query      Query
	Body       []byte
}

type Verifier struct {
	sources     SourceChecker
	secrets     SecretSource
	crypto      Crypto
	decryptEcho bool
}

type Option func(*Verifier)

// WithCrypto replaces the msgcrypt primitives.
func WithCrypto(c Crypto) Option { return func(v *Verifier) { v.crypto = c } }

// WithEchoDecryption makes VerifyURL decrypt echostr instead of echoing it.
func WithEchoDecryption() Option { return func(v *Verifier) { v.decryptEcho = true } }

func NewVerifier(sources SourceChecker, secrets SecretSource, opts ...Option) *Verifier {
	v := &Verifier{sources: sources, secrets: secrets, crypto: msgCrypto{}}
	for _, o := range opts {
		o(v)
	}
	return v
}

// VerifyURL handles the GET handshake and returns the body to echo back.
func (v *Verifier) VerifyURL(ctx context.Context, req Request) (string, error) {
	if err := v.checkSource(req.RemoteAddr); err != nil {
		return "", err
	}
	q := req.Query
	if q.Signature == "" || q.Timestamp == "" || q.Nonce == "" || q.EchoStr == "" {
		return "", reject(ReasonMissingParam, nil)
	}
	s, err := v.lookup(ctx, req.TenantID)
	if err != nil {
		return "", err
	}
	if !v.signatureMatches(s.Token, q, q.EchoStr) {
		return "", reject(ReasonBadSignature, nil)
	}
	if !v.decryptEcho {
		return q.EchoStr, nil
	}
	plain, err := v.crypto.Decrypt(q.EchoStr, s.EncodingAESKey, s.ReceiverID)
	if err != nil {
		return "", reject(ReasonInternalError, err)
	}
	return string(plain), nil
}

// Deliver handles a POST delivery and returns the decrypted event.
func (v *Verifier) Deliver(ctx context.Context, req Request) (*Event, error) {
	if err := v.checkSource(req.RemoteAddr); err != nil {
		return nil, err
	}
	q := req.Query
	if q.Signature == "" || q.Timestamp == "" || q.Nonce == "" {
		return nil, reject(ReasonMissingParam, nil)
	}
	if len(req.Body) == 0 {
		return nil, reject(ReasonMissingParam, errors.New("empty body"))
	}
	s, err := v.lookup(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}

	encrypted := encryptedField(req.Body)
	if !v.signatureMatches(s.Token, q, encrypted) {
		return nil, reject(ReasonBadSignature, nil)
	}

	plain, err := v.crypto.Decrypt(encrypted, s.EncodingAESKey, s.ReceiverID)
	if err != nil {
		return nil, reject(ReasonInternalError, err)
	}
	ev, err := ParseEvent(plain)
	if err != nil {
		return nil, reject(ReasonInternalError, err)
	}
	return ev, nil
}

func (v *Verifier) checkSource(remoteAddr string) error {
	addr, err := parseRemote(remoteAddr)
	if err != nil {
		return reject(ReasonUntrustedSource, err)
	}
	if !v.sources.Allowed(addr) {
		return reject(ReasonUntrustedSource, fmt.Errorf("address %s not allowed", addr))
	}
	return nil
}

func (v *Verifier) lookup(ctx context.Context, tenantID string) (Secrets, error) {
	s, err := v.secrets.CallbackSecrets(ctx, tenantID)
	switch {
	case errors.Is(err, ErrUnknownTenant), errors.Is(err, ErrNotConfigured):
		return Secrets{}, reject(ReasonUnknownTenant, err)
	case err != nil:
		return Secrets{}, reject(ReasonInternalError, err)
	}
	return s, nil
}

func (v *Verifier) signatureMatches(token string, q Query, extra string) bool {
	expected := v.crypto.Signature(token, q.Timestamp, q.Nonce, extra)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(q.Signature)) == 1
}

func parseRemote(remoteAddr string) (netip.Addr, error) {
	if ap, err := netip.ParseAddrPort(remoteAddr); err == nil {
		return ap.Addr().Unmap(), nil
	}
	addr, err := netip.ParseAddr(remoteAddr)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("unparseable remote address %q", remoteAddr)
	}
	return addr.Unmap(), nil
}
