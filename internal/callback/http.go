package callback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shawn/wecom-gateway/internal/credstore"
)

const maxBodyBytes = 1 << 20

// StoreSecrets resolves callback secrets from the credential store.
type StoreSecrets struct {
	Store credstore.Client
}

func (s StoreSecrets) CallbackSecrets(ctx context.Context, tenantID string) (Secrets, error) {
	c, err := s.Store.GetTenant(ctx, tenantID)
	if err != nil {
		return Secrets{}, fmt.Errorf("load credentials: %w", err)
	}
	if c == nil {
		return Secrets{}, ErrUnknownTenant
	}
	if !c.CallbackReady() {
		return Secrets{}, ErrNotConfigured
	}
	return Secrets{Token: c.Token, EncodingAESKey: c.EncodingAESKey, ReceiverID: c.CorpID}, nil
}

// Endpoint serves GET and POST /callback/{tenantID}.
type Endpoint struct {
	verifier        *Verifier
	handler         Handler
	dispatchTimeout time.Duration
	observe         func(path, outcome string)
}

type EndpointOption func(*Endpoint)

// WithOutcomeObserver is told "verify" or "deliver" and "ok" or a Reason.
func WithOutcomeObserver(fn func(path, outcome string)) EndpointOption {
	return func(e *Endpoint) { e.observe = fn }
}

// WithDispatchTimeout bounds how long a delivery may spend in the handler.
func WithDispatchTimeout(d time.Duration) EndpointOption {
	return func(e *Endpoint) { e.dispatchTimeout = d }
}

func NewEndpoint(v *Verifier, h Handler, opts ...EndpointOption) *Endpoint {
	e := &Endpoint{verifier: v, handler: h, dispatchTimeout: 4 * time.Second}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Routes mounts the endpoint on r.
func (e *Endpoint) Routes(r chi.Router) {
	r.Get("/callback/{tenantID}", e.Verify)
	r.Post("/callback/{tenantID}", e.Receive)
}

func requestFrom(r *http.Request) Request {
	q := r.URL.Query()
	return Request{
		TenantID:   chi.URLParam(r, "tenantID"),
		RemoteAddr: r.RemoteAddr,
		Query: Query{
			Signature: q.Get("msg_signature"),
			Timestamp: q.Get("timestamp"),
			Nonce:     q.Get("nonce"),
			EchoStr:   q.Get("echostr"),
		},
	}
}

// Verify answers the URL verification handshake.
func (e *Endpoint) Verify(w http.ResponseWriter, r *http.Request) {
	defer e.recoverPanic(w, "verify")

	req := requestFrom(r)
	echo, err := e.verifier.VerifyURL(r.Context(), req)
	if err != nil {
		e.reject(w, "verify", req.TenantID, err)
		return
	}
	e.record("verify", "ok")
	writeText(w, http.StatusOK, echo)
}

// Receive authenticates a delivery, dispatches it and answers "success".
func (e *Endpoint) Receive(w http.ResponseWriter, r *http.Request) {
	defer e.recoverPanic(w, "deliver")

	req := requestFrom(r)
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		e.reject(w, "deliver", req.TenantID, reject(ReasonMissingParam, err))
		return
	}
	req.Body = body

	ev, err := e.verifier.Deliver(r.Context(), req)
	if err != nil {
		e.reject(w, "deliver", req.TenantID, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), e.dispatchTimeout)
	defer cancel()
	if err := e.handler.HandleEvent(ctx, req.TenantID, ev); err != nil {
		e.reject(w, "deliver", req.TenantID, reject(ReasonInternalError, fmt.Errorf("dispatch: %w", err)))
		return
	}
	e.record("deliver", "ok")
	writeText(w, http.StatusOK, "success")
}

func (e *Endpoint) reject(w http.ResponseWriter, path, tenantID string, err error) {
	var rej *Rejection
	if !errors.As(err, &rej) {
		rej = reject(ReasonInternalError, err)
	}
	if rej.Reason == ReasonInternalError {
		slog.Error("callback failed", "path", path, "tenant", tenantID, "err", err)
	} else {
		slog.Warn("callback rejected", "path", path, "tenant", tenantID, "reason", rej.Reason, "err", rej.Err)
	}
	e.record(path, string(rej.Reason))
	writeText(w, rej.StatusCode(), rej.Body())
}

func (e *Endpoint) recoverPanic(w http.ResponseWriter, path string) {
	if p := recover(); p != nil {
		slog.Error("callback panic", "path", path, "panic", p)
		e.record(path, string(ReasonInternalError))
		writeText(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (e *Endpoint) record(path, outcome string) {
	if e.observe != nil {
		e.observe(path, outcome)
	}
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}
