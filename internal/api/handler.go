package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/shawn/wecom-gateway/internal/callback"
	"github.com/shawn/wecom-gateway/internal/credstore"
	"github.com/shawn/wecom-gateway/internal/directory"
	"github.com/shawn/wecom-gateway/internal/wecom"
)

// Tokens drops a tenant's cached access token.
type Tokens interface {
	Invalidate(ctx context.Context, appID string) error
}

type Messenger interface {
	SendMessage(ctx context.Context, appID string, msg wecom.Message) (*wecom.SendResult, error)
}

type DirectorySyncer interface {
	SyncTenant(ctx context.Context, tenantID string) (*directory.Snapshot, error)
}

// Config holds admin API configuration
type Config struct {
	// CallbackRate is the per-IP request rate on /callback. Zero disables limiting.
	CallbackRate  rate.Limit
	CallbackBurst int
}

// Deps are the collaborators behind the routes. Only Store is required;
// routes whose collaborator is nil answer 503.
type Deps struct {
	Store    credstore.Client
	Tokens   Tokens
	Messages Messenger
	Syncer   DirectorySyncer
	Callback *callback.Endpoint
	Metrics  http.Handler
}

// Handler is the gateway HTTP handler
type Handler struct {
	deps    Deps
	limiter *ipLimiter
}

func New(deps Deps, cfg Config) *Handler {
	h := &Handler{deps: deps}
	if cfg.CallbackRate > 0 {
		if cfg.CallbackBurst <= 0 {
			cfg.CallbackBurst = int(cfg.CallbackRate) + 1
		}
		h.limiter = newIPLimiter(cfg.CallbackRate, cfg.CallbackBurst)
	}
	return h
}

// Router returns the chi router with all routes registered
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Healthz)
	if h.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.deps.Metrics)
	}
	if h.deps.Callback != nil {
		r.Group(func(r chi.Router) {
			if h.limiter != nil {
				r.Use(h.limiter.middleware)
			}
			h.deps.Callback.Routes(r)
		})
	}

	r.Post("/tenants", h.CreateTenant)
	r.Get("/tenants", h.ListTenants)
	r.Get("/tenants/{tenantID}", h.GetTenant)
	r.Patch("/tenants/{tenantID}", h.UpdateTenant)
	r.Delete("/tenants/{tenantID}", h.DeleteTenant)
	r.Post("/tenants/{tenantID}/messages", h.SendMessage)
	r.Post("/tenants/{tenantID}/sync", h.SyncTenant)
	r.Delete("/tenants/{tenantID}/token", h.InvalidateToken)

	return r
}

// TenantView is a credential set with every secret removed.
type TenantView struct {
	TenantID           string    `json:"tenant_id"`
	CorpID             string    `json:"corp_id"`
	AgentID            int64     `json:"agent_id"`
	CallbackConfigured bool      `json:"callback_configured"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func viewOf(c *credstore.Credentials) TenantView {
	return TenantView{
		TenantID:           c.TenantID,
		CorpID:             c.CorpID,
		AgentID:            c.AgentID,
		CallbackConfigured: c.CallbackReady(),
		CreatedAt:          c.CreatedAt,
		UpdatedAt:          c.UpdatedAt,
	}
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (h *Handler) CreateTenant(w http.ResponseWriter, r *http.Request) {
	var creds credstore.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if err := credstore.Validate(&creds); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	now := time.Now().UTC()
	creds.CreatedAt, creds.UpdatedAt = now, now

	if err := h.deps.Store.CreateTenant(r.Context(), &creds); err != nil {
		if errors.Is(err, credstore.ErrExists) {
			http.Error(w, "conflict", http.StatusConflict)
			return
		}
		slog.Error("create tenant failed", "tenant", creds.TenantID, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	slog.Info("tenant created", "tenant", creds.TenantID, "callback", creds.CallbackReady())
	writeJSON(w, http.StatusCreated, viewOf(&creds))
}

func (h *Handler) ListTenants(w http.ResponseWriter, r *http.Request) {
	records, err := h.deps.Store.ListAll(r.Context())
	if err != nil {
		slog.Error("list tenants failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	views := make([]TenantView, 0, len(records))
	for _, rec := range records {
		views = append(views, viewOf(rec))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) GetTenant(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, viewOf(rec))
}

// UpdateRequest carries the mutable fields. Callback token and key are
// replaced together.
type UpdateRequest struct {
	Secret         *string `json:"secret"`
	AgentID        *int64  `json:"agent_id"`
	Token          *string `json:"token"`
	EncodingAESKey *string `json:"aes_key"`
}

// UpdateTenant applies the fields present in the body. A new secret
// drops the cached access token.
func (h *Handler) UpdateTenant(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if (req.Token == nil) != (req.EncodingAESKey == nil) {
		http.Error(w, "token and aes_key must be updated together", http.StatusBadRequest)
		return
	}

	u := credstore.Update{
		Secret:         req.Secret,
		AgentID:        req.AgentID,
		Token:          req.Token,
		EncodingAESKey: req.EncodingAESKey,
	}
	next := *rec
	u.Apply(&next)
	if err := credstore.Validate(&next); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tenantID := rec.TenantID
	if err := h.deps.Store.UpdateTenant(ctx, tenantID, u); err != nil {
		if errors.Is(err, credstore.ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		slog.Error("update tenant failed", "tenant", tenantID, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if req.Secret != nil {
		h.invalidate(ctx, tenantID)
	}

	updated, err := h.deps.Store.GetTenant(ctx, tenantID)
	if err != nil || updated == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(updated))
}

// DeleteTenant removes the credential set and its cached token. Deleting a
// missing tenant succeeds.
func (h *Handler) DeleteTenant(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	err := h.deps.Store.DeleteTenant(r.Context(), tenantID)
	if err != nil && !errors.Is(err, credstore.ErrNotFound) {
		slog.Error("delete tenant failed", "tenant", tenantID, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	h.invalidate(r.Context(), tenantID)
	w.WriteHeader(http.StatusNoContent)
}

// MessageRequest is the body of POST /tenants/{tenantID}/messages.
type MessageRequest struct {
	Type    wecom.MessageType `json:"type"`
	Content string            `json:"content"`
	Card    *wecom.TextCard   `json:"card,omitempty"`
	wecom.Recipients
}

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	if h.deps.Messages == nil {
		http.Error(w, "messaging not configured", http.StatusServiceUnavailable)
		return
	}
	rec, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if req.Type == "" {
		req.Type = wecom.MessageText
	}

	res, err := h.deps.Messages.SendMessage(r.Context(), rec.TenantID, wecom.Message{
		AgentID: rec.AgentID,
		Type:    req.Type,
		To:      req.Recipients,
		Content: req.Content,
		Card:    req.Card,
	})
	if err != nil {
		writeAPIError(w, rec.TenantID, "send message", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) SyncTenant(w http.ResponseWriter, r *http.Request) {
	if h.deps.Syncer == nil {
		http.Error(w, "directory sync not configured", http.StatusServiceUnavailable)
		return
	}
	rec, ok := h.lookup(w, r)
	if !ok {
		return
	}
	snap, err := h.deps.Syncer.SyncTenant(r.Context(), rec.TenantID)
	if err != nil {
		writeAPIError(w, rec.TenantID, "sync directory", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tenant_id":   snap.TenantID,
		"departments": len(snap.Departments),
		"users":       len(snap.Users),
		"tags":        len(snap.Tags),
		"synced_at":   snap.SyncedAt,
	})
}

func (h *Handler) InvalidateToken(w http.ResponseWriter, r *http.Request) {
	if h.deps.Tokens == nil {
		http.Error(w, "token cache not configured", http.StatusServiceUnavailable)
		return
	}
	tenantID := chi.URLParam(r, "tenantID")
	if err := h.deps.Tokens.Invalidate(r.Context(), tenantID); err != nil {
		slog.Error("invalidate token failed", "tenant", tenantID, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// lookup loads the tenant named in the path, writing 404 or 500 itself.
func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*credstore.Credentials, bool) {
	tenantID := chi.URLParam(r, "tenantID")
	rec, err := h.deps.Store.GetTenant(r.Context(), tenantID)
	if err != nil {
		slog.Error("get tenant failed", "tenant", tenantID, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return nil, false
	}
	if rec == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return nil, false
	}
	return rec, true
}

func (h *Handler) invalidate(ctx context.Context, tenantID string) {
	if h.deps.Tokens == nil {
		return
	}
	if err := h.deps.Tokens.Invalidate(ctx, tenantID); err != nil {
		slog.Warn("token invalidation failed", "tenant", tenantID, "err", err)
	}
}

// writeAPIError maps the client error taxonomy onto HTTP statuses.
func writeAPIError(w http.ResponseWriter, tenantID, op string, err error) {
	var (
		verr *wecom.ValidationError
		aerr *wecom.APIError
		terr *wecom.TokenError
		nerr *wecom.NetworkError
	)
	status := http.StatusInternalServerError
	body := map[string]any{"error": err.Error()}
	switch {
	case errors.As(err, &verr):
		status = http.StatusBadRequest
	case errors.As(err, &aerr):
		status = http.StatusBadGateway
		body["errcode"] = aerr.Code
	case errors.As(err, &terr):
		status = http.StatusBadGateway
		body["errcode"] = terr.Code
	case errors.As(err, &nerr):
		status = http.StatusBadGateway
		if nerr.Timeout {
			status = http.StatusGatewayTimeout
		}
	}
	slog.Error(op+" failed", "tenant", tenantID, "status", status, "err", err)
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
