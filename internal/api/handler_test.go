package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shawn/wecom-gateway/internal/api"
	"github.com/shawn/wecom-gateway/internal/callback"
	"github.com/shawn/wecom-gateway/internal/credstore"
	"github.com/shawn/wecom-gateway/internal/directory"
	"github.com/shawn/wecom-gateway/internal/msgcrypt"
	"github.com/shawn/wecom-gateway/internal/wecom"
)

var testAESKey = strings.Repeat("a", 43)

type fakeTokens struct {
	mu          sync.Mutex
	invalidated []string
}

func (f *fakeTokens) Invalidate(_ context.Context, appID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, appID)
	return nil
}

type fakeMessenger struct {
	sent []wecom.Message
	err  error
}

func (f *fakeMessenger) SendMessage(_ context.Context, _ string, msg wecom.Message) (*wecom.SendResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, msg)
	return &wecom.SendResult{MsgID: "m1"}, nil
}

type fakeSyncer struct{ err error }

func (f fakeSyncer) SyncTenant(_ context.Context, tenantID string) (*directory.Snapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &directory.Snapshot{TenantID: tenantID, Users: make([]directory.User, 3), SyncedAt: time.Now()}, nil
}

type fixture struct {
	store  *credstore.MockClient
	tokens *fakeTokens
	msgs   *fakeMessenger
	router http.Handler
}

func newFixture(t *testing.T, cfg api.Config) *fixture {
	t.Helper()
	f := &fixture{store: credstore.NewMock(), tokens: &fakeTokens{}, msgs: &fakeMessenger{}}

	allow, err := callback.NewAllowList(nil)
	require.NoError(t, err)
	v := callback.NewVerifier(allow, callback.StoreSecrets{Store: f.store})
	ep := callback.NewEndpoint(v, callback.LogHandler)

	f.router = api.New(api.Deps{
		Store:    f.store,
		Tokens:   f.tokens,
		Messages: f.msgs,
		Syncer:   fakeSyncer{},
		Callback: ep,
		Metrics:  http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.Write([]byte("# metrics")) }),
	}, cfg).Router()
	return f
}

func (f *fixture) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) seed(t *testing.T) {
	t.Helper()
	require.NoError(t, f.store.CreateTenant(context.Background(), &credstore.Credentials{
		TenantID:       "acme",
		CorpID:         "ww123",
		AgentID:        1000002,
		Secret:         "corp-secret",
		Token:          "cbtoken",
		EncodingAESKey: testAESKey,
	}))
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, api.Config{})
	rec := f.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestMetricsMounted(t *testing.T) {
	f := newFixture(t, api.Config{})
	rec := f.do(http.MethodGet, "/metrics", nil)
	assert.Equal(t, "# metrics", rec.Body.String())
}

func TestCreateTenant(t *testing.T) {
	f := newFixture(t, api.Config{})

	rec := f.do(http.MethodPost, "/tenants", map[string]any{
		"tenant_id": "acme",
		"corp_id":   "ww123",
		"agent_id":  1000002,
		"secret":    "corp-secret",
		"token":     "cbtoken",
		"aes_key":   testAESKey,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.NotContains(t, rec.Body.String(), "corp-secret")
	assert.NotContains(t, rec.Body.String(), testAESKey)

	var view api.TenantView
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&view))
	assert.True(t, view.CallbackConfigured)
	assert.False(t, view.CreatedAt.IsZero())

	stored, err := f.store.GetTenant(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, "corp-secret", stored.Secret)
}

func TestCreateTenant_Conflict(t *testing.T) {
	f := newFixture(t, api.Config{})
	f.seed(t)

	rec := f.do(http.MethodPost, "/tenants", map[string]any{
		"tenant_id": "acme", "corp_id": "ww123", "agent_id": 1, "secret": "s",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreateTenant_Invalid(t *testing.T) {
	f := newFixture(t, api.Config{})

	rec := f.do(http.MethodPost, "/tenants", map[string]any{
		"tenant_id": "acme", "corp_id": "ww123", "agent_id": 1, "secret": "s", "aes_key": "short",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "EncodingAESKey")

	rec = f.do(http.MethodPost, "/tenants", map[string]any{
		"tenant_id": "acme.*", "corp_id": "ww123", "agent_id": 1, "secret": "s",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "TenantID")
	stored, _ := f.store.GetTenant(context.Background(), "acme.*")
	assert.Nil(t, stored)
}

func TestListAndGetTenant(t *testing.T) {
	f := newFixture(t, api.Config{})
	f.seed(t)

	rec := f.do(http.MethodGet, "/tenants", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var views []api.TenantView
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&views))
	require.Len(t, views, 1)
	assert.Equal(t, "acme", views[0].TenantID)

	rec = f.do(http.MethodGet, "/tenants/acme", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "corp-secret")

	rec = f.do(http.MethodGet, "/tenants/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListTenants_Empty(t *testing.T) {
	f := newFixture(t, api.Config{})
	rec := f.do(http.MethodGet, "/tenants", nil)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestUpdateTenant_SecretInvalidatesToken(t *testing.T) {
	f := newFixture(t, api.Config{})
	f.seed(t)

	rec := f.do(http.MethodPatch, "/tenants/acme", map[string]any{"secret": "rotated", "agent_id": 42})
	require.Equal(t, http.StatusOK, rec.Code)

	stored, _ := f.store.GetTenant(context.Background(), "acme")
	assert.Equal(t, "rotated", stored.Secret)
	assert.Equal(t, int64(42), stored.AgentID)
	assert.Equal(t, []string{"acme"}, f.tokens.invalidated)
}

func TestUpdateTenant_CallbackPairRequired(t *testing.T) {
	f := newFixture(t, api.Config{})
	f.seed(t)

	rec := f.do(http.MethodPatch, "/tenants/acme", map[string]any{"token": "newtoken"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPatch, "/tenants/acme", map[string]any{"token": "newtoken", "aes_key": strings.Repeat("b", 43)})
	require.Equal(t, http.StatusOK, rec.Code)
	stored, _ := f.store.GetTenant(context.Background(), "acme")
	assert.Equal(t, "newtoken", stored.Token)
	assert.Empty(t, f.tokens.invalidated)
}

func TestUpdateTenant_NotFound(t *testing.T) {
	f := newFixture(t, api.Config{})
	rec := f.do(http.MethodPatch, "/tenants/ghost", map[string]any{"secret": "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// failingUpdates counts UpdateTenant calls and rejects them.
type failingUpdates struct {
	*credstore.MockClient
	calls int
}

func (s *failingUpdates) UpdateTenant(context.Context, string, credstore.Update) error {
	s.calls++
	return errors.New("throughput exceeded")
}

func TestUpdateTenant_FailedWriteLeavesRecordUntouched(t *testing.T) {
	f := newFixture(t, api.Config{})
	f.seed(t)
	store := &failingUpdates{MockClient: f.store}
	router := api.New(api.Deps{Store: store, Tokens: f.tokens}, api.Config{}).Router()

	var buf bytes.Buffer
	json.NewEncoder(&buf).Encode(map[string]any{
		"secret":   "rotated",
		"agent_id": 42,
		"token":    "newtoken",
		"aes_key":  strings.Repeat("b", 43),
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPatch, "/tenants/acme", &buf))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, 1, store.calls, "all fields go out in a single write")
	stored, _ := f.store.GetTenant(context.Background(), "acme")
	assert.Equal(t, "corp-secret", stored.Secret)
	assert.Equal(t, int64(1000002), stored.AgentID)
	assert.Equal(t, "cbtoken", stored.Token)
	assert.Empty(t, f.tokens.invalidated)
}

func TestDeleteTenant(t *testing.T) {
	f := newFixture(t, api.Config{})
	f.seed(t)

	rec := f.do(http.MethodDelete, "/tenants/acme", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	stored, _ := f.store.GetTenant(context.Background(), "acme")
	assert.Nil(t, stored)
	assert.Equal(t, []string{"acme"}, f.tokens.invalidated)

	rec = f.do(http.MethodDelete, "/tenants/acme", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestSendMessage(t *testing.T) {
	f := newFixture(t, api.Config{})
	f.seed(t)

	rec := f.do(http.MethodPost, "/tenants/acme/messages", map[string]any{
		"content": "deploy finished",
		"users":   []string{"zhangsan"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.msgs.sent, 1)
	msg := f.msgs.sent[0]
	assert.Equal(t, int64(1000002), msg.AgentID)
	assert.Equal(t, wecom.MessageText, msg.Type)
	assert.Equal(t, []string{"zhangsan"}, msg.To.Users)
}

func TestSendMessage_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", &wecom.ValidationError{Field: "content", Reason: "required"}, http.StatusBadRequest},
		{"api error", &wecom.APIError{Endpoint: "message/send", Code: 81013, Message: "user invalid"}, http.StatusBadGateway},
		{"timeout", &wecom.NetworkError{Endpoint: "message/send", Timeout: true, Err: context.DeadlineExceeded}, http.StatusGatewayTimeout},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, api.Config{})
			f.seed(t)
			f.msgs.err = tt.err

			rec := f.do(http.MethodPost, "/tenants/acme/messages", map[string]any{"content": "x"})
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestSyncTenant(t *testing.T) {
	f := newFixture(t, api.Config{})
	f.seed(t)

	rec := f.do(http.MethodPost, "/tenants/acme/sync", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, float64(3), body["users"])
}

func TestInvalidateToken(t *testing.T) {
	f := newFixture(t, api.Config{})
	rec := f.do(http.MethodDelete, "/tenants/acme/token", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"acme"}, f.tokens.invalidated)
}

func callbackPath() string {
	q := url.Values{
		"msg_signature": {msgcrypt.Signature("cbtoken", "1", "n", "hi")},
		"timestamp":     {"1"},
		"nonce":         {"n"},
		"echostr":       {"hi"},
	}
	return "/callback/acme?" + q.Encode()
}

func TestCallbackMounted(t *testing.T) {
	f := newFixture(t, api.Config{})
	f.seed(t)

	rec := f.do(http.MethodGet, callbackPath(), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hi", rec.Body.String())
}

func TestCallbackRateLimited(t *testing.T) {
	f := newFixture(t, api.Config{CallbackRate: 1, CallbackBurst: 2})
	f.seed(t)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, f.do(http.MethodGet, callbackPath(), nil).Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// admin routes are not limited
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/healthz", nil).Code)
}
