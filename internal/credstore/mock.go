package credstore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// MockClient is an in-memory credential store for tests and local runs.
type MockClient struct {
	mu      sync.RWMutex
	tenants map[string]*Credentials
}

func NewMock() *MockClient {
	return &MockClient{tenants: make(map[string]*Credentials)}
}

func (m *MockClient) GetTenant(_ context.Context, tenantID string) (*Credentials, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.tenants[tenantID]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (m *MockClient) CreateTenant(_ context.Context, creds *Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tenants[creds.TenantID]; ok {
		return ErrExists
	}
	cp := *creds
	m.tenants[creds.TenantID] = &cp
	return nil
}

func (m *MockClient) UpdateTenant(_ context.Context, tenantID string, u Update) error {
	if (u.Token == nil) != (u.EncodingAESKey == nil) {
		return errors.New("token and aes key must be updated together")
	}
	return m.mutate(tenantID, u.Apply)
}

func (m *MockClient) UpdateSecret(ctx context.Context, tenantID, secret string) error {
	return m.UpdateTenant(ctx, tenantID, Update{Secret: &secret})
}

func (m *MockClient) UpdateCallback(ctx context.Context, tenantID, token, aesKey string) error {
	return m.UpdateTenant(ctx, tenantID, Update{Token: &token, EncodingAESKey: &aesKey})
}

func (m *MockClient) UpdateAgentID(ctx context.Context, tenantID string, agentID int64) error {
	return m.UpdateTenant(ctx, tenantID, Update{AgentID: &agentID})
}

func (m *MockClient) mutate(tenantID string, fn func(*Credentials)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.tenants[tenantID]
	if !ok {
		return ErrNotFound
	}
	fn(c)
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// ListAll returns records ordered by tenant ID.
func (m *MockClient) ListAll(_ context.Context) ([]*Credentials, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	records := make([]*Credentials, 0, len(m.tenants))
	for _, c := range m.tenants {
		cp := *c
		records = append(records, &cp)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].TenantID < records[j].TenantID })
	return records, nil
}

func (m *MockClient) DeleteTenant(_ context.Context, tenantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tenants[tenantID]; !ok {
		return ErrNotFound
	}
	delete(m.tenants, tenantID)
	return nil
}
