package api

import (
	"context"
)

// Client is the interface for interacting with the gateway admin API
type Client interface {
	CreateTenant(ctx context.Context, req *CreateTenantRequest) (*Tenant, error)
	DeleteTenant(ctx context.Context, id string) error
	ListTenants(ctx context.Context) ([]Tenant, error)
	GetTenant(ctx context.Context, id string) (*Tenant, error)
	UpdateTenant(ctx context.Context, id string, req *UpdateTenantRequest) (*Tenant, error)
	InvalidateToken(ctx context.Context, id string) error

	SendMessage(ctx context.Context, tenantID string, req *MessageRequest) (*SendResult, error)
	SyncTenant(ctx context.Context, tenantID string) (*SyncResult, error)
}
