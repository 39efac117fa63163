package cmd

import (
	"bytes"
	stdcontext "context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/shawn/wecom-gateway/internal/cli/api"
)

func TestTenantListCommand(t *testing.T) {
	mockClient := &api.MockClient{
		ListTenantsFunc: func(ctx stdcontext.Context) ([]api.Tenant, error) {
			return []api.Tenant{
				{TenantID: "acme", CorpID: "ww1", AgentID: 1000002, CallbackConfigured: true},
				{TenantID: "globex", CorpID: "ww2", AgentID: 1000003},
			}, nil
		},
	}

	cmd := newTenantListCmd(mockClient)
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{})

	assert.NoError(t, cmd.Execute())

	output := buf.String()
	assert.Contains(t, output, "TENANT ID")
	assert.Contains(t, output, "acme")
	assert.Contains(t, output, "globex")
	assert.Contains(t, output, "1000003")
}

func TestTenantListCommand_JSON(t *testing.T) {
	outputFormat = "json"
	defer func() { outputFormat = "" }()

	mockClient := &api.MockClient{
		ListTenantsFunc: func(ctx stdcontext.Context) ([]api.Tenant, error) {
			return []api.Tenant{{TenantID: "acme"}}, nil
		},
	}

	cmd := newTenantListCmd(mockClient)
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{})

	assert.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), `"tenant_id": "acme"`)
}

func TestTenantGetCommand(t *testing.T) {
	mockClient := &api.MockClient{
		GetTenantFunc: func(ctx stdcontext.Context, id string) (*api.Tenant, error) {
			assert.Equal(t, "acme", id)
			return &api.Tenant{TenantID: "acme", CorpID: "ww1", AgentID: 1000002}, nil
		},
	}

	cmd := newTenantGetCmd(mockClient)
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"acme"})

	assert.NoError(t, cmd.Execute())

	output := buf.String()
	assert.Contains(t, output, "acme")
	assert.Contains(t, output, "ww1")
	assert.Contains(t, output, "1000002")
}

func TestTenantGetCommand_Error(t *testing.T) {
	mockClient := &api.MockClient{
		GetTenantFunc: func(ctx stdcontext.Context, id string) (*api.Tenant, error) {
			return nil, &api.StatusError{StatusCode: 404, Message: "not found"}
		},
	}

	cmd := newTenantGetCmd(mockClient)
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"ghost"})

	assert.Error(t, cmd.Execute())
	assert.Contains(t, buf.String(), "Failed to get tenant")
}

func TestTenantDeleteCommand(t *testing.T) {
	deleted := false
	mockClient := &api.MockClient{
		DeleteTenantFunc: func(ctx stdcontext.Context, id string) error {
			assert.Equal(t, "acme", id)
			deleted = true
			return nil
		},
	}

	cmd := newTenantDeleteCmd(mockClient)
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"acme"})

	assert.NoError(t, cmd.Execute())
	assert.True(t, deleted)
	assert.Contains(t, buf.String(), "deleted")
}

func TestTenantResetTokenCommand(t *testing.T) {
	var got string
	mockClient := &api.MockClient{
		InvalidateTokenFunc: func(ctx stdcontext.Context, id string) error {
			got = id
			return nil
		},
	}

	cmd := newTenantResetTokenCmd(mockClient)
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"acme"})

	assert.NoError(t, cmd.Execute())
	assert.Equal(t, "acme", got)
}

func TestSyncCommand(t *testing.T) {
	mockClient := &api.MockClient{
		SyncTenantFunc: func(ctx stdcontext.Context, tenantID string) (*api.SyncResult, error) {
			return &api.SyncResult{TenantID: tenantID, Departments: 4, Users: 12, Tags: 2}, nil
		},
	}

	cmd := newSyncCmd(mockClient)
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"acme"})

	assert.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "12")
}

func TestSyncCommand_Error(t *testing.T) {
	mockClient := &api.MockClient{
		SyncTenantFunc: func(ctx stdcontext.Context, tenantID string) (*api.SyncResult, error) {
			return nil, errors.New("gateway returned 502")
		},
	}

	cmd := newSyncCmd(mockClient)
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"acme"})

	assert.Error(t, cmd.Execute())
}
