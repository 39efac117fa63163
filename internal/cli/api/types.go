package api

import (
	"time"
)

// Tenant is the redacted credential view returned by the gateway.
type Tenant struct {
	TenantID           string    `json:"tenant_id"`
	CorpID             string    `json:"corp_id"`
	AgentID            int64     `json:"agent_id"`
	CallbackConfigured bool      `json:"callback_configured"`
	CreatedAt          time.Time `json:"created_at,omitempty"`
	UpdatedAt          time.Time `json:"updated_at,omitempty"`
}

type CreateTenantRequest struct {
	TenantID       string `json:"tenant_id"`
	CorpID         string `json:"corp_id"`
	AgentID        int64  `json:"agent_id"`
	Secret         string `json:"secret"`
	Token          string `json:"token,omitempty"`
	EncodingAESKey string `json:"aes_key,omitempty"`
}

type UpdateTenantRequest struct {
	Secret         *string `json:"secret,omitempty"`
	AgentID        *int64  `json:"agent_id,omitempty"`
	Token          *string `json:"token,omitempty"`
	EncodingAESKey *string `json:"aes_key,omitempty"`
}

type TextCard struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	ButtonText  string `json:"btntxt,omitempty"`
}

type MessageRequest struct {
	Type    string    `json:"type"`
	Content string    `json:"content,omitempty"`
	Card    *TextCard `json:"card,omitempty"`
	Users   []string  `json:"users,omitempty"`
	Parties []string  `json:"parties,omitempty"`
	Tags    []string  `json:"tags,omitempty"`
}

type SendResult struct {
	MsgID        string `json:"msgid"`
	InvalidUser  string `json:"invaliduser,omitempty"`
	InvalidParty string `json:"invalidparty,omitempty"`
	InvalidTag   string `json:"invalidtag,omitempty"`
}

type SyncResult struct {
	TenantID    string    `json:"tenant_id"`
	Departments int       `json:"departments"`
	Users       int       `json:"users"`
	Tags        int       `json:"tags"`
	SyncedAt    time.Time `json:"synced_at"`
}
