package model

import "time"

// Credential is a stored downstream secret. PayloadBlob is opaque at this
// layer; the vault package owns encryption and never exposes the payload
// over any HTTP surface.
type Credential struct {
	CredentialID   string     `json:"credential_id"`
	ToolName       string     `json:"tool_name"`
	TenantID       string     `json:"tenant_id,omitempty"`
	CredentialType string     `json:"credential_type"`
	PayloadBlob    []byte     `json:"-"`
	Encrypted      bool       `json:"encrypted"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	LastUsedAt     *time.Time `json:"last_used_at,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
}

// IntegrationStatus is the operator-visible connection state for a tool.
// A recorded last_error does not flip Connected back to false.
type IntegrationStatus struct {
	Tool      string     `json:"tool"`
	Connected bool       `json:"connected"`
	LastOKAt  *time.Time `json:"last_ok_at,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}
