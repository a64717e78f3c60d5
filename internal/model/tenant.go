package model

import "time"

// TenantStatus is the lifecycle state of a tenant. Only active tenants can
// cause executions.
type TenantStatus string

const (
	TenantActive    TenantStatus = "active"
	TenantInactive  TenantStatus = "inactive"
	TenantSuspended TenantStatus = "suspended"
)

// Tenant is a provisioned account.
type Tenant struct {
	TenantID        string       `json:"tenant_id"`
	Plan            string       `json:"plan"`
	Status          TenantStatus `json:"status"`
	DefaultIntentID string       `json:"default_intent_id,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// TokenBinding pins a token digest to the first agent that used it.
// The plaintext token is never stored.
type TokenBinding struct {
	TokenHash  string    `json:"-"`
	AgentID    string    `json:"agent_id"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
}

// Principal is the authenticated identity behind a request.
type Principal struct {
	TenantID string
	AgentID  string
	Plan     string
	Status   TenantStatus
}
