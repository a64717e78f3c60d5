package model

import "time"

// AuditEvent is the append-only record written for every decided request.
// ActionSnapshot is redacted unless the intent carries audit_level: detailed.
type AuditEvent struct {
	EventID         string         `json:"event_id"`
	DecisionID      string         `json:"decision_id"`
	TenantID        string         `json:"tenant_id,omitempty"`
	AgentID         string         `json:"agent_id,omitempty"`
	IntentID        string         `json:"intent_id,omitempty"`
	Verdict         Verdict        `json:"verdict"`
	ReasonCode      ReasonCode     `json:"reason_code"`
	ActionSnapshot  map[string]any `json:"action_snapshot"`
	ContextSnapshot map[string]any `json:"context_snapshot,omitempty"`
	Timestamp       time.Time      `json:"timestamp"`
	LatencyMS       float64        `json:"latency_ms"`
}

// AuditFilters narrows audit queries. Limit is capped at 1000.
type AuditFilters struct {
	AgentID  string
	Verdict  Verdict
	IntentID string
	Limit    int
}
