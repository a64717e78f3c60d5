package model

import "time"

// Scope maps a tool name to the set of operations the intent permits on it.
type Scope map[string][]string

// Allows reports whether the scope permits op on tool.
func (s Scope) Allows(tool, op string) bool {
	ops, ok := s[tool]
	if !ok {
		return false
	}
	for _, o := range ops {
		if o == op || o == "*" {
			return true
		}
	}
	return false
}

// Constraints is the open-keyed constraint mapping attached to an intent.
// Recognized keys are read through the typed accessors below; unknown keys
// are preserved but ignored by the decision engine.
type Constraints map[string]any

// Recognized constraint keys.
const (
	ConstraintDraftsOnly           = "drafts_only"
	ConstraintMaxRecipients        = "max_recipients"
	ConstraintAllowedClawdbotTools = "allowed_clawdbot_tools"
	ConstraintBlockedClawdbotTools = "blocked_clawdbot_tools"
	ConstraintConfirmIrreversible  = "confirm_irreversible"
	ConstraintWorkHoursOnly        = "work_hours_only"
	ConstraintEscalateRiskLevels   = "escalate_risk_levels"
	ConstraintAuditLevel           = "audit_level"
)

// Bool returns the boolean constraint for key, or false when absent or
// not a boolean.
func (c Constraints) Bool(key string) bool {
	v, ok := c[key].(bool)
	return ok && v
}

// Int returns the integer constraint for key and whether it was present.
// JSON round-tripping stores numbers as float64.
func (c Constraints) Int(key string) (int, bool) {
	switch v := c[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

// StringList returns the string-list constraint for key. Absent or malformed
// values yield nil.
func (c Constraints) StringList(key string) []string {
	switch v := c[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// String returns the string constraint for key, or "" when absent.
func (c Constraints) String(key string) string {
	v, _ := c[key].(string)
	return v
}

// AuditDetailed reports whether full parameter snapshots should be audited.
func (c Constraints) AuditDetailed() bool {
	return c.String(ConstraintAuditLevel) == "detailed"
}

// Intent is a tenant-scoped contract describing permissible tools, ops,
// constraints, and risk posture. Intents are never deleted, only superseded.
type Intent struct {
	IntentID       string      `json:"intent_id"`
	TenantID       string      `json:"tenant_id,omitempty"`
	Objective      string      `json:"objective"`
	Scope          Scope       `json:"scope"`
	Constraints    Constraints `json:"constraints"`
	RiskLevel      RiskLevel   `json:"risk_level"`
	ApprovedByUser bool        `json:"approved_by_user"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}
