package model

import "time"

// SafeAlternative is the degraded substitute op attached to DEGRADE verdicts.
type SafeAlternative struct {
	Tool   string         `json:"tool"`
	Op     string         `json:"op"`
	Params map[string]any `json:"params,omitempty"`
}

// EscalationOption is one choice the human can take on an escalated decision.
type EscalationOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Escalation carries the confirmation question for ESCALATE verdicts.
// ApprovalToken, when present, is a signed single-action grant the caller can
// replay to approve exactly this action once.
type Escalation struct {
	Question      string             `json:"question"`
	Options       []EscalationOption `json:"options"`
	ApprovalToken string             `json:"approval_token,omitempty"`
}

// Decision is the engine's verdict for a specific (intent, action, context).
// Immutable once written.
type Decision struct {
	DecisionID        string           `json:"decision_id"`
	ActionFingerprint string           `json:"action_fingerprint"`
	Verdict           Verdict          `json:"verdict"`
	ReasonCode        ReasonCode       `json:"reason_code"`
	Explanation       string           `json:"explanation"`
	SafeAlternative   *SafeAlternative `json:"safe_alternative,omitempty"`
	Escalation        *Escalation      `json:"escalation,omitempty"`
	Timestamp         time.Time        `json:"timestamp"`
}

// DecisionFilters narrows decision queries. Limit is capped at 1000.
type DecisionFilters struct {
	Verdict           Verdict
	ActionFingerprint string
	Limit             int
}
