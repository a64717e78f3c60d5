// Package model defines the core domain types shared across the gateway:
// verdicts, intents, actions, decisions, audit events, and the HTTP API
// envelopes.
package model

// Verdict is the outcome of a policy decision.
type Verdict string

const (
	VerdictAllow    Verdict = "ALLOW"
	VerdictDegrade  Verdict = "DEGRADE"
	VerdictEscalate Verdict = "ESCALATE"
	VerdictBlock    Verdict = "BLOCK"
	VerdictPause    Verdict = "PAUSE"
)

// Executable reports whether a verdict permits connector dispatch.
func (v Verdict) Executable() bool {
	return v == VerdictAllow || v == VerdictDegrade
}

// ReasonCode explains a verdict. Each code is valid for exactly one verdict.
type ReasonCode string

const (
	ReasonApproved          ReasonCode = "APPROVED"
	ReasonDegraded          ReasonCode = "DEGRADED_TO_SAFE_ALTERNATIVE"
	ReasonNeedConfirmation  ReasonCode = "NEED_CONFIRMATION"
	ReasonIntentNotApproved ReasonCode = "INTENT_NOT_APPROVED"
	ReasonScopeViolation    ReasonCode = "SCOPE_VIOLATION"
	ReasonRiskTooHigh       ReasonCode = "RISK_TOO_HIGH"
	ReasonDataExfil         ReasonCode = "DATA_EXFIL"
	ReasonOutOfHours        ReasonCode = "OUT_OF_HOURS"
	ReasonLoopDetected      ReasonCode = "LOOP_DETECTED"
	ReasonRateLimit         ReasonCode = "RATE_LIMIT"
)

// RiskLevel orders action risk from low to critical.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

var riskOrder = map[RiskLevel]int{
	RiskLow:      0,
	RiskMedium:   1,
	RiskHigh:     2,
	RiskCritical: 3,
}

// ParseRiskLevel returns the risk level for s, defaulting to low for
// unrecognized or empty input. Caller-supplied risk is advisory only.
func ParseRiskLevel(s string) RiskLevel {
	switch RiskLevel(s) {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return RiskLevel(s)
	}
	return RiskLow
}

// AtLeast reports whether r is at or above threshold.
func (r RiskLevel) AtLeast(threshold RiskLevel) bool {
	return riskOrder[r] >= riskOrder[threshold]
}

// Max returns the higher of r and other.
func (r RiskLevel) Max(other RiskLevel) RiskLevel {
	if riskOrder[other] > riskOrder[r] {
		return other
	}
	return r
}
