package model

import "time"

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput      = "INVALID_INPUT"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodePayloadTooLarge   = "PAYLOAD_TOO_LARGE"
	ErrCodeRateLimited       = "RATE_LIMITED"
	ErrCodeCredentialMissing = "CREDENTIAL_MISSING"
	ErrCodeDownstream        = "DOWNSTREAM_UNAVAILABLE"
	ErrCodeInternalError     = "INTERNAL_ERROR"
)

// ExecuteRequest is the request body for POST /execute.
type ExecuteRequest struct {
	Action  Action         `json:"action"`
	Context map[string]any `json:"context,omitempty"`
}

// ExecutionBlock is the result portion of a decision envelope. Present only
// when the verdict permitted execution.
type ExecutionBlock struct {
	Tool        string `json:"tool"`
	Op          string `json:"op"`
	OK          bool   `json:"ok"`
	Result      any    `json:"result,omitempty"`
	Error       string `json:"error,omitempty"`
	Observation any    `json:"observation,omitempty"`
}

// ExecuteResponse is the decision envelope returned by POST /execute and
// POST /clawdbot/invoke. Execution is nil whenever the verdict is not
// ALLOW or DEGRADE.
type ExecuteResponse struct {
	Verdict         Verdict          `json:"verdict"`
	DecisionID      string           `json:"decision_id"`
	ReasonCode      ReasonCode       `json:"reason_code"`
	Explanation     string           `json:"explanation"`
	SafeAlternative *SafeAlternative `json:"safe_alternative,omitempty"`
	Escalation      *Escalation      `json:"escalation,omitempty"`
	Execution       *ExecutionBlock  `json:"execution,omitempty"`
}

// IntentSetRequest is the request body for POST /intent/set.
type IntentSetRequest struct {
	IntentID       string      `json:"intent_id,omitempty"`
	Objective      string      `json:"objective"`
	Scope          Scope       `json:"scope"`
	Constraints    Constraints `json:"constraints,omitempty"`
	RiskLevel      string      `json:"risk_level,omitempty"`
	ApprovedByUser bool        `json:"approved_by_user"`
}

// IntentSetResponse is the response for POST /intent/set.
type IntentSetResponse struct {
	IntentID string `json:"intent_id"`
	Status   string `json:"status"`
}

// ClawdbotInvokeRequest is the request body for POST /clawdbot/invoke.
// Tool and Action address the downstream bot gateway's tool surface.
type ClawdbotInvokeRequest struct {
	Tool       string         `json:"tool"`
	Action     string         `json:"action,omitempty"`
	Args       map[string]any `json:"args,omitempty"`
	SessionKey string         `json:"sessionKey,omitempty"`
}

// CredentialSetRequest is the request body for POST /credentials/set.
// Payload is write-only; it never appears in any response.
type CredentialSetRequest struct {
	CredentialID   string         `json:"credential_id"`
	ToolName       string         `json:"tool_name"`
	TenantID       string         `json:"tenant_id,omitempty"`
	CredentialType string         `json:"credential_type,omitempty"`
	Payload        map[string]any `json:"payload"`
	Encrypt        bool           `json:"encrypt,omitempty"`
}

// ClawdbotConnectRequest is the request body for POST /integrations/clawdbot/connect.
// Legacy gateway_url/gateway_token keys are accepted alongside base_url/secret.
type ClawdbotConnectRequest struct {
	BaseURL      string `json:"base_url,omitempty"`
	AuthMode     string `json:"auth_mode,omitempty"`
	Secret       string `json:"secret,omitempty"`
	GatewayURL   string `json:"gateway_url,omitempty"`
	GatewayToken string `json:"gateway_token,omitempty"`
}

// PlanRequest is the request body for POST /plan.
type PlanRequest struct {
	Objective string `json:"objective"`
}

// PlanStep is one advisory step of a plan. Plans never execute.
type PlanStep struct {
	Step        int    `json:"step"`
	Description string `json:"description"`
	Tool        string `json:"tool,omitempty"`
	Op          string `json:"op,omitempty"`
}

// PlanResponse is the response for POST /plan.
type PlanResponse struct {
	Objective string     `json:"objective"`
	Steps     []PlanStep `json:"steps"`
	Advisory  bool       `json:"advisory"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Store         string `json:"store"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// VersionResponse is the response for GET /version.
type VersionResponse struct {
	Version   string `json:"version"`
	Service   string `json:"service"`
	BuildTime string `json:"build_time,omitempty"`
}

// PolicyPackSummary describes one applicable policy pack.
type PolicyPackSummary struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	RiskLevel   string `json:"risk_level"`
}

// ApplyPackResponse is the response for POST /policy-packs/{name}/apply.
type ApplyPackResponse struct {
	IntentID string `json:"intent_id"`
	Pack     string `json:"pack"`
	Default  bool   `json:"default"`
}

// TrustSpec is the response for GET /benchmark/trust-spec.
type TrustSpec struct {
	LatencyOverhead  LatencySummary   `json:"latency_overhead"`
	BlockRate        BlockRateSummary `json:"block_rate"`
	BypassResistance BypassScore      `json:"bypass_resistance"`
}

// LatencySummary aggregates decision latency percentiles.
type LatencySummary struct {
	MedianMS        float64 `json:"median_ms"`
	P95MS           float64 `json:"p95_ms"`
	P99MS           float64 `json:"p99_ms"`
	TargetLocalMS   float64 `json:"target_local_ms"`
	TargetNetworkMS float64 `json:"target_network_ms"`
	MeetsTargets    bool    `json:"meets_targets"`
}

// BlockRateSummary aggregates verdict counts.
type BlockRateSummary struct {
	TotalDecisions  int64   `json:"total_decisions"`
	BlockCount      int64   `json:"block_count"`
	AllowCount      int64   `json:"allow_count"`
	BlockPercentage float64 `json:"block_percentage"`
}

// BypassScore summarizes anti-bypass posture on a 0–100 scale.
type BypassScore struct {
	Score    int             `json:"score"`
	MaxScore int             `json:"max_score"`
	Level    string          `json:"level"`
	Factors  map[string]bool `json:"factors"`
}
