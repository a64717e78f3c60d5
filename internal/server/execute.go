package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/edon-ai/edon/internal/connector"
	"github.com/edon-ai/edon/internal/governor"
	"github.com/edon-ai/edon/internal/model"
	"github.com/edon-ai/edon/internal/storage"
	"github.com/edon-ai/edon/internal/vault"
)

// HandleExecute serves POST /execute: the full decision pipeline.
func (h *Handlers) HandleExecute(w http.ResponseWriter, r *http.Request) {
	var req model.ExecuteRequest
	if verr := decodeJSON(w, r, h.validator, &req); verr != nil {
		writeValidateError(w, r, verr)
		return
	}
	h.runPipeline(w, r, req.Action, req.Context)
}

// HandleClawdbotInvoke serves POST /clawdbot/invoke and its /edon/invoke
// alias: the same pipeline with the action fixed to clawdbot.invoke.
func (h *Handlers) HandleClawdbotInvoke(w http.ResponseWriter, r *http.Request) {
	var req model.ClawdbotInvokeRequest
	if verr := decodeJSON(w, r, h.validator, &req); verr != nil {
		writeValidateError(w, r, verr)
		return
	}
	if req.Tool == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "tool is required at path: tool")
		return
	}
	params := map[string]any{"tool": req.Tool}
	if req.Action != "" {
		params["action"] = req.Action
	}
	if req.Args != nil {
		params["args"] = req.Args
	}
	if req.SessionKey != "" {
		params["sessionKey"] = req.SessionKey
	}
	action := model.Action{Tool: "clawdbot", Op: "invoke", Params: params}
	h.runPipeline(w, r, action, nil)
}

// runPipeline resolves the intent, decides, audits, and conditionally
// executes. Exactly one audit event is written per decided request.
func (h *Handlers) runPipeline(w http.ResponseWriter, r *http.Request, action model.Action, reqContext map[string]any) {
	start := time.Now()
	ctx := r.Context()

	if action.Tool == "" || action.Op == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "action.tool and action.op are required at path: action")
		return
	}
	if verr := h.validator.CheckParams(action.Params); verr != nil {
		writeValidateError(w, r, verr)
		return
	}

	var principal model.Principal
	if p := PrincipalFromContext(ctx); p != nil {
		principal = *p
	}
	if err := h.authn.CheckExecutable(principal); err != nil {
		writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "tenant is not active")
		return
	}

	intent, err := h.resolveIntent(r, principal.TenantID, r.Header.Get("X-Intent-ID"), action)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "intent not found")
			return
		}
		writeInternalError(w, r, err)
		return
	}

	fingerprint, err := governor.Fingerprint(action.Tool, action.Op, action.Params, intent.IntentID)
	if err != nil {
		writeInternalError(w, r, err)
		return
	}

	gctx := governor.Context{
		AgentID:   principal.AgentID,
		TenantID:  principal.TenantID,
		Now:       time.Now(),
		Approvals: h.grantedApprovals(r, fingerprint),
	}
	recent, err := h.db.CountRecentDecisions(ctx, fingerprint, gctx.Now.Add(-governor.DefaultLoopWindow))
	if err != nil {
		h.logger.Warn("loop counter read failed", "error", err)
	}
	gctx.RecentCount = recent

	decision, decided := h.governor.Decide(intent, action, gctx)
	decision.ActionFingerprint = fingerprint
	if decision.Verdict == model.VerdictEscalate && decision.Escalation != nil {
		token, err := h.approvals.Issue(fingerprint)
		if err != nil {
			h.logger.Warn("approval token issue failed", "error", err)
		} else {
			decision.Escalation.ApprovalToken = token
		}
	}

	latency := time.Since(start)
	decisionID := h.audit(r, decision, decided, intent, principal, reqContext, latency)
	h.record(decision, latency)

	resp := model.ExecuteResponse{
		Verdict:         decision.Verdict,
		DecisionID:      decisionID,
		ReasonCode:      decision.ReasonCode,
		Explanation:     decision.Explanation,
		SafeAlternative: decision.SafeAlternative,
		Escalation:      decision.Escalation,
	}

	if decision.Verdict.Executable() {
		execution, err := h.execute(r, decision, decided, intent, principal)
		if err != nil {
			switch {
			case errors.Is(err, vault.ErrCredentialMissing):
				writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeCredentialMissing,
					"No credential configured for tool "+decided.Tool)
			case errors.Is(err, connector.ErrDownstreamUnavailable):
				writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeDownstream,
					"Downstream service is unreachable")
			default:
				writeInternalError(w, r, err)
			}
			return
		}
		resp.Execution = execution
	}

	writeJSON(w, r, http.StatusOK, resp)
}

// resolveIntent applies the resolution order: explicit header, tenant
// default, latest for tenant, then a synthesized non-approved intent that
// permits only read ops.
func (h *Handlers) resolveIntent(r *http.Request, tenantID, headerIntentID string, action model.Action) (model.Intent, error) {
	ctx := r.Context()

	if headerIntentID != "" {
		return h.db.GetIntent(ctx, headerIntentID)
	}

	if tenantID != "" {
		tenant, err := h.db.GetTenant(ctx, tenantID)
		if err == nil && tenant.DefaultIntentID != "" {
			intent, err := h.db.GetIntent(ctx, tenant.DefaultIntentID)
			if err == nil {
				return intent, nil
			}
			if !errors.Is(err, storage.ErrNotFound) {
				return model.Intent{}, err
			}
		} else if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return model.Intent{}, err
		}
	}

	intent, err := h.db.GetLatestIntent(ctx, tenantID)
	if err == nil {
		return intent, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return model.Intent{}, err
	}

	if action.Tool == "" {
		return model.Intent{}, storage.ErrNotFound
	}

	// No stored intent at all. Synthesize a minimal, non-approved intent;
	// it opens the scope only for side-effect-free ops, so anything else
	// lands on SCOPE_VIOLATION.
	scope := model.Scope{}
	if model.IsReadOnly(action.Op) {
		scope[action.Tool] = []string{action.Op}
	}
	return model.Intent{
		IntentID:       "intent-synthesized",
		TenantID:       tenantID,
		Objective:      "Synthesized read-only intent",
		Scope:          scope,
		Constraints:    model.Constraints{},
		RiskLevel:      model.RiskLow,
		ApprovedByUser: false,
	}, nil
}

// grantedApprovals verifies a replayed approval token against the action
// fingerprint. A valid token grants allow_once for exactly this action.
func (h *Handlers) grantedApprovals(r *http.Request, fingerprint string) []string {
	token := r.Header.Get("X-Approval-Token")
	if token == "" {
		return nil
	}
	if err := h.approvals.Verify(token, fingerprint); err != nil {
		h.logger.Warn("approval token rejected", "error", err)
		return nil
	}
	return []string{governor.ApprovalAllowOnce}
}

// audit persists the decision and its audit event. Persistence failure is
// logged and counted but never masks the decision.
func (h *Handlers) audit(r *http.Request, decision model.Decision, action model.Action,
	intent model.Intent, principal model.Principal, reqContext map[string]any, latency time.Duration) string {

	snapshot := map[string]any{
		"tool":          action.Tool,
		"op":            action.Op,
		"computed_risk": string(action.ComputedRisk),
	}
	if action.EstimatedRisk != "" {
		snapshot["estimated_risk"] = action.EstimatedRisk
	}
	if intent.Constraints.AuditDetailed() {
		snapshot["params"] = action.Params
	} else {
		snapshot["params_redacted"] = true
	}

	ctxSnapshot := map[string]any{}
	for k, v := range reqContext {
		if k == "intent_id" || k == "approval_token" {
			continue
		}
		ctxSnapshot[k] = v
	}

	decisionID, err := h.db.SaveAuditEvent(r.Context(), decision, model.AuditEvent{
		TenantID:        principal.TenantID,
		AgentID:         principal.AgentID,
		IntentID:        intent.IntentID,
		Verdict:         decision.Verdict,
		ReasonCode:      decision.ReasonCode,
		ActionSnapshot:  snapshot,
		ContextSnapshot: ctxSnapshot,
		LatencyMS:       float64(latency.Microseconds()) / 1000.0,
	})
	if err != nil {
		h.logger.Error("audit write failed", "error", err, "verdict", decision.Verdict)
		if h.metrics != nil {
			h.metrics.AuditWriteFailures.Inc()
		}
		return "dec-unpersisted-" + RequestIDFromContext(r.Context())
	}
	return decisionID
}

// record feeds the aggregate instruments.
func (h *Handlers) record(decision model.Decision, latency time.Duration) {
	h.bench.Record(latency)
	if h.metrics != nil {
		h.metrics.Decisions.WithLabelValues(string(decision.Verdict), string(decision.ReasonCode)).Inc()
		h.metrics.DecisionLatency.Observe(latency.Seconds())
	}
}

// execute dispatches an executable decision to its connector. DEGRADE runs
// the safe alternative instead of the original op.
func (h *Handlers) execute(r *http.Request, decision model.Decision, action model.Action,
	intent model.Intent, principal model.Principal) (*model.ExecutionBlock, error) {

	tool, op, params := action.Tool, action.Op, action.Params
	if decision.Verdict == model.VerdictDegrade {
		if decision.SafeAlternative == nil {
			return nil, errors.New("degrade verdict without safe alternative")
		}
		tool = decision.SafeAlternative.Tool
		op = decision.SafeAlternative.Op
		params = decision.SafeAlternative.Params
	}

	// An unapproved intent may still execute a degraded draft or a read;
	// anything else requires approval.
	if !intent.ApprovedByUser && decision.Verdict != model.VerdictDegrade && !model.IsReadOnly(op) {
		return &model.ExecutionBlock{Tool: tool, Op: op, OK: false, Error: "intent is not approved"}, nil
	}

	cred, err := h.vault.GetForExecution(r.Context(), tool, principal.TenantID, h.fallbackCredential(tool))
	if err != nil && !errors.Is(err, vault.ErrCredentialMissing) {
		return nil, err
	}
	if errors.Is(err, vault.ErrCredentialMissing) {
		if tool == "clawdbot" || h.vault.Strict() {
			return nil, err
		}
		cred = vault.Handle{ToolName: tool}
	}

	result, err := h.registry.Dispatch(r.Context(), tool, op, params, cred)
	if err != nil {
		if errors.Is(err, connector.ErrDownstreamUnavailable) {
			h.vault.RecordError(r.Context(), cred, err.Error())
			return nil, err
		}
		h.logger.Warn("execution failed", "tool", tool, "op", op, "error", err)
		return &model.ExecutionBlock{Tool: tool, Op: op, OK: false, Error: "execution failed"}, nil
	}

	if result.OK {
		h.vault.RecordUse(r.Context(), cred)
	} else if result.Error != "" {
		h.vault.RecordError(r.Context(), cred, result.Error)
	}

	return &model.ExecutionBlock{
		Tool:        tool,
		Op:          op,
		OK:          result.OK,
		Result:      result.Result,
		Error:       result.Error,
		Observation: result.Observation,
	}, nil
}

// fallbackCredential supplies the environment-sourced downstream credential
// for non-strict development setups.
func (h *Handlers) fallbackCredential(tool string) map[string]any {
	if tool != "clawdbot" || h.clawdbotURL == "" {
		return nil
	}
	return map[string]any{
		"base_url": h.clawdbotURL,
		"secret":   h.clawdbotToken,
	}
}
