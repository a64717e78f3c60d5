package server

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/edon-ai/edon/internal/antibypass"
	"github.com/edon-ai/edon/internal/auth"
	"github.com/edon-ai/edon/internal/bench"
	"github.com/edon-ai/edon/internal/connector"
	"github.com/edon-ai/edon/internal/governor"
	"github.com/edon-ai/edon/internal/metrics"
	"github.com/edon-ai/edon/internal/model"
	"github.com/edon-ai/edon/internal/policy"
	"github.com/edon-ai/edon/internal/storage"
	"github.com/edon-ai/edon/internal/validate"
	"github.com/edon-ai/edon/internal/vault"
)

// HandlersDeps bundles dependencies for Handlers.
type HandlersDeps struct {
	DB        *storage.DB
	Vault     *vault.Vault
	Governor  *governor.Governor
	Registry  *connector.Registry
	Approvals *auth.ApprovalSigner
	Authn     *auth.Authenticator
	Validator *validate.Validator
	Metrics   *metrics.Metrics
	Bench     *bench.Collector
	Bypass    antibypass.Config

	ClawdbotURL                 string
	ClawdbotToken               string
	DefaultClawdbotCredentialID string

	Logger  *slog.Logger
	Version string
}

// Handlers implements all HTTP endpoints.
type Handlers struct {
	db        *storage.DB
	vault     *vault.Vault
	governor  *governor.Governor
	registry  *connector.Registry
	approvals *auth.ApprovalSigner
	authn     *auth.Authenticator
	validator *validate.Validator
	metrics   *metrics.Metrics
	bench     *bench.Collector
	bypass    antibypass.Config

	clawdbotURL    string
	clawdbotToken  string
	clawdbotCredID string

	logger  *slog.Logger
	version string
	started time.Time
}

// NewHandlers creates the handler set.
func NewHandlers(deps HandlersDeps) *Handlers {
	return &Handlers{
		db:             deps.DB,
		vault:          deps.Vault,
		governor:       deps.Governor,
		registry:       deps.Registry,
		approvals:      deps.Approvals,
		authn:          deps.Authn,
		validator:      deps.Validator,
		metrics:        deps.Metrics,
		bench:          deps.Bench,
		bypass:         deps.Bypass,
		clawdbotURL:    deps.ClawdbotURL,
		clawdbotToken:  deps.ClawdbotToken,
		clawdbotCredID: deps.DefaultClawdbotCredentialID,
		logger:         deps.Logger,
		version:        deps.Version,
		started:        time.Now(),
	}
}

// HandleHealth serves GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	store := "ok"
	if err := h.db.Ping(r.Context()); err != nil {
		store = "unavailable"
	}
	writeJSON(w, r, http.StatusOK, model.HealthResponse{
		Status:        "ok",
		Version:       h.version,
		Store:         store,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
	})
}

// HandleVersion serves GET /version.
func (h *Handlers) HandleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, model.VersionResponse{
		Version: h.version,
		Service: "edon-gateway",
	})
}

// HandleDocs serves a minimal endpoint listing for GET /docs and /redoc.
func (h *Handlers) HandleDocs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<!doctype html><html><head><title>EDON Gateway</title></head>
<body><h1>EDON Gateway %s</h1>
<p>Policy enforcement layer between agents and tools.</p>
<p>The machine-readable surface description is at <a href="/openapi.json">/openapi.json</a>.</p>
</body></html>`, h.version)
}

// HandleOpenAPI serves GET /openapi.json: a compact surface description.
func (h *Handlers) HandleOpenAPI(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "EDON Gateway",
			"version": h.version,
		},
		"paths": map[string]any{
			"/health":                        map[string]any{"get": map[string]any{"summary": "Liveness probe"}},
			"/version":                       map[string]any{"get": map[string]any{"summary": "Build version"}},
			"/intent/set":                    map[string]any{"post": map[string]any{"summary": "Create or replace the active intent"}},
			"/intent/get":                    map[string]any{"get": map[string]any{"summary": "Fetch the active intent"}},
			"/execute":                       map[string]any{"post": map[string]any{"summary": "Decide and conditionally execute an action"}},
			"/clawdbot/invoke":               map[string]any{"post": map[string]any{"summary": "Governed proxy to the downstream bot gateway"}},
			"/plan":                          map[string]any{"post": map[string]any{"summary": "Advisory plan for an objective"}},
			"/audit/query":                   map[string]any{"get": map[string]any{"summary": "Query audit events"}},
			"/decisions/query":               map[string]any{"get": map[string]any{"summary": "Query decisions"}},
			"/decisions/{decision_id}":       map[string]any{"get": map[string]any{"summary": "Fetch one decision"}},
			"/credentials/set":               map[string]any{"post": map[string]any{"summary": "Store a credential (write-only)"}},
			"/credentials/{credential_id}":   map[string]any{"delete": map[string]any{"summary": "Delete a credential"}},
			"/policy-packs":                  map[string]any{"get": map[string]any{"summary": "List policy packs"}},
			"/policy-packs/{name}/apply":     map[string]any{"post": map[string]any{"summary": "Apply a policy pack"}},
			"/integrations/clawdbot/connect": map[string]any{"post": map[string]any{"summary": "Connect the downstream bot gateway"}},
			"/account/integrations":          map[string]any{"get": map[string]any{"summary": "Integration and bypass posture"}},
			"/metrics":                       map[string]any{"get": map[string]any{"summary": "Aggregate counters"}},
			"/benchmark/trust-spec":          map[string]any{"get": map[string]any{"summary": "Trust specification report"}},
		},
	})
}

// HandleSignup serves POST /signup: provisions a tenant.
func (h *Handlers) HandleSignup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if verr := decodeJSON(w, r, h.validator, &req); verr != nil {
		writeValidateError(w, r, verr)
		return
	}
	tenantID := "tenant-" + uuid.NewString()
	if err := h.db.UpsertTenant(r.Context(), model.Tenant{
		TenantID: tenantID,
		Plan:     "free",
		Status:   model.TenantActive,
	}); err != nil {
		writeInternalError(w, r, err)
		return
	}
	h.logger.Info("tenant provisioned", "tenant_id", tenantID)
	writeJSON(w, r, http.StatusCreated, map[string]any{
		"tenant_id": tenantID,
		"plan":      "free",
		"status":    "active",
	})
}

// HandleStripeWebhook serves POST /webhooks/stripe. The sink accepts and
// acknowledges; plan changes are applied when the event carries a tenant.
func (h *Handlers) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	var event struct {
		Type string `json:"type"`
		Data struct {
			Object map[string]any `json:"object"`
		} `json:"data"`
	}
	if verr := decodeJSON(w, r, h.validator, &event); verr != nil {
		writeValidateError(w, r, verr)
		return
	}
	if event.Type == "checkout.session.completed" {
		tenantID, _ := event.Data.Object["client_reference_id"].(string)
		if tenantID != "" {
			if err := h.db.UpsertTenant(r.Context(), model.Tenant{
				TenantID: tenantID,
				Plan:     "starter",
				Status:   model.TenantActive,
			}); err != nil {
				h.logger.Error("stripe webhook: tenant update failed", "error", err)
			}
		}
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"received": true})
}

// HandleTelegramConnectCode serves POST /integrations/telegram/connect-code:
// mints a short-lived single-use code binding a chat to the tenant.
func (h *Handlers) HandleTelegramConnectCode(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFromContext(r.Context())
	if p == nil || p.TenantID == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "X-Tenant-ID header is required")
		return
	}
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		writeInternalError(w, r, err)
		return
	}
	code := strings.ToUpper(hex.EncodeToString(buf))
	if err := h.db.CreateConnectCode(r.Context(), code, p.TenantID, 10*time.Minute); err != nil {
		writeInternalError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, map[string]any{
		"code":       code,
		"expires_in": int((10 * time.Minute).Seconds()),
	})
}

// HandleTelegramWebhook serves POST /webhooks/telegram: redeems connect codes
// sent as /connect <code> messages.
func (h *Handlers) HandleTelegramWebhook(w http.ResponseWriter, r *http.Request) {
	var update struct {
		Message struct {
			Text string `json:"text"`
			Chat struct {
				ID int64 `json:"id"`
			} `json:"chat"`
		} `json:"message"`
	}
	if verr := decodeJSON(w, r, h.validator, &update); verr != nil {
		writeValidateError(w, r, verr)
		return
	}
	text := strings.TrimSpace(update.Message.Text)
	if code, ok := strings.CutPrefix(text, "/connect "); ok {
		tenantID, err := h.db.RedeemConnectCode(r.Context(), strings.TrimSpace(code))
		if err != nil {
			writeJSON(w, r, http.StatusOK, map[string]any{"ok": false, "reason": "invalid or expired code"})
			return
		}
		h.logger.Info("telegram chat connected", "tenant_id", tenantID, "chat_id", update.Message.Chat.ID)
		writeJSON(w, r, http.StatusOK, map[string]any{"ok": true, "tenant_id": tenantID})
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"ok": true})
}

// HandleIntentSet serves POST /intent/set: saves the intent and makes it the
// tenant's default.
func (h *Handlers) HandleIntentSet(w http.ResponseWriter, r *http.Request) {
	var req model.IntentSetRequest
	if verr := decodeJSON(w, r, h.validator, &req); verr != nil {
		writeValidateError(w, r, verr)
		return
	}
	if req.Objective == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "objective is required at path: objective")
		return
	}
	if len(req.Scope) == 0 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "scope is required at path: scope")
		return
	}

	tenantID := ""
	if p := PrincipalFromContext(r.Context()); p != nil {
		tenantID = p.TenantID
	}
	intent := model.Intent{
		IntentID:       req.IntentID,
		TenantID:       tenantID,
		Objective:      req.Objective,
		Scope:          req.Scope,
		Constraints:    req.Constraints,
		RiskLevel:      model.ParseRiskLevel(req.RiskLevel),
		ApprovedByUser: req.ApprovedByUser,
	}
	intentID, err := h.db.SaveIntent(r.Context(), intent)
	if err != nil {
		writeInternalError(w, r, err)
		return
	}
	if tenantID != "" {
		if err := h.setDefaultIntent(r, tenantID, intentID); err != nil {
			writeInternalError(w, r, err)
			return
		}
	}
	writeJSON(w, r, http.StatusOK, model.IntentSetResponse{IntentID: intentID, Status: "active"})
}

// HandleIntentGet serves GET /intent/get: by explicit id, or the tenant's
// active intent.
func (h *Handlers) HandleIntentGet(w http.ResponseWriter, r *http.Request) {
	if intentID := r.URL.Query().Get("intent_id"); intentID != "" {
		intent, err := h.db.GetIntent(r.Context(), intentID)
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "intent not found")
			return
		}
		if err != nil {
			writeInternalError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, intent)
		return
	}

	tenantID := ""
	if p := PrincipalFromContext(r.Context()); p != nil {
		tenantID = p.TenantID
	}
	intent, err := h.resolveIntent(r, tenantID, "", model.Action{})
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "no active intent")
		return
	}
	if err != nil {
		writeInternalError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, intent)
}

// HandleAuditQuery serves GET /audit/query.
func (h *Handlers) HandleAuditQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := model.AuditFilters{
		AgentID:  q.Get("agent_id"),
		Verdict:  model.Verdict(q.Get("verdict")),
		IntentID: q.Get("intent_id"),
		Limit:    intQuery(q.Get("limit")),
	}
	events, err := h.db.QueryAuditEvents(r.Context(), filters)
	if err != nil {
		writeInternalError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

// HandleDecisionsQuery serves GET /decisions/query.
func (h *Handlers) HandleDecisionsQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := model.DecisionFilters{
		Verdict:           model.Verdict(q.Get("verdict")),
		ActionFingerprint: q.Get("fingerprint"),
		Limit:             intQuery(q.Get("limit")),
	}
	decisions, err := h.db.QueryDecisions(r.Context(), filters)
	if err != nil {
		writeInternalError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"decisions": decisions, "count": len(decisions)})
}

// HandleGetDecision serves GET /decisions/{decision_id}.
func (h *Handlers) HandleGetDecision(w http.ResponseWriter, r *http.Request) {
	decision, err := h.db.GetDecision(r.Context(), r.PathValue("decision_id"))
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "decision not found")
		return
	}
	if err != nil {
		writeInternalError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, decision)
}

// HandleCredentialSet serves POST /credentials/set. The payload is write-only
// and the response never echoes it.
func (h *Handlers) HandleCredentialSet(w http.ResponseWriter, r *http.Request) {
	var req model.CredentialSetRequest
	if verr := decodeJSON(w, r, h.validator, &req); verr != nil {
		writeValidateError(w, r, verr)
		return
	}
	if req.CredentialID == "" || req.ToolName == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "credential_id and tool_name are required")
		return
	}
	if err := h.vault.Set(r.Context(), req.CredentialID, req.ToolName, req.TenantID,
		req.CredentialType, req.Payload, req.Encrypt); err != nil {
		writeInternalError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"credential_id": req.CredentialID,
		"tool_name":     req.ToolName,
		"status":        "stored",
	})
}

// HandleCredentialDelete serves DELETE /credentials/{credential_id}.
func (h *Handlers) HandleCredentialDelete(w http.ResponseWriter, r *http.Request) {
	credentialID := r.PathValue("credential_id")
	if err := h.vault.Delete(r.Context(), credentialID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "credential not found")
			return
		}
		writeInternalError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"credential_id": credentialID, "status": "deleted"})
}

// HandlePolicyPacks serves GET /policy-packs.
func (h *Handlers) HandlePolicyPacks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"packs":   policy.List(),
		"default": "personal_safe",
	})
}

// HandleApplyPack serves POST /policy-packs/{name}/apply.
func (h *Handlers) HandleApplyPack(w http.ResponseWriter, r *http.Request) {
	pack, err := policy.Get(r.PathValue("name"))
	if err != nil {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "unknown policy pack")
		return
	}
	tenantID := ""
	if p := PrincipalFromContext(r.Context()); p != nil {
		tenantID = p.TenantID
	}
	intent := pack.Compile(tenantID)
	intentID, err := h.db.SaveIntent(r.Context(), intent)
	if err != nil {
		writeInternalError(w, r, err)
		return
	}
	isDefault := false
	if tenantID != "" {
		if err := h.setDefaultIntent(r, tenantID, intentID); err != nil {
			writeInternalError(w, r, err)
			return
		}
		isDefault = true
	}
	h.logger.Info("policy pack applied", "pack", pack.Name, "intent_id", intentID, "tenant_id", tenantID)
	writeJSON(w, r, http.StatusOK, model.ApplyPackResponse{
		IntentID: intentID,
		Pack:     pack.Name,
		Default:  isDefault,
	})
}

// HandleClawdbotConnect serves POST /integrations/clawdbot/connect: stores
// the downstream URL and secret in the vault. Legacy gateway_url and
// gateway_token keys are accepted.
func (h *Handlers) HandleClawdbotConnect(w http.ResponseWriter, r *http.Request) {
	var req model.ClawdbotConnectRequest
	if verr := decodeJSON(w, r, h.validator, &req); verr != nil {
		writeValidateError(w, r, verr)
		return
	}
	baseURL := req.BaseURL
	if baseURL == "" {
		baseURL = req.GatewayURL
	}
	secret := req.Secret
	if secret == "" {
		secret = req.GatewayToken
	}
	if baseURL == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "base_url is required at path: base_url")
		return
	}

	tenantID := ""
	if p := PrincipalFromContext(r.Context()); p != nil {
		tenantID = p.TenantID
	}
	payload := map[string]any{"base_url": baseURL, "secret": secret}
	if req.AuthMode != "" {
		payload["auth_mode"] = req.AuthMode
	}
	if err := h.vault.Set(r.Context(), h.clawdbotCredID, "clawdbot", tenantID, "bearer", payload, false); err != nil {
		writeInternalError(w, r, err)
		return
	}

	reach := antibypass.ClassifyURL(r.Context(), nil, baseURL)
	writeJSON(w, r, http.StatusOK, map[string]any{
		"credential_id": h.clawdbotCredID,
		"status":        "connected",
		"reachability":  string(reach),
		"bypass_risk":   antibypass.BypassRisk(reach),
	})
}

// HandleAccountIntegrations serves GET /account/integrations.
func (h *Handlers) HandleAccountIntegrations(w http.ResponseWriter, r *http.Request) {
	tenantID := ""
	if p := PrincipalFromContext(r.Context()); p != nil {
		tenantID = p.TenantID
	}
	status, err := h.db.GetIntegrationStatus(r.Context(), tenantID, "clawdbot")
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		writeInternalError(w, r, err)
		return
	}

	reach := antibypass.ReachUnknown
	if h.clawdbotURL != "" {
		reach = antibypass.ClassifyURL(r.Context(), nil, h.clawdbotURL)
	}
	entry := map[string]any{
		"connected":    status.Connected,
		"reachability": string(reach),
		"bypass_risk":  antibypass.BypassRisk(reach),
	}
	if status.LastOKAt != nil {
		entry["last_ok_at"] = status.LastOKAt
	}
	if status.LastError != "" {
		entry["last_error"] = status.LastError
	}
	if recs := h.bypass.Recommendations(); len(recs) > 0 {
		entry["recommendation"] = recs[0]
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"clawdbot":          entry,
		"bypass_resistance": h.bypass.Score(),
	})
}

// HandleMetrics serves GET /metrics: aggregate counters only.
func (h *Handlers) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	counts, err := h.db.VerdictCounts(r.Context())
	if err != nil {
		writeInternalError(w, r, err)
		return
	}
	activeIntents, err := h.db.ActiveIntentCount(r.Context())
	if err != nil {
		writeInternalError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"decisions":      counts,
		"active_intents": activeIntents,
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
		"latency":        h.bench.Latency(),
	})
}

// HandleTrustSpec serves GET /benchmark/trust-spec.
func (h *Handlers) HandleTrustSpec(w http.ResponseWriter, r *http.Request) {
	counts, err := h.db.VerdictCounts(r.Context())
	if err != nil {
		writeInternalError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, bench.TrustSpec(
		h.bench.Latency(),
		bench.BlockRate(counts),
		h.bypass.Score(),
	))
}

// HandlePlan serves POST /plan: an advisory step breakdown that never
// executes anything.
func (h *Handlers) HandlePlan(w http.ResponseWriter, r *http.Request) {
	var req model.PlanRequest
	if verr := decodeJSON(w, r, h.validator, &req); verr != nil {
		writeValidateError(w, r, verr)
		return
	}
	if req.Objective == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "objective is required at path: objective")
		return
	}
	steps := []model.PlanStep{
		{Step: 1, Description: "Gather context for: " + req.Objective, Tool: "web", Op: "search"},
		{Step: 2, Description: "Draft the outcome for review", Tool: "email", Op: "draft"},
		{Step: 3, Description: "Submit the draft through /execute for a governed decision"},
	}
	writeJSON(w, r, http.StatusOK, model.PlanResponse{
		Objective: req.Objective,
		Steps:     steps,
		Advisory:  true,
	})
}

// setDefaultIntent points the tenant's default at intentID, creating the
// tenant row on first contact.
func (h *Handlers) setDefaultIntent(r *http.Request, tenantID, intentID string) error {
	return h.db.SetTenantDefaultIntent(r.Context(), tenantID, intentID)
}

func intQuery(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
