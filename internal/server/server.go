package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/edon-ai/edon/internal/antibypass"
	"github.com/edon-ai/edon/internal/auth"
	"github.com/edon-ai/edon/internal/bench"
	"github.com/edon-ai/edon/internal/connector"
	"github.com/edon-ai/edon/internal/governor"
	"github.com/edon-ai/edon/internal/metrics"
	"github.com/edon-ai/edon/internal/ratelimit"
	"github.com/edon-ai/edon/internal/storage"
	"github.com/edon-ai/edon/internal/validate"
	"github.com/edon-ai/edon/internal/vault"
)

// Server is the EDON gateway HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): Limiter, Metrics.
type ServerConfig struct {
	// Required dependencies.
	DB        *storage.DB
	Vault     *vault.Vault
	Governor  *governor.Governor
	Registry  *connector.Registry
	Authn     *auth.Authenticator
	Approvals *auth.ApprovalSigner
	Validator *validate.Validator
	Bench     *bench.Collector
	Logger    *slog.Logger

	// Optional dependencies (nil = disabled).
	Limiter ratelimit.Limiter
	Metrics *metrics.Metrics

	// Posture reported by /account/integrations and the trust spec.
	Bypass antibypass.Config

	// Downstream fallback for non-strict vault lookups.
	ClawdbotURL                 string
	ClawdbotToken               string
	DefaultClawdbotCredentialID string

	// HTTP server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Version      string
	AuthEnabled  bool
	CORSOrigins  []string
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		DB:                          cfg.DB,
		Vault:                       cfg.Vault,
		Governor:                    cfg.Governor,
		Registry:                    cfg.Registry,
		Approvals:                   cfg.Approvals,
		Authn:                       cfg.Authn,
		Validator:                   cfg.Validator,
		Metrics:                     cfg.Metrics,
		Bench:                       cfg.Bench,
		Bypass:                      cfg.Bypass,
		ClawdbotURL:                 cfg.ClawdbotURL,
		ClawdbotToken:               cfg.ClawdbotToken,
		DefaultClawdbotCredentialID: cfg.DefaultClawdbotCredentialID,
		Logger:                      cfg.Logger,
		Version:                     cfg.Version,
	})

	mux := http.NewServeMux()

	// Public surface.
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /version", h.HandleVersion)
	mux.HandleFunc("GET /docs", h.HandleDocs)
	mux.HandleFunc("GET /redoc", h.HandleDocs)
	mux.HandleFunc("GET /openapi.json", h.HandleOpenAPI)
	mux.HandleFunc("POST /signup", h.HandleSignup)
	mux.HandleFunc("POST /webhooks/stripe", h.HandleStripeWebhook)
	mux.HandleFunc("POST /webhooks/telegram", h.HandleTelegramWebhook)

	// Intent management.
	mux.HandleFunc("POST /intent/set", h.HandleIntentSet)
	mux.HandleFunc("GET /intent/get", h.HandleIntentGet)

	// Decision pipeline.
	mux.HandleFunc("POST /execute", h.HandleExecute)
	mux.HandleFunc("POST /clawdbot/invoke", h.HandleClawdbotInvoke)
	mux.HandleFunc("POST /edon/invoke", h.HandleClawdbotInvoke)
	mux.HandleFunc("POST /plan", h.HandlePlan)

	// Audit and decision queries.
	mux.HandleFunc("GET /audit/query", h.HandleAuditQuery)
	mux.HandleFunc("GET /decisions/query", h.HandleDecisionsQuery)
	mux.HandleFunc("GET /decisions/{decision_id}", h.HandleGetDecision)

	// Credential vault (write-only surface).
	mux.HandleFunc("POST /credentials/set", h.HandleCredentialSet)
	mux.HandleFunc("DELETE /credentials/{credential_id}", h.HandleCredentialDelete)

	// Policy packs.
	mux.HandleFunc("GET /policy-packs", h.HandlePolicyPacks)
	mux.HandleFunc("POST /policy-packs/{name}/apply", h.HandleApplyPack)

	// Integrations.
	mux.HandleFunc("POST /integrations/clawdbot/connect", h.HandleClawdbotConnect)
	mux.HandleFunc("POST /integrations/telegram/connect-code", h.HandleTelegramConnectCode)
	mux.HandleFunc("GET /account/integrations", h.HandleAccountIntegrations)

	// Observability.
	mux.HandleFunc("GET /metrics", h.HandleMetrics)
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics/prometheus", cfg.Metrics.Handler())
	}
	mux.HandleFunc("GET /benchmark/trust-spec", h.HandleTrustSpec)

	// Middleware chain (outermost executes first):
	// request ID → security headers → CORS → tracing → logging → auth →
	// rate limit → recovery → handler.
	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = ratelimit.Middleware(cfg.Limiter, principalKeyFunc, reqIDFunc)(handler)
	if cfg.Metrics != nil {
		handler = rateLimitMetricsMiddleware(cfg.Metrics, handler)
	}
	handler = authMiddleware(cfg.Authn, cfg.AuthEnabled, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = corsMiddleware(cfg.CORSOrigins, handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// principalKeyFunc derives the rate-limit key from the authenticated
// principal. Anonymous requests fall back to the client IP inside the
// limiter middleware.
func principalKeyFunc(r *http.Request) string {
	p := PrincipalFromContext(r.Context())
	if p == nil {
		return ""
	}
	if p.AgentID != "" {
		return "agent:" + p.AgentID
	}
	if p.TenantID != "" {
		return "tenant:" + p.TenantID
	}
	return "token:api"
}

// Handlers returns the underlying Handlers, used by tests.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
