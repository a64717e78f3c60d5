// Package auth resolves bearer tokens to principals and enforces
// token-to-agent binding.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/edon-ai/edon/internal/model"
	"github.com/edon-ai/edon/internal/storage"
)

// Typed authentication failures. The HTTP layer maps ErrMissingToken,
// ErrInvalidToken, and ErrAgentMismatch to the same generic 401 body so the
// response does not reveal which check failed.
var (
	ErrMissingToken   = errors.New("auth: missing token")
	ErrInvalidToken   = errors.New("auth: invalid token")
	ErrAgentMismatch  = errors.New("auth: token bound to different agent")
	ErrTenantInactive = errors.New("auth: tenant not active")
)

// publicPaths require no authentication.
var publicPaths = map[string]bool{
	"/health":       true,
	"/version":      true,
	"/docs":         true,
	"/openapi.json": true,
	"/redoc":        true,
}

// IsPublic reports whether path is served without authentication.
// Webhook sinks and signup are public by prefix.
func IsPublic(path string) bool {
	if publicPaths[path] {
		return true
	}
	return strings.HasPrefix(path, "/webhooks/") || strings.HasPrefix(path, "/signup")
}

// HashToken returns the hex SHA-256 digest of a bearer token. Plaintext
// tokens are never stored or logged.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// ExtractToken pulls the bearer token from X-EDON-TOKEN (preferred) or the
// Authorization header (fallback). Empty string means no token was supplied.
func ExtractToken(r *http.Request) string {
	if t := r.Header.Get("X-EDON-TOKEN"); t != "" {
		return t
	}
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

// Authenticator resolves tokens to principals.
type Authenticator struct {
	db             *storage.DB
	apiTokenHash   string
	bindingEnabled bool
	demoMode       bool
	logger         *slog.Logger
}

// New creates an Authenticator checking against the configured API token.
func New(db *storage.DB, apiToken string, bindingEnabled, demoMode bool, logger *slog.Logger) *Authenticator {
	return &Authenticator{
		db:             db,
		apiTokenHash:   HashToken(apiToken),
		bindingEnabled: bindingEnabled,
		demoMode:       demoMode,
		logger:         logger,
	}
}

// Authenticate validates the token, enforces agent binding when enabled, and
// returns the principal. agentID and tenantID come from the optional
// X-Agent-ID / X-Tenant-ID headers.
func (a *Authenticator) Authenticate(ctx context.Context, token, agentID, tenantID string) (model.Principal, error) {
	if token == "" {
		return model.Principal{}, ErrMissingToken
	}

	tokenHash := HashToken(token)
	if subtle.ConstantTimeCompare([]byte(tokenHash), []byte(a.apiTokenHash)) != 1 {
		return model.Principal{}, ErrInvalidToken
	}

	if a.bindingEnabled && agentID != "" {
		binding, err := a.db.LookupToken(ctx, tokenHash)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			if err := a.db.BindToken(ctx, tokenHash, agentID); err != nil {
				if errors.Is(err, storage.ErrConflict) {
					return model.Principal{}, ErrAgentMismatch
				}
				return model.Principal{}, err
			}
		case err != nil:
			return model.Principal{}, err
		case binding.AgentID != agentID:
			return model.Principal{}, ErrAgentMismatch
		default:
			if err := a.db.TouchToken(ctx, tokenHash); err != nil {
				a.logger.Warn("auth: touch token failed", "error", err)
			}
		}
	}

	p := model.Principal{
		TenantID: tenantID,
		AgentID:  agentID,
		Plan:     "free",
		Status:   model.TenantActive,
	}

	if tenantID != "" {
		tenant, err := a.db.GetTenant(ctx, tenantID)
		if err == nil {
			p.Plan = tenant.Plan
			p.Status = tenant.Status
		} else if !errors.Is(err, storage.ErrNotFound) {
			return model.Principal{}, err
		}
	}
	return p, nil
}

// CheckExecutable refuses side-effecting requests for non-active tenants.
// Demo mode skips the check.
func (a *Authenticator) CheckExecutable(p model.Principal) error {
	if a.demoMode {
		return nil
	}
	if p.Status != model.TenantActive {
		return ErrTenantInactive
	}
	return nil
}
