// Package vault is the typed facade over stored credentials.
//
// The write surface (Set, Delete) is reachable from HTTP; the read surface
// (GetForExecution) is reachable only from connectors at execution time.
// Payloads are never returned over any HTTP response.
package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/edon-ai/edon/internal/model"
	"github.com/edon-ai/edon/internal/storage"
)

// ErrCredentialMissing is returned by GetForExecution in strict mode when no
// matching credential row exists. It maps to HTTP 503, never 500.
var ErrCredentialMissing = errors.New("vault: credential missing")

// Handle is the short-lived, in-memory decrypted view a connector receives
// for a single execution. Handles must not cross request boundaries.
type Handle struct {
	CredentialID string
	ToolName     string
	Fields       map[string]any
}

// String renders the handle without its fields, so accidental logging cannot
// leak secrets.
func (h Handle) String() string {
	return fmt.Sprintf("vault.Handle{credential_id: %s, tool: %s}", h.CredentialID, h.ToolName)
}

// Field returns the first non-empty string value among the given keys.
// Connectors use this to accept both current and legacy payload shapes.
func (h Handle) Field(keys ...string) string {
	for _, k := range keys {
		if s, ok := h.Fields[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// Vault stores and loads credentials on top of the storage layer.
type Vault struct {
	db     *storage.DB
	key    []byte // nil when no master secret is configured
	strict bool
	logger *slog.Logger
}

// New creates a Vault. When masterSecret is non-empty, payloads are encrypted
// at rest with a key derived from it. strict enables fail-closed lookups.
func New(db *storage.DB, masterSecret string, strict bool, logger *slog.Logger) *Vault {
	var key []byte
	if masterSecret != "" {
		key = deriveKey(masterSecret)
	}
	return &Vault{db: db, key: key, strict: strict, logger: logger}
}

// Strict reports whether fail-closed mode is on.
func (v *Vault) Strict() bool { return v.strict }

// Set upserts a credential. Idempotent; bumps updated_at on replays.
// Payload encryption requires a configured master secret; requesting
// encryption without one is an error rather than a silent plaintext write.
func (v *Vault) Set(ctx context.Context, credentialID, toolName, tenantID, credType string, payload map[string]any, encrypt bool) error {
	if credentialID == "" || toolName == "" {
		return fmt.Errorf("vault: credential_id and tool_name are required")
	}

	blob, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("vault: marshal payload: %w", err)
	}

	encrypted := false
	if encrypt || v.key != nil {
		if v.key == nil {
			return fmt.Errorf("vault: encryption requested but no vault key configured")
		}
		blob, err = v.sealBlob(blob)
		if err != nil {
			return err
		}
		encrypted = true
	}

	return v.db.SaveCredential(ctx, model.Credential{
		CredentialID:   credentialID,
		ToolName:       toolName,
		TenantID:       tenantID,
		CredentialType: credType,
		PayloadBlob:    blob,
		Encrypted:      encrypted,
	})
}

// Delete removes a credential.
func (v *Vault) Delete(ctx context.Context, credentialID string) error {
	return v.db.DeleteCredential(ctx, credentialID)
}

// GetForExecution loads and decrypts the credential for (tool, tenant) and
// returns an in-memory handle. In strict mode a miss is ErrCredentialMissing;
// otherwise the fallback map (environment-sourced, development only) is
// consulted before failing.
func (v *Vault) GetForExecution(ctx context.Context, toolName, tenantID string, fallback map[string]any) (Handle, error) {
	c, err := v.db.GetCredentialForTool(ctx, toolName, tenantID)
	if errors.Is(err, storage.ErrNotFound) {
		if v.strict {
			return Handle{}, ErrCredentialMissing
		}
		if len(fallback) > 0 {
			v.logger.Debug("vault: using fallback credential source", "tool", toolName)
			return Handle{ToolName: toolName, Fields: fallback}, nil
		}
		return Handle{}, ErrCredentialMissing
	}
	if err != nil {
		return Handle{}, err
	}

	blob := c.PayloadBlob
	if c.Encrypted {
		if v.key == nil {
			return Handle{}, fmt.Errorf("vault: credential %s is encrypted but no vault key configured", c.CredentialID)
		}
		blob, err = decrypt(v.key, blob)
		if err != nil {
			return Handle{}, fmt.Errorf("vault: open credential %s: %w", c.CredentialID, err)
		}
	}

	fields := map[string]any{}
	if err := json.Unmarshal(blob, &fields); err != nil {
		return Handle{}, fmt.Errorf("vault: decode credential %s: %w", c.CredentialID, err)
	}

	return Handle{
		CredentialID: c.CredentialID,
		ToolName:     c.ToolName,
		Fields:       fields,
	}, nil
}

// RecordUse marks a credential's last successful use. No-op for handles
// without a backing row (fallback source).
func (v *Vault) RecordUse(ctx context.Context, h Handle) {
	if h.CredentialID == "" {
		return
	}
	if err := v.db.MarkCredentialUsed(ctx, h.CredentialID); err != nil {
		v.logger.Warn("vault: record use failed", "error", err)
	}
}

// RecordError notes a downstream failure on the credential. The credential
// remains usable.
func (v *Vault) RecordError(ctx context.Context, h Handle, msg string) {
	if h.CredentialID == "" {
		return
	}
	if len(msg) > 500 {
		msg = msg[:500]
	}
	if err := v.db.MarkCredentialError(ctx, h.CredentialID, msg); err != nil {
		v.logger.Warn("vault: record error failed", "error", err)
	}
}

func (v *Vault) sealBlob(blob []byte) ([]byte, error) {
	sealed, err := encrypt(v.key, blob)
	if err != nil {
		return nil, fmt.Errorf("vault: seal payload: %w", err)
	}
	return sealed, nil
}
