package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/edon-ai/edon/internal/model"
)

// SaveCredential upserts a credential row. Idempotent: re-saving the same
// credential replaces the payload and bumps updated_at.
func (db *DB) SaveCredential(ctx context.Context, c model.Credential) error {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.CredentialType == "" {
		c.CredentialType = "token"
	}

	_, err := db.db.ExecContext(ctx, `
		INSERT INTO credentials (credential_id, tool_name, tenant_id, credential_type,
			payload_blob, encrypted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(credential_id) DO UPDATE SET
			tool_name       = excluded.tool_name,
			tenant_id       = excluded.tenant_id,
			credential_type = excluded.credential_type,
			payload_blob    = excluded.payload_blob,
			encrypted       = excluded.encrypted,
			updated_at      = excluded.updated_at
	`, c.CredentialID, c.ToolName, nullStr(c.TenantID), c.CredentialType,
		c.PayloadBlob, boolInt(c.Encrypted),
		c.CreatedAt.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("storage: save credential %s: %w", c.CredentialID, err)
	}
	return nil
}

// DeleteCredential removes a credential. Deleting a missing id is a no-op.
func (db *DB) DeleteCredential(ctx context.Context, credentialID string) error {
	_, err := db.db.ExecContext(ctx,
		`DELETE FROM credentials WHERE credential_id = ?`, credentialID)
	if err != nil {
		return fmt.Errorf("storage: delete credential %s: %w", credentialID, err)
	}
	return nil
}

// GetCredential returns a credential by id, or ErrNotFound.
func (db *DB) GetCredential(ctx context.Context, credentialID string) (model.Credential, error) {
	row := db.db.QueryRowContext(ctx, `
		SELECT credential_id, tool_name, tenant_id, credential_type, payload_blob,
			encrypted, created_at, updated_at, last_used_at, last_error
		FROM credentials WHERE credential_id = ?
	`, credentialID)
	c, err := scanCredential(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Credential{}, ErrNotFound
	}
	if err != nil {
		return model.Credential{}, fmt.Errorf("storage: get credential %s: %w", credentialID, err)
	}
	return c, nil
}

// GetCredentialForTool returns the freshest credential for (tool, tenant).
// Tenant-scoped rows win over unscoped ones. Returns ErrNotFound on miss.
func (db *DB) GetCredentialForTool(ctx context.Context, toolName, tenantID string) (model.Credential, error) {
	row := db.db.QueryRowContext(ctx, `
		SELECT credential_id, tool_name, tenant_id, credential_type, payload_blob,
			encrypted, created_at, updated_at, last_used_at, last_error
		FROM credentials
		WHERE tool_name = ? AND (tenant_id = ? OR tenant_id IS NULL)
		ORDER BY (tenant_id IS NOT NULL) DESC, updated_at DESC
		LIMIT 1
	`, toolName, nullStr(tenantID))
	c, err := scanCredential(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Credential{}, ErrNotFound
	}
	if err != nil {
		return model.Credential{}, fmt.Errorf("storage: credential for %s: %w", toolName, err)
	}
	return c, nil
}

// MarkCredentialUsed records a successful downstream call.
func (db *DB) MarkCredentialUsed(ctx context.Context, credentialID string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := db.db.ExecContext(ctx, `
		UPDATE credentials SET last_used_at = ?, last_error = NULL WHERE credential_id = ?
	`, now, credentialID)
	if err != nil {
		return fmt.Errorf("storage: mark credential used: %w", err)
	}
	return nil
}

// MarkCredentialError records a failed downstream call. The credential stays
// usable; last_error is advisory.
func (db *DB) MarkCredentialError(ctx context.Context, credentialID, msg string) error {
	_, err := db.db.ExecContext(ctx, `
		UPDATE credentials SET last_error = ? WHERE credential_id = ?
	`, msg, credentialID)
	if err != nil {
		return fmt.Errorf("storage: mark credential error: %w", err)
	}
	return nil
}

// GetIntegrationStatus reports the operator-visible connection state for a
// tool. Connected means the credential has been used at least once; a
// recorded error does not disconnect it.
func (db *DB) GetIntegrationStatus(ctx context.Context, tenantID, toolName string) (model.IntegrationStatus, error) {
	c, err := db.GetCredentialForTool(ctx, toolName, tenantID)
	if errors.Is(err, ErrNotFound) {
		return model.IntegrationStatus{Tool: toolName, Connected: false}, nil
	}
	if err != nil {
		return model.IntegrationStatus{}, err
	}
	return model.IntegrationStatus{
		Tool:      toolName,
		Connected: c.LastUsedAt != nil,
		LastOKAt:  c.LastUsedAt,
		LastError: c.LastError,
	}, nil
}

func scanCredential(row rowScanner) (model.Credential, error) {
	var (
		c         model.Credential
		tenant    sql.NullString
		encrypted int
		created   string
		updated   string
		lastUsed  sql.NullString
		lastErr   sql.NullString
	)
	if err := row.Scan(&c.CredentialID, &c.ToolName, &tenant, &c.CredentialType,
		&c.PayloadBlob, &encrypted, &created, &updated, &lastUsed, &lastErr); err != nil {
		return model.Credential{}, err
	}
	c.TenantID = tenant.String
	c.Encrypted = encrypted != 0
	c.CreatedAt = parseTime(created)
	c.UpdatedAt = parseTime(updated)
	if lastUsed.Valid {
		t := parseTime(lastUsed.String)
		c.LastUsedAt = &t
	}
	c.LastError = lastErr.String
	return c, nil
}
