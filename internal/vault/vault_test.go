package vault_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edon-ai/edon/internal/storage"
	"github.com/edon-ai/edon/internal/vault"
	"github.com/edon-ai/edon/migrations"
)

func newTestDB(t *testing.T) *storage.DB {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := storage.New(ctx, filepath.Join(t.TempDir(), "vault.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.RunMigrations(ctx, migrations.FS))
	return db
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestVaultPlaintextRoundTrip(t *testing.T) {
	db := newTestDB(t)
	v := vault.New(db, "", false, discardLogger())
	ctx := context.Background()

	payload := map[string]any{"base_url": "http://localhost:18789", "secret": "s3cret"}
	require.NoError(t, v.Set(ctx, "cred-1", "clawdbot", "tenant-1", "bearer", payload, false))

	h, err := v.GetForExecution(ctx, "clawdbot", "tenant-1", nil)
	require.NoError(t, err)
	assert.Equal(t, "cred-1", h.CredentialID)
	assert.Equal(t, "http://localhost:18789", h.Field("base_url"))
	assert.Equal(t, "s3cret", h.Field("secret"))
}

func TestVaultEncryptedRoundTrip(t *testing.T) {
	db := newTestDB(t)
	v := vault.New(db, "master-secret", false, discardLogger())
	ctx := context.Background()

	payload := map[string]any{"secret": "top"}
	require.NoError(t, v.Set(ctx, "cred-1", "clawdbot", "tenant-1", "bearer", payload, true))

	// The stored blob must not contain the plaintext.
	cred, err := db.GetCredential(ctx, "cred-1")
	require.NoError(t, err)
	assert.True(t, cred.Encrypted)
	assert.NotContains(t, string(cred.PayloadBlob), "top")

	h, err := v.GetForExecution(ctx, "clawdbot", "tenant-1", nil)
	require.NoError(t, err)
	assert.Equal(t, "top", h.Field("secret"))
}

func TestVaultEncryptWithoutKeyFails(t *testing.T) {
	db := newTestDB(t)
	v := vault.New(db, "", false, discardLogger())

	err := v.Set(context.Background(), "cred-1", "clawdbot", "", "bearer",
		map[string]any{"secret": "x"}, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no vault key")
}

func TestVaultStrictMiss(t *testing.T) {
	db := newTestDB(t)
	v := vault.New(db, "", true, discardLogger())

	// Strict mode ignores the fallback entirely.
	_, err := v.GetForExecution(context.Background(), "clawdbot", "tenant-1",
		map[string]any{"base_url": "http://localhost:18789"})
	assert.ErrorIs(t, err, vault.ErrCredentialMissing)
}

func TestVaultFallback(t *testing.T) {
	db := newTestDB(t)
	v := vault.New(db, "", false, discardLogger())
	ctx := context.Background()

	h, err := v.GetForExecution(ctx, "clawdbot", "tenant-1",
		map[string]any{"base_url": "http://localhost:18789"})
	require.NoError(t, err)
	assert.Empty(t, h.CredentialID)
	assert.Equal(t, "http://localhost:18789", h.Field("base_url"))

	// No row and no fallback is still a miss even without strict mode.
	_, err = v.GetForExecution(ctx, "email", "tenant-1", nil)
	assert.ErrorIs(t, err, vault.ErrCredentialMissing)
}

func TestVaultTenantScopedWinsOverGlobal(t *testing.T) {
	db := newTestDB(t)
	v := vault.New(db, "", false, discardLogger())
	ctx := context.Background()

	require.NoError(t, v.Set(ctx, "cred-global", "clawdbot", "", "bearer",
		map[string]any{"secret": "global"}, false))
	require.NoError(t, v.Set(ctx, "cred-tenant", "clawdbot", "tenant-1", "bearer",
		map[string]any{"secret": "scoped"}, false))

	h, err := v.GetForExecution(ctx, "clawdbot", "tenant-1", nil)
	require.NoError(t, err)
	assert.Equal(t, "cred-tenant", h.CredentialID)

	h, err = v.GetForExecution(ctx, "clawdbot", "tenant-2", nil)
	require.NoError(t, err)
	assert.Equal(t, "cred-global", h.CredentialID)
}

func TestHandleStringHidesFields(t *testing.T) {
	h := vault.Handle{
		CredentialID: "cred-1",
		ToolName:     "clawdbot",
		Fields:       map[string]any{"secret": "hunter2"},
	}
	assert.NotContains(t, h.String(), "hunter2")
}

func TestHandleFieldLegacyKeys(t *testing.T) {
	h := vault.Handle{Fields: map[string]any{"gateway_url": "http://bot.internal"}}
	assert.Equal(t, "http://bot.internal", h.Field("base_url", "gateway_url"))
	assert.Empty(t, h.Field("missing"))
}

func TestVaultRecordUseAndError(t *testing.T) {
	db := newTestDB(t)
	v := vault.New(db, "", false, discardLogger())
	ctx := context.Background()

	require.NoError(t, v.Set(ctx, "cred-1", "clawdbot", "tenant-1", "bearer",
		map[string]any{"secret": "x"}, false))
	h, err := v.GetForExecution(ctx, "clawdbot", "tenant-1", nil)
	require.NoError(t, err)

	v.RecordUse(ctx, h)
	status, err := db.GetIntegrationStatus(ctx, "tenant-1", "clawdbot")
	require.NoError(t, err)
	assert.True(t, status.Connected)

	v.RecordError(ctx, h, "downstream timeout")
	status, err = db.GetIntegrationStatus(ctx, "tenant-1", "clawdbot")
	require.NoError(t, err)
	assert.Equal(t, "downstream timeout", status.LastError)

	// Handles without a backing row are silently skipped.
	v.RecordUse(ctx, vault.Handle{ToolName: "email"})
}
