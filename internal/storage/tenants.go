package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/edon-ai/edon/internal/model"
)

// UpsertTenant creates or updates a tenant row.
func (db *DB) UpsertTenant(ctx context.Context, t model.Tenant) error {
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.Plan == "" {
		t.Plan = "free"
	}
	if t.Status == "" {
		t.Status = model.TenantActive
	}

	_, err := db.db.ExecContext(ctx, `
		INSERT INTO tenants (tenant_id, plan, status, default_intent_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id) DO UPDATE SET
			plan              = excluded.plan,
			status            = excluded.status,
			default_intent_id = excluded.default_intent_id,
			updated_at        = excluded.updated_at
	`, t.TenantID, t.Plan, t.Status, nullStr(t.DefaultIntentID),
		t.CreatedAt.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("storage: upsert tenant %s: %w", t.TenantID, err)
	}
	return nil
}

// GetTenant returns the tenant by id, or ErrNotFound.
func (db *DB) GetTenant(ctx context.Context, tenantID string) (model.Tenant, error) {
	var (
		t         model.Tenant
		defIntent sql.NullString
		created   string
		updated   string
	)
	err := db.db.QueryRowContext(ctx, `
		SELECT tenant_id, plan, status, default_intent_id, created_at, updated_at
		FROM tenants WHERE tenant_id = ?
	`, tenantID).Scan(&t.TenantID, &t.Plan, &t.Status, &defIntent, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Tenant{}, ErrNotFound
	}
	if err != nil {
		return model.Tenant{}, fmt.Errorf("storage: get tenant %s: %w", tenantID, err)
	}
	t.DefaultIntentID = defIntent.String
	t.CreatedAt = parseTime(created)
	t.UpdatedAt = parseTime(updated)
	return t, nil
}

// SetTenantDefaultIntent points the tenant at intentID, creating the tenant
// row if it does not exist yet.
func (db *DB) SetTenantDefaultIntent(ctx context.Context, tenantID, intentID string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := db.db.ExecContext(ctx, `
		INSERT INTO tenants (tenant_id, plan, status, default_intent_id, created_at, updated_at)
		VALUES (?, 'free', 'active', ?, ?, ?)
		ON CONFLICT(tenant_id) DO UPDATE SET
			default_intent_id = excluded.default_intent_id,
			updated_at        = excluded.updated_at
	`, tenantID, intentID, now, now)
	if err != nil {
		return fmt.Errorf("storage: set default intent for %s: %w", tenantID, err)
	}
	return nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Time{}
}
