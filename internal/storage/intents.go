package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/edon-ai/edon/internal/model"
)

// SaveIntent upserts an intent, generating an id when absent, and bumps
// updated_at. Intents are never deleted, only superseded.
func (db *DB) SaveIntent(ctx context.Context, in model.Intent) (string, error) {
	if in.IntentID == "" {
		in.IntentID = "intent-" + uuid.NewString()
	}
	now := time.Now().UTC()
	if in.CreatedAt.IsZero() {
		in.CreatedAt = now
	}
	if in.RiskLevel == "" {
		in.RiskLevel = model.RiskLow
	}

	scope, err := json.Marshal(orEmptyScope(in.Scope))
	if err != nil {
		return "", fmt.Errorf("storage: marshal scope: %w", err)
	}
	constraints, err := json.Marshal(orEmptyConstraints(in.Constraints))
	if err != nil {
		return "", fmt.Errorf("storage: marshal constraints: %w", err)
	}

	_, err = db.db.ExecContext(ctx, `
		INSERT INTO intents (intent_id, tenant_id, objective, scope, constraints,
			risk_level, approved_by_user, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(intent_id) DO UPDATE SET
			tenant_id        = excluded.tenant_id,
			objective        = excluded.objective,
			scope            = excluded.scope,
			constraints      = excluded.constraints,
			risk_level       = excluded.risk_level,
			approved_by_user = excluded.approved_by_user,
			updated_at       = excluded.updated_at
	`, in.IntentID, nullStr(in.TenantID), in.Objective, string(scope), string(constraints),
		in.RiskLevel, boolInt(in.ApprovedByUser),
		in.CreatedAt.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("storage: save intent %s: %w", in.IntentID, err)
	}
	return in.IntentID, nil
}

// GetIntent returns the intent by id, or ErrNotFound.
func (db *DB) GetIntent(ctx context.Context, intentID string) (model.Intent, error) {
	row := db.db.QueryRowContext(ctx, `
		SELECT intent_id, tenant_id, objective, scope, constraints,
			risk_level, approved_by_user, created_at, updated_at
		FROM intents WHERE intent_id = ?
	`, intentID)
	in, err := scanIntent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Intent{}, ErrNotFound
	}
	if err != nil {
		return model.Intent{}, fmt.Errorf("storage: get intent %s: %w", intentID, err)
	}
	return in, nil
}

// GetLatestIntent returns the most recently updated intent for the tenant
// (or overall when tenantID is empty), or ErrNotFound.
func (db *DB) GetLatestIntent(ctx context.Context, tenantID string) (model.Intent, error) {
	query := `
		SELECT intent_id, tenant_id, objective, scope, constraints,
			risk_level, approved_by_user, created_at, updated_at
		FROM intents`
	args := []any{}
	if tenantID != "" {
		query += ` WHERE tenant_id = ?`
		args = append(args, tenantID)
	}
	query += ` ORDER BY updated_at DESC LIMIT 1`

	row := db.db.QueryRowContext(ctx, query, args...)
	in, err := scanIntent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Intent{}, ErrNotFound
	}
	if err != nil {
		return model.Intent{}, fmt.Errorf("storage: latest intent: %w", err)
	}
	return in, nil
}

// ActiveIntentCount returns the number of stored intents.
func (db *DB) ActiveIntentCount(ctx context.Context) (int64, error) {
	var n int64
	if err := db.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM intents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: count intents: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIntent(row rowScanner) (model.Intent, error) {
	var (
		in          model.Intent
		tenant      sql.NullString
		scope       string
		constraints string
		approved    int
		created     string
		updated     string
	)
	if err := row.Scan(&in.IntentID, &tenant, &in.Objective, &scope, &constraints,
		&in.RiskLevel, &approved, &created, &updated); err != nil {
		return model.Intent{}, err
	}
	in.TenantID = tenant.String
	in.ApprovedByUser = approved != 0
	in.CreatedAt = parseTime(created)
	in.UpdatedAt = parseTime(updated)
	if err := json.Unmarshal([]byte(scope), &in.Scope); err != nil {
		return model.Intent{}, fmt.Errorf("unmarshal scope: %w", err)
	}
	if err := json.Unmarshal([]byte(constraints), &in.Constraints); err != nil {
		return model.Intent{}, fmt.Errorf("unmarshal constraints: %w", err)
	}
	return in, nil
}

func orEmptyScope(s model.Scope) model.Scope {
	if s == nil {
		return model.Scope{}
	}
	return s
}

func orEmptyConstraints(c model.Constraints) model.Constraints {
	if c == nil {
		return model.Constraints{}
	}
	return c
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
