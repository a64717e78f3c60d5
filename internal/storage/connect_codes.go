package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateConnectCode stores a single-use connect code for a tenant with the
// given TTL.
func (db *DB) CreateConnectCode(ctx context.Context, code, tenantID string, ttl time.Duration) error {
	now := time.Now().UTC()
	_, err := db.db.ExecContext(ctx, `
		INSERT INTO telegram_connect_codes (code, tenant_id, expires_at, used, created_at)
		VALUES (?, ?, ?, 0, ?)
	`, code, tenantID, now.Add(ttl).Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("storage: create connect code: %w", err)
	}
	return nil
}

// RedeemConnectCode marks an unexpired, unused code as used and returns its
// tenant. Expired, missing, or already-used codes return ErrNotFound.
func (db *DB) RedeemConnectCode(ctx context.Context, code string) (string, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	var tenantID string
	err := db.db.QueryRowContext(ctx, `
		UPDATE telegram_connect_codes SET used = 1
		WHERE code = ? AND used = 0 AND expires_at > ?
		RETURNING tenant_id
	`, code, now).Scan(&tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("storage: redeem connect code: %w", err)
	}
	return tenantID, nil
}
