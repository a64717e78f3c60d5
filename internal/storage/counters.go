package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// IncrementCounter atomically increments the counter for (key, windowStart)
// and returns the new value. A single upsert-returning statement keeps the
// read-modify-write inside the engine, so concurrent increments never lose
// updates.
func (db *DB) IncrementCounter(ctx context.Context, key string, windowStart time.Time) (int64, error) {
	var value int64
	err := db.db.QueryRowContext(ctx, `
		INSERT INTO counters (key, window_start, value)
		VALUES (?, ?, 1)
		ON CONFLICT(key, window_start) DO UPDATE SET value = value + 1
		RETURNING value
	`, key, windowStart.UTC().Format(time.RFC3339)).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("storage: increment counter %s: %w", key, err)
	}
	return value, nil
}

// GetCounter returns the counter value for (key, windowStart), zero when the
// bucket does not exist.
func (db *DB) GetCounter(ctx context.Context, key string, windowStart time.Time) (int64, error) {
	var value int64
	err := db.db.QueryRowContext(ctx, `
		SELECT value FROM counters WHERE key = ? AND window_start = ?
	`, key, windowStart.UTC().Format(time.RFC3339)).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("storage: get counter %s: %w", key, err)
	}
	return value, nil
}

// PruneCounters deletes counter buckets older than cutoff. Buckets expire by
// age; nothing reads them after their window closes.
func (db *DB) PruneCounters(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.db.ExecContext(ctx, `
		DELETE FROM counters WHERE window_start < ?
	`, cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("storage: prune counters: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
