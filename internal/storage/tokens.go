package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/edon-ai/edon/internal/model"
)

// BindToken pins a token digest to an agent. Binding an already-bound hash
// to a different agent returns ErrConflict.
func (db *DB) BindToken(ctx context.Context, tokenHash, agentID string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := db.db.ExecContext(ctx, `
		INSERT INTO token_agent_bindings (token_hash, agent_id, created_at, last_used_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(token_hash) DO UPDATE SET
			last_used_at = excluded.last_used_at
		WHERE token_agent_bindings.agent_id = excluded.agent_id
	`, tokenHash, agentID, now, now)
	if err != nil {
		return fmt.Errorf("storage: bind token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

// LookupToken returns the binding for a token digest, or ErrNotFound.
func (db *DB) LookupToken(ctx context.Context, tokenHash string) (model.TokenBinding, error) {
	var (
		b        model.TokenBinding
		created  string
		lastUsed string
	)
	err := db.db.QueryRowContext(ctx, `
		SELECT token_hash, agent_id, created_at, last_used_at
		FROM token_agent_bindings WHERE token_hash = ?
	`, tokenHash).Scan(&b.TokenHash, &b.AgentID, &created, &lastUsed)
	if errors.Is(err, sql.ErrNoRows) {
		return model.TokenBinding{}, ErrNotFound
	}
	if err != nil {
		return model.TokenBinding{}, fmt.Errorf("storage: lookup token: %w", err)
	}
	b.CreatedAt = parseTime(created)
	b.LastUsedAt = parseTime(lastUsed)
	return b, nil
}

// TouchToken updates last_used_at for a bound token. Missing rows are a no-op.
func (db *DB) TouchToken(ctx context.Context, tokenHash string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := db.db.ExecContext(ctx, `
		UPDATE token_agent_bindings SET last_used_at = ? WHERE token_hash = ?
	`, now, tokenHash)
	if err != nil {
		return fmt.Errorf("storage: touch token: %w", err)
	}
	return nil
}
