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

// SaveAuditEvent writes the decision and its audit event in a single
// transaction. A failure rolls back both rows; there is never a decision
// without its audit event or vice versa.
func (db *DB) SaveAuditEvent(ctx context.Context, d model.Decision, ev model.AuditEvent) (string, error) {
	if d.DecisionID == "" {
		d.DecisionID = "dec-" + uuid.NewString()
	}
	if ev.EventID == "" {
		ev.EventID = "evt-" + uuid.NewString()
	}
	ev.DecisionID = d.DecisionID
	now := time.Now().UTC()
	if d.Timestamp.IsZero() {
		d.Timestamp = now
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = now
	}

	safeAlt, err := marshalNullable(d.SafeAlternative)
	if err != nil {
		return "", fmt.Errorf("storage: marshal safe_alternative: %w", err)
	}
	escalation, err := marshalNullable(d.Escalation)
	if err != nil {
		return "", fmt.Errorf("storage: marshal escalation: %w", err)
	}
	actionSnap, err := json.Marshal(orEmptyMap(ev.ActionSnapshot))
	if err != nil {
		return "", fmt.Errorf("storage: marshal action snapshot: %w", err)
	}
	ctxSnap, err := json.Marshal(orEmptyMap(ev.ContextSnapshot))
	if err != nil {
		return "", fmt.Errorf("storage: marshal context snapshot: %w", err)
	}

	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("storage: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO decisions (decision_id, action_fingerprint, verdict, reason_code,
			explanation, safe_alternative, escalation, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, d.DecisionID, d.ActionFingerprint, d.Verdict, d.ReasonCode,
		d.Explanation, safeAlt, escalation, d.Timestamp.Format(time.RFC3339Nano)); err != nil {
		return "", fmt.Errorf("storage: insert decision: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO audit_events (event_id, decision_id, tenant_id, agent_id, intent_id,
			verdict, reason_code, action_snapshot, context_snapshot, timestamp, latency_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.EventID, ev.DecisionID, nullStr(ev.TenantID), nullStr(ev.AgentID), nullStr(ev.IntentID),
		d.Verdict, d.ReasonCode, string(actionSnap), string(ctxSnap),
		ev.Timestamp.Format(time.RFC3339Nano), ev.LatencyMS); err != nil {
		return "", fmt.Errorf("storage: insert audit event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("storage: commit audit tx: %w", err)
	}
	return d.DecisionID, nil
}

// QueryAuditEvents returns audit events matching the filters, newest first.
// Limit is capped at 1000.
func (db *DB) QueryAuditEvents(ctx context.Context, f model.AuditFilters) ([]model.AuditEvent, error) {
	query := `
		SELECT event_id, decision_id, tenant_id, agent_id, intent_id,
			verdict, reason_code, action_snapshot, context_snapshot, timestamp, latency_ms
		FROM audit_events WHERE 1=1`
	args := []any{}
	if f.AgentID != "" {
		query += ` AND agent_id = ?`
		args = append(args, f.AgentID)
	}
	if f.Verdict != "" {
		query += ` AND verdict = ?`
		args = append(args, f.Verdict)
	}
	if f.IntentID != "" {
		query += ` AND intent_id = ?`
		args = append(args, f.IntentID)
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, capLimit(f.Limit))

	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: query audit events: %w", err)
	}
	defer rows.Close()

	var out []model.AuditEvent
	for rows.Next() {
		var (
			ev         model.AuditEvent
			tenant     sql.NullString
			agent      sql.NullString
			intent     sql.NullString
			actionSnap string
			ctxSnap    string
			ts         string
		)
		if err := rows.Scan(&ev.EventID, &ev.DecisionID, &tenant, &agent, &intent,
			&ev.Verdict, &ev.ReasonCode, &actionSnap, &ctxSnap, &ts, &ev.LatencyMS); err != nil {
			return nil, fmt.Errorf("storage: scan audit event: %w", err)
		}
		ev.TenantID = tenant.String
		ev.AgentID = agent.String
		ev.IntentID = intent.String
		ev.Timestamp = parseTime(ts)
		_ = json.Unmarshal([]byte(actionSnap), &ev.ActionSnapshot)
		_ = json.Unmarshal([]byte(ctxSnap), &ev.ContextSnapshot)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// QueryDecisions returns decisions matching the filters, newest first.
func (db *DB) QueryDecisions(ctx context.Context, f model.DecisionFilters) ([]model.Decision, error) {
	query := `
		SELECT decision_id, action_fingerprint, verdict, reason_code,
			explanation, safe_alternative, escalation, timestamp
		FROM decisions WHERE 1=1`
	args := []any{}
	if f.Verdict != "" {
		query += ` AND verdict = ?`
		args = append(args, f.Verdict)
	}
	if f.ActionFingerprint != "" {
		query += ` AND action_fingerprint = ?`
		args = append(args, f.ActionFingerprint)
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, capLimit(f.Limit))

	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: query decisions: %w", err)
	}
	defer rows.Close()

	var out []model.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// GetDecision returns a decision by id, or ErrNotFound.
func (db *DB) GetDecision(ctx context.Context, decisionID string) (model.Decision, error) {
	row := db.db.QueryRowContext(ctx, `
		SELECT decision_id, action_fingerprint, verdict, reason_code,
			explanation, safe_alternative, escalation, timestamp
		FROM decisions WHERE decision_id = ?
	`, decisionID)
	d, err := scanDecision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Decision{}, ErrNotFound
	}
	if err != nil {
		return model.Decision{}, fmt.Errorf("storage: get decision %s: %w", decisionID, err)
	}
	return d, nil
}

// CountRecentDecisions returns how many decisions share fingerprint with a
// timestamp at or after since. Used by loop detection.
func (db *DB) CountRecentDecisions(ctx context.Context, fingerprint string, since time.Time) (int, error) {
	var n int
	err := db.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM decisions
		WHERE action_fingerprint = ? AND timestamp >= ?
	`, fingerprint, since.UTC().Format(time.RFC3339Nano)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("storage: count recent decisions: %w", err)
	}
	return n, nil
}

// VerdictCounts returns decision totals grouped by verdict and reason code.
func (db *DB) VerdictCounts(ctx context.Context) (map[string]int64, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT verdict || ':' || reason_code, COUNT(*) FROM decisions
		GROUP BY verdict, reason_code
	`)
	if err != nil {
		return nil, fmt.Errorf("storage: verdict counts: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return nil, fmt.Errorf("storage: scan verdict count: %w", err)
		}
		out[key] = n
	}
	return out, rows.Err()
}

func scanDecision(row rowScanner) (model.Decision, error) {
	var (
		d          model.Decision
		safeAlt    sql.NullString
		escalation sql.NullString
		ts         string
	)
	if err := row.Scan(&d.DecisionID, &d.ActionFingerprint, &d.Verdict, &d.ReasonCode,
		&d.Explanation, &safeAlt, &escalation, &ts); err != nil {
		return model.Decision{}, err
	}
	d.Timestamp = parseTime(ts)
	if safeAlt.Valid && safeAlt.String != "" {
		d.SafeAlternative = &model.SafeAlternative{}
		if err := json.Unmarshal([]byte(safeAlt.String), d.SafeAlternative); err != nil {
			return model.Decision{}, fmt.Errorf("unmarshal safe_alternative: %w", err)
		}
	}
	if escalation.Valid && escalation.String != "" {
		d.Escalation = &model.Escalation{}
		if err := json.Unmarshal([]byte(escalation.String), d.Escalation); err != nil {
			return model.Decision{}, fmt.Errorf("unmarshal escalation: %w", err)
		}
	}
	return d, nil
}

func marshalNullable(v any) (any, error) {
	switch t := v.(type) {
	case *model.SafeAlternative:
		if t == nil {
			return nil, nil
		}
	case *model.Escalation:
		if t == nil {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func capLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}
