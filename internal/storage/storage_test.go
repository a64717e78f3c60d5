package storage_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edon-ai/edon/internal/model"
	"github.com/edon-ai/edon/internal/storage"
	"github.com/edon-ai/edon/migrations"
)

func newTestDB(t *testing.T) *storage.DB {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := storage.New(ctx, filepath.Join(t.TempDir(), "test.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.RunMigrations(ctx, migrations.FS))
	return db
}

func TestMigrationsIdempotent(t *testing.T) {
	db := newTestDB(t)
	// A second pass applies nothing and fails nothing.
	require.NoError(t, db.RunMigrations(context.Background(), migrations.FS))
}

func TestIntentRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	id, err := db.SaveIntent(ctx, model.Intent{
		TenantID:  "tenant-1",
		Objective: "manage inbox",
		Scope:     model.Scope{"email": {"draft", "send"}},
		Constraints: model.Constraints{
			model.ConstraintDraftsOnly:    true,
			model.ConstraintMaxRecipients: 3,
		},
		RiskLevel:      model.RiskMedium,
		ApprovedByUser: true,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	got, err := db.GetIntent(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "manage inbox", got.Objective)
	assert.Equal(t, "tenant-1", got.TenantID)
	assert.True(t, got.Scope.Allows("email", "send"))
	assert.True(t, got.Constraints.Bool(model.ConstraintDraftsOnly))
	maxR, ok := got.Constraints.Int(model.ConstraintMaxRecipients)
	require.True(t, ok)
	assert.Equal(t, 3, maxR)
	assert.Equal(t, model.RiskMedium, got.RiskLevel)
	assert.True(t, got.ApprovedByUser)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestGetIntentNotFound(t *testing.T) {
	db := newTestDB(t)

	_, err := db.GetIntent(context.Background(), "intent-missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSaveIntentUpsert(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	id, err := db.SaveIntent(ctx, model.Intent{IntentID: "intent-fixed", Objective: "v1"})
	require.NoError(t, err)
	assert.Equal(t, "intent-fixed", id)

	_, err = db.SaveIntent(ctx, model.Intent{IntentID: "intent-fixed", Objective: "v2", ApprovedByUser: true})
	require.NoError(t, err)

	got, err := db.GetIntent(ctx, "intent-fixed")
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Objective)
	assert.True(t, got.ApprovedByUser)

	n, err := db.ActiveIntentCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestGetLatestIntent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.GetLatestIntent(ctx, "tenant-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = db.SaveIntent(ctx, model.Intent{IntentID: "intent-old", TenantID: "tenant-1", Objective: "old"})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = db.SaveIntent(ctx, model.Intent{IntentID: "intent-new", TenantID: "tenant-1", Objective: "new"})
	require.NoError(t, err)

	got, err := db.GetLatestIntent(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, "intent-new", got.IntentID)

	// Other tenants see nothing.
	_, err = db.GetLatestIntent(ctx, "tenant-2")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestTenantDefaultIntent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	// Creates the tenant row on first use.
	require.NoError(t, db.SetTenantDefaultIntent(ctx, "tenant-1", "intent-a"))

	tenant, err := db.GetTenant(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, "intent-a", tenant.DefaultIntentID)
	assert.Equal(t, "free", tenant.Plan)
	assert.Equal(t, model.TenantActive, tenant.Status)

	// Upgrading the plan must survive a later default-intent change.
	tenant.Plan = "starter"
	require.NoError(t, db.UpsertTenant(ctx, tenant))
	require.NoError(t, db.SetTenantDefaultIntent(ctx, "tenant-1", "intent-b"))

	tenant, err = db.GetTenant(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, "starter", tenant.Plan)
	assert.Equal(t, "intent-b", tenant.DefaultIntentID)
}

func TestSaveAuditEventTransactional(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	decisionID, err := db.SaveAuditEvent(ctx, model.Decision{
		ActionFingerprint: "fp-1",
		Verdict:           model.VerdictBlock,
		ReasonCode:        model.ReasonScopeViolation,
		Explanation:       "out of scope",
	}, model.AuditEvent{
		TenantID:       "tenant-1",
		AgentID:        "agent-1",
		IntentID:       "intent-1",
		ActionSnapshot: map[string]any{"tool": "email", "op": "send"},
		LatencyMS:      3.5,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, decisionID)

	d, err := db.GetDecision(ctx, decisionID)
	require.NoError(t, err)
	assert.Equal(t, model.VerdictBlock, d.Verdict)
	assert.Equal(t, model.ReasonScopeViolation, d.ReasonCode)
	assert.Equal(t, "fp-1", d.ActionFingerprint)

	events, err := db.QueryAuditEvents(ctx, model.AuditFilters{AgentID: "agent-1"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, decisionID, events[0].DecisionID)
	assert.Equal(t, "email", events[0].ActionSnapshot["tool"])
	assert.InDelta(t, 3.5, events[0].LatencyMS, 0.001)
}

func TestSaveAuditEventPreservesStructures(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	decisionID, err := db.SaveAuditEvent(ctx, model.Decision{
		Verdict:    model.VerdictDegrade,
		ReasonCode: model.ReasonDegraded,
		SafeAlternative: &model.SafeAlternative{
			Tool: "email", Op: "draft",
			Params: map[string]any{"to": "a@example.com"},
		},
		Escalation: &model.Escalation{
			Question: "Proceed?",
			Options:  []model.EscalationOption{{ID: "allow_once", Label: "Allow once"}},
		},
	}, model.AuditEvent{})
	require.NoError(t, err)

	d, err := db.GetDecision(ctx, decisionID)
	require.NoError(t, err)
	require.NotNil(t, d.SafeAlternative)
	assert.Equal(t, "draft", d.SafeAlternative.Op)
	require.NotNil(t, d.Escalation)
	assert.Equal(t, "Proceed?", d.Escalation.Question)
	require.Len(t, d.Escalation.Options, 1)
	assert.Equal(t, "allow_once", d.Escalation.Options[0].ID)
}

func TestQueryDecisionsFilters(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for _, v := range []model.Verdict{model.VerdictAllow, model.VerdictAllow, model.VerdictBlock} {
		_, err := db.SaveAuditEvent(ctx, model.Decision{
			ActionFingerprint: "fp-shared",
			Verdict:           v,
			ReasonCode:        model.ReasonApproved,
		}, model.AuditEvent{})
		require.NoError(t, err)
	}

	allows, err := db.QueryDecisions(ctx, model.DecisionFilters{Verdict: model.VerdictAllow})
	require.NoError(t, err)
	assert.Len(t, allows, 2)

	byFP, err := db.QueryDecisions(ctx, model.DecisionFilters{ActionFingerprint: "fp-shared"})
	require.NoError(t, err)
	assert.Len(t, byFP, 3)
}

func TestCountRecentDecisions(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := db.SaveAuditEvent(ctx, model.Decision{
			ActionFingerprint: "fp-loop",
			Verdict:           model.VerdictAllow,
			ReasonCode:        model.ReasonApproved,
		}, model.AuditEvent{})
		require.NoError(t, err)
	}

	n, err := db.CountRecentDecisions(ctx, "fp-loop", time.Now().Add(-10*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// A window entirely in the future matches nothing.
	n, err = db.CountRecentDecisions(ctx, "fp-loop", time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = db.CountRecentDecisions(ctx, "fp-other", time.Now().Add(-10*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestVerdictCounts(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.SaveAuditEvent(ctx, model.Decision{
		Verdict: model.VerdictAllow, ReasonCode: model.ReasonApproved,
	}, model.AuditEvent{})
	require.NoError(t, err)
	_, err = db.SaveAuditEvent(ctx, model.Decision{
		Verdict: model.VerdictBlock, ReasonCode: model.ReasonScopeViolation,
	}, model.AuditEvent{})
	require.NoError(t, err)

	counts, err := db.VerdictCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts["ALLOW:APPROVED"])
	assert.Equal(t, int64(1), counts["BLOCK:SCOPE_VIOLATION"])
}

func TestIncrementCounterAtomic(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	window := time.Now().UTC().Truncate(time.Minute)

	const workers = 10
	const perWorker = 5

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				_, err := db.IncrementCounter(ctx, "rate_limit:test", window)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	value, err := db.GetCounter(ctx, "rate_limit:test", window)
	require.NoError(t, err)
	assert.Equal(t, int64(workers*perWorker), value)
}

func TestCountersIsolatedByWindow(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	w1 := time.Date(2026, 3, 10, 12, 30, 0, 0, time.UTC)
	w2 := w1.Add(time.Minute)

	_, err := db.IncrementCounter(ctx, "k", w1)
	require.NoError(t, err)
	_, err = db.IncrementCounter(ctx, "k", w2)
	require.NoError(t, err)
	_, err = db.IncrementCounter(ctx, "k", w2)
	require.NoError(t, err)

	v1, err := db.GetCounter(ctx, "k", w1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v1)
	v2, err := db.GetCounter(ctx, "k", w2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v2)

	// Missing buckets read as zero.
	v3, err := db.GetCounter(ctx, "k", w2.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(0), v3)
}

func TestPruneCounters(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-72 * time.Hour)
	fresh := time.Now().UTC()
	_, err := db.IncrementCounter(ctx, "k-old", old)
	require.NoError(t, err)
	_, err = db.IncrementCounter(ctx, "k-fresh", fresh)
	require.NoError(t, err)

	pruned, err := db.PruneCounters(ctx, time.Now().UTC().Add(-48*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	v, err := db.GetCounter(ctx, "k-fresh", fresh)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}

func TestCredentialLifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	cred := model.Credential{
		CredentialID:   "cred-1",
		ToolName:       "clawdbot",
		TenantID:       "tenant-1",
		CredentialType: "bearer",
		PayloadBlob:    []byte(`{"base_url":"http://localhost:18789"}`),
	}
	require.NoError(t, db.SaveCredential(ctx, cred))

	got, err := db.GetCredentialForTool(ctx, "clawdbot", "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, "cred-1", got.CredentialID)
	assert.JSONEq(t, `{"base_url":"http://localhost:18789"}`, string(got.PayloadBlob))

	require.NoError(t, db.MarkCredentialUsed(ctx, "cred-1"))
	status, err := db.GetIntegrationStatus(ctx, "tenant-1", "clawdbot")
	require.NoError(t, err)
	assert.True(t, status.Connected)
	assert.NotNil(t, status.LastOKAt)

	require.NoError(t, db.MarkCredentialError(ctx, "cred-1", "boom"))
	status, err = db.GetIntegrationStatus(ctx, "tenant-1", "clawdbot")
	require.NoError(t, err)
	assert.Equal(t, "boom", status.LastError)

	require.NoError(t, db.DeleteCredential(ctx, "cred-1"))
	_, err = db.GetCredentialForTool(ctx, "clawdbot", "tenant-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestTokenBinding(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.LookupToken(ctx, "hash-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, db.BindToken(ctx, "hash-1", "agent-1"))

	binding, err := db.LookupToken(ctx, "hash-1")
	require.NoError(t, err)
	assert.Equal(t, "agent-1", binding.AgentID)

	// Re-binding the same pair is idempotent; a different agent conflicts.
	require.NoError(t, db.BindToken(ctx, "hash-1", "agent-1"))
	assert.ErrorIs(t, db.BindToken(ctx, "hash-1", "agent-2"), storage.ErrConflict)
}

func TestConnectCodes(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.CreateConnectCode(ctx, "ABCD1234", "tenant-1", 10*time.Minute))

	tenantID, err := db.RedeemConnectCode(ctx, "ABCD1234")
	require.NoError(t, err)
	assert.Equal(t, "tenant-1", tenantID)

	// Codes are single-use.
	_, err = db.RedeemConnectCode(ctx, "ABCD1234")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Expired codes never redeem.
	require.NoError(t, db.CreateConnectCode(ctx, "EXPIRED1", "tenant-1", -time.Minute))
	_, err = db.RedeemConnectCode(ctx, "EXPIRED1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
