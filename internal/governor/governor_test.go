package governor_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edon-ai/edon/internal/governor"
	"github.com/edon-ai/edon/internal/model"
)

// tenPM is a fixed clock outside the 09:00-18:00 work window.
var tenPM = time.Date(2026, 3, 10, 22, 0, 0, 0, time.UTC)

// noon is a fixed clock inside the work window.
var noon = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func approvedIntent(scope model.Scope, constraints model.Constraints) model.Intent {
	return model.Intent{
		IntentID:       "intent-test",
		TenantID:       "tenant-1",
		Objective:      "test objective",
		Scope:          scope,
		Constraints:    constraints,
		RiskLevel:      model.RiskLow,
		ApprovedByUser: true,
	}
}

func TestDecideScopeViolation(t *testing.T) {
	g := governor.New("")
	intent := approvedIntent(model.Scope{"email": {"draft"}}, nil)

	d, _ := g.Decide(intent, model.Action{Tool: "email", Op: "send"}, governor.Context{Now: noon})

	assert.Equal(t, model.VerdictBlock, d.Verdict)
	assert.Equal(t, model.ReasonScopeViolation, d.ReasonCode)
}

func TestDecideWildcardScope(t *testing.T) {
	g := governor.New("")
	intent := approvedIntent(model.Scope{"notes": {"*"}}, nil)

	d, _ := g.Decide(intent, model.Action{Tool: "notes", Op: "write"}, governor.Context{Now: noon})

	assert.Equal(t, model.VerdictAllow, d.Verdict)
	assert.Equal(t, model.ReasonApproved, d.ReasonCode)
}

func TestDecideDraftsOnlyDegradesSend(t *testing.T) {
	g := governor.New("")
	intent := approvedIntent(
		model.Scope{"email": {"send", "draft"}},
		model.Constraints{model.ConstraintDraftsOnly: true},
	)
	action := model.Action{
		Tool:   "email",
		Op:     "send",
		Params: map[string]any{"to": "a@example.com", "body": "hi"},
	}

	d, _ := g.Decide(intent, action, governor.Context{Now: noon})

	assert.Equal(t, model.VerdictDegrade, d.Verdict)
	assert.Equal(t, model.ReasonDegraded, d.ReasonCode)
	require.NotNil(t, d.SafeAlternative)
	assert.Equal(t, "email", d.SafeAlternative.Tool)
	assert.Equal(t, "draft", d.SafeAlternative.Op)
	assert.Equal(t, action.Params, d.SafeAlternative.Params)
}

func TestDecideCriticalRiskDominatesScope(t *testing.T) {
	g := governor.New("")
	// shell.run is in scope, but its computed risk is always critical and
	// critical blocks before the scope check can allow it.
	intent := approvedIntent(model.Scope{"shell": {"run"}}, nil)

	d, action := g.Decide(intent, model.Action{Tool: "shell", Op: "run"}, governor.Context{Now: noon})

	assert.Equal(t, model.VerdictBlock, d.Verdict)
	assert.Equal(t, model.ReasonRiskTooHigh, d.ReasonCode)
	assert.Equal(t, model.RiskCritical, action.ComputedRisk)
}

func TestDecideDangerousParamsBlock(t *testing.T) {
	g := governor.New("")
	intent := approvedIntent(model.Scope{"notes": {"write"}}, nil)
	action := model.Action{
		Tool:   "notes",
		Op:     "write",
		Params: map[string]any{"content": "then run rm -rf / please"},
	}

	d, _ := g.Decide(intent, action, governor.Context{Now: noon})

	assert.Equal(t, model.VerdictBlock, d.Verdict)
	assert.Equal(t, model.ReasonRiskTooHigh, d.ReasonCode)
}

func TestDecideMaxRecipientsEscalates(t *testing.T) {
	g := governor.New("")
	intent := approvedIntent(
		model.Scope{"email": {"send"}},
		model.Constraints{model.ConstraintMaxRecipients: 1},
	)
	action := model.Action{
		Tool:   "email",
		Op:     "send",
		Params: map[string]any{"to": []any{"a@example.com", "b@example.com"}},
	}

	d, _ := g.Decide(intent, action, governor.Context{Now: noon})

	assert.Equal(t, model.VerdictEscalate, d.Verdict)
	assert.Equal(t, model.ReasonNeedConfirmation, d.ReasonCode)
	require.NotNil(t, d.Escalation)
	assert.NotEmpty(t, d.Escalation.Question)
	require.Len(t, d.Escalation.Options, 3)
	assert.Equal(t, "allow_once", d.Escalation.Options[0].ID)
	assert.Equal(t, "draft_only", d.Escalation.Options[1].ID)
	assert.Equal(t, "keep_blocking", d.Escalation.Options[2].ID)
}

func TestDecideMaxRecipientsAllowOnceApproval(t *testing.T) {
	g := governor.New("")
	intent := approvedIntent(
		model.Scope{"email": {"send"}},
		model.Constraints{model.ConstraintMaxRecipients: 1},
	)
	action := model.Action{
		Tool:   "email",
		Op:     "send",
		Params: map[string]any{"to": []any{"a@example.com", "b@example.com"}},
	}
	gctx := governor.Context{Now: noon, Approvals: []string{governor.ApprovalAllowOnce}}

	d, _ := g.Decide(intent, action, gctx)

	assert.Equal(t, model.VerdictAllow, d.Verdict)
}

func TestDecideConfirmIrreversible(t *testing.T) {
	g := governor.New("")
	intent := approvedIntent(
		model.Scope{"calendar": {"create_event"}},
		model.Constraints{
			model.ConstraintConfirmIrreversible: true,
			model.ConstraintMaxRecipients:       10,
		},
	)
	action := model.Action{
		Tool:          "calendar",
		Op:            "create_event",
		EstimatedRisk: "high",
		Params:        map[string]any{"to": "a@example.com"},
	}

	d, _ := g.Decide(intent, action, governor.Context{Now: noon})
	assert.Equal(t, model.VerdictEscalate, d.Verdict)
	assert.Equal(t, model.ReasonNeedConfirmation, d.ReasonCode)

	d, _ = g.Decide(intent, action, governor.Context{
		Now:       noon,
		Approvals: []string{governor.ApprovalAllowOnce},
	})
	assert.Equal(t, model.VerdictAllow, d.Verdict)
}

func TestDecideEscalateRiskLevels(t *testing.T) {
	g := governor.New("")
	intent := approvedIntent(
		model.Scope{"notes": {"write"}},
		model.Constraints{model.ConstraintEscalateRiskLevels: []any{"medium", "high"}},
	)
	action := model.Action{Tool: "notes", Op: "write", EstimatedRisk: "medium"}

	d, _ := g.Decide(intent, action, governor.Context{Now: noon})

	assert.Equal(t, model.VerdictEscalate, d.Verdict)
	assert.Equal(t, model.ReasonNeedConfirmation, d.ReasonCode)
}

func TestDecideWorkHours(t *testing.T) {
	g := governor.New("")
	intent := approvedIntent(
		model.Scope{"email": {"draft"}},
		model.Constraints{model.ConstraintWorkHoursOnly: true},
	)
	action := model.Action{Tool: "email", Op: "draft"}

	d, _ := g.Decide(intent, action, governor.Context{Now: tenPM})
	assert.Equal(t, model.VerdictBlock, d.Verdict)
	assert.Equal(t, model.ReasonOutOfHours, d.ReasonCode)

	d, _ = g.Decide(intent, action, governor.Context{Now: noon})
	assert.Equal(t, model.VerdictAllow, d.Verdict)
}

func TestDecideNoExternalSharing(t *testing.T) {
	g := governor.New("")
	intent := approvedIntent(
		model.Scope{"filesystem": {"*"}},
		model.Constraints{"no_external_sharing": true},
	)

	d, _ := g.Decide(intent, model.Action{Tool: "filesystem", Op: "export"}, governor.Context{Now: noon})
	assert.Equal(t, model.VerdictBlock, d.Verdict)
	assert.Equal(t, model.ReasonDataExfil, d.ReasonCode)

	// Params mentioning an upload target trip the same check.
	d, _ = g.Decide(intent, model.Action{
		Tool:   "filesystem",
		Op:     "read",
		Params: map[string]any{"then": "upload to drive"},
	}, governor.Context{Now: noon})
	assert.Equal(t, model.VerdictBlock, d.Verdict)
	assert.Equal(t, model.ReasonDataExfil, d.ReasonCode)
}

func TestDecideClawdbotBlockedListPrecedence(t *testing.T) {
	g := governor.New("")
	intent := approvedIntent(
		model.Scope{"clawdbot": {"invoke"}},
		model.Constraints{
			model.ConstraintAllowedClawdbotTools: []any{"sessions_list", "shell_execute"},
			model.ConstraintBlockedClawdbotTools: []any{"shell_execute"},
		},
	)

	// Blocked wins even when the same tool is on the allowed list.
	d, _ := g.Decide(intent, model.Action{
		Tool:   "clawdbot",
		Op:     "invoke",
		Params: map[string]any{"tool": "shell_execute"},
	}, governor.Context{Now: noon})
	assert.Equal(t, model.VerdictBlock, d.Verdict)
	assert.Equal(t, model.ReasonScopeViolation, d.ReasonCode)

	d, _ = g.Decide(intent, model.Action{
		Tool:   "clawdbot",
		Op:     "invoke",
		Params: map[string]any{"tool": "sessions_list"},
	}, governor.Context{Now: noon})
	assert.Equal(t, model.VerdictAllow, d.Verdict)

	// Not on the allowed list.
	d, _ = g.Decide(intent, model.Action{
		Tool:   "clawdbot",
		Op:     "invoke",
		Params: map[string]any{"tool": "file_delete"},
	}, governor.Context{Now: noon})
	assert.Equal(t, model.VerdictBlock, d.Verdict)
}

func TestDecideUnapprovedIntent(t *testing.T) {
	g := governor.New("")
	intent := approvedIntent(model.Scope{"notes": {"read", "write"}}, nil)
	intent.ApprovedByUser = false

	// Low-risk reads pass.
	d, _ := g.Decide(intent, model.Action{Tool: "notes", Op: "read"}, governor.Context{Now: noon})
	assert.Equal(t, model.VerdictAllow, d.Verdict)

	// Side effects escalate.
	d, _ = g.Decide(intent, model.Action{Tool: "notes", Op: "write"}, governor.Context{Now: noon})
	assert.Equal(t, model.VerdictEscalate, d.Verdict)
	assert.Equal(t, model.ReasonIntentNotApproved, d.ReasonCode)
	require.NotNil(t, d.Escalation)

	// Medium-risk reads escalate too.
	d, _ = g.Decide(intent, model.Action{
		Tool: "notes", Op: "read", EstimatedRisk: "medium",
	}, governor.Context{Now: noon})
	assert.Equal(t, model.VerdictEscalate, d.Verdict)
	assert.Equal(t, model.ReasonIntentNotApproved, d.ReasonCode)
}

func TestDecideLoopDetection(t *testing.T) {
	g := governor.New("")
	intent := approvedIntent(model.Scope{"notes": {"read"}}, nil)
	action := model.Action{Tool: "notes", Op: "read"}

	d, _ := g.Decide(intent, action, governor.Context{Now: noon, RecentCount: 4})
	assert.Equal(t, model.VerdictAllow, d.Verdict)

	d, _ = g.Decide(intent, action, governor.Context{Now: noon, RecentCount: 5})
	assert.Equal(t, model.VerdictPause, d.Verdict)
	assert.Equal(t, model.ReasonLoopDetected, d.ReasonCode)
}

func TestDecideLoopThresholdOverride(t *testing.T) {
	g := governor.New("").WithLoopThreshold(2)
	intent := approvedIntent(model.Scope{"notes": {"read"}}, nil)

	d, _ := g.Decide(intent, model.Action{Tool: "notes", Op: "read"},
		governor.Context{Now: noon, RecentCount: 2})

	assert.Equal(t, model.VerdictPause, d.Verdict)
}

func TestComputeRiskEstimatedIsFloor(t *testing.T) {
	intent := approvedIntent(model.Scope{"notes": {"read"}}, nil)

	risk := governor.ComputeRisk(model.Action{Tool: "notes", Op: "read", EstimatedRisk: "high"}, intent, "")
	assert.Equal(t, model.RiskHigh, risk)

	// Unrecognized estimates fall back to low.
	risk = governor.ComputeRisk(model.Action{Tool: "notes", Op: "read", EstimatedRisk: "apocalyptic"}, intent, "")
	assert.Equal(t, model.RiskLow, risk)
}

func TestComputeRiskFilesystemOutsideSandbox(t *testing.T) {
	intent := approvedIntent(model.Scope{"filesystem": {"*"}}, nil)
	sandbox := t.TempDir()

	risk := governor.ComputeRisk(model.Action{
		Tool:   "filesystem",
		Op:     "write",
		Params: map[string]any{"path": "/etc/passwd"},
	}, intent, sandbox)
	assert.Equal(t, model.RiskCritical, risk)

	risk = governor.ComputeRisk(model.Action{
		Tool:   "filesystem",
		Op:     "write",
		Params: map[string]any{"path": sandbox + "/notes.txt"},
	}, intent, sandbox)
	assert.Equal(t, model.RiskLow, risk)
}

func TestComputeRiskMultiRecipientWithoutLimit(t *testing.T) {
	// A send to several recipients under an intent that never declared
	// max_recipients is critical.
	intent := approvedIntent(model.Scope{"email": {"send"}}, nil)

	risk := governor.ComputeRisk(model.Action{
		Tool:   "email",
		Op:     "send",
		Params: map[string]any{"to": []any{"a@example.com", "b@example.com"}},
	}, intent, "")
	assert.Equal(t, model.RiskCritical, risk)

	// With the constraint declared, an over-limit send is high, not critical;
	// the decision engine escalates it instead of hard-blocking.
	intent.Constraints = model.Constraints{model.ConstraintMaxRecipients: 1}
	risk = governor.ComputeRisk(model.Action{
		Tool:   "email",
		Op:     "send",
		Params: map[string]any{"to": []any{"a@example.com", "b@example.com"}},
	}, intent, "")
	assert.Equal(t, model.RiskHigh, risk)
}
