// Package governor implements the decision engine: a pure, deterministic
// function from (intent, action, context) to a verdict with a reason code.
// It performs no I/O; loop-detection counts and the clock arrive as inputs.
package governor

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/edon-ai/edon/internal/model"
)

// Loop-detection defaults: N identical fingerprints within T seconds pause
// the stream.
const (
	DefaultLoopThreshold = 5
	DefaultLoopWindow    = 10 * time.Second
)

// Work-hours window for the work_hours_only constraint, tenant-local.
const (
	workHoursStart = 9
	workHoursEnd   = 18
)

// externalSharingPatterns mark an op or its params as external data sharing
// under the no_external_sharing constraint.
var externalSharingPatterns = []string{"export", "upload", "share", "send_to", "external"}

// escalationOptions are the standard choices offered on every escalation.
var escalationOptions = []model.EscalationOption{
	{ID: "allow_once", Label: "Allow once"},
	{ID: "draft_only", Label: "Draft only"},
	{ID: "keep_blocking", Label: "Keep blocking"},
}

// ApprovalAllowOnce is the context approval that resolves a NEED_CONFIRMATION
// escalation on retry.
const ApprovalAllowOnce = "allow_once"

// Context is the request-scoped input to a decision.
type Context struct {
	AgentID   string
	TenantID  string
	SessionID string
	// Approvals granted for this attempt (e.g. "allow_once" after a human
	// confirmed an escalation).
	Approvals []string
	// Now is the decision clock, tenant-local.
	Now time.Time
	// RecentCount is how many prior decisions share this action's
	// fingerprint inside the loop window. Computed by the pipeline.
	RecentCount int
}

func (c Context) approved(id string) bool {
	return slices.Contains(c.Approvals, id)
}

// Governor holds the static configuration of the decision engine.
type Governor struct {
	sandboxDir    string
	loopThreshold int
}

// New creates a Governor. sandboxDir is the declared filesystem sandbox root.
func New(sandboxDir string) *Governor {
	return &Governor{sandboxDir: sandboxDir, loopThreshold: DefaultLoopThreshold}
}

// WithLoopThreshold overrides the identical-action pause threshold.
func (g *Governor) WithLoopThreshold(n int) *Governor {
	g.loopThreshold = n
	return g
}

// Decide evaluates an action against an intent and returns the decision.
// The action's ComputedRisk field is filled in; estimated_risk is retained
// for audit only. Decide never returns an error and never performs I/O.
func (g *Governor) Decide(intent model.Intent, action model.Action, gctx Context) (model.Decision, model.Action) {
	action.ComputedRisk = ComputeRisk(action, intent, g.sandboxDir)
	constraints := intent.Constraints

	// Critical risk dominates every other outcome, including scope.
	if action.ComputedRisk == model.RiskCritical {
		return decision(model.VerdictBlock, model.ReasonRiskTooHigh,
			fmt.Sprintf("Computed risk is critical for %s.%s", action.Tool, action.Op)), action
	}

	if !intent.Scope.Allows(action.Tool, action.Op) {
		return decision(model.VerdictBlock, model.ReasonScopeViolation,
			fmt.Sprintf("Tool %s.%s is not in the approved scope", action.Tool, action.Op)), action
	}

	// Inner-tool allow/block lists for the downstream proxy. The block list
	// takes precedence over the allow list.
	if action.Tool == "clawdbot" && action.Op == "invoke" {
		innerTool, _ := action.Params["tool"].(string)
		if blocked := constraints.StringList(model.ConstraintBlockedClawdbotTools); slices.Contains(blocked, innerTool) {
			return decision(model.VerdictBlock, model.ReasonScopeViolation,
				fmt.Sprintf("Downstream tool %q is blocked by the intent", innerTool)), action
		}
		if allowed := constraints.StringList(model.ConstraintAllowedClawdbotTools); allowed != nil && !slices.Contains(allowed, innerTool) {
			return decision(model.VerdictBlock, model.ReasonScopeViolation,
				fmt.Sprintf("Downstream tool %q is not in the allowed list", innerTool)), action
		}
	}

	if constraints.Bool("no_external_sharing") && isExternalSharing(action) {
		return decision(model.VerdictBlock, model.ReasonDataExfil,
			fmt.Sprintf("External sharing detected in %s operation", action.Op)), action
	}

	if constraints.Bool(model.ConstraintWorkHoursOnly) && !withinWorkHours(gctx.Now) {
		return decision(model.VerdictBlock, model.ReasonOutOfHours,
			"Action outside permitted work hours (09:00-18:00)"), action
	}

	if constraints.Bool(model.ConstraintDraftsOnly) && action.Op == "send" {
		d := decision(model.VerdictDegrade, model.ReasonDegraded,
			"Intent permits drafts only; downgraded send to draft")
		d.SafeAlternative = &model.SafeAlternative{
			Tool:   action.Tool,
			Op:     "draft",
			Params: action.Params,
		}
		return d, action
	}

	if maxRecipients, ok := constraints.Int(model.ConstraintMaxRecipients); ok && model.IsSendClass(action.Op) {
		if n := len(action.Recipients()); n > maxRecipients && !gctx.approved(ApprovalAllowOnce) {
			return escalate(fmt.Sprintf(
				"This %s has %d recipients, above the limit of %d. Proceed?",
				action.Op, n, maxRecipients)), action
		}
	}

	if constraints.Bool(model.ConstraintConfirmIrreversible) &&
		action.ComputedRisk.AtLeast(model.RiskHigh) && !gctx.approved(ApprovalAllowOnce) {
		return escalate(fmt.Sprintf(
			"%s.%s is potentially irreversible (risk %s). Confirm?",
			action.Tool, action.Op, action.ComputedRisk)), action
	}

	if levels := constraints.StringList(model.ConstraintEscalateRiskLevels); levels != nil &&
		slices.Contains(levels, string(action.ComputedRisk)) && !gctx.approved(ApprovalAllowOnce) {
		return escalate(fmt.Sprintf(
			"Actions at %s risk require confirmation under this intent. Proceed?",
			action.ComputedRisk)), action
	}

	// Unapproved intents may only allow side-effect-free reads.
	if !intent.ApprovedByUser &&
		(!model.IsReadOnly(action.Op) || action.ComputedRisk.AtLeast(model.RiskMedium)) {
		d := decision(model.VerdictEscalate, model.ReasonIntentNotApproved,
			"The active intent has not been approved by the user")
		d.Escalation = &model.Escalation{
			Question: "The current intent is not approved. Approve it to proceed?",
			Options:  escalationOptions,
		}
		return d, action
	}

	if gctx.RecentCount >= g.loopThreshold {
		return decision(model.VerdictPause, model.ReasonLoopDetected,
			fmt.Sprintf("Identical action repeated %d times within %s",
				gctx.RecentCount, DefaultLoopWindow)), action
	}

	return decision(model.VerdictAllow, model.ReasonApproved,
		fmt.Sprintf("%s.%s permitted by intent scope", action.Tool, action.Op)), action
}

func decision(v model.Verdict, r model.ReasonCode, explanation string) model.Decision {
	return model.Decision{Verdict: v, ReasonCode: r, Explanation: explanation}
}

func escalate(question string) model.Decision {
	d := decision(model.VerdictEscalate, model.ReasonNeedConfirmation, question)
	d.Escalation = &model.Escalation{Question: question, Options: escalationOptions}
	return d
}

func withinWorkHours(now time.Time) bool {
	h := now.Hour()
	return h >= workHoursStart && h < workHoursEnd
}

func isExternalSharing(action model.Action) bool {
	op := strings.ToLower(action.Op)
	for _, p := range externalSharingPatterns {
		if strings.Contains(op, p) {
			return true
		}
	}
	params := strings.ToLower(fmt.Sprintf("%v", action.Params))
	for _, p := range externalSharingPatterns {
		if strings.Contains(params, p) {
			return true
		}
	}
	return false
}
