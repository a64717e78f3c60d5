package governor

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/edon-ai/edon/internal/model"
)

// dangerousParamPatterns are literal substrings in serialized params that
// always escalate computed risk to critical.
var dangerousParamPatterns = []string{
	"rm -rf",
	"DROP TABLE",
	"; rm ",
	"mkfs",
	"dd if=",
}

// ComputeRisk derives the server-side risk for an action. The caller's
// estimated_risk is the floor; the rules below only ever escalate.
// sandboxDir is the filesystem sandbox root; empty means no sandbox is
// declared and all filesystem writes are outside it.
func ComputeRisk(action model.Action, intent model.Intent, sandboxDir string) model.RiskLevel {
	risk := model.ParseRiskLevel(action.EstimatedRisk)

	if action.Tool == "shell" && action.Op == "run" {
		return model.RiskCritical
	}

	paramsStr := fmt.Sprintf("%v", action.Params)
	for _, pattern := range dangerousParamPatterns {
		if strings.Contains(paramsStr, pattern) {
			return model.RiskCritical
		}
	}

	if action.Tool == "filesystem" && (action.Op == "delete" || action.Op == "write" ||
		action.Op == "delete_file" || action.Op == "write_file") {
		if path, _ := action.Params["path"].(string); path != "" && !insideSandbox(path, sandboxDir) {
			return model.RiskCritical
		}
	}

	if model.IsSendClass(action.Op) {
		recipients := len(action.Recipients())
		maxRecipients, declared := intent.Constraints.Int(model.ConstraintMaxRecipients)
		if recipients > 1 && !declared {
			return model.RiskCritical
		}
		if declared && recipients > maxRecipients {
			risk = risk.Max(model.RiskHigh)
		}
	}

	return risk
}

// insideSandbox reports whether path resolves under the sandbox root.
func insideSandbox(path, sandboxDir string) bool {
	if sandboxDir == "" {
		return false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	root, err := filepath.Abs(sandboxDir)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
