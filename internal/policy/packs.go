// Package policy defines the named policy packs: presets that compile into
// concrete intents.
package policy

import (
	"fmt"
	"sort"

	"github.com/edon-ai/edon/internal/model"
)

// Pack is a named preset. Applying a pack materializes an Intent and sets it
// as the tenant's default.
type Pack struct {
	Name        string
	Description string
	Objective   string
	Scope       model.Scope
	Constraints model.Constraints
	RiskLevel   model.RiskLevel
	// Packs are operator-chosen, so the resulting intent is pre-approved.
	Approved bool
}

var packs = map[string]Pack{
	"personal_safe": {
		Name:        "personal_safe",
		Description: "Personal assistant: read and draft only, single recipient",
		Objective:   "Assist with personal email and notes without sending on my behalf",
		Scope: model.Scope{
			"email":    {"read", "summarize", "draft", "search"},
			"notes":    {"read", "search", "summarize"},
			"calendar": {"read", "search"},
			"web":      {"search"},
		},
		Constraints: model.Constraints{
			model.ConstraintDraftsOnly:    true,
			model.ConstraintMaxRecipients: 1,
		},
		RiskLevel: model.RiskLow,
		Approved:  true,
	},
	"work_safe": {
		Name:        "work_safe",
		Description: "Workplace assistant: drafts and internal tools, confirm sends",
		Objective:   "Support day-to-day work communication with human confirmation on sends",
		Scope: model.Scope{
			"email":    {"read", "summarize", "draft", "send", "search"},
			"calendar": {"read", "create_event"},
			"notes":    {"read", "write", "search"},
			"web":      {"search"},
		},
		Constraints: model.Constraints{
			model.ConstraintMaxRecipients:       10,
			model.ConstraintConfirmIrreversible: true,
			model.ConstraintEscalateRiskLevels:  []string{"high", "critical"},
		},
		RiskLevel: model.RiskMedium,
		Approved:  true,
	},
	"ops_admin": {
		Name:        "ops_admin",
		Description: "Operations admin: broad tooling, detailed audit, confirm irreversible",
		Objective:   "Operate infrastructure tooling with full audit detail",
		Scope: model.Scope{
			"email":      {"read", "draft", "send"},
			"calendar":   {"read", "create_event"},
			"filesystem": {"read_file", "write_file"},
			"vcs":        {"read", "create_issue"},
			"web":        {"search"},
			"clawdbot":   {"invoke"},
		},
		Constraints: model.Constraints{
			model.ConstraintAuditLevel:          "detailed",
			model.ConstraintConfirmIrreversible: true,
			model.ConstraintMaxRecipients:       25,
		},
		RiskLevel: model.RiskHigh,
		Approved:  true,
	},
	"clawdbot_safe": {
		Name:        "clawdbot_safe",
		Description: "Downstream bot proxy: session management only, destructive verbs blocked",
		Objective:   "Proxy session operations to the downstream bot gateway",
		Scope: model.Scope{
			"clawdbot": {"invoke"},
		},
		Constraints: model.Constraints{
			model.ConstraintAllowedClawdbotTools: []string{
				"sessions_list", "sessions_get", "sessions_create", "sessions_update",
			},
			model.ConstraintBlockedClawdbotTools: []string{
				"sessions_delete", "shell_execute", "file_delete", "web_execute",
				"config_write", "delete", "destroy", "purge",
			},
		},
		RiskLevel: model.RiskLow,
		Approved:  true,
	},
	"helpdesk_readonly": {
		Name:        "helpdesk_readonly",
		Description: "Helpdesk triage: read-only across support tools",
		Objective:   "Triage and summarize support requests without replying",
		Scope: model.Scope{
			"email": {"read", "summarize", "search"},
			"notes": {"read", "search"},
			"web":   {"search"},
		},
		Constraints: model.Constraints{
			"no_external_sharing": true,
		},
		RiskLevel: model.RiskLow,
		Approved:  true,
	},
	"founder_mode": {
		Name:        "founder_mode",
		Description: "Wide scope, escalate anything above medium risk",
		Objective:   "Act broadly on my behalf, checking in on anything risky",
		Scope: model.Scope{
			"email":    {"read", "summarize", "draft", "send", "search"},
			"calendar": {"read", "create_event"},
			"notes":    {"read", "write", "search"},
			"web":      {"search"},
			"vcs":      {"read", "create_issue"},
			"clawdbot": {"invoke"},
		},
		Constraints: model.Constraints{
			model.ConstraintMaxRecipients:      50,
			model.ConstraintEscalateRiskLevels: []string{"high", "critical"},
		},
		RiskLevel: model.RiskMedium,
		Approved:  true,
	},
}

// Get returns the pack by name.
func Get(name string) (Pack, error) {
	p, ok := packs[name]
	if !ok {
		return Pack{}, fmt.Errorf("policy: unknown pack %q", name)
	}
	return p, nil
}

// List returns all pack summaries sorted by name.
func List() []model.PolicyPackSummary {
	out := make([]model.PolicyPackSummary, 0, len(packs))
	for _, p := range packs {
		out = append(out, model.PolicyPackSummary{
			Name:        p.Name,
			Description: p.Description,
			RiskLevel:   string(p.RiskLevel),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Compile materializes the pack into an intent for the tenant. The intent id
// is deterministic per (pack, tenant) so re-applying is an upsert, not a new
// row.
func (p Pack) Compile(tenantID string) model.Intent {
	scope := make(model.Scope, len(p.Scope))
	for tool, ops := range p.Scope {
		scope[tool] = append([]string(nil), ops...)
	}
	constraints := make(model.Constraints, len(p.Constraints))
	for k, v := range p.Constraints {
		constraints[k] = v
	}
	id := "intent-pack-" + p.Name
	if tenantID != "" {
		id += "-" + tenantID
	}
	return model.Intent{
		IntentID:       id,
		TenantID:       tenantID,
		Objective:      p.Objective,
		Scope:          scope,
		Constraints:    constraints,
		RiskLevel:      p.RiskLevel,
		ApprovedByUser: p.Approved,
	}
}
