package model

// Action is a concrete request to invoke (tool, op, params).
// EstimatedRisk is caller-supplied and advisory; ComputedRisk is assigned
// server-side and is the only value the decision engine consults.
type Action struct {
	Tool          string         `json:"tool"`
	Op            string         `json:"op"`
	Params        map[string]any `json:"params,omitempty"`
	EstimatedRisk string         `json:"estimated_risk,omitempty"`
	ComputedRisk  RiskLevel      `json:"computed_risk,omitempty"`
}

// sendClassOps are operations that dispatch content to external recipients.
var sendClassOps = map[string]bool{
	"send":         true,
	"create_event": true,
	"create_issue": true,
}

// IsSendClass reports whether op dispatches content to recipients.
func IsSendClass(op string) bool { return sendClassOps[op] }

// readOnlyOps are operations with no side effects. Unapproved intents may
// still ALLOW these.
var readOnlyOps = map[string]bool{
	"read":      true,
	"read_file": true,
	"get":       true,
	"list":      true,
	"search":    true,
	"summarize": true,
	"query":     true,
	"status":    true,
}

// IsReadOnly reports whether op has no side effects.
func IsReadOnly(op string) bool { return readOnlyOps[op] }

// Recipients extracts the recipient list from action params for send-class
// ops. Accepts "to", "recipients", or a single-string "to".
func (a Action) Recipients() []string {
	for _, key := range []string{"to", "recipients"} {
		switch v := a.Params[key].(type) {
		case string:
			if v != "" {
				return []string{v}
			}
		case []string:
			return v
		case []any:
			out := make([]string, 0, len(v))
			for _, e := range v {
				if s, ok := e.(string); ok {
					out = append(out, s)
				}
			}
			return out
		}
	}
	return nil
}
