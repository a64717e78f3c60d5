// Package validate performs structural and size checks on request bodies.
// It rejects and never mutates; callers pass the original bytes onward.
package validate

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
)

// Size and structure ceilings.
const (
	MaxRequestSize = 10 * 1024 * 1024
	MaxJSONDepth   = 10
	MaxStringLen   = 100 * 1024
	MaxArrayLen    = 10000
	MaxParamsSize  = 5 * 1024 * 1024
)

// dangerousPatterns are rejected inside string values and object keys when
// strict mode is on.
var dangerousPatterns = []struct {
	re  *regexp.Regexp
	msg string
}{
	{regexp.MustCompile(`(?i)<script`), "Script tags not allowed"},
	{regexp.MustCompile(`(?i)javascript:`), "JavaScript protocol not allowed"},
	{regexp.MustCompile(`(?i)\bon\w+\s*=`), "Event handlers not allowed"},
}

// Error is a validation failure. Path is the JSONPath of the first offending
// field; Status is the HTTP status the failure maps to.
type Error struct {
	Status  int
	Path    string
	Message string
}

func (e *Error) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s at path: %s", e.Message, e.Path)
}

func invalid(path, message string) *Error {
	return &Error{Status: http.StatusBadRequest, Path: path, Message: message}
}

// Validator applies the rules above. Strict mode adds pattern rejection on
// top of the structural limits.
type Validator struct {
	strict bool
}

// New creates a Validator. strict enables dangerous-pattern rejection.
func New(strict bool) *Validator {
	return &Validator{strict: strict}
}

// CheckBody walks a decoded JSON document and returns the first violation.
func (v *Validator) CheckBody(data any) *Error {
	return v.walk(data, 0, "")
}

// CheckParams validates an action's params: serialized size plus the same
// structural walk, rooted at action.params for error paths.
func (v *Validator) CheckParams(params map[string]any) *Error {
	raw, err := json.Marshal(params)
	if err != nil {
		return invalid("action.params", "Parameters are not serializable")
	}
	if len(raw) > MaxParamsSize {
		return invalid("action.params",
			fmt.Sprintf("Action parameters exceed maximum size of %d bytes", MaxParamsSize))
	}
	return v.walk(params, 0, "action.params")
}

func (v *Validator) walk(data any, depth int, path string) *Error {
	if depth > MaxJSONDepth {
		return invalid(path, fmt.Sprintf("JSON depth exceeds maximum of %d", MaxJSONDepth))
	}

	switch val := data.(type) {
	case map[string]any:
		for key, item := range val {
			keyPath := childPath(path, key)
			if len(key) > MaxStringLen {
				return invalid(keyPath, fmt.Sprintf("Key length exceeds maximum of %d", MaxStringLen))
			}
			if v.strict {
				if msg := matchDangerous(key); msg != "" {
					return invalid(keyPath, msg)
				}
			}
			if err := v.walk(item, depth+1, keyPath); err != nil {
				return err
			}
		}
	case []any:
		if len(val) > MaxArrayLen {
			return invalid(path, fmt.Sprintf("Array length exceeds maximum of %d", MaxArrayLen))
		}
		for i, item := range val {
			if err := v.walk(item, depth+1, fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
	case string:
		if len(val) > MaxStringLen {
			return invalid(path, fmt.Sprintf("String length exceeds maximum of %d", MaxStringLen))
		}
		if v.strict {
			if msg := matchDangerous(val); msg != "" {
				return invalid(path, msg)
			}
		}
	}
	return nil
}

func matchDangerous(s string) string {
	for _, p := range dangerousPatterns {
		if p.re.MatchString(s) {
			return p.msg
		}
	}
	return ""
}

func childPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}
