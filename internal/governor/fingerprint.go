package governor

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Fingerprint returns the canonical hash of an action under an intent, used
// for loop detection and approval scoping. Params are serialized with RFC
// 8785 canonical JSON so key order and number formatting cannot produce
// distinct fingerprints for the same action.
func Fingerprint(tool, op string, params map[string]any, intentID string) (string, error) {
	if params == nil {
		params = map[string]any{}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("governor: marshal params: %w", err)
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("governor: canonicalize params: %w", err)
	}
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%s|%s", tool, op, canon, intentID))
	return hex.EncodeToString(sum[:]), nil
}
