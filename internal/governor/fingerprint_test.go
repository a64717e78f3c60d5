package governor_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edon-ai/edon/internal/governor"
)

func TestFingerprintKeyOrderInvariant(t *testing.T) {
	a, err := governor.Fingerprint("email", "send",
		map[string]any{"to": "a@example.com", "subject": "hi"}, "intent-1")
	require.NoError(t, err)

	b, err := governor.Fingerprint("email", "send",
		map[string]any{"subject": "hi", "to": "a@example.com"}, "intent-1")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestFingerprintDistinguishesInputs(t *testing.T) {
	base, err := governor.Fingerprint("email", "send", map[string]any{"to": "a@example.com"}, "intent-1")
	require.NoError(t, err)

	otherIntent, err := governor.Fingerprint("email", "send", map[string]any{"to": "a@example.com"}, "intent-2")
	require.NoError(t, err)
	assert.NotEqual(t, base, otherIntent)

	otherOp, err := governor.Fingerprint("email", "draft", map[string]any{"to": "a@example.com"}, "intent-1")
	require.NoError(t, err)
	assert.NotEqual(t, base, otherOp)

	otherParams, err := governor.Fingerprint("email", "send", map[string]any{"to": "b@example.com"}, "intent-1")
	require.NoError(t, err)
	assert.NotEqual(t, base, otherParams)
}

func TestFingerprintNilParams(t *testing.T) {
	a, err := governor.Fingerprint("notes", "list", nil, "intent-1")
	require.NoError(t, err)

	b, err := governor.Fingerprint("notes", "list", map[string]any{}, "intent-1")
	require.NoError(t, err)

	assert.Equal(t, a, b)
}
