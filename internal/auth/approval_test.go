package auth_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edon-ai/edon/internal/auth"
)

func TestApprovalIssueAndVerify(t *testing.T) {
	s := auth.NewApprovalSigner("api-token")

	token, err := s.Issue("fp-1")
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	require.NoError(t, s.Verify(token, "fp-1"))
}

func TestApprovalRejectsOtherFingerprint(t *testing.T) {
	s := auth.NewApprovalSigner("api-token")

	token, err := s.Issue("fp-1")
	require.NoError(t, err)

	err = s.Verify(token, "fp-2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "different action")
}

func TestApprovalRejectsForeignSigner(t *testing.T) {
	issuer := auth.NewApprovalSigner("api-token")
	verifier := auth.NewApprovalSigner("other-token")

	token, err := issuer.Issue("fp-1")
	require.NoError(t, err)

	assert.Error(t, verifier.Verify(token, "fp-1"))
}

func TestApprovalRejectsGarbage(t *testing.T) {
	s := auth.NewApprovalSigner("api-token")
	assert.Error(t, s.Verify("not-a-jwt", "fp-1"))
	assert.Error(t, s.Verify("", "fp-1"))
}

func TestApprovalSurvivesRestartWithSameToken(t *testing.T) {
	before := auth.NewApprovalSigner("api-token")
	after := auth.NewApprovalSigner("api-token")

	token, err := before.Issue("fp-1")
	require.NoError(t, err)
	require.NoError(t, after.Verify(token, "fp-1"))
}
