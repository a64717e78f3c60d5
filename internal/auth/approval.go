package auth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const approvalIssuer = "edon-gateway"

// ApprovalTTL is how long an escalation approval token stays redeemable.
const ApprovalTTL = 10 * time.Minute

// ApprovalClaims scope a signed approval to one action fingerprint.
type ApprovalClaims struct {
	jwt.RegisteredClaims
	Fingerprint string `json:"fingerprint"`
}

// ApprovalSigner issues and verifies single-action approval tokens attached
// to ESCALATE responses. The signing key is derived from the API token, so a
// restart with the same token keeps outstanding approvals valid.
type ApprovalSigner struct {
	key []byte
}

// NewApprovalSigner derives the HMAC key from the configured API token.
func NewApprovalSigner(apiToken string) *ApprovalSigner {
	sum := sha256.Sum256([]byte("edon-approval:" + apiToken))
	return &ApprovalSigner{key: sum[:]}
}

// Issue signs an approval token for the given action fingerprint.
func (s *ApprovalSigner) Issue(fingerprint string) (string, error) {
	now := time.Now().UTC()
	claims := ApprovalClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    approvalIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ApprovalTTL)),
			ID:        uuid.NewString(),
		},
		Fingerprint: fingerprint,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("auth: sign approval: %w", err)
	}
	return signed, nil
}

// Verify checks signature, issuer, and expiry, and confirms the token was
// issued for fingerprint. A valid token is equivalent to an allow_once
// approval for exactly that action.
func (s *ApprovalSigner) Verify(tokenStr, fingerprint string) error {
	claims := &ApprovalClaims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims,
		func(t *jwt.Token) (any, error) {
			if t.Method != jwt.SigningMethodHS256 {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return s.key, nil
		},
		jwt.WithIssuer(approvalIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return fmt.Errorf("auth: verify approval: %w", err)
	}
	if claims.Fingerprint != fingerprint {
		return errors.New("auth: approval issued for a different action")
	}
	return nil
}
