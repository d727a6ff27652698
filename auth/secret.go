package auth

import "crypto/subtle"

// OperatorSecret is the shared secret that grants operator status.
// The zero value matches nothing, so a deployment without a configured
// secret has no operator access rather than open operator access.
type OperatorSecret string

// Verify reports whether candidate matches the secret. The comparison
// is constant-time. An empty secret never verifies.
func (s OperatorSecret) Verify(candidate string) bool {
	if s == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(s), []byte(candidate)) == 1
}
