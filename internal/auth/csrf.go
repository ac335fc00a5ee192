// csrf.go -- Handshake-bound CSRF token generation and comparison.
//
// The token is minted at handshake start, stored in the Pending record and
// embedded in the handshake token; redemption requires both copies to match.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

// GenerateCSRFToken returns a 256-bit random token, base64url encoded.
// Same entropy source as session identifiers.
func GenerateCSRFToken() (string, error) {
	var token [32]byte
	if _, err := rand.Read(token[:]); err != nil {
		return "", fmt.Errorf("generating csrf token with rand: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(token[:]), nil
}

// ValidateCSRFToken compares provided against stored in constant time.
// Empty values never match.
func ValidateCSRFToken(provided, stored string) bool {
	if provided == "" || stored == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(stored)) == 1
}
