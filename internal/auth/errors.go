// errors.go -- Error taxonomy for the handshake and session endpoints.
//
// Every failure that reaches a handler is one of these sentinels (possibly
// wrapped). writeError maps them to a status and a category string; the
// wrapped cause is logged server-side only.
package auth

import (
	"errors"

	"github.com/MGallo-Code/justlinks/internal/store"
)

var (
	// ErrExternalAuth means the external authority was unreachable, timed out or rejected us.
	ErrExternalAuth = errors.New("external authority failed")

	// ErrInvalidToken covers every handshake token failure: bad ciphertext,
	// bad signature, wrong issuer, not yet valid or expired.
	ErrInvalidToken = errors.New("invalid handshake token")

	// ErrSessionExpired means no Pending record exists for the token's session.
	ErrSessionExpired = errors.New("session expired")

	// ErrCSRFMismatch means the token's CSRF value differs from the stored one.
	ErrCSRFMismatch = errors.New("csrf token mismatch")

	// ErrStoreUnavailable is the store package's infrastructure error.
	ErrStoreUnavailable = store.ErrStoreUnavailable

	// ErrMalformedRequest means the request body or parameters could not be parsed.
	ErrMalformedRequest = errors.New("malformed request")

	// ErrUnauthenticated means the request carries no usable Authorized session.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrRateLimited is returned when the caller is over its attempt budget.
	ErrRateLimited = store.ErrRateLimitExceeded
)
