// Package handshake issues and redeems the signed-then-encrypted state token that
// carries a pending authorization across the external authority's redirect.
//
// codec.go -- Claims, key pairs, Issue and Redeem.
// The codec is stateless: keys are passed on every call, so a rotation window
// just means passing the current and previous pair to Redeem.
package handshake

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4/jwt"
)

// MaxTokenLen bounds the attacker-controlled input Redeem will parse.
// Issued tokens are well under 1 KiB.
const MaxTokenLen = 4096

// Leeway tolerates small clock drift between replicas on the exp check.
// nbf gets none: a token is never accepted before it was issued.
const Leeway = 5 * time.Second

var (
	// ErrInvalidToken wraps every Redeem failure. Callers should only ever
	// branch on this; the wrapped cause is for server-side logs.
	ErrInvalidToken = errors.New("handshake token invalid")

	// ErrInvalidIssuer is wrapped when iss does not match the expected issuer.
	ErrInvalidIssuer = errors.New("handshake: unexpected issuer")

	// ErrExpired is wrapped when nbf is in the future or exp has passed.
	ErrExpired = errors.New("handshake: token outside validity window")

	// ErrIncompleteClaims is returned by Issue (and wrapped by Redeem) when a
	// required claim is empty.
	ErrIncompleteClaims = errors.New("handshake: incomplete claims")
)

// Claims is the handshake payload. Immutable once issued; the token is its only
// serialization.
type Claims struct {
	RequestToken string
	SessionID    string
	CSRFToken    string
	Issuer       string
	NotBefore    time.Time
	// Expiry is optional; zero means no exp claim is written.
	Expiry time.Time
}

// privateClaims is the JSON shape of the non-registered claims.
// Short names keep the token under URL length limits.
type privateClaims struct {
	RequestToken string `json:"rt"`
	SessionID    string `json:"sid"`
	CSRFToken    string `json:"csrf"`
}

// Keys is one signing/encryption key pair.
type Keys struct {
	Signing    []byte
	Encryption []byte
}

// Validate reports whether both keys have usable sizes.
func (k Keys) Validate() error {
	if len(k.Signing) < MinSigningKeyLen {
		return ErrSigningKey
	}
	if len(k.Encryption) != EncryptionKeyLen {
		return ErrEncryptionKey
	}
	return nil
}

func (c Claims) complete() bool {
	return c.RequestToken != "" && c.SessionID != "" && c.CSRFToken != "" &&
		c.Issuer != "" && !c.NotBefore.IsZero()
}

// Issue signs c with k.Signing, then encrypts the JWS with k.Encryption.
// Timestamps are carried at one-second precision.
func Issue(c Claims, k Keys) (string, error) {
	if !c.complete() {
		return "", ErrIncompleteClaims
	}
	registered := jwt.Claims{
		Issuer:    c.Issuer,
		NotBefore: jwt.NewNumericDate(c.NotBefore),
	}
	if !c.Expiry.IsZero() {
		registered.Expiry = jwt.NewNumericDate(c.Expiry)
	}
	private := privateClaims{
		RequestToken: c.RequestToken,
		SessionID:    c.SessionID,
		CSRFToken:    c.CSRFToken,
	}

	signed, err := Sign(k.Signing, registered, private)
	if err != nil {
		return "", err
	}
	return Encrypt(k.Encryption, signed)
}

// Redeem decrypts and verifies token, trying each key pair in order, then checks
// issuer and validity window against now. A future nbf is rejected outright;
// exp is allowed Leeway. Every failure wraps ErrInvalidToken.
func Redeem(token, issuer string, now time.Time, keys ...Keys) (*Claims, error) {
	if token == "" || len(token) > MaxTokenLen {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, ErrInvalidCiphertext)
	}
	if !canonical(token) {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, ErrInvalidCiphertext)
	}
	if issuer == "" || len(keys) == 0 {
		return nil, fmt.Errorf("%w: no issuer or keys configured", ErrInvalidToken)
	}

	var (
		registered jwt.Claims
		private    privateClaims
		cause      error = ErrInvalidCiphertext
		opened     bool
	)
	for _, k := range keys {
		signed, err := Decrypt(k.Encryption, token)
		if err != nil {
			continue
		}
		// Encryption key matched; the signature must verify under the same pair.
		if err := Verify(k.Signing, signed, &registered, &private); err != nil {
			cause = err
			continue
		}
		opened = true
		break
	}
	if !opened {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, cause)
	}

	if err := registered.ValidateWithLeeway(jwt.Expected{Issuer: issuer, Time: now}, Leeway); err != nil {
		if errors.Is(err, jwt.ErrInvalidIssuer) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidToken, ErrInvalidIssuer)
		}
		return nil, fmt.Errorf("%w: %w: %v", ErrInvalidToken, ErrExpired, err)
	}
	if registered.NotBefore == nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, ErrIncompleteClaims)
	}
	if now.Before(registered.NotBefore.Time()) {
		return nil, fmt.Errorf("%w: %w: nbf in the future", ErrInvalidToken, ErrExpired)
	}

	c := &Claims{
		RequestToken: private.RequestToken,
		SessionID:    private.SessionID,
		CSRFToken:    private.CSRFToken,
		Issuer:       registered.Issuer,
		NotBefore:    registered.NotBefore.Time(),
	}
	if registered.Expiry != nil {
		c.Expiry = registered.Expiry.Time()
	}
	if !c.complete() {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, ErrIncompleteClaims)
	}
	return c, nil
}

// canonical reports whether token is a five-segment compact JWE whose segments
// are strict RawURL base64. Lenient decoding ignores trailing padding bits, which
// would let two different strings decode to the same token.
func canonical(token string) bool {
	parts := strings.Split(token, ".")
	if len(parts) != 5 {
		return false
	}
	for _, p := range parts {
		if _, err := base64.RawURLEncoding.Strict().DecodeString(p); err != nil {
			return false
		}
	}
	return true
}
