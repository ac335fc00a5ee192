// session.go

// Session identifier generation, hashing and cookie management.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"
)

// sessionIDLen is the raw identifier size in bytes (256 bits).
const sessionIDLen = 32

// GenerateSessionID returns a 256-bit random identifier for the cookie and its
// store key. Callers persist only key; id goes to the browser.
func GenerateSessionID() (id string, key string, err error) {
	var raw [sessionIDLen]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", "", fmt.Errorf("generating session id with rand: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), HashID(raw[:]), nil
}

// HashID returns the store key for raw identifier bytes:
// SHA-256, base64url without padding, always 43 characters.
func HashID(id []byte) string {
	sum := sha256.Sum256(id)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// SessionKey decodes a transported identifier and returns its store key.
// Identifiers that are not exactly 32 bytes of base64url are rejected.
func SessionKey(id string) (string, error) {
	raw, err := base64.RawURLEncoding.Strict().DecodeString(id)
	if err != nil {
		return "", fmt.Errorf("decoding session id: %w", err)
	}
	if len(raw) != sessionIDLen {
		return "", fmt.Errorf("decoding session id: got %d bytes, want %d", len(raw), sessionIDLen)
	}
	return HashID(raw), nil
}

// CookieConfig names and scopes the session cookie.
type CookieConfig struct {
	Name   string
	Domain string
	TTL    time.Duration
}

// SetSessionCookie writes the session cookie with HttpOnly, Secure, SameSite=Lax.
// Max-Age matches the Authorized record's TTL.
func SetSessionCookie(w http.ResponseWriter, cc CookieConfig, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     cc.Name,
		Value:    id,
		Path:     "/",
		Domain:   cc.Domain,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(cc.TTL.Seconds()),
	})
}

// ClearSessionCookie overwrites the session cookie with MaxAge=-1 to trigger browser deletion.
func ClearSessionCookie(w http.ResponseWriter, cc CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     cc.Name,
		Value:    "",
		Path:     "/",
		Domain:   cc.Domain,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}
