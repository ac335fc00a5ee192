// handler.go -- AuthHandler dependencies and the store/authority contracts it consumes.
package auth

import (
	"context"
	"time"

	"github.com/MGallo-Code/justlinks/internal/store"
	"github.com/gofrs/uuid/v5"
)

// SessionStore holds Pending and Authorized session records keyed by HashID output.
// Satisfied by *store.RedisStore -- defined here (at consumer) per Go convention.
type SessionStore interface {
	// Put upserts rec under key. ttl must be positive.
	Put(ctx context.Context, key string, rec store.SessionRecord, ttl time.Duration) error

	// Get returns store.ErrSessionNotFound on miss.
	Get(ctx context.Context, key string) (store.SessionRecord, error)

	// Take atomically reads and deletes key; the single-use gate for redemption.
	Take(ctx context.Context, key string) (store.SessionRecord, error)

	// Delete is idempotent.
	Delete(ctx context.Context, key string) error
}

// UserStore records accounts that completed a handshake.
// Satisfied by *store.PostgresStore.
type UserStore interface {
	CreateUserIfNotExists(ctx context.Context, id uuid.UUID, username string) (*store.User, error)
}

// Authority is the external service issuing request and access tokens.
// Satisfied by *pocket.Client.
type Authority interface {
	// RequestToken obtains a fresh request token for a new handshake.
	RequestToken(ctx context.Context) (string, error)

	// AccessToken exchanges an approved request token for an access token and username.
	AccessToken(ctx context.Context, requestToken string) (accessToken, username string, err error)

	// AuthorizeURL builds the consent URL carrying the request token and state.
	AuthorizeURL(requestToken, state string) (string, error)
}

// RateLimiter checks and records rate limit state for a given key and policy.
// Satisfied by *store.RedisRateLimiter.
type RateLimiter interface {
	// Allow returns nil if allowed, store.ErrRateLimitExceeded when over budget.
	Allow(ctx context.Context, key string, policy store.RateLimit) error
}

// HealthChecker is anything /health-check can ping.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// AuthHandler holds dependencies for the /auth/* handlers and session middleware.
type AuthHandler struct {
	Handshake *Handshake
	Sessions  SessionStore
	RL        RateLimiter

	// AuthnPolicy limits handshake starts per client IP. Zero disables limiting.
	AuthnPolicy store.RateLimit

	// Cookie carries the session identifier to the browser.
	Cookie CookieConfig
}
