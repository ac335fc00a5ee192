// middleware.go

// Authorized-session extraction for protected endpoints.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/MGallo-Code/justlinks/internal/store"
)

// contextKey is unexported to prevent collisions with other packages using the same context.
type contextKey string

const sessionKey contextKey = "session"

// SessionFromContext returns the Authorized record injected by RequireSession.
func SessionFromContext(ctx context.Context) (*store.AuthorizedSession, bool) {
	s, ok := ctx.Value(sessionKey).(*store.AuthorizedSession)
	return s, ok
}

// WithSession returns ctx carrying sess.
func WithSession(ctx context.Context, sess *store.AuthorizedSession) context.Context {
	return context.WithValue(ctx, sessionKey, sess)
}

// LoadSession resolves a cookie value to its Authorized record. Read-only.
// A missing or undecodable cookie, a miss, or a Pending record all yield
// ErrUnauthenticated; infrastructure failures are returned as-is.
func LoadSession(ctx context.Context, sessions SessionStore, cookieValue string) (string, *store.AuthorizedSession, error) {
	if cookieValue == "" {
		return "", nil, fmt.Errorf("%w: no session cookie", ErrUnauthenticated)
	}
	key, err := SessionKey(cookieValue)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	rec, err := sessions.Get(ctx, key)
	switch {
	case errors.Is(err, store.ErrSessionNotFound), errors.Is(err, store.ErrSessionCorrupt):
		return "", nil, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	case err != nil:
		return "", nil, err
	}
	authorized, ok := rec.(*store.AuthorizedSession)
	if !ok {
		return "", nil, fmt.Errorf("%w: session not authorized", ErrUnauthenticated)
	}
	return key, authorized, nil
}

// cookieValue returns the session cookie value or "" if absent.
func (h *AuthHandler) cookieValue(r *http.Request) string {
	c, err := r.Cookie(h.Cookie.Name)
	if err != nil {
		return ""
	}
	return c.Value
}

// RequireSession rejects requests without an Authorized session with 401 and
// injects the record into context for downstream handlers.
func (h *AuthHandler) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, sess, err := LoadSession(r.Context(), h.Sessions, h.cookieValue(r))
		if err != nil {
			WriteError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), sess)))
	})
}
