// handshake.go -- The Pending -> Authorized handshake state machine.
//
// Begin: request token, Pending record, handshake token, authorize URL.
// Complete: redeem token, take Pending, CSRF check, exchange, then an
// Authorized record under a fresh identifier.
// Not resumable: any failure sends the browser back to Begin.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MGallo-Code/justlinks/internal/handshake"
	"github.com/MGallo-Code/justlinks/internal/store"
	"github.com/gofrs/uuid/v5"
)

// Handshake drives the authorization handshake. Safe for concurrent use;
// it holds no per-handshake state.
type Handshake struct {
	Sessions  SessionStore
	Authority Authority
	Users     UserStore // nil skips user bookkeeping

	// Keys[0] issues tokens; every entry is tried on redemption (rotation window).
	Keys   []handshake.Keys
	Issuer string

	PendingTTL       time.Duration
	SessionTTL       time.Duration
	AuthorityTimeout time.Duration

	Now func() time.Time // defaults to time.Now
}

// Redirect is the outcome of Begin: where to send the browser.
type Redirect struct {
	URL string
}

// Authorized is the outcome of Complete. SessionID is the new plaintext
// identifier for the cookie; it is never stored.
type Authorized struct {
	SessionID string
	Username  string
}

func (h *Handshake) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// authorityCtx bounds a call to the external authority.
func (h *Handshake) authorityCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.AuthorityTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, h.AuthorityTimeout)
}

// Begin starts a handshake: stores a Pending record and returns the authorize
// URL carrying the handshake token. No cookie is involved.
func (h *Handshake) Begin(ctx context.Context) (*Redirect, error) {
	if len(h.Keys) == 0 {
		return nil, errors.New("handshake: no keys configured")
	}

	actx, cancel := h.authorityCtx(ctx)
	requestToken, err := h.Authority.RequestToken(actx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExternalAuth, err)
	}

	csrfToken, err := GenerateCSRFToken()
	if err != nil {
		return nil, err
	}
	sid, key, err := GenerateSessionID()
	if err != nil {
		return nil, err
	}

	pending := &store.PendingSession{RequestToken: requestToken, CSRFToken: csrfToken}
	if err := h.Sessions.Put(ctx, key, pending, h.PendingTTL); err != nil {
		return nil, fmt.Errorf("storing pending session: %w", err)
	}

	// No exp claim: the Pending record's TTL bounds the token's useful life.
	now := h.now()
	token, err := handshake.Issue(handshake.Claims{
		RequestToken: requestToken,
		SessionID:    sid,
		CSRFToken:    csrfToken,
		Issuer:       h.Issuer,
		NotBefore:    now,
	}, h.Keys[0])
	if err != nil {
		return nil, fmt.Errorf("issuing handshake token: %w", err)
	}

	u, err := h.Authority.AuthorizeURL(requestToken, token)
	if err != nil {
		return nil, fmt.Errorf("building authorize url: %w", err)
	}
	return &Redirect{URL: u}, nil
}

// Complete redeems a handshake token and rotates its Pending session into an
// Authorized one under a new identifier.
//
// The Pending record is consumed atomically before the CSRF comparison, so a
// token can be redeemed at most once and a mismatch leaves nothing to retry.
func (h *Handshake) Complete(ctx context.Context, token string) (*Authorized, error) {
	claims, err := handshake.Redeem(token, h.Issuer, h.now(), h.Keys...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	key, err := SessionKey(claims.SessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	rec, err := h.Sessions.Take(ctx, key)
	switch {
	case errors.Is(err, store.ErrSessionNotFound), errors.Is(err, store.ErrSessionCorrupt):
		return nil, fmt.Errorf("%w: %w", ErrSessionExpired, err)
	case err != nil:
		return nil, fmt.Errorf("taking pending session: %w", err)
	}
	pending, ok := rec.(*store.PendingSession)
	if !ok {
		return nil, fmt.Errorf("%w: record is not pending", ErrSessionExpired)
	}

	if !ValidateCSRFToken(claims.CSRFToken, pending.CSRFToken) {
		return nil, ErrCSRFMismatch
	}

	// Only the request token sealed in the handshake token is ever exchanged.
	actx, cancel := h.authorityCtx(ctx)
	accessToken, username, err := h.Authority.AccessToken(actx, claims.RequestToken)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExternalAuth, err)
	}

	// Take already removed it; a failure here only leaves a record to expire.
	if err := h.Sessions.Delete(ctx, key); err != nil {
		slog.WarnContext(ctx, "failed to delete pending session", "error", err)
	}

	if h.Users != nil {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("generating user id: %w", err)
		}
		if _, err := h.Users.CreateUserIfNotExists(ctx, id, username); err != nil {
			return nil, fmt.Errorf("%w: recording user: %w", ErrStoreUnavailable, err)
		}
	}

	newID, newKey, err := GenerateSessionID()
	if err != nil {
		return nil, err
	}
	authorized := &store.AuthorizedSession{AccessToken: accessToken, Username: username}
	if err := h.Sessions.Put(ctx, newKey, authorized, h.SessionTTL); err != nil {
		return nil, fmt.Errorf("storing authorized session: %w", err)
	}
	return &Authorized{SessionID: newID, Username: username}, nil
}
