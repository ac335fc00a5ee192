// handshake_handler.go -- HTTP handlers for /auth/*.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// maxAuthzBody caps the /auth/authz body; a handshake token is well under 4 KiB.
const maxAuthzBody = 8 << 10

// clientIP strips the port RemoteAddr carries when RealIP did not rewrite it.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// Authn handles POST /auth/authn -- starts a handshake and answers 303 to the
// external authority's consent page. Sets no cookie.
func (h *AuthHandler) Authn(w http.ResponseWriter, r *http.Request) {
	if h.RL != nil {
		if err := h.RL.Allow(r.Context(), "authn:ip:"+clientIP(r), h.AuthnPolicy); err != nil {
			WriteError(w, r, err)
			return
		}
	}

	redirect, err := h.Handshake.Begin(r.Context())
	if err != nil {
		WriteError(w, r, err)
		return
	}

	logDebug(r, "handshake started")
	w.Header().Set("Location", redirect.URL)
	w.WriteHeader(http.StatusSeeOther)
}

// Authz handles POST /auth/authz -- redeems {"state": <token>}, sets the new
// session cookie and returns {"username"}.
func (h *AuthHandler) Authz(w http.ResponseWriter, r *http.Request) {
	var input struct {
		State string `json:"state"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAuthzBody)).Decode(&input); err != nil {
		WriteError(w, r, fmt.Errorf("%w: decoding authz body: %w", ErrMalformedRequest, err))
		return
	}
	if input.State == "" {
		WriteError(w, r, fmt.Errorf("%w: missing state", ErrMalformedRequest))
		return
	}

	authorized, err := h.Handshake.Complete(r.Context(), input.State)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	SetSessionCookie(w, h.Cookie, authorized.SessionID)
	logInfo(r, "handshake completed", "username", authorized.Username)
	WriteJSON(w, http.StatusOK, map[string]string{"username": authorized.Username})
}

// sessionResponse is the GET /auth/session body.
type sessionResponse struct {
	HasSession bool   `json:"hasSession"`
	Username   string `json:"username,omitempty"`
}

// GetSession handles GET /auth/session -- always 200. A missing, expired or
// still-pending session reads as {"hasSession": false}.
func (h *AuthHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	_, sess, err := LoadSession(r.Context(), h.Sessions, h.cookieValue(r))
	if err != nil {
		if !errors.Is(err, ErrUnauthenticated) {
			logError(r, "session lookup failed", "error", err)
		}
		WriteJSON(w, http.StatusOK, sessionResponse{HasSession: false})
		return
	}
	WriteJSON(w, http.StatusOK, sessionResponse{HasSession: true, Username: sess.Username})
}

// Logout handles POST /auth/logout -- deletes the session record if any and
// clears the cookie. Idempotent: no session still answers 204.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if v := h.cookieValue(r); v != "" {
		if key, err := SessionKey(v); err == nil {
			if err := h.Sessions.Delete(r.Context(), key); err != nil {
				WriteError(w, r, err)
				return
			}
		}
	}
	ClearSessionCookie(w, h.Cookie)
	logInfo(r, "session ended")
	w.WriteHeader(http.StatusNoContent)
}
