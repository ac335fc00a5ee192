package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MGallo-Code/justlinks/internal/store"
	"github.com/MGallo-Code/justlinks/internal/testutil"
)

// --- Helpers ---

func newTestAuthHandler(t *testing.T) (*AuthHandler, *testutil.MockSessionStore, *testutil.MockAuthority) {
	t.Helper()
	hs, sessions, authority := newTestHandshake(t)
	return &AuthHandler{
		Handshake: hs,
		Sessions:  sessions,
		RL:        &testutil.MockRateLimiter{},
		Cookie:    CookieConfig{Name: "ID", TTL: time.Hour},
	}, sessions, authority
}

func authzRequest(body string) *http.Request {
	return httptest.NewRequest(http.MethodPost, "/auth/authz", strings.NewReader(body))
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&m); err != nil {
		t.Fatalf("decoding response body: %v", err)
	}
	return m
}

func expectError(t *testing.T, rec *httptest.ResponseRecorder, status int, category string) {
	t.Helper()
	if rec.Code != status {
		t.Errorf("status: expected %d, got %d", status, rec.Code)
	}
	if got := decodeJSON(t, rec)["error"]; got != category {
		t.Errorf("error: expected %q, got %v", category, got)
	}
}

// --- Authn ---

func TestAuthn(t *testing.T) {
	t.Run("303 to authority without cookie", func(t *testing.T) {
		h, sessions, _ := newTestAuthHandler(t)
		rec := httptest.NewRecorder()
		h.Authn(rec, httptest.NewRequest(http.MethodPost, "/auth/authn", nil))

		if rec.Code != http.StatusSeeOther {
			t.Fatalf("status: expected 303, got %d", rec.Code)
		}
		loc := rec.Header().Get("Location")
		if !strings.HasPrefix(loc, "https://authority.example.com/auth/authorize?") {
			t.Errorf("unexpected Location %q", loc)
		}
		if len(rec.Result().Cookies()) != 0 {
			t.Error("authn must not set a cookie")
		}
		if sessions.Len() != 1 {
			t.Errorf("expected 1 pending record, got %d", sessions.Len())
		}
	})

	t.Run("rate limited per client ip", func(t *testing.T) {
		h, sessions, _ := newTestAuthHandler(t)
		rl := &testutil.MockRateLimiter{AllowErr: store.ErrRateLimitExceeded}
		h.RL = rl

		req := httptest.NewRequest(http.MethodPost, "/auth/authn", nil)
		req.RemoteAddr = "203.0.113.9:4711"
		rec := httptest.NewRecorder()
		h.Authn(rec, req)

		expectError(t, rec, http.StatusTooManyRequests, "Too Many Requests")
		if len(rl.Calls) != 1 || rl.Calls[0] != "authn:ip:203.0.113.9" {
			t.Errorf("unexpected limiter keys %v", rl.Calls)
		}
		if sessions.Len() != 0 {
			t.Error("rate-limited request must not start a handshake")
		}
	})

	t.Run("authority failure is 502", func(t *testing.T) {
		h, _, authority := newTestAuthHandler(t)
		authority.RequestTokenErr = errors.New("boom")
		rec := httptest.NewRecorder()
		h.Authn(rec, httptest.NewRequest(http.MethodPost, "/auth/authn", nil))

		expectError(t, rec, http.StatusBadGateway, "Bad Gateway")
	})

	t.Run("store failure is 503", func(t *testing.T) {
		h, sessions, _ := newTestAuthHandler(t)
		sessions.PutErr = store.ErrStoreUnavailable
		rec := httptest.NewRecorder()
		h.Authn(rec, httptest.NewRequest(http.MethodPost, "/auth/authn", nil))

		expectError(t, rec, http.StatusServiceUnavailable, "Service Unavailable")
	})
}

// --- Authz ---

func TestAuthz(t *testing.T) {
	t.Run("200 with username and new session cookie", func(t *testing.T) {
		h, sessions, _ := newTestAuthHandler(t)
		token := mustBegin(t, h.Handshake)

		rec := httptest.NewRecorder()
		h.Authz(rec, authzRequest(`{"state":"`+token+`"}`))

		if rec.Code != http.StatusOK {
			t.Fatalf("status: expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if got := decodeJSON(t, rec)["username"]; got != "reader" {
			t.Errorf("username: expected reader, got %v", got)
		}
		c := findCookie(t, rec.Result().Cookies(), "ID")
		key, err := SessionKey(c.Value)
		if err != nil {
			t.Fatalf("cookie is not a session id: %v", err)
		}
		if _, ok := sessions.Authorized()[key]; !ok {
			t.Error("cookie does not address the authorized record")
		}
		if c.MaxAge != 3600 || !c.HttpOnly || !c.Secure {
			t.Errorf("unexpected cookie attributes %+v", c)
		}
	})

	tests := []struct {
		name     string
		body     string
		status   int
		category string
	}{
		{"malformed json", `{"state":`, http.StatusBadRequest, "Bad Request"},
		{"missing state", `{}`, http.StatusBadRequest, "Bad Request"},
		{"garbage token", `{"state":"not-a-token"}`, http.StatusBadRequest, "Bad Request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, sessions, _ := newTestAuthHandler(t)
			rec := httptest.NewRecorder()
			h.Authz(rec, authzRequest(tt.body))

			expectError(t, rec, tt.status, tt.category)
			if len(rec.Result().Cookies()) != 0 {
				t.Error("failed authz must not set a cookie")
			}
			if sessions.Puts != 0 {
				t.Error("failed authz must not write the store")
			}
		})
	}

	t.Run("replayed token is 401", func(t *testing.T) {
		h, _, _ := newTestAuthHandler(t)
		token := mustBegin(t, h.Handshake)

		h.Authz(httptest.NewRecorder(), authzRequest(`{"state":"`+token+`"}`))
		rec := httptest.NewRecorder()
		h.Authz(rec, authzRequest(`{"state":"`+token+`"}`))

		expectError(t, rec, http.StatusUnauthorized, "Unauthorized")
	})

	t.Run("exchange failure is 502 without cookie", func(t *testing.T) {
		h, _, authority := newTestAuthHandler(t)
		token := mustBegin(t, h.Handshake)
		authority.AccessTokenErr = errors.New("rejected")

		rec := httptest.NewRecorder()
		h.Authz(rec, authzRequest(`{"state":"`+token+`"}`))

		expectError(t, rec, http.StatusBadGateway, "Bad Gateway")
		if len(rec.Result().Cookies()) != 0 {
			t.Error("failed authz must not set a cookie")
		}
	})

	t.Run("oversized body is 400", func(t *testing.T) {
		h, _, _ := newTestAuthHandler(t)
		rec := httptest.NewRecorder()
		h.Authz(rec, authzRequest(`{"state":"`+strings.Repeat("a", maxAuthzBody)+`"}`))

		expectError(t, rec, http.StatusBadRequest, "Bad Request")
	})
}

// --- GetSession ---

func TestGetSession(t *testing.T) {
	t.Run("authorized cookie reports username", func(t *testing.T) {
		h, sessions, _ := newTestAuthHandler(t)
		id := seedAuthorized(t, sessions, "reader")

		req := httptest.NewRequest(http.MethodGet, "/auth/session", nil)
		req.AddCookie(&http.Cookie{Name: "ID", Value: id})
		rec := httptest.NewRecorder()
		h.GetSession(rec, req)

		body := decodeJSON(t, rec)
		if rec.Code != http.StatusOK || body["hasSession"] != true || body["username"] != "reader" {
			t.Errorf("unexpected response %d %v", rec.Code, body)
		}
	})

	cases := map[string]func(*testutil.MockSessionStore) string{
		"no cookie":      func(*testutil.MockSessionStore) string { return "" },
		"unknown cookie": func(*testutil.MockSessionStore) string { id, _, _ := GenerateSessionID(); return id },
		"garbage cookie": func(*testutil.MockSessionStore) string { return "%%%" },
		"pending record": func(s *testutil.MockSessionStore) string {
			id, key, _ := GenerateSessionID()
			s.Records[key] = &store.PendingSession{RequestToken: "r", CSRFToken: "c"}
			return id
		},
		"store down": func(s *testutil.MockSessionStore) string {
			s.GetErr = store.ErrStoreUnavailable
			id, _, _ := GenerateSessionID()
			return id
		},
	}
	for name, setup := range cases {
		t.Run(name+" reports no session", func(t *testing.T) {
			h, sessions, _ := newTestAuthHandler(t)
			req := httptest.NewRequest(http.MethodGet, "/auth/session", nil)
			if v := setup(sessions); v != "" {
				req.AddCookie(&http.Cookie{Name: "ID", Value: v})
			}
			rec := httptest.NewRecorder()
			h.GetSession(rec, req)

			body := decodeJSON(t, rec)
			if rec.Code != http.StatusOK {
				t.Errorf("status: expected 200, got %d", rec.Code)
			}
			if body["hasSession"] != false {
				t.Errorf("hasSession: expected false, got %v", body["hasSession"])
			}
			if _, ok := body["username"]; ok {
				t.Error("username must be omitted")
			}
		})
	}
}

// --- Logout ---

func TestLogout(t *testing.T) {
	t.Run("deletes record and clears cookie", func(t *testing.T) {
		h, sessions, _ := newTestAuthHandler(t)
		id := seedAuthorized(t, sessions, "reader")

		req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
		req.AddCookie(&http.Cookie{Name: "ID", Value: id})
		rec := httptest.NewRecorder()
		h.Logout(rec, req)

		if rec.Code != http.StatusNoContent {
			t.Errorf("status: expected 204, got %d", rec.Code)
		}
		if sessions.Len() != 0 {
			t.Error("session record should be deleted")
		}
		if c := findCookie(t, rec.Result().Cookies(), "ID"); c.MaxAge >= 0 {
			t.Error("cookie should be cleared")
		}
	})

	t.Run("no session is still 204", func(t *testing.T) {
		h, _, _ := newTestAuthHandler(t)
		rec := httptest.NewRecorder()
		h.Logout(rec, httptest.NewRequest(http.MethodPost, "/auth/logout", nil))

		if rec.Code != http.StatusNoContent {
			t.Errorf("status: expected 204, got %d", rec.Code)
		}
	})

	t.Run("store failure is 503", func(t *testing.T) {
		h, sessions, _ := newTestAuthHandler(t)
		id := seedAuthorized(t, sessions, "reader")
		sessions.DeleteErr = store.ErrStoreUnavailable

		req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
		req.AddCookie(&http.Cookie{Name: "ID", Value: id})
		rec := httptest.NewRecorder()
		h.Logout(rec, req)

		expectError(t, rec, http.StatusServiceUnavailable, "Service Unavailable")
	})
}

// seedAuthorized stores an Authorized record and returns its cookie value.
func seedAuthorized(t *testing.T, sessions *testutil.MockSessionStore, username string) string {
	t.Helper()
	id, key, err := GenerateSessionID()
	if err != nil {
		t.Fatalf("GenerateSessionID: %v", err)
	}
	sessions.Records[key] = &store.AuthorizedSession{AccessToken: "access", Username: username}
	sessions.TTLs[key] = time.Hour
	return id
}
