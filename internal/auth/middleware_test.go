// middleware_test.go

// unit tests for LoadSession and RequireSession.
package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MGallo-Code/justlinks/internal/store"
	"github.com/MGallo-Code/justlinks/internal/testutil"
)

// --- LoadSession ---

func TestLoadSession(t *testing.T) {
	ctx := context.Background()

	t.Run("returns authorized record and key", func(t *testing.T) {
		sessions := testutil.NewMockSessionStore()
		id := seedAuthorized(t, sessions, "reader")
		wantKey, _ := SessionKey(id)

		key, sess, err := LoadSession(ctx, sessions, id)
		if err != nil {
			t.Fatalf("LoadSession: %v", err)
		}
		if key != wantKey {
			t.Error("key mismatch")
		}
		if sess.Username != "reader" || sess.AccessToken != "access" {
			t.Errorf("unexpected session %+v", *sess)
		}
	})

	t.Run("does not mutate the store", func(t *testing.T) {
		sessions := testutil.NewMockSessionStore()
		id := seedAuthorized(t, sessions, "reader")
		sessions.PutErr = errors.New("no writes")
		sessions.DeleteErr = errors.New("no writes")
		sessions.TakeErr = errors.New("no writes")

		if _, _, err := LoadSession(ctx, sessions, id); err != nil {
			t.Fatalf("LoadSession: %v", err)
		}
		if sessions.Len() != 1 {
			t.Error("record count changed")
		}
	})

	pendingID, pendingKey, _ := GenerateSessionID()
	unknownID, _, _ := GenerateSessionID()
	cases := []struct {
		name   string
		cookie string
	}{
		{"empty cookie", ""},
		{"undecodable cookie", "not base64 !"},
		{"unknown id", unknownID},
		{"pending record", pendingID},
	}
	for _, tc := range cases {
		t.Run(tc.name+" is ErrUnauthenticated", func(t *testing.T) {
			sessions := testutil.NewMockSessionStore()
			sessions.Records[pendingKey] = &store.PendingSession{RequestToken: "r", CSRFToken: "c"}

			_, sess, err := LoadSession(ctx, sessions, tc.cookie)
			if !errors.Is(err, ErrUnauthenticated) {
				t.Errorf("expected ErrUnauthenticated, got %v", err)
			}
			if sess != nil {
				t.Error("expected nil session")
			}
		})
	}

	t.Run("store failure is not unauthenticated", func(t *testing.T) {
		sessions := testutil.NewMockSessionStore()
		sessions.GetErr = store.ErrStoreUnavailable

		_, _, err := LoadSession(ctx, sessions, unknownID)
		if errors.Is(err, ErrUnauthenticated) {
			t.Error("infrastructure failure must not read as unauthenticated")
		}
		if !errors.Is(err, ErrStoreUnavailable) {
			t.Errorf("expected ErrStoreUnavailable, got %v", err)
		}
	})
}

// --- RequireSession ---

func TestRequireSession(t *testing.T) {
	t.Run("injects session into context", func(t *testing.T) {
		h, sessions, _ := newTestAuthHandler(t)
		id := seedAuthorized(t, sessions, "reader")

		var got *store.AuthorizedSession
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, _ = SessionFromContext(r.Context())
			w.WriteHeader(http.StatusOK)
		})

		req := httptest.NewRequest(http.MethodGet, "/articles", nil)
		req.AddCookie(&http.Cookie{Name: "ID", Value: id})
		rec := httptest.NewRecorder()
		h.RequireSession(next).ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status: expected 200, got %d", rec.Code)
		}
		if got == nil || got.Username != "reader" {
			t.Errorf("unexpected session in context %+v", got)
		}
	})

	t.Run("missing cookie is 401 and next is not called", func(t *testing.T) {
		h, _, _ := newTestAuthHandler(t)
		called := false
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

		rec := httptest.NewRecorder()
		h.RequireSession(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/articles", nil))

		expectError(t, rec, http.StatusUnauthorized, "Unauthorized")
		if called {
			t.Error("next handler must not run")
		}
	})

	t.Run("store failure is 503", func(t *testing.T) {
		h, sessions, _ := newTestAuthHandler(t)
		id := seedAuthorized(t, sessions, "reader")
		sessions.GetErr = store.ErrStoreUnavailable

		req := httptest.NewRequest(http.MethodGet, "/articles", nil)
		req.AddCookie(&http.Cookie{Name: "ID", Value: id})
		rec := httptest.NewRecorder()
		h.RequireSession(http.NotFoundHandler()).ServeHTTP(rec, req)

		expectError(t, rec, http.StatusServiceUnavailable, "Service Unavailable")
	})
}

// --- SessionFromContext ---

func TestSessionFromContext(t *testing.T) {
	if _, ok := SessionFromContext(context.Background()); ok {
		t.Error("empty context should report no session")
	}
	sess := &store.AuthorizedSession{AccessToken: "a", Username: "reader"}
	got, ok := SessionFromContext(WithSession(context.Background(), sess))
	if !ok || got != sess {
		t.Error("WithSession value not returned by SessionFromContext")
	}
}
