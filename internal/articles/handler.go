// handler.go -- Protected endpoints reading and syncing the user's saved items.
package articles

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/MGallo-Code/justlinks/internal/auth"
	"github.com/MGallo-Code/justlinks/internal/pocket"
	"github.com/MGallo-Code/justlinks/internal/store"
	"github.com/gofrs/uuid/v5"
)

// DefaultWindow is how far back GET /articles looks.
const DefaultWindow = 7 * 24 * time.Hour

// Retriever fetches saved items from the external authority.
// Satisfied by *pocket.Client.
type Retriever interface {
	Retrieve(ctx context.Context, accessToken string, since time.Time) ([]pocket.Item, error)
}

// Sink persists synced items. Satisfied by *store.PostgresStore.
type Sink interface {
	UpsertArticle(ctx context.Context, userID uuid.UUID, a *store.Article) (int64, error)
	CountArticles(ctx context.Context, userID uuid.UUID) (int, error)
}

// UserStore resolves the session's username to a user row.
// Satisfied by *store.PostgresStore.
type UserStore interface {
	// GetUserByUsername returns store.ErrUnknownUser when no row exists.
	GetUserByUsername(ctx context.Context, username string) (*store.User, error)
	CreateUserIfNotExists(ctx context.Context, id uuid.UUID, username string) (*store.User, error)
}

// Handler serves /articles. Routes must sit behind auth.RequireSession.
type Handler struct {
	Retriever Retriever
	Sink      Sink
	Users     UserStore

	Window      time.Duration // GET lookback; DefaultWindow when zero
	Concurrency int           // parallel upserts during sync; 4 when zero

	Now func() time.Time
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *Handler) window() time.Duration {
	if h.Window > 0 {
		return h.Window
	}
	return DefaultWindow
}

// List handles GET /articles -- items saved or changed within the window.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	sess, ok := auth.SessionFromContext(r.Context())
	if !ok {
		auth.WriteError(w, r, auth.ErrUnauthenticated)
		return
	}

	items, err := h.Retriever.Retrieve(r.Context(), sess.AccessToken, h.now().Add(-h.window()))
	if err != nil {
		auth.WriteError(w, r, fmt.Errorf("%w: %w", auth.ErrExternalAuth, err))
		return
	}
	auth.WriteJSON(w, http.StatusOK, map[string]any{"articles": items})
}

// Sync handles POST /articles/sync -- pulls items changed since ?since=<unix
// seconds> (all items when absent) and upserts them, streaming progress as SSE.
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	sess, ok := auth.SessionFromContext(r.Context())
	if !ok {
		auth.WriteError(w, r, auth.ErrUnauthenticated)
		return
	}

	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		secs, err := strconv.ParseInt(v, 10, 64)
		if err != nil || secs < 0 {
			auth.WriteError(w, r, fmt.Errorf("%w: since must be unix seconds", auth.ErrMalformedRequest))
			return
		}
		since = time.Unix(secs, 0)
	}

	user, err := h.resolveUser(r.Context(), sess.Username)
	if err != nil {
		auth.WriteError(w, r, fmt.Errorf("%w: resolving user: %w", auth.ErrStoreUnavailable, err))
		return
	}

	run := syncRun{
		h:           h,
		userID:      user.ID,
		accessToken: sess.AccessToken,
		since:       since,
	}
	if err := stream(w, r, run.events(r.Context())); err != nil {
		logError(r, "sync stream failed", "error", err)
	}
}

// resolveUser looks up the row the handshake created. Sessions issued without
// user bookkeeping get their row on first sync.
func (h *Handler) resolveUser(ctx context.Context, username string) (*store.User, error) {
	user, err := h.Users.GetUserByUsername(ctx, username)
	if !errors.Is(err, store.ErrUnknownUser) {
		return user, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	return h.Users.CreateUserIfNotExists(ctx, id, username)
}
