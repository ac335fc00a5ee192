package articles

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/MGallo-Code/justlinks/internal/auth"
	"github.com/MGallo-Code/justlinks/internal/pocket"
	"github.com/MGallo-Code/justlinks/internal/store"
	"github.com/MGallo-Code/justlinks/internal/testutil"
	"github.com/gofrs/uuid/v5"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testItems(t *testing.T, ids ...string) []pocket.Item {
	t.Helper()
	items := make([]pocket.Item, 0, len(ids))
	for i, id := range ids {
		raw := `{"item_id":"` + id + `","given_url":"https://example.com/` + id + `","status":"0","sort_id":` + strconv.Itoa(i) + `}`
		var it pocket.Item
		if err := json.Unmarshal([]byte(raw), &it); err != nil {
			t.Fatalf("decoding item fixture: %v", err)
		}
		items = append(items, it)
	}
	return items
}

type testDeps struct {
	retriever *testutil.MockRetriever
	sink      *testutil.MockArticleSink
	users     *testutil.MockUserStore
}

func newTestHandler(t *testing.T, items []pocket.Item) (*Handler, *testDeps) {
	t.Helper()
	d := &testDeps{
		retriever: &testutil.MockRetriever{Items: items},
		sink:      testutil.NewMockArticleSink(),
		users:     testutil.NewMockUserStore(),
	}
	h := &Handler{
		Retriever:   d.retriever,
		Sink:        d.sink,
		Users:       d.users,
		Concurrency: 2,
		Now:         func() time.Time { return testNow },
	}
	return h, d
}

func withSession(r *http.Request) *http.Request {
	sess := &store.AuthorizedSession{AccessToken: "access-tok", Username: "reader"}
	return r.WithContext(auth.WithSession(r.Context(), sess))
}

type sseEvent struct {
	ID   string
	Type string
	Data string
}

func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var (
		events []sseEvent
		cur    sseEvent
	)
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			events = append(events, cur)
			cur = sseEvent{}
		case strings.HasPrefix(line, "id: "):
			cur.ID = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "event: "):
			cur.Type = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.Data = strings.TrimPrefix(line, "data: ")
		}
	}
	return events
}

func decodeProgress(t *testing.T, data string) Progress {
	t.Helper()
	var p Progress
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		t.Fatalf("decoding progress %q: %v", data, err)
	}
	return p
}

// --- List ---

func TestList(t *testing.T) {
	t.Run("returns items from the lookback window", func(t *testing.T) {
		h, d := newTestHandler(t, testItems(t, "11", "22"))
		rec := httptest.NewRecorder()
		h.List(rec, withSession(httptest.NewRequest(http.MethodGet, "/articles", nil)))

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var body struct {
			Articles []map[string]any `json:"articles"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decoding body: %v", err)
		}
		if len(body.Articles) != 2 {
			t.Fatalf("expected 2 articles, got %d", len(body.Articles))
		}
		if body.Articles[0]["item_id"] != "11" {
			t.Errorf("expected first item 11, got %v", body.Articles[0]["item_id"])
		}
		if d.retriever.Token != "access-tok" {
			t.Errorf("expected session access token, got %q", d.retriever.Token)
		}
		if want := testNow.Add(-DefaultWindow); !d.retriever.Calls[0].Equal(want) {
			t.Errorf("since: expected %v, got %v", want, d.retriever.Calls[0])
		}
	})

	t.Run("custom window", func(t *testing.T) {
		h, d := newTestHandler(t, nil)
		h.Window = time.Hour
		h.List(httptest.NewRecorder(), withSession(httptest.NewRequest(http.MethodGet, "/articles", nil)))
		if want := testNow.Add(-time.Hour); !d.retriever.Calls[0].Equal(want) {
			t.Errorf("since: expected %v, got %v", want, d.retriever.Calls[0])
		}
	})

	t.Run("authority failure returns 502", func(t *testing.T) {
		h, d := newTestHandler(t, nil)
		d.retriever.RetrieveErr = errors.New("upstream down")
		rec := httptest.NewRecorder()
		h.List(rec, withSession(httptest.NewRequest(http.MethodGet, "/articles", nil)))
		if rec.Code != http.StatusBadGateway {
			t.Errorf("expected 502, got %d", rec.Code)
		}
		if strings.Contains(rec.Body.String(), "upstream down") {
			t.Error("internal error detail leaked to client")
		}
	})

	t.Run("no session returns 401", func(t *testing.T) {
		h, d := newTestHandler(t, nil)
		rec := httptest.NewRecorder()
		h.List(rec, httptest.NewRequest(http.MethodGet, "/articles", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rec.Code)
		}
		if len(d.retriever.Calls) != 0 {
			t.Error("retriever must not be called without a session")
		}
	})
}

// --- Sync ---

func TestSync(t *testing.T) {
	t.Run("streams progress then done", func(t *testing.T) {
		h, d := newTestHandler(t, testItems(t, "1", "2", "3"))
		rec := httptest.NewRecorder()
		h.Sync(rec, withSession(httptest.NewRequest(http.MethodPost, "/articles/sync", nil)))

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		events := parseSSE(t, rec.Body.String())
		if len(events) != 4 {
			t.Fatalf("expected 3 progress + 1 done, got %d events: %q", len(events), rec.Body.String())
		}
		for i, ev := range events[:3] {
			if ev.Type != EventProgress {
				t.Errorf("event %d: expected progress, got %q", i, ev.Type)
			}
			if p := decodeProgress(t, ev.Data); p.Synced != i+1 || p.Total != 3 {
				t.Errorf("event %d: unexpected progress %+v", i, p)
			}
		}
		done := events[3]
		if done.Type != EventDone {
			t.Fatalf("expected done, got %q", done.Type)
		}
		if p := decodeProgress(t, done.Data); p != (Progress{Synced: 3, Total: 3, Stored: 3}) {
			t.Errorf("unexpected done payload %+v", p)
		}
		if d.sink.Len() != 3 {
			t.Errorf("expected 3 upserted articles, got %d", d.sink.Len())
		}
		if _, ok := d.users.Users["reader"]; !ok {
			t.Error("expected user row for session username")
		}
		if !d.retriever.Calls[0].IsZero() {
			t.Errorf("expected full sync (zero since), got %v", d.retriever.Calls[0])
		}
	})

	t.Run("upsert failures are counted", func(t *testing.T) {
		h, d := newTestHandler(t, testItems(t, "1", "2", "3", "4"))
		d.sink.FailItems = map[string]bool{"2": true, "4": true}
		rec := httptest.NewRecorder()
		h.Sync(rec, withSession(httptest.NewRequest(http.MethodPost, "/articles/sync", nil)))

		events := parseSSE(t, rec.Body.String())
		last := events[len(events)-1]
		if last.Type != EventDone {
			t.Fatalf("expected done last, got %q", last.Type)
		}
		if p := decodeProgress(t, last.Data); p != (Progress{Synced: 2, Failed: 2, Total: 4, Stored: 2}) {
			t.Errorf("unexpected done payload %+v", p)
		}
	})

	t.Run("since parameter is forwarded", func(t *testing.T) {
		h, d := newTestHandler(t, nil)
		rec := httptest.NewRecorder()
		h.Sync(rec, withSession(httptest.NewRequest(http.MethodPost, "/articles/sync?since=1700000000", nil)))
		if want := time.Unix(1700000000, 0); !d.retriever.Calls[0].Equal(want) {
			t.Errorf("since: expected %v, got %v", want, d.retriever.Calls[0])
		}
		events := parseSSE(t, rec.Body.String())
		if len(events) != 1 || events[0].Type != EventDone {
			t.Errorf("empty sync: expected a single done event, got %+v", events)
		}
	})

	t.Run("invalid since returns 400", func(t *testing.T) {
		for _, v := range []string{"yesterday", "-5"} {
			h, d := newTestHandler(t, nil)
			rec := httptest.NewRecorder()
			h.Sync(rec, withSession(httptest.NewRequest(http.MethodPost, "/articles/sync?since="+v, nil)))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("since=%s: expected 400, got %d", v, rec.Code)
			}
			if len(d.retriever.Calls) != 0 {
				t.Errorf("since=%s: retriever must not be called", v)
			}
		}
	})

	t.Run("retrieval failure emits error event", func(t *testing.T) {
		h, d := newTestHandler(t, nil)
		d.retriever.RetrieveErr = errors.New("upstream down")
		rec := httptest.NewRecorder()
		h.Sync(rec, withSession(httptest.NewRequest(http.MethodPost, "/articles/sync", nil)))

		events := parseSSE(t, rec.Body.String())
		if len(events) != 1 || events[0].Type != EventError {
			t.Fatalf("expected single error event, got %+v", events)
		}
		if strings.Contains(events[0].Data, "upstream down") {
			t.Error("internal error detail leaked to client")
		}
	})

	t.Run("reuses the user row created at login", func(t *testing.T) {
		h, d := newTestHandler(t, testItems(t, "1"))
		existing, _ := d.users.CreateUserIfNotExists(context.Background(), uuid.Must(uuid.NewV7()), "reader")
		d.users.CreateErr = errors.New("create must not be called")

		rec := httptest.NewRecorder()
		h.Sync(rec, withSession(httptest.NewRequest(http.MethodPost, "/articles/sync", nil)))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if got := d.users.Users["reader"]; got.ID != existing.ID {
			t.Errorf("expected existing user %v, got %v", existing.ID, got.ID)
		}
	})

	t.Run("stored count failure still finishes the run", func(t *testing.T) {
		h, d := newTestHandler(t, testItems(t, "1", "2"))
		d.sink.CountErr = errors.New("pg down")
		rec := httptest.NewRecorder()
		h.Sync(rec, withSession(httptest.NewRequest(http.MethodPost, "/articles/sync", nil)))

		events := parseSSE(t, rec.Body.String())
		last := events[len(events)-1]
		if last.Type != EventDone {
			t.Fatalf("expected done last, got %q", last.Type)
		}
		if p := decodeProgress(t, last.Data); p != (Progress{Synced: 2, Total: 2}) {
			t.Errorf("unexpected done payload %+v", p)
		}
	})

	t.Run("user lookup failure returns 503", func(t *testing.T) {
		h, d := newTestHandler(t, testItems(t, "1"))
		d.users.GetErr = errors.New("pg down")
		rec := httptest.NewRecorder()
		h.Sync(rec, withSession(httptest.NewRequest(http.MethodPost, "/articles/sync", nil)))
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("expected 503, got %d", rec.Code)
		}
		if len(d.retriever.Calls) != 0 {
			t.Error("retriever must not be called when the user cannot be resolved")
		}
	})

	t.Run("user store failure returns 503 before streaming", func(t *testing.T) {
		h, d := newTestHandler(t, testItems(t, "1"))
		d.users.CreateErr = errors.New("pg down")
		rec := httptest.NewRecorder()
		h.Sync(rec, withSession(httptest.NewRequest(http.MethodPost, "/articles/sync", nil)))
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("expected 503, got %d", rec.Code)
		}
		if rec.Header().Get("Content-Type") == "text/event-stream" {
			t.Error("stream must not start when the user cannot be resolved")
		}
	})

	t.Run("no session returns 401", func(t *testing.T) {
		h, _ := newTestHandler(t, nil)
		rec := httptest.NewRecorder()
		h.Sync(rec, httptest.NewRequest(http.MethodPost, "/articles/sync", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rec.Code)
		}
	})
}
