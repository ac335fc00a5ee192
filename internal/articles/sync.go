// sync.go -- One sync run: retrieve, upsert concurrently, report progress.
package articles

import (
	"context"
	"encoding/json"
	"iter"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gofrs/uuid/v5"
	"golang.org/x/sync/errgroup"
)

// Event types emitted by a sync run.
const (
	EventProgress = "progress"
	EventDone     = "done"
	EventError    = "error"
)

// Progress is the data payload of progress and done events. Stored is the
// user's article count after the run; done events only.
type Progress struct {
	Synced int `json:"synced"`
	Failed int `json:"failed"`
	Total  int `json:"total"`
	Stored int `json:"stored,omitempty"`
}

type syncRun struct {
	h           *Handler
	userID      uuid.UUID
	accessToken string
	since       time.Time
}

func (s *syncRun) concurrency() int {
	if s.h.Concurrency > 0 {
		return s.h.Concurrency
	}
	return 4
}

func jsonEvent(seq int, typ string, v any) Event {
	data, _ := json.Marshal(v)
	return Event{ID: strconv.Itoa(seq), Type: typ, Data: string(data)}
}

// events runs the sync lazily as the stream consumes it. Upsert failures are
// counted, not fatal; only a failed retrieval ends the run with an error event.
func (s *syncRun) events(ctx context.Context) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		items, err := s.h.Retriever.Retrieve(ctx, s.accessToken, s.since)
		if err != nil {
			slog.WarnContext(ctx, "sync retrieval failed", "user_id", s.userID, "error", err)
			yield(jsonEvent(0, EventError, map[string]string{"error": http.StatusText(http.StatusBadGateway)}))
			return
		}

		results := make(chan error)
		go func() {
			var g errgroup.Group
			g.SetLimit(s.concurrency())
			for i := range items {
				g.Go(func() error {
					_, err := s.h.Sink.UpsertArticle(ctx, s.userID, items[i].Article())
					select {
					case results <- err:
					case <-ctx.Done():
					}
					return nil
				})
			}
			g.Wait()
			close(results)
		}()

		p := Progress{Total: len(items)}
		seq := 0
		for err := range results {
			if err != nil {
				p.Failed++
				slog.WarnContext(ctx, "article upsert failed", "user_id", s.userID, "error", err)
			} else {
				p.Synced++
			}
			seq++
			if !yield(jsonEvent(seq, EventProgress, p)) {
				// Consumer gone; unblock workers still sending.
				go func() {
					for range results {
					}
				}()
				return
			}
		}

		if n, err := s.h.Sink.CountArticles(ctx, s.userID); err != nil {
			slog.WarnContext(ctx, "counting stored articles failed", "user_id", s.userID, "error", err)
		} else {
			p.Stored = n
		}
		slog.InfoContext(ctx, "sync complete", "user_id", s.userID, "synced", p.Synced, "failed", p.Failed, "stored", p.Stored)
		yield(jsonEvent(seq+1, EventDone, p))
	}
}
