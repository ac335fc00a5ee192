// sse.go -- Server-Sent Events framing and streaming.
package articles

import (
	"errors"
	"io"
	"iter"
	"net/http"
	"strings"
)

// Event is one Server-Sent Event. Type "" means the default "message".
type Event struct {
	ID   string
	Type string
	Data string
}

// WriteTo implements io.WriterTo. Multi-line data is split across data: lines.
func (e Event) WriteTo(w io.Writer) (int64, error) {
	var sb strings.Builder
	if e.ID != "" {
		sb.WriteString("id: " + e.ID + "\n")
	}
	if e.Type != "" {
		sb.WriteString("event: " + e.Type + "\n")
	}
	sb.WriteString("data: ")
	sb.WriteString(strings.ReplaceAll(e.Data, "\n", "\ndata: "))
	sb.WriteString("\n\n")

	n, err := io.WriteString(w, sb.String())
	return int64(n), err
}

var errNoFlusher = errors.New("sse: ResponseWriter does not implement http.Flusher")

// stream writes events to the client, flushing after each, until the sequence
// ends or the request context is cancelled.
func stream(w http.ResponseWriter, r *http.Request, events iter.Seq[Event]) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return errNoFlusher
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for ev := range events {
		if ctx.Err() != nil {
			return nil
		}
		if _, err := ev.WriteTo(w); err != nil {
			return err
		}
		flusher.Flush()
	}
	return nil
}
