// logging.go -- Request-scoped logging for article handlers.
package articles

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

func logError(r *http.Request, msg string, args ...any) {
	attrs := []any{"method", r.Method, "path", r.URL.Path}
	if id := middleware.GetReqID(r.Context()); id != "" {
		attrs = append(attrs, "request_id", id)
	}
	slog.ErrorContext(r.Context(), msg, append(attrs, args...)...)
}
