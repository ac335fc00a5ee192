// health_handler.go -- Health check handler for GET /health-check.
package auth

import (
	"net/http"
)

// HealthHandler reports per-dependency status.
type HealthHandler struct {
	Postgres HealthChecker
	Redis    HealthChecker
}

// CheckHealth pings Postgres and Redis. 200 if both are healthy, 503 otherwise.
func (h *HealthHandler) CheckHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := struct {
		Postgres string `json:"postgres"`
		Redis    string `json:"redis"`
	}{"ok", "ok"}

	if err := h.Redis.CheckHealth(r.Context()); err != nil {
		logError(r, "redis health check failed", "error", err)
		body.Redis, status = "error", http.StatusServiceUnavailable
	}
	if err := h.Postgres.CheckHealth(r.Context()); err != nil {
		logError(r, "postgres health check failed", "error", err)
		body.Postgres, status = "error", http.StatusServiceUnavailable
	}
	WriteJSON(w, status, body)
}
