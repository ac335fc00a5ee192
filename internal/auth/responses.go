// responses.go -- Package-wide HTTP response helpers.
//
// Error bodies carry only a category string. Causes are logged, never echoed.
package auth

import (
	"encoding/json"
	"errors"
	"net/http"
)

// errorStatus maps an error to its HTTP status. Unknown errors are 500.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, ErrMalformedRequest), errors.Is(err, ErrInvalidToken):
		return http.StatusBadRequest
	case errors.Is(err, ErrCSRFMismatch), errors.Is(err, ErrSessionExpired), errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrExternalAuth):
		return http.StatusBadGateway
	case errors.Is(err, ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteError logs err and writes {"error": "<category>"} with the mapped status.
// Rejections log at warn (missing sessions at debug); anything 5xx logs at error.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	switch {
	case status >= http.StatusInternalServerError:
		logError(r, "request failed", "status", status, "error", err)
	case errors.Is(err, ErrUnauthenticated):
		logDebug(r, "request unauthenticated", "error", err)
	default:
		logWarn(r, "request rejected", "status", status, "error", err)
	}
	WriteJSON(w, status, map[string]string{"error": http.StatusText(status)})
}

// WriteJSON writes v as a JSON body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
