package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/keyplane/control-plane/internal/limits"
	"github.com/keyplane/control-plane/internal/provision"
	"github.com/keyplane/control-plane/internal/roles"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// writeDomainError maps the error taxonomy onto status codes. External and
// unknown failures become a generic 500; their detail is already logged at
// the point of failure and never echoed to clients.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, provision.ErrValidation):
		writeError(w, http.StatusBadRequest, stripSentinel(err, provision.ErrValidation))
	case errors.Is(err, provision.ErrForbidden), errors.Is(err, roles.ErrForbidden):
		writeError(w, http.StatusForbidden, "Not authorized")
	case errors.Is(err, limits.ErrLimitNotFound):
		writeError(w, http.StatusNotFound, "No limit value available")
	case errors.Is(err, provision.ErrNotFound):
		writeError(w, http.StatusNotFound, stripSentinel(err, provision.ErrNotFound))
	default:
		writeError(w, http.StatusInternalServerError, "Internal error")
	}
}

// stripSentinel drops the sentinel prefix from a wrapped error, leaving
// the user-facing detail.
func stripSentinel(err, sentinel error) string {
	return strings.TrimPrefix(err.Error(), sentinel.Error()+": ")
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
