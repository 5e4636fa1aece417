package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"positionengine/internal/domain"
	"positionengine/internal/engine"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps engine sentinel errors to HTTP status codes. Unknown
// errors become a generic 500 so internals never leak to clients.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "invalid request")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "position not found")
	case errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid state transition")
	case errors.Is(err, domain.ErrBusy):
		writeError(w, http.StatusConflict, "position busy, retry")
	case errors.Is(err, domain.ErrDurabilityFailure):
		writeError(w, http.StatusServiceUnavailable, "storage unavailable, mutations suspended")
	case errors.Is(err, domain.ErrSequenceUnavailable):
		writeError(w, http.StatusServiceUnavailable, "id sequence not recovered")
	case errors.Is(err, domain.ErrReconciliationConflict):
		writeError(w, http.StatusConflict, "reconciliation conflict")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// parseFilter extracts list filter parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseFilter(r *http.Request) domain.Filter {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	var statuses []domain.PositionStatus
	if v := q.Get("status"); v != "" {
		for _, s := range strings.Split(v, ",") {
			statuses = append(statuses, domain.PositionStatus(strings.TrimSpace(s)))
		}
	}

	return domain.Filter{
		Symbol:   q.Get("symbol"),
		Owner:    q.Get("owner"),
		Statuses: statuses,
		Limit:    limit,
		Offset:   offset,
	}
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}
