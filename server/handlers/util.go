package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/mdawes/phasetrack/engine"
)

// ErrorResponse is returned when an error occurs.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`

	// Blocking carries the item names that failed a validation hook.
	Blocking []string `json:"blocking,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// writeError maps a domain error kind onto its HTTP status. Anything
// unclassified is a 500.
func writeError(w http.ResponseWriter, err error) {
	de, ok := engine.AsDomain(err)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, statusFor(de.Kind), ErrorResponse{
		Error:    de.Message,
		Kind:     string(de.Kind),
		Blocking: de.Blocking,
	})
}

func statusFor(kind engine.ErrorKind) int {
	switch kind {
	case engine.KindPermissionDenied:
		return http.StatusForbidden
	case engine.KindInvalidState, engine.KindConcurrencyConflict:
		return http.StatusConflict
	case engine.KindInvalidTarget, engine.KindValidationFailed:
		return http.StatusUnprocessableEntity
	case engine.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// phaseKey builds the phase key from the request's path values. Routes are
// registered as /api/cycles/{cycle}/reports/{report}/phases/{phase}/...
func phaseKey(r *http.Request) engine.PhaseKey {
	return engine.PhaseKey{
		CycleID:  r.PathValue("cycle"),
		ReportID: r.PathValue("report"),
		Phase:    r.PathValue("phase"),
	}
}
