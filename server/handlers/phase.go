package handlers

import (
	"net/http"
)

// PhaseHandler returns a read-only snapshot of one phase instance.
type PhaseHandler struct {
	engine Engine
}

// NewPhaseHandler creates a new PhaseHandler.
func NewPhaseHandler(e Engine) *PhaseHandler {
	return &PhaseHandler{engine: e}
}

// ServeHTTP implements http.Handler.
func (h *PhaseHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	view, err := h.engine.GetPhaseActivities(r.Context(), phaseKey(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}
