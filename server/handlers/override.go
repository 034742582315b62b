package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mdawes/phasetrack/catalog"
)

// OverrideRequest defines the request body for setting a display override.
type OverrideRequest struct {
	State   string `json:"state,omitempty"`
	Status  string `json:"status,omitempty"`
	Reason  string `json:"reason"`
	ActorID string `json:"actor_id"`
	Role    string `json:"role"`
}

// OverrideHandler sets and clears display-only phase overrides. PUT sets;
// DELETE clears, taking actor_id and role from query parameters.
type OverrideHandler struct {
	engine Engine
}

// NewOverrideHandler creates a new OverrideHandler.
func NewOverrideHandler(e Engine) *OverrideHandler {
	return &OverrideHandler{engine: e}
}

// ServeHTTP implements http.Handler.
func (h *OverrideHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPut:
		h.set(w, r)
	case http.MethodDelete:
		h.clear(w, r)
	default:
		w.Header().Set("Allow", "PUT, DELETE")
		writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{
			Error: fmt.Sprintf("method %s not allowed", r.Method),
		})
	}
}

func (h *OverrideHandler) set(w http.ResponseWriter, r *http.Request) {
	var req OverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: fmt.Sprintf("invalid JSON: %v", err),
		})
		return
	}
	if req.ActorID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: "actor_id is required",
		})
		return
	}

	err := h.engine.SetOverride(r.Context(), phaseKey(r), req.State, req.Status, req.Reason, req.ActorID, catalog.Role(req.Role))
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *OverrideHandler) clear(w http.ResponseWriter, r *http.Request) {
	actorID := r.URL.Query().Get("actor_id")
	role := r.URL.Query().Get("role")
	if actorID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: "actor_id query parameter is required",
		})
		return
	}

	err := h.engine.ClearOverride(r.Context(), phaseKey(r), actorID, catalog.Role(role))
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
