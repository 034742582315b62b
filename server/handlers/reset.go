package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mdawes/phasetrack/catalog"
)

// ResetRequest defines the request body for a cascade reset.
type ResetRequest struct {
	Activity string `json:"activity"`
	ActorID  string `json:"actor_id"`
	Role     string `json:"role"`
}

// ResetHandler handles cascade reset requests.
type ResetHandler struct {
	engine Engine
}

// NewResetHandler creates a new ResetHandler.
func NewResetHandler(e Engine) *ResetHandler {
	return &ResetHandler{engine: e}
}

// ServeHTTP implements http.Handler.
func (h *ResetHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req ResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: fmt.Sprintf("invalid JSON: %v", err),
		})
		return
	}
	if req.Activity == "" || req.ActorID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: "activity and actor_id are required",
		})
		return
	}

	res, err := h.engine.ResetActivityCascade(r.Context(), phaseKey(r), req.Activity, req.ActorID, catalog.Role(req.Role))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
