package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mdawes/phasetrack/catalog"
	"github.com/mdawes/phasetrack/engine"
)

// TransitionRequest defines the request body for a transition.
type TransitionRequest struct {
	Activity string `json:"activity"`
	Target   string `json:"target"`
	ActorID  string `json:"actor_id"`
	Role     string `json:"role"`

	// Optional context for validation hooks.
	LOBs      []engine.LOBAssignment      `json:"lobs,omitempty"`
	Providers []engine.ProviderAssignment `json:"providers,omitempty"`
}

// TransitionHandler handles requests to transition an activity.
type TransitionHandler struct {
	engine Engine
}

// NewTransitionHandler creates a new TransitionHandler.
func NewTransitionHandler(e Engine) *TransitionHandler {
	return &TransitionHandler{engine: e}
}

// ServeHTTP implements http.Handler.
func (h *TransitionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: fmt.Sprintf("invalid JSON: %v", err),
		})
		return
	}

	if req.Activity == "" || req.Target == "" || req.ActorID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: "activity, target and actor_id are required",
		})
		return
	}
	target := engine.ActivityState(req.Target)
	if !target.IsValid() {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: fmt.Sprintf("unknown target state %q", req.Target),
		})
		return
	}

	vctx := &engine.ValidationContext{LOBs: req.LOBs, Providers: req.Providers}
	res, err := h.engine.TransitionActivity(r.Context(), phaseKey(r), req.Activity, target, req.ActorID, catalog.Role(req.Role), vctx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
