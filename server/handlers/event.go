package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mdawes/phasetrack/engine"
)

// Event kinds accepted in the {kind} path segment.
const (
	EventSubmission          = "submission"
	EventApprovalDecision    = "approval_decision"
	EventAssignmentsComplete = "assignments_complete"
	EventProvidersAssigned   = "providers_assigned"
	EventPreviousComplete    = "previous_complete"
)

// EventRequest is the superset body for all event kinds; each kind reads the
// fields it needs.
type EventRequest struct {
	ActorID      string                      `json:"actor_id"`
	SubmissionID string                      `json:"submission_id,omitempty"`
	Decision     string                      `json:"decision,omitempty"`
	LOBs         []engine.LOBAssignment      `json:"lobs,omitempty"`
	Assignments  []engine.ProviderAssignment `json:"assignments,omitempty"`
	Previous     string                      `json:"previous_activity,omitempty"`
}

// EventHandler handles external event deliveries.
type EventHandler struct {
	engine Engine
}

// NewEventHandler creates a new EventHandler.
func NewEventHandler(e Engine) *EventHandler {
	return &EventHandler{engine: e}
}

// ServeHTTP implements http.Handler.
func (h *EventHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: fmt.Sprintf("invalid JSON: %v", err),
		})
		return
	}

	kind := r.PathValue("kind")
	ev, ok := buildEvent(kind, req)
	if !ok {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: fmt.Sprintf("unknown event kind %q", kind),
		})
		return
	}

	res, err := h.engine.HandleEvent(r.Context(), phaseKey(r), ev)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func buildEvent(kind string, req EventRequest) (engine.Event, bool) {
	switch kind {
	case EventSubmission:
		return engine.SubmissionEvent{ActorID: req.ActorID, SubmissionID: req.SubmissionID}, true
	case EventApprovalDecision:
		return engine.ApprovalEvent{ActorID: req.ActorID, Decision: engine.Decision(req.Decision)}, true
	case EventAssignmentsComplete:
		return engine.AssignmentsCompleteEvent{ActorID: req.ActorID, LOBs: req.LOBs}, true
	case EventProvidersAssigned:
		return engine.ProvidersAssignedEvent{ActorID: req.ActorID, Assignments: req.Assignments}, true
	case EventPreviousComplete:
		return engine.PreviousCompleteEvent{Previous: req.Previous}, true
	default:
		return nil, false
	}
}
