package engine

// Event is the closed set of external events the engine routes. One handler
// exists per concrete type; the compiler keeps the dispatch exhaustive.
type Event interface {
	isEvent()
}

// Decision is an approval outcome.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// IsValid returns true for a known decision.
func (d Decision) IsValid() bool {
	return d == DecisionApproved || d == DecisionRejected
}

// SubmissionEvent reports that work under review has been submitted. It
// completes the phase's in-progress review activity.
type SubmissionEvent struct {
	ActorID      string `json:"actor_id"`
	SubmissionID string `json:"submission_id,omitempty"`
}

// ApprovalEvent reports an approval decision for the phase's in-progress
// approval activity.
type ApprovalEvent struct {
	ActorID  string   `json:"actor_id"`
	Decision Decision `json:"decision"`
}

// AssignmentsCompleteEvent reports that LOB executive assignment finished.
// Every entry must carry an assigned executive or the event is rejected
// with the unassigned names.
type AssignmentsCompleteEvent struct {
	ActorID string          `json:"actor_id"`
	LOBs    []LOBAssignment `json:"lobs"`
}

// ProvidersAssignedEvent reports that provider assignment finished.
type ProvidersAssignedEvent struct {
	ActorID     string               `json:"actor_id"`
	Assignments []ProviderAssignment `json:"assignments"`
}

// PreviousCompleteEvent reports that a predecessor activity completed
// outside the engine's own cascade; it only trampolines into the automatic
// start of the next eligible activity.
type PreviousCompleteEvent struct {
	Previous string `json:"previous_activity"`
}

func (SubmissionEvent) isEvent()          {}
func (ApprovalEvent) isEvent()            {}
func (AssignmentsCompleteEvent) isEvent() {}
func (ProvidersAssignedEvent) isEvent()   {}
func (PreviousCompleteEvent) isEvent()    {}
