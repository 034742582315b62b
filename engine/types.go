package engine

import (
	"fmt"
	"time"
)

// PhaseKey uniquely identifies one phase instance. Exactly one instance
// exists per key.
type PhaseKey struct {
	CycleID  string `json:"cycle_id"`
	ReportID string `json:"report_id"`
	Phase    string `json:"phase"`
}

func (k PhaseKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.CycleID, k.ReportID, k.Phase)
}

// Validate rejects keys with empty components.
func (k PhaseKey) Validate() error {
	if k.CycleID == "" || k.ReportID == "" || k.Phase == "" {
		return fmt.Errorf("phase key %q has empty components", k)
	}
	return nil
}

// ResetRecord is one entry in an activity's reset history. Resets revert
// state; they never delete, so the record preserves when the activity had
// previously completed.
type ResetRecord struct {
	ID                  string     `json:"id"`
	ResetAt             time.Time  `json:"reset_at"`
	ResetBy             string     `json:"reset_by"`
	PreviousCompletedAt *time.Time `json:"previous_completed_at,omitempty"`
}

// ActivityInstance is the mutable runtime state of one activity within a
// phase instance.
type ActivityInstance struct {
	Name         string        `json:"name"`
	State        ActivityState `json:"state"`
	StartedAt    *time.Time    `json:"started_at,omitempty"`
	StartedBy    string        `json:"started_by,omitempty"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
	CompletedBy  string        `json:"completed_by,omitempty"`
	ResetHistory []ResetRecord `json:"reset_history,omitempty"`
}

// Clone returns a deep copy.
func (a *ActivityInstance) Clone() *ActivityInstance {
	out := *a
	if a.StartedAt != nil {
		t := *a.StartedAt
		out.StartedAt = &t
	}
	if a.CompletedAt != nil {
		t := *a.CompletedAt
		out.CompletedAt = &t
	}
	if a.ResetHistory != nil {
		out.ResetHistory = make([]ResetRecord, len(a.ResetHistory))
		copy(out.ResetHistory, a.ResetHistory)
	}
	return &out
}

// PhaseInstance is the persisted state of one (cycle, report, phase) key.
// All mutation happens through the Manager; nothing is physically deleted.
type PhaseInstance struct {
	Key        PhaseKey                     `json:"key"`
	Activities map[string]*ActivityInstance `json:"activities"`

	// State is set by manual start/complete side effects.
	State PhaseState `json:"state"`

	// Display-only overrides. Automation gating never reads them.
	StateOverride  string     `json:"state_override,omitempty"`
	StatusOverride string     `json:"status_override,omitempty"`
	OverrideReason string     `json:"override_reason,omitempty"`
	OverrideBy     string     `json:"override_by,omitempty"`
	OverrideAt     *time.Time `json:"override_at,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`

	// Version is bumped on every save; stores use it for conflict
	// detection where the backend cannot hold a lock.
	Version int64 `json:"version"`
}

// Clone returns a deep copy, safe to hand outside the store's critical
// section.
func (p *PhaseInstance) Clone() *PhaseInstance {
	out := *p
	out.Activities = make(map[string]*ActivityInstance, len(p.Activities))
	for name, act := range p.Activities {
		out.Activities[name] = act.Clone()
	}
	if p.OverrideAt != nil {
		t := *p.OverrideAt
		out.OverrideAt = &t
	}
	return &out
}

// Activity returns the named activity instance, or nil if unknown.
func (p *PhaseInstance) Activity(name string) *ActivityInstance {
	return p.Activities[name]
}

// Progress summarizes a phase's activity states.
type Progress struct {
	Total             int                   `json:"total"`
	ByState           map[ActivityState]int `json:"by_state"`
	CompletionPercent float64               `json:"completion_percent"`

	// CurrentActivity is the next eligible not-started activity, empty if
	// none.
	CurrentActivity string `json:"current_activity,omitempty"`
}

// LOBAssignment is one line of business entry checked by the LOB executive
// assignment hook and event handler.
type LOBAssignment struct {
	Name              string `json:"name"`
	ExecutiveAssigned bool   `json:"executive_assigned"`
}

// ProviderAssignment is one provider entry checked by the provider
// assignment hook and event handler.
type ProviderAssignment struct {
	Name     string `json:"name"`
	Provider string `json:"provider"`
	Assigned bool   `json:"assigned"`
}
