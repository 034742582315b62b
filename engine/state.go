// Package engine implements the phase activity state machine: transition
// validation, per-phase activity tracking, event routing with automatic
// follow-on chains, cascading resets, and phase status aggregation.
//
// The engine owns all mutation of phase instances. Callers interact through
// a Manager, which loads the instance from a Store, mutates it under
// validator approval, and persists it back inside one per-key critical
// section. Domain failures are structured *Error values, never panics.
package engine

import "github.com/mdawes/phasetrack/catalog"

// ActivityState is the lifecycle state of a single activity.
type ActivityState string

const (
	ActivityNotStarted        ActivityState = catalog.StateNotStarted
	ActivityInProgress        ActivityState = catalog.StateInProgress
	ActivityCompleted         ActivityState = catalog.StateCompleted
	ActivityRevisionRequested ActivityState = catalog.StateRevisionRequested
)

// IsValid returns true for one of the four defined activity states.
func (s ActivityState) IsValid() bool {
	switch s {
	case ActivityNotStarted, ActivityInProgress, ActivityCompleted, ActivityRevisionRequested:
		return true
	}
	return false
}

func (s ActivityState) String() string { return string(s) }

// PhaseState is the phase-level state recorded by manual start/complete side
// effects. It is distinct from PhaseStatus, which is derived from activity
// counts.
type PhaseState string

const (
	PhaseNotStarted PhaseState = "not_started"
	PhaseInProgress PhaseState = "in_progress"
	PhaseCompleted  PhaseState = "completed"
)

func (s PhaseState) String() string { return string(s) }

// PhaseStatus is the derived, display-facing status of a phase.
type PhaseStatus string

const (
	StatusNotStarted PhaseStatus = "not_started"
	StatusInProgress PhaseStatus = "in_progress"
	StatusCompleted  PhaseStatus = "completed"
	StatusBlocked    PhaseStatus = "blocked"
)

func (s PhaseStatus) String() string { return string(s) }

// SystemActor is recorded as the actor on automatic transitions.
const SystemActor = "system"
