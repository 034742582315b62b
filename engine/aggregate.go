package engine

// DeriveStatus computes a phase's status purely from activity counts.
//
// Precedence: all completed (and at least one activity) is completed; any
// in-progress work or partial completion is in_progress; outstanding
// revision requests with no completion path are blocked; otherwise the
// phase has not started.
func DeriveStatus(phase *PhaseInstance) PhaseStatus {
	var total, completed, inProgress, revision int
	for _, act := range phase.Activities {
		total++
		switch act.State {
		case ActivityCompleted:
			completed++
		case ActivityInProgress:
			inProgress++
		case ActivityRevisionRequested:
			revision++
		}
	}

	switch {
	case total > 0 && completed == total:
		return StatusCompleted
	case inProgress > 0 || completed > 0:
		return StatusInProgress
	case revision > 0:
		return StatusBlocked
	default:
		return StatusNotStarted
	}
}

// DisplayStatus is the status shown to clients: the override when one is
// set, the derived status otherwise.
func DisplayStatus(phase *PhaseInstance) PhaseStatus {
	if phase.StatusOverride != "" {
		return PhaseStatus(phase.StatusOverride)
	}
	return DeriveStatus(phase)
}

// DisplayState is the phase state shown to clients, override first.
func DisplayState(phase *PhaseInstance) PhaseState {
	if phase.StateOverride != "" {
		return PhaseState(phase.StateOverride)
	}
	return phase.State
}

// CanProceedToNext gates automation on the derived status only. Overrides
// are display sugar and never unlock the next phase.
func CanProceedToNext(phase *PhaseInstance) bool {
	return DeriveStatus(phase) == StatusCompleted
}
