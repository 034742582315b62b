package engine

import (
	"time"

	"github.com/google/uuid"

	"github.com/mdawes/phasetrack/catalog"
)

// Tracker holds one phase instance's activity map and applies lifecycle
// mutations to it. A tracker is owned exclusively by the single call that
// constructed it: freshly loaded, mutated, persisted, discarded. It is never
// cached across requests.
//
// The tracker trusts its caller to have validated transitions; its own
// checks only enforce the state preconditions that keep the instance
// internally consistent.
type Tracker struct {
	defs  []catalog.ActivityDefinition
	phase *PhaseInstance
	now   func() time.Time
}

// NewTracker wraps an existing phase instance. Activities the catalog added
// since the instance was persisted are seeded as not_started; activities
// removed from the catalog are left untouched in the instance.
func NewTracker(defs []catalog.ActivityDefinition, phase *PhaseInstance) *Tracker {
	t := &Tracker{defs: defs, phase: phase, now: time.Now}
	for _, def := range defs {
		if _, ok := phase.Activities[def.Name]; !ok {
			phase.Activities[def.Name] = &ActivityInstance{
				Name:  def.Name,
				State: ActivityNotStarted,
			}
		}
	}
	return t
}

// NewPhaseInstance seeds a fresh instance for key from the catalog chain,
// all activities not_started.
func NewPhaseInstance(key PhaseKey, defs []catalog.ActivityDefinition) *PhaseInstance {
	phase := &PhaseInstance{
		Key:        key,
		Activities: make(map[string]*ActivityInstance, len(defs)),
		State:      PhaseNotStarted,
	}
	for _, def := range defs {
		phase.Activities[def.Name] = &ActivityInstance{
			Name:  def.Name,
			State: ActivityNotStarted,
		}
	}
	return phase
}

// Phase returns the instance under mutation.
func (t *Tracker) Phase() *PhaseInstance { return t.phase }

// NextActivity returns the first not_started activity, in catalog order,
// whose dependency is absent or completed. Empty string if none.
func (t *Tracker) NextActivity() string {
	for _, def := range t.defs {
		act := t.phase.Activities[def.Name]
		if act.State != ActivityNotStarted {
			continue
		}
		if t.dependencySatisfied(def) {
			return def.Name
		}
	}
	return ""
}

func (t *Tracker) dependencySatisfied(def catalog.ActivityDefinition) bool {
	if def.DependsOn == "" {
		return true
	}
	dep, ok := t.phase.Activities[def.DependsOn]
	return ok && dep.State == ActivityCompleted
}

// Start moves an activity from not_started to in_progress, stamping actor
// and time. Returns false without mutating if the activity is in any other
// state.
func (t *Tracker) Start(name, actor string) bool {
	act := t.mustActivity(name)
	if act.State != ActivityNotStarted {
		return false
	}
	now := t.now()
	act.State = ActivityInProgress
	act.StartedAt = &now
	act.StartedBy = actor
	return true
}

// Complete moves an activity from in_progress to completed. Returns false
// without mutating from any other state.
func (t *Tracker) Complete(name, actor string) bool {
	act := t.mustActivity(name)
	if act.State != ActivityInProgress {
		return false
	}
	now := t.now()
	act.State = ActivityCompleted
	act.CompletedAt = &now
	act.CompletedBy = actor
	return true
}

// RequestRevision unconditionally forces revision_requested. This is the
// rejection escape hatch; it bypasses the normal preconditions. Reverting a
// completed activity appends a reset record so the original completion stays
// on the audit trail.
func (t *Tracker) RequestRevision(name, actor string) {
	act := t.mustActivity(name)
	if act.State == ActivityCompleted {
		act.ResetHistory = append(act.ResetHistory, ResetRecord{
			ID:                  uuid.NewString(),
			ResetAt:             t.now(),
			ResetBy:             actor,
			PreviousCompletedAt: act.CompletedAt,
		})
	}
	act.State = ActivityRevisionRequested
	act.CompletedAt = nil
	act.CompletedBy = ""
}

// ResetCascade reverts a completed activity and its transitive dependents
// back to in_progress, preserving audit history. The returned names are
// ordered dependents-first. A root that is not completed is a no-op and
// returns nil.
func (t *Tracker) ResetCascade(name, actor string) []string {
	root := t.mustActivity(name)
	if root.State != ActivityCompleted {
		return nil
	}

	targets := t.dependentClosure(name)
	targets[name] = true

	// Dependents before root. Reverse catalog order is exact here because
	// the catalog enforces a single linear chain per phase; a non-linear
	// catalog would need a topological sort instead.
	var reset []string
	for i := len(t.defs) - 1; i >= 0; i-- {
		defName := t.defs[i].Name
		if !targets[defName] {
			continue
		}
		act := t.phase.Activities[defName]
		if act.State != ActivityCompleted {
			continue
		}
		now := t.now()
		act.ResetHistory = append(act.ResetHistory, ResetRecord{
			ID:                  uuid.NewString(),
			ResetAt:             now,
			ResetBy:             actor,
			PreviousCompletedAt: act.CompletedAt,
		})
		act.State = ActivityInProgress
		act.CompletedAt = nil
		act.CompletedBy = ""
		reset = append(reset, defName)
	}
	return reset
}

// dependentClosure returns every activity whose dependency chain reaches
// name, by walking each activity's dependency pointer.
func (t *Tracker) dependentClosure(name string) map[string]bool {
	closure := make(map[string]bool)
	for _, def := range t.defs {
		for dep := def.DependsOn; dep != ""; {
			if dep == name || closure[dep] {
				closure[def.Name] = true
				break
			}
			next, ok := t.definition(dep)
			if !ok {
				break
			}
			dep = next.DependsOn
		}
	}
	return closure
}

func (t *Tracker) definition(name string) (catalog.ActivityDefinition, bool) {
	for _, def := range t.defs {
		if def.Name == name {
			return def, true
		}
	}
	return catalog.ActivityDefinition{}, false
}

// Progress counts activities by state. Completion percentage is the simple
// ratio completed/total, as a percentage; zero when the phase has no
// activities.
func (t *Tracker) Progress() Progress {
	p := Progress{
		Total:   len(t.defs),
		ByState: make(map[ActivityState]int, 4),
	}
	completed := 0
	for _, def := range t.defs {
		state := t.phase.Activities[def.Name].State
		p.ByState[state]++
		if state == ActivityCompleted {
			completed++
		}
	}
	if p.Total > 0 {
		p.CompletionPercent = float64(completed) / float64(p.Total) * 100
	}
	p.CurrentActivity = t.NextActivity()
	return p
}

// mustActivity panics on an unknown name: callers resolve names against the
// catalog first, so an unknown name here is a programmer error.
func (t *Tracker) mustActivity(name string) *ActivityInstance {
	act := t.phase.Activities[name]
	if act == nil {
		panic("engine: unknown activity " + name)
	}
	return act
}
