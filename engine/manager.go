package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mdawes/phasetrack/catalog"
)

// Store is the persistence collaborator contract. Implementations must
// serialize all Updates for one key: the callback runs inside a per-key
// critical section spanning load, mutate and save. The callback receives nil
// when no instance exists yet and may return a freshly seeded one; returning
// (nil, nil) means read-only, nothing is persisted.
type Store interface {
	Update(ctx context.Context, key PhaseKey, fn func(*PhaseInstance) (*PhaseInstance, error)) error
	Load(ctx context.Context, key PhaseKey) (*PhaseInstance, error)
}

// Recorder is the metrics collaborator contract. Calls are fire-and-forget;
// implementations must never fail a transition.
type Recorder interface {
	RecordActivityStart(phase, activity, actor string)
	RecordActivityComplete(phase, activity string, d time.Duration)
}

// NopRecorder discards all metrics.
type NopRecorder struct{}

func (NopRecorder) RecordActivityStart(_, _, _ string)                 {}
func (NopRecorder) RecordActivityComplete(_, _ string, _ time.Duration) {}

// Manager orchestrates validator, tracker, persistence and metrics. It is
// stateless: construct one per call site with its collaborators and share it
// freely; every operation loads fresh state from the store.
type Manager struct {
	cat    *catalog.Catalog
	store  Store
	rec    Recorder
	logger *slog.Logger
}

// NewManager builds a manager from explicit collaborators. A nil recorder
// disables metrics; a nil logger falls back to slog.Default.
func NewManager(cat *catalog.Catalog, store Store, rec Recorder, logger *slog.Logger) *Manager {
	if rec == nil {
		rec = NopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cat:    cat,
		store:  store,
		rec:    rec,
		logger: logger.With("component", "engine"),
	}
}

// TransitionResult reports a successful activity transition.
type TransitionResult struct {
	Activity      string        `json:"activity"`
	ActivityState ActivityState `json:"activity_state"`
	Progress      Progress      `json:"progress"`
	PhaseState    PhaseState    `json:"phase_state"`
	PhaseStatus   PhaseStatus   `json:"phase_status"`

	// AutoStarted names the follow-on activity started as the system
	// actor; NextActivityManual names a manual follow-on that is eligible
	// but was deliberately not started.
	AutoStarted        string `json:"auto_started,omitempty"`
	NextActivityManual string `json:"next_activity_manual,omitempty"`
}

// EventResult reports the outcome of one routed event. Handled is false for
// safe no-ops, e.g. duplicate delivery after a prior success; Reason then
// explains why nothing was eligible.
type EventResult struct {
	Handled       bool          `json:"handled"`
	Reason        string        `json:"reason,omitempty"`
	Activity      string        `json:"activity,omitempty"`
	ActivityState ActivityState `json:"activity_state,omitempty"`
	PhaseStatus   PhaseStatus   `json:"phase_status,omitempty"`

	AutoStarted        string `json:"auto_started,omitempty"`
	NextActivityManual string `json:"next_activity_manual,omitempty"`
}

// ResetResult lists the activities reverted by a cascade reset,
// dependents-first. Empty when the root was not completed.
type ResetResult struct {
	ResetActivities []string `json:"reset_activities"`
}

// PhaseView is a read-only snapshot of one phase instance.
type PhaseView struct {
	Key           PhaseKey           `json:"key"`
	Activities    []ActivityInstance `json:"activities"`
	Progress      Progress           `json:"progress"`
	NextActivity  string             `json:"next_activity,omitempty"`
	State         PhaseState         `json:"state"`
	Status        PhaseStatus        `json:"status"`
	DerivedStatus PhaseStatus        `json:"derived_status"`
}

// TransitionActivity is the single externally synchronous entry point for
// user-requested transitions: validate, mutate, apply side effects, resolve
// the automatic chain, persist and record metrics as one atomic unit under
// the store's per-key lock.
func (m *Manager) TransitionActivity(ctx context.Context, key PhaseKey, activity string, target ActivityState, actorID string, role catalog.Role, vctx *ValidationContext) (*TransitionResult, error) {
	def, err := m.definition(key, activity)
	if err != nil {
		return nil, err
	}

	var result *TransitionResult
	err = m.store.Update(ctx, key, func(cur *PhaseInstance) (*PhaseInstance, error) {
		if cur == nil {
			cur = NewPhaseInstance(key, m.cat.Phase(key.Phase))
		}
		tracker := NewTracker(m.cat.Phase(key.Phase), cur)

		if vctx == nil {
			vctx = &ValidationContext{}
		}
		vctx.Phase = cur
		vctx.Subject = activity

		state := cur.Activity(activity).State
		if verr := CanTransition(def, state, target, role, vctx); verr != nil {
			return nil, verr
		}

		if aerr := m.applyTransition(tracker, def, activity, target, actorID); aerr != nil {
			return nil, aerr
		}

		auto, manual := m.applySideEffects(tracker, def, activity, actorID)

		result = &TransitionResult{
			Activity:           activity,
			ActivityState:      cur.Activity(activity).State,
			Progress:           tracker.Progress(),
			PhaseState:         cur.State,
			PhaseStatus:        DeriveStatus(cur),
			AutoStarted:        auto,
			NextActivityManual: manual,
		}
		return cur, nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("activity transitioned",
		"key", key.String(),
		"activity", activity,
		"target", target,
		"actor", actorID,
		"auto_started", result.AutoStarted,
	)
	return result, nil
}

// applyTransition moves the activity to target through the tracker
// primitives. The validator has already approved the edge, so a tracker
// refusal here surfaces as an invalid-state error.
func (m *Manager) applyTransition(tracker *Tracker, def catalog.ActivityDefinition, activity string, target ActivityState, actor string) *Error {
	phase := tracker.Phase()
	switch target {
	case ActivityInProgress:
		if !tracker.Start(activity, actor) {
			return invalidState("cannot start %q from %s state", activity, phase.Activity(activity).State)
		}
		m.rec.RecordActivityStart(phase.Key.Phase, activity, actor)
		return nil

	case ActivityCompleted:
		act := phase.Activity(activity)
		switch act.State {
		case ActivityNotStarted:
			tracker.Start(activity, actor)
			m.rec.RecordActivityStart(phase.Key.Phase, activity, actor)
		case ActivityRevisionRequested:
			// Resubmission after a revision request resumes the
			// original start; no new start stamp.
			act.State = ActivityInProgress
		}
		if !tracker.Complete(activity, actor) {
			return invalidState("cannot complete %q from %s state", activity, act.State)
		}
		m.recordComplete(phase.Key.Phase, phase.Activity(activity))
		return nil

	default:
		return invalidTarget("%s is not a requestable target state", target)
	}
}

// applySideEffects runs the rule's declared side effects after a successful
// transition: one-shot completion, phase state updates and the automatic
// follow-on chain.
func (m *Manager) applySideEffects(tracker *Tracker, def catalog.ActivityDefinition, activity, actor string) (autoStarted, nextManual string) {
	phase := tracker.Phase()
	effects := def.Rule.SideEffects

	if effects.CompletesActivity && phase.Activity(activity).State == ActivityInProgress {
		tracker.Complete(activity, actor)
		m.recordComplete(phase.Key.Phase, phase.Activity(activity))
	}

	if effects.PhaseState != "" {
		phase.State = PhaseState(effects.PhaseState)
	}

	if effects.AutoStartNext && phase.Activity(activity).State == ActivityCompleted {
		autoStarted, nextManual = m.autoStartNext(tracker)
	}
	return autoStarted, nextManual
}

// autoStartNext peeks the next eligible activity. Non-manual rules start it
// as the system actor; manual activities are only reported, never started,
// even when their dependency is satisfied.
func (m *Manager) autoStartNext(tracker *Tracker) (autoStarted, nextManual string) {
	next := tracker.NextActivity()
	if next == "" {
		return "", ""
	}
	def, ok := m.cat.Definition(tracker.Phase().Key.Phase, next)
	if !ok {
		return "", ""
	}
	if def.Rule.Manual {
		return "", next
	}
	tracker.Start(next, SystemActor)
	m.rec.RecordActivityStart(tracker.Phase().Key.Phase, next, SystemActor)
	m.logger.Info("activity auto-started",
		"key", tracker.Phase().Key.String(),
		"activity", next,
	)
	return next, ""
}

// HandleEvent routes one external event to its handler under the store's
// per-key lock. Duplicate delivery is a safe no-op: handlers re-check the
// target activity's state and report ineligibility instead of erroring.
func (m *Manager) HandleEvent(ctx context.Context, key PhaseKey, ev Event) (*EventResult, error) {
	if err := m.checkPhase(key); err != nil {
		return nil, err
	}
	if ev == nil {
		return nil, invalidTarget("nil event")
	}

	var result *EventResult
	err := m.store.Update(ctx, key, func(cur *PhaseInstance) (*PhaseInstance, error) {
		if cur == nil {
			cur = NewPhaseInstance(key, m.cat.Phase(key.Phase))
		}
		tracker := NewTracker(m.cat.Phase(key.Phase), cur)

		var mutated bool
		var herr error
		switch ev := ev.(type) {
		case SubmissionEvent:
			result, mutated, herr = m.handleSubmission(tracker, ev)
		case ApprovalEvent:
			result, mutated, herr = m.handleApproval(tracker, ev)
		case AssignmentsCompleteEvent:
			result, mutated, herr = m.handleAssignments(tracker, ev)
		case ProvidersAssignedEvent:
			result, mutated, herr = m.handleProviders(tracker, ev)
		case PreviousCompleteEvent:
			result, mutated, herr = m.handlePreviousComplete(tracker, ev)
		default:
			// The Event interface is sealed; a new case here is a
			// compile-time follow-up, not a runtime condition.
			panic(fmt.Sprintf("engine: unhandled event type %T", ev))
		}
		if herr != nil {
			return nil, herr
		}
		if !mutated {
			return nil, nil
		}
		return cur, nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("event handled",
		"key", key.String(),
		"event", fmt.Sprintf("%T", ev),
		"handled", result.Handled,
		"activity", result.Activity,
	)
	return result, nil
}

// handleSubmission completes the phase's eligible review activity and
// triggers the automatic chain.
func (m *Manager) handleSubmission(tracker *Tracker, ev SubmissionEvent) (*EventResult, bool, error) {
	def, ok := m.locateByType(tracker, catalog.TypeReview, ActivityInProgress, ActivityRevisionRequested)
	if !ok {
		return notEligible(tracker, "no review activity awaiting submission"), false, nil
	}
	return m.completeAndCascade(tracker, def, ev.ActorID)
}

// handleApproval completes the approval activity on approval. Rejection
// forces revision on the approval activity and its predecessor review
// activity and reverts a completed phase to in progress.
func (m *Manager) handleApproval(tracker *Tracker, ev ApprovalEvent) (*EventResult, bool, error) {
	if !ev.Decision.IsValid() {
		return nil, false, invalidTarget("unknown approval decision %q", ev.Decision)
	}

	def, ok := m.locateByType(tracker, catalog.TypeApproval, ActivityInProgress, ActivityRevisionRequested)
	if !ok {
		return notEligible(tracker, "no approval activity awaiting a decision"), false, nil
	}

	if ev.Decision == DecisionApproved {
		return m.completeAndCascade(tracker, def, ev.ActorID)
	}

	phase := tracker.Phase()
	tracker.RequestRevision(def.Name, ev.ActorID)
	if pred, ok := m.cat.Definition(phase.Key.Phase, def.DependsOn); ok && pred.Type == catalog.TypeReview {
		tracker.RequestRevision(pred.Name, ev.ActorID)
	}
	if phase.State == PhaseCompleted {
		phase.State = PhaseInProgress
	}

	return &EventResult{
		Handled:       true,
		Activity:      def.Name,
		ActivityState: ActivityRevisionRequested,
		PhaseStatus:   DeriveStatus(phase),
	}, true, nil
}

// handleAssignments validates that every LOB has an executive assigned and
// completes the assignment activity.
func (m *Manager) handleAssignments(tracker *Tracker, ev AssignmentsCompleteEvent) (*EventResult, bool, error) {
	if blocking := unassignedLOBs(ev.LOBs); len(blocking) > 0 {
		return nil, false, validationFailed(blocking, "LOBs not assigned")
	}

	def, ok := m.locateByType(tracker, catalog.TypeAssignment, ActivityNotStarted, ActivityInProgress)
	if !ok {
		return notEligible(tracker, "no assignment activity pending"), false, nil
	}

	if tracker.Phase().Activity(def.Name).State == ActivityNotStarted {
		if !tracker.dependencySatisfied(def) {
			return notEligible(tracker, fmt.Sprintf("%q is waiting on %q", def.Name, def.DependsOn)), false, nil
		}
		tracker.Start(def.Name, SystemActor)
		m.rec.RecordActivityStart(tracker.Phase().Key.Phase, def.Name, SystemActor)
	}
	return m.completeAndCascade(tracker, def, ev.ActorID)
}

// handleProviders is the provider-assignment analogue of handleAssignments.
func (m *Manager) handleProviders(tracker *Tracker, ev ProvidersAssignedEvent) (*EventResult, bool, error) {
	if blocking := unassignedProviders(ev.Assignments); len(blocking) > 0 {
		return nil, false, validationFailed(blocking, "provider assignments incomplete")
	}

	def, ok := m.locateByType(tracker, catalog.TypeProviderAssignment, ActivityNotStarted, ActivityInProgress)
	if !ok {
		return notEligible(tracker, "no provider assignment activity pending"), false, nil
	}

	if tracker.Phase().Activity(def.Name).State == ActivityNotStarted {
		if !tracker.dependencySatisfied(def) {
			return notEligible(tracker, fmt.Sprintf("%q is waiting on %q", def.Name, def.DependsOn)), false, nil
		}
		tracker.Start(def.Name, SystemActor)
		m.rec.RecordActivityStart(tracker.Phase().Key.Phase, def.Name, SystemActor)
	}
	return m.completeAndCascade(tracker, def, ev.ActorID)
}

// handlePreviousComplete trampolines into the automatic chain.
func (m *Manager) handlePreviousComplete(tracker *Tracker, _ PreviousCompleteEvent) (*EventResult, bool, error) {
	auto, manual := m.autoStartNext(tracker)
	if auto == "" && manual == "" {
		return notEligible(tracker, "no eligible activity to start"), false, nil
	}
	return &EventResult{
		Handled:            true,
		AutoStarted:        auto,
		NextActivityManual: manual,
		PhaseStatus:        DeriveStatus(tracker.Phase()),
	}, auto != "", nil
}

// completeAndCascade validates and completes an event-driven activity, then
// resolves the automatic chain.
func (m *Manager) completeAndCascade(tracker *Tracker, def catalog.ActivityDefinition, actor string) (*EventResult, bool, error) {
	phase := tracker.Phase()
	act := phase.Activity(def.Name)

	vctx := &ValidationContext{Phase: phase, Subject: def.Name}
	if verr := CanTransition(def, act.State, ActivityCompleted, "", vctx); verr != nil {
		return nil, false, verr
	}
	if act.State == ActivityRevisionRequested {
		act.State = ActivityInProgress
	}
	if !tracker.Complete(def.Name, actor) {
		return nil, false, invalidState("cannot complete %q from %s state", def.Name, act.State)
	}
	m.recordComplete(phase.Key.Phase, act)

	var auto, manual string
	if def.Rule.SideEffects.AutoStartNext {
		auto, manual = m.autoStartNext(tracker)
	}

	return &EventResult{
		Handled:            true,
		Activity:           def.Name,
		ActivityState:      act.State,
		PhaseStatus:        DeriveStatus(phase),
		AutoStarted:        auto,
		NextActivityManual: manual,
	}, true, nil
}

// locateByType finds the first activity of the given catalog type, in
// catalog order, whose current state is one of states.
func (m *Manager) locateByType(tracker *Tracker, typ catalog.ActivityType, states ...ActivityState) (catalog.ActivityDefinition, bool) {
	for _, def := range m.cat.Phase(tracker.Phase().Key.Phase) {
		if def.Type != typ {
			continue
		}
		cur := tracker.Phase().Activity(def.Name).State
		for _, s := range states {
			if cur == s {
				return def, true
			}
		}
	}
	return catalog.ActivityDefinition{}, false
}

func notEligible(tracker *Tracker, reason string) *EventResult {
	return &EventResult{
		Handled:     false,
		Reason:      reason,
		PhaseStatus: DeriveStatus(tracker.Phase()),
	}
}

// ResetActivityCascade reverts a completed activity and its transitive
// dependents. Role-gated to the catalog's privileged reset set; a denied
// call performs zero mutation.
func (m *Manager) ResetActivityCascade(ctx context.Context, key PhaseKey, activity, actorID string, role catalog.Role) (*ResetResult, error) {
	def, err := m.definition(key, activity)
	if err != nil {
		return nil, err
	}
	if !m.cat.ResetAllowed(role) {
		return nil, permissionDenied("role %q may not reset activities", role)
	}

	var result *ResetResult
	err = m.store.Update(ctx, key, func(cur *PhaseInstance) (*PhaseInstance, error) {
		if cur == nil {
			return nil, notFound("phase %s has no recorded state", key)
		}
		tracker := NewTracker(m.cat.Phase(key.Phase), cur)

		reset := tracker.ResetCascade(def.Name, actorID)
		result = &ResetResult{ResetActivities: reset}
		if len(reset) == 0 {
			// Root was not completed; nothing to persist.
			return nil, nil
		}
		if cur.State == PhaseCompleted {
			cur.State = PhaseInProgress
		}
		return cur, nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("cascade reset",
		"key", key.String(),
		"activity", activity,
		"actor", actorID,
		"reset_count", len(result.ResetActivities),
	)
	return result, nil
}

// GetPhaseActivities returns a read-only snapshot. A phase that has never
// been touched is presented freshly seeded from the catalog without being
// persisted.
func (m *Manager) GetPhaseActivities(ctx context.Context, key PhaseKey) (*PhaseView, error) {
	if err := m.checkPhase(key); err != nil {
		return nil, err
	}

	cur, err := m.store.Load(ctx, key)
	if err != nil {
		if de, ok := AsDomain(err); ok && de.Kind == KindNotFound {
			cur = NewPhaseInstance(key, m.cat.Phase(key.Phase))
		} else {
			return nil, fmt.Errorf("loading phase %s: %w", key, err)
		}
	}

	tracker := NewTracker(m.cat.Phase(key.Phase), cur)
	view := &PhaseView{
		Key:           key,
		Progress:      tracker.Progress(),
		NextActivity:  tracker.NextActivity(),
		State:         DisplayState(cur),
		Status:        DisplayStatus(cur),
		DerivedStatus: DeriveStatus(cur),
	}
	for _, def := range m.cat.Phase(key.Phase) {
		view.Activities = append(view.Activities, *cur.Activity(def.Name).Clone())
	}
	return view, nil
}

// SetOverride records a display-only state/status override. The reason is
// mandatory; automation gating ignores overrides entirely.
func (m *Manager) SetOverride(ctx context.Context, key PhaseKey, stateOverride, statusOverride, reason, actorID string, role catalog.Role) error {
	if err := m.checkPhase(key); err != nil {
		return err
	}
	if !m.cat.ResetAllowed(role) {
		return permissionDenied("role %q may not override phase status", role)
	}
	if reason == "" {
		return validationFailed(nil, "override reason is required")
	}
	if stateOverride == "" && statusOverride == "" {
		return invalidTarget("override requires a state or status value")
	}

	return m.store.Update(ctx, key, func(cur *PhaseInstance) (*PhaseInstance, error) {
		if cur == nil {
			cur = NewPhaseInstance(key, m.cat.Phase(key.Phase))
		}
		now := time.Now()
		cur.StateOverride = stateOverride
		cur.StatusOverride = statusOverride
		cur.OverrideReason = reason
		cur.OverrideBy = actorID
		cur.OverrideAt = &now
		return cur, nil
	})
}

// ClearOverride removes any display override.
func (m *Manager) ClearOverride(ctx context.Context, key PhaseKey, actorID string, role catalog.Role) error {
	if err := m.checkPhase(key); err != nil {
		return err
	}
	if !m.cat.ResetAllowed(role) {
		return permissionDenied("role %q may not override phase status", role)
	}

	return m.store.Update(ctx, key, func(cur *PhaseInstance) (*PhaseInstance, error) {
		if cur == nil || cur.StatusOverride == "" && cur.StateOverride == "" {
			return nil, nil
		}
		cur.StateOverride = ""
		cur.StatusOverride = ""
		cur.OverrideReason = ""
		cur.OverrideBy = ""
		cur.OverrideAt = nil
		return cur, nil
	})
}

func (m *Manager) checkPhase(key PhaseKey) *Error {
	if err := key.Validate(); err != nil {
		return notFound("%s", err.Error())
	}
	if !m.cat.HasPhase(key.Phase) {
		return notFound("unknown phase %q", key.Phase)
	}
	return nil
}

func (m *Manager) definition(key PhaseKey, activity string) (catalog.ActivityDefinition, error) {
	if err := m.checkPhase(key); err != nil {
		return catalog.ActivityDefinition{}, err
	}
	def, ok := m.cat.Definition(key.Phase, activity)
	if !ok {
		return catalog.ActivityDefinition{}, notFound("unknown activity %q in phase %q", activity, key.Phase)
	}
	return def, nil
}

func (m *Manager) recordComplete(phase string, act *ActivityInstance) {
	if act.StartedAt == nil || act.CompletedAt == nil {
		return
	}
	m.rec.RecordActivityComplete(phase, act.Name, act.CompletedAt.Sub(*act.StartedAt))
}
