// Package catalog defines the static activity catalog that drives the
// phasetrack engine.
//
// A catalog describes, for every phase, the ordered chain of activities the
// phase is made of. Each activity carries an explicit type tag, an optional
// dependency on its predecessor, and a transition rule describing who may
// move it, from which states, to which state, and what happens afterwards.
//
// The catalog is loaded once at startup (built-in default or YAML file) and
// is never mutated at runtime.
package catalog

import (
	"fmt"
	"slices"
)

// ActivityType classifies an activity. The tag is assigned at catalog build
// time; the engine dispatches on it and never inspects activity names.
type ActivityType string

const (
	TypeStart              ActivityType = "start"
	TypeAssignment         ActivityType = "assignment"
	TypeProviderAssignment ActivityType = "provider_assignment"
	TypeGeneration         ActivityType = "generation"
	TypeReview             ActivityType = "review"
	TypeApproval           ActivityType = "approval"
	TypeCompletion         ActivityType = "completion"
)

// IsValid returns true if t is a known activity type.
func (t ActivityType) IsValid() bool {
	switch t {
	case TypeStart, TypeAssignment, TypeProviderAssignment, TypeGeneration,
		TypeReview, TypeApproval, TypeCompletion:
		return true
	}
	return false
}

// Role identifies an actor role. Role checks apply only to manual rules;
// automatic transitions run as the system actor and skip them.
type Role string

const (
	RoleTester      Role = "tester"
	RoleTestManager Role = "test_manager"
	RolePhaseLead   Role = "phase_lead"
	RoleAdmin       Role = "admin"
)

// TriggerKind names the external event that drives an automatic rule.
type TriggerKind string

const (
	TriggerNone               TriggerKind = ""
	TriggerSubmission         TriggerKind = "submission"
	TriggerApprovalDecision   TriggerKind = "approval_decision"
	TriggerAssignmentsDone    TriggerKind = "all_assignments_complete"
	TriggerProvidersAssigned  TriggerKind = "all_providers_assigned"
	TriggerPreviousComplete   TriggerKind = "previous_complete"
)

// HookName identifies a validation hook run before a transition is applied.
type HookName string

const (
	HookNone                        HookName = ""
	HookPhaseActivitiesComplete     HookName = "phase_activities_complete"
	HookLOBExecutivesAssigned       HookName = "lob_executives_assigned"
	HookProviderAssignmentsComplete HookName = "provider_assignments_complete"
)

// SideEffects describes what the engine does after a rule's transition has
// been applied.
type SideEffects struct {
	// PhaseState, when non-empty, is the phase-level state to record
	// ("in_progress" for the opening manual start, "completed" for the
	// closing manual complete).
	PhaseState string `yaml:"phase_state"`

	// CompletesActivity marks one-shot activities: after the requested
	// transition lands the activity is immediately completed by the same
	// actor, so the dependency chain can advance past it.
	CompletesActivity bool `yaml:"completes_activity"`

	// AutoStartNext resolves the automatic follow-on chain after this
	// activity completes.
	AutoStartNext bool `yaml:"auto_start_next"`
}

// TransitionRule describes the single externally requestable transition of
// an activity.
type TransitionRule struct {
	// Manual rules require the actor's role to be in AllowedRoles.
	// Non-manual rules are driven by Trigger events as actor "system".
	Manual bool `yaml:"manual"`

	AllowedRoles   []Role      `yaml:"allowed_roles"`
	AllowedSources []string    `yaml:"allowed_sources"`
	NextState      string      `yaml:"next_state"`
	Trigger        TriggerKind `yaml:"trigger"`
	Hook           HookName    `yaml:"hook"`
	SideEffects    SideEffects `yaml:"side_effects"`
}

// RoleAllowed reports whether role may request this rule's transition.
func (r TransitionRule) RoleAllowed(role Role) bool {
	return slices.Contains(r.AllowedRoles, role)
}

// SourceAllowed reports whether the rule permits transitioning away from
// state.
func (r TransitionRule) SourceAllowed(state string) bool {
	return slices.Contains(r.AllowedSources, state)
}

// ActivityDefinition is one entry in a phase's activity chain.
type ActivityDefinition struct {
	Name  string       `yaml:"name"`
	Phase string       `yaml:"phase"`
	Type  ActivityType `yaml:"type"`

	// DependsOn names the predecessor activity, empty for the chain head.
	// An activity may enter in_progress only once its dependency is
	// completed.
	DependsOn string `yaml:"depends_on"`

	Rule TransitionRule `yaml:"rule"`
}

// Catalog is the full static configuration: phase name to ordered activity
// chain, plus the roles permitted to perform cascade resets.
type Catalog struct {
	phases     map[string][]ActivityDefinition
	phaseOrder []string

	// PrivilegedResetRoles may invoke cascade resets.
	PrivilegedResetRoles []Role
}

// New builds a catalog from per-phase activity chains in the given phase
// order. The result is validated; New returns an error for malformed chains.
func New(phaseOrder []string, phases map[string][]ActivityDefinition, resetRoles []Role) (*Catalog, error) {
	c := &Catalog{
		phases:               phases,
		phaseOrder:           phaseOrder,
		PrivilegedResetRoles: resetRoles,
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Phases returns the phase names in catalog order.
func (c *Catalog) Phases() []string {
	return slices.Clone(c.phaseOrder)
}

// HasPhase reports whether the catalog defines the named phase.
func (c *Catalog) HasPhase(phase string) bool {
	_, ok := c.phases[phase]
	return ok
}

// Phase returns the ordered activity chain for a phase, or nil if the phase
// is unknown.
func (c *Catalog) Phase(phase string) []ActivityDefinition {
	return c.phases[phase]
}

// Definition returns the catalog entry for one activity.
func (c *Catalog) Definition(phase, activity string) (ActivityDefinition, bool) {
	for _, def := range c.phases[phase] {
		if def.Name == activity {
			return def, true
		}
	}
	return ActivityDefinition{}, false
}

// ResetAllowed reports whether role may perform cascade resets.
func (c *Catalog) ResetAllowed(role Role) bool {
	return slices.Contains(c.PrivilegedResetRoles, role)
}

// Validate checks catalog integrity: every phase in the order exists, names
// are unique within a phase, type tags are known, and each phase's
// dependencies form a single linear chain (every activity depends on the
// activity immediately before it, except the head which depends on nothing).
func (c *Catalog) Validate() error {
	if len(c.phaseOrder) != len(c.phases) {
		return fmt.Errorf("catalog: phase order lists %d phases, definitions have %d", len(c.phaseOrder), len(c.phases))
	}
	for _, phase := range c.phaseOrder {
		defs, ok := c.phases[phase]
		if !ok {
			return fmt.Errorf("catalog: phase %q in order but not defined", phase)
		}
		if len(defs) == 0 {
			return fmt.Errorf("catalog: phase %q has no activities", phase)
		}
		seen := make(map[string]bool, len(defs))
		for i, def := range defs {
			if def.Name == "" {
				return fmt.Errorf("catalog: phase %q activity %d has no name", phase, i)
			}
			if seen[def.Name] {
				return fmt.Errorf("catalog: phase %q has duplicate activity %q", phase, def.Name)
			}
			seen[def.Name] = true
			if def.Phase != phase {
				return fmt.Errorf("catalog: activity %q declares phase %q, defined under %q", def.Name, def.Phase, phase)
			}
			if !def.Type.IsValid() {
				return fmt.Errorf("catalog: activity %q has unknown type %q", def.Name, def.Type)
			}
			if err := validateRule(def); err != nil {
				return err
			}
			// Linear chain: head has no dependency, everything else
			// depends on its immediate predecessor.
			if i == 0 {
				if def.DependsOn != "" {
					return fmt.Errorf("catalog: chain head %q in phase %q must not have a dependency", def.Name, phase)
				}
			} else if def.DependsOn != defs[i-1].Name {
				return fmt.Errorf("catalog: activity %q in phase %q must depend on %q, depends on %q",
					def.Name, phase, defs[i-1].Name, def.DependsOn)
			}
		}
	}
	if len(c.PrivilegedResetRoles) == 0 {
		return fmt.Errorf("catalog: no privileged reset roles configured")
	}
	return nil
}

func validateRule(def ActivityDefinition) error {
	r := def.Rule
	if r.Manual && len(r.AllowedRoles) == 0 {
		return fmt.Errorf("catalog: manual activity %q allows no roles", def.Name)
	}
	if !r.Manual && r.Trigger == TriggerNone {
		return fmt.Errorf("catalog: automatic activity %q has no trigger", def.Name)
	}
	if len(r.AllowedSources) == 0 {
		return fmt.Errorf("catalog: activity %q allows no source states", def.Name)
	}
	if r.NextState == "" {
		return fmt.Errorf("catalog: activity %q has no next state", def.Name)
	}
	return nil
}
