package engine

import (
	"sort"

	"github.com/mdawes/phasetrack/catalog"
)

// ValidationContext carries the runtime context validation hooks inspect.
// Phase is the instance being mutated; Subject is the activity under
// transition (excluded from the all-complete check).
type ValidationContext struct {
	Phase     *PhaseInstance
	Subject   string
	LOBs      []LOBAssignment
	Providers []ProviderAssignment
}

// CanTransition validates a proposed transition against the activity's
// catalog rule and the supplied context. It is pure: no state is mutated.
// A nil return means the transition is approved.
//
// Automatic rules skip the role check; the actor is the system. Everything
// else applies identically to manual and automatic transitions.
func CanTransition(def catalog.ActivityDefinition, current, target ActivityState, role catalog.Role, vctx *ValidationContext) *Error {
	rule := def.Rule

	if rule.Manual && !rule.RoleAllowed(role) {
		return permissionDenied("role %q may not transition %q", role, def.Name)
	}

	if !rule.SourceAllowed(string(current)) {
		return invalidState("cannot transition %q from %s state", def.Name, current)
	}

	if string(target) != rule.NextState {
		return invalidTarget("%q may only transition to %s, not %s", def.Name, rule.NextState, target)
	}

	if rule.Hook != catalog.HookNone {
		if blocking := runHook(rule.Hook, vctx); len(blocking) > 0 {
			return validationFailed(blocking, hookFailureMessage(rule.Hook))
		}
	}

	// An activity may leave not_started only once its dependency is
	// completed. The hook check runs first so callers gated by a hook keep
	// getting the blocking list rather than a bare state error.
	if current == ActivityNotStarted && def.DependsOn != "" && vctx != nil && vctx.Phase != nil {
		dep := vctx.Phase.Activity(def.DependsOn)
		if dep == nil || dep.State != ActivityCompleted {
			return invalidState("%q requires %q to be completed first", def.Name, def.DependsOn)
		}
	}

	return nil
}

// runHook evaluates a validation hook, returning the names of blocking
// items. An unknown hook name is a catalog bug, not a runtime condition.
func runHook(hook catalog.HookName, vctx *ValidationContext) []string {
	if vctx == nil {
		vctx = &ValidationContext{}
	}
	switch hook {
	case catalog.HookPhaseActivitiesComplete:
		return incompleteActivities(vctx.Phase, vctx.Subject)
	case catalog.HookLOBExecutivesAssigned:
		return unassignedLOBs(vctx.LOBs)
	case catalog.HookProviderAssignmentsComplete:
		return unassignedProviders(vctx.Providers)
	default:
		panic("engine: unknown validation hook " + string(hook))
	}
}

func hookFailureMessage(hook catalog.HookName) string {
	switch hook {
	case catalog.HookPhaseActivitiesComplete:
		return "activities not complete"
	case catalog.HookLOBExecutivesAssigned:
		return "LOBs not assigned"
	case catalog.HookProviderAssignmentsComplete:
		return "provider assignments incomplete"
	default:
		return "validation failed"
	}
}

func incompleteActivities(phase *PhaseInstance, subject string) []string {
	if phase == nil {
		return nil
	}
	var blocking []string
	for name, act := range phase.Activities {
		if name == subject {
			continue
		}
		if act.State != ActivityCompleted {
			blocking = append(blocking, name)
		}
	}
	sort.Strings(blocking)
	return blocking
}

func unassignedLOBs(lobs []LOBAssignment) []string {
	var blocking []string
	for _, lob := range lobs {
		if !lob.ExecutiveAssigned {
			blocking = append(blocking, lob.Name)
		}
	}
	return blocking
}

func unassignedProviders(assignments []ProviderAssignment) []string {
	var blocking []string
	for _, a := range assignments {
		if !a.Assigned {
			blocking = append(blocking, a.Name)
		}
	}
	return blocking
}
