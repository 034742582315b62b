package catalog

// Activity state names as they appear in transition rules. These mirror the
// engine's activity states; the catalog stores them as plain strings so the
// engine can depend on the catalog without a cycle.
const (
	StateNotStarted        = "not_started"
	StateInProgress        = "in_progress"
	StateCompleted         = "completed"
	StateRevisionRequested = "revision_requested"
)

// DefaultResetRoles is the privileged set allowed to perform cascade resets.
var DefaultResetRoles = []Role{RoleAdmin, RoleTestManager}

// Default returns the built-in catalog covering the five standard report
// cycle phases. Deployments that need a different catalog load one from YAML
// via LoadFile instead.
func Default() *Catalog {
	phases := map[string][]ActivityDefinition{
		"planning": chain("planning",
			start("Start Planning Phase"),
			lobAssignment("Assign LOB Executives"),
			providerAssignment("Assign Testing Providers"),
			generation("Generate Planning Summary"),
			approval("Approve Planning Summary"),
			completion("Complete Planning Phase"),
		),
		"scoping": chain("scoping",
			start("Start Scoping Phase"),
			generation("Generate Scoping Document"),
			review("Tester Review"),
			approval("Approve Scoping Document"),
			completion("Complete Scoping Phase"),
		),
		"testing": chain("testing",
			start("Start Testing Phase"),
			providerAssignment("Assign Testing Providers"),
			generation("Generate Test Results"),
			review("Tester Review"),
			approval("Approve Test Results"),
			completion("Complete Testing Phase"),
		),
		"review": chain("review",
			start("Start Review Phase"),
			generation("Generate Review Package"),
			review("Tester Review"),
			approval("Approve Review Package"),
			completion("Complete Review Phase"),
		),
		"reporting": chain("reporting",
			start("Start Reporting Phase"),
			generation("Generate Final Report"),
			review("Tester Review"),
			approval("Approve Final Report"),
			completion("Complete Reporting Phase"),
		),
	}

	c, err := New(
		[]string{"planning", "scoping", "testing", "review", "reporting"},
		phases,
		DefaultResetRoles,
	)
	if err != nil {
		// The built-in catalog is validated by tests; a failure here is a
		// programmer error.
		panic(err)
	}
	return c
}

// chain stamps the phase name onto each definition and wires the linear
// dependency pointers in order.
func chain(phase string, defs ...ActivityDefinition) []ActivityDefinition {
	for i := range defs {
		defs[i].Phase = phase
		if i > 0 {
			defs[i].DependsOn = defs[i-1].Name
		}
	}
	return defs
}

func start(name string) ActivityDefinition {
	return ActivityDefinition{
		Name: name,
		Type: TypeStart,
		Rule: TransitionRule{
			Manual:         true,
			AllowedRoles:   []Role{RoleTester, RoleTestManager, RolePhaseLead, RoleAdmin},
			AllowedSources: []string{StateNotStarted},
			NextState:      StateInProgress,
			SideEffects: SideEffects{
				PhaseState:        StateInProgress,
				CompletesActivity: true,
			},
		},
	}
}

func lobAssignment(name string) ActivityDefinition {
	return ActivityDefinition{
		Name: name,
		Type: TypeAssignment,
		Rule: TransitionRule{
			Trigger:        TriggerAssignmentsDone,
			Hook:           HookLOBExecutivesAssigned,
			AllowedSources: []string{StateNotStarted, StateInProgress},
			NextState:      StateCompleted,
			SideEffects:    SideEffects{AutoStartNext: true},
		},
	}
}

func providerAssignment(name string) ActivityDefinition {
	return ActivityDefinition{
		Name: name,
		Type: TypeProviderAssignment,
		Rule: TransitionRule{
			Trigger:        TriggerProvidersAssigned,
			Hook:           HookProviderAssignmentsComplete,
			AllowedSources: []string{StateNotStarted, StateInProgress},
			NextState:      StateCompleted,
			SideEffects:    SideEffects{AutoStartNext: true},
		},
	}
}

func generation(name string) ActivityDefinition {
	return ActivityDefinition{
		Name: name,
		Type: TypeGeneration,
		Rule: TransitionRule{
			Trigger:        TriggerPreviousComplete,
			AllowedSources: []string{StateInProgress},
			NextState:      StateCompleted,
			SideEffects:    SideEffects{AutoStartNext: true},
		},
	}
}

func review(name string) ActivityDefinition {
	return ActivityDefinition{
		Name: name,
		Type: TypeReview,
		Rule: TransitionRule{
			Trigger:        TriggerSubmission,
			AllowedSources: []string{StateInProgress, StateRevisionRequested},
			NextState:      StateCompleted,
			SideEffects:    SideEffects{AutoStartNext: true},
		},
	}
}

func approval(name string) ActivityDefinition {
	return ActivityDefinition{
		Name: name,
		Type: TypeApproval,
		Rule: TransitionRule{
			Trigger:        TriggerApprovalDecision,
			AllowedSources: []string{StateInProgress, StateRevisionRequested},
			NextState:      StateCompleted,
			SideEffects:    SideEffects{AutoStartNext: true},
		},
	}
}

func completion(name string) ActivityDefinition {
	return ActivityDefinition{
		Name: name,
		Type: TypeCompletion,
		Rule: TransitionRule{
			Manual:         true,
			AllowedRoles:   []Role{RoleTestManager, RolePhaseLead, RoleAdmin},
			AllowedSources: []string{StateNotStarted},
			NextState:      StateCompleted,
			Hook:           HookPhaseActivitiesComplete,
			SideEffects: SideEffects{
				PhaseState: StateCompleted,
			},
		},
	}
}
