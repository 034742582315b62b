package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdawes/phasetrack/catalog"
)

func scopingDef(t *testing.T, name string) catalog.ActivityDefinition {
	t.Helper()
	def, ok := catalog.Default().Definition("scoping", name)
	require.True(t, ok, "missing definition %q", name)
	return def
}

func TestCanTransition_RoleDenied(t *testing.T) {
	def := scopingDef(t, "Start Scoping Phase")

	err := CanTransition(def, ActivityNotStarted, ActivityInProgress, catalog.Role("viewer"), nil)
	require.NotNil(t, err)
	assert.Equal(t, KindPermissionDenied, err.Kind)
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestCanTransition_RoleAllowed(t *testing.T) {
	def := scopingDef(t, "Start Scoping Phase")

	for _, role := range []catalog.Role{catalog.RoleTester, catalog.RoleTestManager, catalog.RolePhaseLead, catalog.RoleAdmin} {
		assert.Nil(t, CanTransition(def, ActivityNotStarted, ActivityInProgress, role, nil), string(role))
	}
}

func TestCanTransition_AutomaticSkipsRoleCheck(t *testing.T) {
	def := scopingDef(t, "Tester Review")
	require.False(t, def.Rule.Manual)

	// No role at all: event-driven transitions carry none.
	assert.Nil(t, CanTransition(def, ActivityInProgress, ActivityCompleted, "", nil))
}

func TestCanTransition_SourceRejected(t *testing.T) {
	def := scopingDef(t, "Start Scoping Phase")

	err := CanTransition(def, ActivityCompleted, ActivityInProgress, catalog.RoleTester, nil)
	require.NotNil(t, err)
	assert.Equal(t, KindInvalidState, err.Kind)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestCanTransition_WrongTarget(t *testing.T) {
	def := scopingDef(t, "Start Scoping Phase")

	err := CanTransition(def, ActivityNotStarted, ActivityCompleted, catalog.RoleTester, nil)
	require.NotNil(t, err)
	assert.Equal(t, KindInvalidTarget, err.Kind)
	assert.ErrorIs(t, err, ErrInvalidTarget)
}

func TestCanTransition_CompletionHookBlocks(t *testing.T) {
	defs := catalog.Default().Phase("scoping")
	phase := NewPhaseInstance(scopingKey, defs)
	tracker := NewTracker(defs, phase)
	tracker.Start("Start Scoping Phase", "u")
	tracker.Complete("Start Scoping Phase", "u")

	def := scopingDef(t, "Complete Scoping Phase")
	vctx := &ValidationContext{Phase: phase, Subject: def.Name}

	err := CanTransition(def, ActivityNotStarted, ActivityCompleted, catalog.RoleTestManager, vctx)
	require.NotNil(t, err)
	assert.Equal(t, KindValidationFailed, err.Kind)
	// Blocking names are sorted and exclude both the subject and what is
	// already done.
	assert.Equal(t, []string{
		"Approve Scoping Document",
		"Generate Scoping Document",
		"Tester Review",
	}, err.Blocking)
}

func TestCanTransition_CompletionHookPasses(t *testing.T) {
	defs := catalog.Default().Phase("scoping")
	phase := NewPhaseInstance(scopingKey, defs)
	tracker := NewTracker(defs, phase)
	for _, name := range []string{"Start Scoping Phase", "Generate Scoping Document", "Tester Review", "Approve Scoping Document"} {
		require.True(t, tracker.Start(name, "u"))
		require.True(t, tracker.Complete(name, "u"))
	}

	def := scopingDef(t, "Complete Scoping Phase")
	vctx := &ValidationContext{Phase: phase, Subject: def.Name}
	assert.Nil(t, CanTransition(def, ActivityNotStarted, ActivityCompleted, catalog.RoleTestManager, vctx))
}

func TestCanTransition_DependencyIncomplete(t *testing.T) {
	defs := catalog.Default().Phase("planning")
	key := PhaseKey{CycleID: "2026-Q1", ReportID: "rpt-1", Phase: "planning"}
	phase := NewPhaseInstance(key, defs)
	tracker := NewTracker(defs, phase)

	def, ok := catalog.Default().Definition("planning", "Assign LOB Executives")
	require.True(t, ok)
	vctx := &ValidationContext{Phase: phase, Subject: def.Name}

	// The rule itself allows not_started sources, but the phase has not
	// been started yet, so the dependency gate rejects the transition.
	err := CanTransition(def, ActivityNotStarted, ActivityCompleted, "", vctx)
	require.NotNil(t, err)
	assert.Equal(t, KindInvalidState, err.Kind)
	assert.ErrorIs(t, err, ErrInvalidState)

	require.True(t, tracker.Start("Start Planning Phase", "u"))
	require.True(t, tracker.Complete("Start Planning Phase", "u"))
	assert.Nil(t, CanTransition(def, ActivityNotStarted, ActivityCompleted, "", vctx))
}

func TestCanTransition_LOBHook(t *testing.T) {
	def, ok := catalog.Default().Definition("planning", "Assign LOB Executives")
	require.True(t, ok)

	vctx := &ValidationContext{LOBs: []LOBAssignment{
		{Name: "Retail", ExecutiveAssigned: true},
		{Name: "Commercial", ExecutiveAssigned: false},
		{Name: "Wealth", ExecutiveAssigned: false},
	}}
	err := CanTransition(def, ActivityInProgress, ActivityCompleted, "", vctx)
	require.NotNil(t, err)
	assert.Equal(t, KindValidationFailed, err.Kind)
	assert.Equal(t, []string{"Commercial", "Wealth"}, err.Blocking)

	for i := range vctx.LOBs {
		vctx.LOBs[i].ExecutiveAssigned = true
	}
	assert.Nil(t, CanTransition(def, ActivityInProgress, ActivityCompleted, "", vctx))
}

func TestCanTransition_ProviderHook(t *testing.T) {
	def, ok := catalog.Default().Definition("planning", "Assign Testing Providers")
	require.True(t, ok)

	vctx := &ValidationContext{Providers: []ProviderAssignment{
		{Name: "App Testing", Provider: "vendor-a", Assigned: true},
		{Name: "Infra Testing", Assigned: false},
	}}
	err := CanTransition(def, ActivityInProgress, ActivityCompleted, "", vctx)
	require.NotNil(t, err)
	assert.Equal(t, []string{"Infra Testing"}, err.Blocking)
}

func TestRunHook_UnknownPanics(t *testing.T) {
	assert.Panics(t, func() {
		runHook(catalog.HookName("nope"), nil)
	})
}
