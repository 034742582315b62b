package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdawes/phasetrack/engine"
)

const prefix = "phasetrack.event"

func TestDecode_Submission(t *testing.T) {
	payload := `{
		"key": {"cycle_id": "2026-Q1", "report_id": "rpt-1", "phase": "scoping"},
		"actor_id": "user-7",
		"submission_id": "sub-42"
	}`

	key, ev, err := decode(prefix, prefix+".submission", []byte(payload))
	require.NoError(t, err)

	assert.Equal(t, engine.PhaseKey{CycleID: "2026-Q1", ReportID: "rpt-1", Phase: "scoping"}, key)
	sub, ok := ev.(engine.SubmissionEvent)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, "user-7", sub.ActorID)
	assert.Equal(t, "sub-42", sub.SubmissionID)
}

func TestDecode_ApprovalDecision(t *testing.T) {
	payload := `{
		"key": {"cycle_id": "c", "report_id": "r", "phase": "scoping"},
		"actor_id": "mgr-1",
		"decision": "rejected"
	}`

	_, ev, err := decode(prefix, prefix+".approval_decision", []byte(payload))
	require.NoError(t, err)

	appr, ok := ev.(engine.ApprovalEvent)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, engine.DecisionRejected, appr.Decision)
}

func TestDecode_AssignmentsComplete(t *testing.T) {
	payload := `{
		"key": {"cycle_id": "c", "report_id": "r", "phase": "planning"},
		"actor_id": "coord-1",
		"lobs": [
			{"name": "Retail", "executive_assigned": true},
			{"name": "Commercial", "executive_assigned": false}
		]
	}`

	_, ev, err := decode(prefix, prefix+".assignments_complete", []byte(payload))
	require.NoError(t, err)

	ac, ok := ev.(engine.AssignmentsCompleteEvent)
	require.True(t, ok, "got %T", ev)
	require.Len(t, ac.LOBs, 2)
	assert.True(t, ac.LOBs[0].ExecutiveAssigned)
	assert.False(t, ac.LOBs[1].ExecutiveAssigned)
}

func TestDecode_ProvidersAssigned(t *testing.T) {
	payload := `{
		"key": {"cycle_id": "c", "report_id": "r", "phase": "planning"},
		"assignments": [{"name": "App Testing", "provider": "vendor-a", "assigned": true}]
	}`

	_, ev, err := decode(prefix, prefix+".providers_assigned", []byte(payload))
	require.NoError(t, err)

	pa, ok := ev.(engine.ProvidersAssignedEvent)
	require.True(t, ok, "got %T", ev)
	require.Len(t, pa.Assignments, 1)
	assert.Equal(t, "vendor-a", pa.Assignments[0].Provider)
}

func TestDecode_PreviousComplete(t *testing.T) {
	payload := `{
		"key": {"cycle_id": "c", "report_id": "r", "phase": "scoping"},
		"previous_activity": "Start Scoping Phase"
	}`

	_, ev, err := decode(prefix, prefix+".previous_complete", []byte(payload))
	require.NoError(t, err)

	pc, ok := ev.(engine.PreviousCompleteEvent)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, "Start Scoping Phase", pc.Previous)
}

func TestDecode_Errors(t *testing.T) {
	valid := `{"key": {"cycle_id": "c", "report_id": "r", "phase": "scoping"}}`

	tests := []struct {
		name    string
		subject string
		payload string
	}{
		{"unknown kind", prefix + ".telemetry", valid},
		{"wrong prefix", "other.subject.submission", valid},
		{"malformed json", prefix + ".submission", "{nope"},
		{"missing key", prefix + ".submission", `{"actor_id": "u"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := decode(prefix, tt.subject, []byte(tt.payload))
			assert.Error(t, err)
		})
	}
}
