package store

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdawes/phasetrack/catalog"
	"github.com/mdawes/phasetrack/engine"
)

func TestCodec_RoundTrip(t *testing.T) {
	defs := catalog.Default().Phase("scoping")
	phase := engine.NewPhaseInstance(testKey, defs)
	tracker := engine.NewTracker(defs, phase)
	require.True(t, tracker.Start("Start Scoping Phase", "user-7"))
	require.True(t, tracker.Complete("Start Scoping Phase", "user-7"))
	require.True(t, tracker.Start("Generate Scoping Document", "system"))
	phase.State = engine.PhaseInProgress
	phase.Version = 3

	data, err := EncodePhase(phase)
	require.NoError(t, err)

	got, err := DecodePhase(data)
	require.NoError(t, err)

	assert.Equal(t, phase.Key, got.Key)
	assert.Equal(t, phase.State, got.State)
	assert.Equal(t, phase.Version, got.Version)
	require.Len(t, got.Activities, len(phase.Activities))

	act := got.Activity("Start Scoping Phase")
	require.NotNil(t, act)
	assert.Equal(t, engine.ActivityCompleted, act.State)
	assert.Equal(t, "user-7", act.StartedBy)
	require.NotNil(t, act.CompletedAt)
	assert.True(t, phase.Activity("Start Scoping Phase").CompletedAt.Equal(*act.CompletedAt))
}

func TestCodec_PreservesResetHistory(t *testing.T) {
	defs := catalog.Default().Phase("scoping")
	phase := engine.NewPhaseInstance(testKey, defs)
	tracker := engine.NewTracker(defs, phase)
	require.True(t, tracker.Start("Start Scoping Phase", "u"))
	require.True(t, tracker.Complete("Start Scoping Phase", "u"))
	require.Len(t, tracker.ResetCascade("Start Scoping Phase", "admin-1"), 1)

	data, err := EncodePhase(phase)
	require.NoError(t, err)
	got, err := DecodePhase(data)
	require.NoError(t, err)

	history := got.Activity("Start Scoping Phase").ResetHistory
	require.Len(t, history, 1)
	assert.NotEmpty(t, history[0].ID)
	assert.Equal(t, "admin-1", history[0].ResetBy)
	require.NotNil(t, history[0].PreviousCompletedAt)
}

func TestDecodePhase_NewerSchemaRejected(t *testing.T) {
	data, err := json.Marshal(map[string]any{
		"schema_version": docSchemaVersion + 1,
		"phase":          engine.NewPhaseInstance(testKey, nil),
	})
	require.NoError(t, err)

	_, err = DecodePhase(data)
	assert.ErrorContains(t, err, "newer than supported")
}

func TestDecodePhase_Invalid(t *testing.T) {
	_, err := DecodePhase([]byte("{not json"))
	assert.Error(t, err)

	_, err = DecodePhase([]byte(`{"schema_version":1}`))
	assert.ErrorContains(t, err, "no payload")
}
