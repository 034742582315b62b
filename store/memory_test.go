package store

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdawes/phasetrack/catalog"
	"github.com/mdawes/phasetrack/engine"
)

var testKey = engine.PhaseKey{CycleID: "2026-Q1", ReportID: "rpt-1", Phase: "scoping"}

func seedInstance(key engine.PhaseKey) *engine.PhaseInstance {
	return engine.NewPhaseInstance(key, catalog.Default().Phase(key.Phase))
}

func TestMemory_LoadMissing(t *testing.T) {
	s := NewMemory()

	_, err := s.Load(context.Background(), testKey)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestMemory_UpdateCreatesAndLoads(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	err := s.Update(ctx, testKey, func(cur *engine.PhaseInstance) (*engine.PhaseInstance, error) {
		require.Nil(t, cur)
		return seedInstance(testKey), nil
	})
	require.NoError(t, err)

	got, err := s.Load(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, testKey, got.Key)
	assert.Len(t, got.Activities, 5)
	assert.Equal(t, int64(1), got.Version)
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestMemory_UpdateRoundTrip(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	phase := seedInstance(testKey)
	tracker := engine.NewTracker(catalog.Default().Phase(testKey.Phase), phase)
	require.True(t, tracker.Start("Start Scoping Phase", "user-7"))
	require.True(t, tracker.Complete("Start Scoping Phase", "user-7"))
	phase.State = engine.PhaseInProgress

	err := s.Update(ctx, testKey, func(*engine.PhaseInstance) (*engine.PhaseInstance, error) {
		return phase, nil
	})
	require.NoError(t, err)

	got, err := s.Load(ctx, testKey)
	require.NoError(t, err)
	act := got.Activity("Start Scoping Phase")
	assert.Equal(t, engine.ActivityCompleted, act.State)
	assert.Equal(t, "user-7", act.StartedBy)
	assert.Equal(t, "user-7", act.CompletedBy)
	require.NotNil(t, act.StartedAt)
	require.NotNil(t, act.CompletedAt)
	assert.Equal(t, engine.PhaseInProgress, got.State)
}

func TestMemory_ReadOnlyUpdateDoesNotPersist(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	err := s.Update(ctx, testKey, func(cur *engine.PhaseInstance) (*engine.PhaseInstance, error) {
		return nil, nil
	})
	require.NoError(t, err)

	_, err = s.Load(ctx, testKey)
	assert.True(t, IsNotFound(err))
}

func TestMemory_ErrorAbortsUpdate(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	require.NoError(t, s.Update(ctx, testKey, func(*engine.PhaseInstance) (*engine.PhaseInstance, error) {
		return seedInstance(testKey), nil
	}))

	wantErr := assert.AnError
	err := s.Update(ctx, testKey, func(cur *engine.PhaseInstance) (*engine.PhaseInstance, error) {
		cur.State = engine.PhaseCompleted
		return cur, wantErr
	})
	assert.ErrorIs(t, err, wantErr)

	got, err := s.Load(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, engine.PhaseNotStarted, got.State)
	assert.Equal(t, int64(1), got.Version)
}

func TestMemory_MutationsDoNotEscape(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	seeded := seedInstance(testKey)
	require.NoError(t, s.Update(ctx, testKey, func(*engine.PhaseInstance) (*engine.PhaseInstance, error) {
		return seeded, nil
	}))

	// Mutating the instance we handed in must not touch the stored copy.
	seeded.Activity("Start Scoping Phase").State = engine.ActivityCompleted

	got, err := s.Load(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, engine.ActivityNotStarted, got.Activity("Start Scoping Phase").State)

	// Same for the loaded copy.
	got.Activity("Start Scoping Phase").State = engine.ActivityCompleted
	again, err := s.Load(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, engine.ActivityNotStarted, again.Activity("Start Scoping Phase").State)
}

func TestMemory_ConcurrentUpdatesSerialize(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	require.NoError(t, s.Update(ctx, testKey, func(*engine.PhaseInstance) (*engine.PhaseInstance, error) {
		phase := seedInstance(testKey)
		phase.Activities["counter"] = &engine.ActivityInstance{Name: "counter"}
		return phase, nil
	}))

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Update(ctx, testKey, func(cur *engine.PhaseInstance) (*engine.PhaseInstance, error) {
				// Read-modify-write on a shared field; lost updates would
				// show up as a short count.
				cur.Activities["counter"].ResetHistory = append(cur.Activities["counter"].ResetHistory, engine.ResetRecord{})
				return cur, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.Load(ctx, testKey)
	require.NoError(t, err)
	assert.Len(t, got.Activities["counter"].ResetHistory, workers)
	assert.Equal(t, int64(workers+1), got.Version)
}

func TestMemory_Keys(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)

	other := engine.PhaseKey{CycleID: "2026-Q1", ReportID: "rpt-2", Phase: "planning"}
	for _, key := range []engine.PhaseKey{testKey, other} {
		key := key
		require.NoError(t, s.Update(ctx, key, func(*engine.PhaseInstance) (*engine.PhaseInstance, error) {
			return seedInstance(key), nil
		}))
	}

	keys, err = s.Keys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []engine.PhaseKey{testKey, other}, keys)
}

func TestMemory_ContextCancelled(t *testing.T) {
	s := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Update(ctx, testKey, func(*engine.PhaseInstance) (*engine.PhaseInstance, error) {
		t.Fatal("callback must not run")
		return nil, nil
	})
	assert.ErrorIs(t, err, context.Canceled)

	_, err = s.Load(ctx, testKey)
	assert.ErrorIs(t, err, context.Canceled)
}
