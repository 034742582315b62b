package sla

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdawes/phasetrack/catalog"
	"github.com/mdawes/phasetrack/engine"
	"github.com/mdawes/phasetrack/store"
)

func seedPhase(t *testing.T, s *store.Memory, key engine.PhaseKey, activity string, startedAt time.Time) {
	t.Helper()
	err := s.Update(context.Background(), key, func(*engine.PhaseInstance) (*engine.PhaseInstance, error) {
		phase := engine.NewPhaseInstance(key, catalog.Default().Phase(key.Phase))
		act := phase.Activity(activity)
		act.State = engine.ActivityInProgress
		act.StartedAt = &startedAt
		act.StartedBy = "user-7"
		return phase, nil
	})
	require.NoError(t, err)
}

func TestNewSweeper_InvalidSpec(t *testing.T) {
	_, err := NewSweeper("not a cron spec", store.NewMemory(), time.Hour)
	assert.ErrorIs(t, err, ErrInvalidCronSpec)
}

func TestNewSweeper_InvalidMaxAge(t *testing.T) {
	_, err := NewSweeper("0 * * * *", store.NewMemory(), 0)
	assert.Error(t, err)
}

func TestSweep(t *testing.T) {
	mem := store.NewMemory()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	stale := engine.PhaseKey{CycleID: "2026-Q1", ReportID: "rpt-1", Phase: "scoping"}
	fresh := engine.PhaseKey{CycleID: "2026-Q1", ReportID: "rpt-2", Phase: "scoping"}
	seedPhase(t, mem, stale, "Generate Scoping Document", now.Add(-80*time.Hour))
	seedPhase(t, mem, fresh, "Generate Scoping Document", now.Add(-time.Hour))

	var notified []Breach
	sweeper, err := NewSweeper("0 * * * *", mem, 72*time.Hour,
		WithNotify(func(b Breach) { notified = append(notified, b) }),
	)
	require.NoError(t, err)
	sweeper.now = func() time.Time { return now }

	breaches, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)

	require.Len(t, breaches, 1)
	b := breaches[0]
	assert.Equal(t, stale, b.Key)
	assert.Equal(t, "Generate Scoping Document", b.Activity)
	assert.Equal(t, "user-7", b.StartedBy)
	assert.Equal(t, 80*time.Hour, b.Age)
	assert.Equal(t, breaches, notified)
}

func TestSweep_IgnoresNonInProgress(t *testing.T) {
	mem := store.NewMemory()
	now := time.Now()
	key := engine.PhaseKey{CycleID: "c", ReportID: "r", Phase: "scoping"}

	err := mem.Update(context.Background(), key, func(*engine.PhaseInstance) (*engine.PhaseInstance, error) {
		phase := engine.NewPhaseInstance(key, catalog.Default().Phase(key.Phase))
		old := now.Add(-200 * time.Hour)
		act := phase.Activity("Start Scoping Phase")
		act.State = engine.ActivityCompleted
		act.StartedAt = &old
		completed := now.Add(-150 * time.Hour)
		act.CompletedAt = &completed
		return phase, nil
	})
	require.NoError(t, err)

	sweeper, err := NewSweeper("0 * * * *", mem, 72*time.Hour)
	require.NoError(t, err)

	breaches, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Empty(t, breaches)
}

func TestSweep_EmptyStore(t *testing.T) {
	sweeper, err := NewSweeper("0 * * * *", store.NewMemory(), time.Hour)
	require.NoError(t, err)

	breaches, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Empty(t, breaches)
}

func TestNextRun(t *testing.T) {
	sweeper, err := NewSweeper("0 * * * *", store.NewMemory(), time.Hour)
	require.NoError(t, err)
	sweeper.now = func() time.Time {
		return time.Date(2026, 3, 10, 12, 30, 0, 0, time.UTC)
	}

	assert.Equal(t, time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC), sweeper.NextRun())
}
