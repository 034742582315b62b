package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineRecorder implements the engine's metrics collaborator contract on a
// Registry. All recording is fire-and-forget; a broken backend never fails a
// transition.
type EngineRecorder struct {
	starts    CounterVec
	completes CounterVec
	durations ObserverVec
}

// NewEngineRecorder registers the engine metrics with the given registry.
func NewEngineRecorder(reg Registry) (*EngineRecorder, error) {
	starts, err := reg.NewCounterVec(prometheus.CounterOpts{
		Name: "activity_starts_total",
		Help: "Activity starts, by phase, activity and actor kind.",
	}, []string{"phase", "activity", "actor"})
	if err != nil {
		return nil, fmt.Errorf("creating start counter: %w", err)
	}

	completes, err := reg.NewCounterVec(prometheus.CounterOpts{
		Name: "activity_completions_total",
		Help: "Activity completions, by phase and activity.",
	}, []string{"phase", "activity"})
	if err != nil {
		return nil, fmt.Errorf("creating completion counter: %w", err)
	}

	durations, err := reg.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "activity_duration_seconds",
		Help:    "Time from activity start to completion.",
		Buckets: prometheus.ExponentialBuckets(60, 4, 10),
	}, []string{"phase", "activity"})
	if err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}

	return &EngineRecorder{
		starts:    starts,
		completes: completes,
		durations: durations,
	}, nil
}

// RecordActivityStart counts one activity start. Human actors are collapsed
// to "user" to keep label cardinality bounded.
func (r *EngineRecorder) RecordActivityStart(phase, activity, actor string) {
	kind := "user"
	if actor == "system" {
		kind = "system"
	}
	r.starts.With(prometheus.Labels{
		"phase":    phase,
		"activity": activity,
		"actor":    kind,
	}).Inc()
}

// RecordActivityComplete counts one completion and observes its duration.
func (r *EngineRecorder) RecordActivityComplete(phase, activity string, d time.Duration) {
	labels := prometheus.Labels{"phase": phase, "activity": activity}
	r.completes.With(labels).Inc()
	r.durations.With(labels).Observe(d.Seconds())
}
