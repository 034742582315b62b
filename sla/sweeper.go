// Package sla provides scheduled detection of activities that have been in
// progress longer than the configured maximum age.
//
// The Sweeper scans every persisted phase instance on a cron schedule and
// reports breaches through a notify callback. Detection only: it never
// mutates phase state.
//
// Example usage:
//
//	sweeper, err := sla.NewSweeper("0 * * * *", store, 72*time.Hour, sla.WithLogger(logger))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	sweeper.Start(ctx)  // Returns immediately, runs in background
package sla

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/mdawes/phasetrack/engine"
	"github.com/mdawes/phasetrack/metrics"
)

// ErrInvalidCronSpec is returned when the cron specification cannot be parsed.
var ErrInvalidCronSpec = errors.New("invalid cron spec")

// Store is the subset of the persistence layer the sweeper reads.
type Store interface {
	Keys(ctx context.Context) ([]engine.PhaseKey, error)
	Load(ctx context.Context, key engine.PhaseKey) (*engine.PhaseInstance, error)
}

// Breach is one activity that exceeded the maximum in-progress age.
type Breach struct {
	Key       engine.PhaseKey `json:"key"`
	Activity  string          `json:"activity"`
	StartedBy string          `json:"started_by"`
	StartedAt time.Time       `json:"started_at"`
	Age       time.Duration   `json:"age"`
}

// NotifyFunc receives each breach found by a sweep.
type NotifyFunc func(Breach)

// Sweeper scans the store for overdue in-progress activities on a cron
// schedule. The spec follows standard cron format (5 fields: minute, hour,
// day, month, weekday).
type Sweeper struct {
	spec     string
	schedule cron.Schedule
	store    Store
	maxAge   time.Duration
	notify   NotifyFunc
	logger   *slog.Logger
	breaches metrics.CounterVec
	now      func() time.Time
}

// Option configures a Sweeper.
type Option func(*Sweeper) error

// WithLogger sets the sweeper's logger. Default is slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweeper) error {
		s.logger = logger.With("component", "sla")
		return nil
	}
}

// WithNotify sets the breach callback. Default logs a warning per breach.
func WithNotify(fn NotifyFunc) Option {
	return func(s *Sweeper) error {
		s.notify = fn
		return nil
	}
}

// WithRegistry registers the breach counter with the given metrics registry.
func WithRegistry(reg metrics.Registry) Option {
	return func(s *Sweeper) error {
		breaches, err := reg.NewCounterVec(prometheus.CounterOpts{
			Name: "sla_breaches_total",
			Help: "Activities found in progress past the maximum age, by phase and activity.",
		}, []string{"phase", "activity"})
		if err != nil {
			return fmt.Errorf("creating breach counter: %w", err)
		}
		s.breaches = breaches
		return nil
	}
}

// NewSweeper creates a Sweeper for the given schedule, store and maximum age.
// Returns ErrInvalidCronSpec if the specification cannot be parsed.
func NewSweeper(spec string, store Store, maxAge time.Duration, opts ...Option) (*Sweeper, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, errors.Join(ErrInvalidCronSpec, err)
	}
	if maxAge <= 0 {
		return nil, fmt.Errorf("max age must be positive, got %v", maxAge)
	}

	s := &Sweeper{
		spec:     spec,
		schedule: schedule,
		store:    store,
		maxAge:   maxAge,
		logger:   slog.Default().With("component", "sla"),
		now:      time.Now,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.notify == nil {
		s.notify = s.logBreach
	}
	return s, nil
}

// Start launches a goroutine that sweeps on the cron schedule. Returns
// immediately. The goroutine exits when ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	go s.loop(ctx)
}

// NextRun returns the next scheduled sweep time from now.
func (s *Sweeper) NextRun() time.Time {
	return s.schedule.Next(s.now())
}

func (s *Sweeper) loop(ctx context.Context) {
	for {
		nextRun := s.schedule.Next(s.now())
		waitDuration := time.Until(nextRun)

		s.logger.Debug("waiting for next sweep",
			"next_run", nextRun,
			"wait_duration", waitDuration,
		)

		select {
		case <-ctx.Done():
			s.logger.Info("sla sweeper shutting down")
			return
		case <-time.After(waitDuration):
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Warn("sweep completed with error", "error", err)
			}
		}
	}
}

// Sweep scans every persisted phase instance once and notifies each breach
// found. It returns the breaches so callers can trigger sweeps directly.
func (s *Sweeper) Sweep(ctx context.Context) ([]Breach, error) {
	keys, err := s.store.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing phase keys: %w", err)
	}

	cutoff := s.now().Add(-s.maxAge)
	var breaches []Breach
	for _, key := range keys {
		phase, err := s.store.Load(ctx, key)
		if err != nil {
			// A key deleted between listing and loading is not a sweep
			// failure.
			s.logger.Warn("skipping phase", "key", key.String(), "error", err)
			continue
		}

		for _, act := range phase.Activities {
			if act.State != engine.ActivityInProgress || act.StartedAt == nil {
				continue
			}
			if act.StartedAt.After(cutoff) {
				continue
			}
			breach := Breach{
				Key:       key,
				Activity:  act.Name,
				StartedBy: act.StartedBy,
				StartedAt: *act.StartedAt,
				Age:       s.now().Sub(*act.StartedAt),
			}
			breaches = append(breaches, breach)
			if s.breaches != nil {
				s.breaches.With(prometheus.Labels{
					"phase":    key.Phase,
					"activity": act.Name,
				}).Inc()
			}
			s.notify(breach)
		}
	}

	s.logger.Info("sweep finished",
		"phases", len(keys),
		"breaches", len(breaches),
	)
	return breaches, nil
}

func (s *Sweeper) logBreach(b Breach) {
	s.logger.Warn("activity exceeded maximum in-progress age",
		"key", b.Key.String(),
		"activity", b.Activity,
		"started_by", b.StartedBy,
		"started_at", b.StartedAt,
		"age", b.Age,
	)
}
