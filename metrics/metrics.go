// Package metrics provides Prometheus-compatible metrics for the phasetrack
// engine.
//
// Two modes are supported:
//   - Scrape mode (server): metrics registered with a Prometheus registry
//     and exposed via HTTP
//   - Push mode: metrics pushed to a VictoriaMetrics/Prometheus remote
//     write endpoint
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Gauge is a metric that represents a single numerical value that can go up
// and down.
type Gauge interface {
	// Set sets the Gauge to the given value.
	Set(float64)
}

// Counter is a metric that represents a single monotonically increasing
// counter.
type Counter interface {
	// Inc increments the counter by 1.
	Inc()
	// Add adds the given value to the counter. It panics if the value is
	// negative.
	Add(float64)
}

// Observer records sampled values, e.g. durations.
type Observer interface {
	Observe(float64)
}

// GaugeVec is a Gauge with labels.
type GaugeVec interface {
	With(prometheus.Labels) Gauge
}

// CounterVec is a Counter with labels.
type CounterVec interface {
	With(prometheus.Labels) Counter
}

// ObserverVec is an Observer with labels.
type ObserverVec interface {
	With(prometheus.Labels) Observer
}

// Registry creates and registers metrics. Implementations handle the
// differences between push and scrape modes.
type Registry interface {
	NewGauge(opts prometheus.GaugeOpts) (Gauge, error)
	NewGaugeVec(opts prometheus.GaugeOpts, labels []string) (GaugeVec, error)
	NewCounter(opts prometheus.CounterOpts) (Counter, error)
	NewCounterVec(opts prometheus.CounterOpts, labels []string) (CounterVec, error)
	NewHistogramVec(opts prometheus.HistogramOpts, labels []string) (ObserverVec, error)
}
