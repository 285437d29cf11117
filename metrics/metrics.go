package metrics

import (
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels of CheckResults.
const (
	OutcomePassed  = "passed"
	OutcomeFailed  = "failed"
	OutcomePending = "pending"
)

// Metrics provides observability for an audit run. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Check results by action and outcome
	CheckResults *prometheus.CounterVec

	// Checks that could not be evaluated, by action
	CheckErrors *prometheus.CounterVec

	// Files by status: "decoded", "skipped"
	Files *prometheus.CounterVec

	// Batches that failed as a whole
	BatchFailures prometheus.Counter

	// Duration of one batch, decode through evaluation
	BatchLatency prometheus.Histogram
}

// New creates a Metrics instance registered on its own registry, so that several runs in one
// process do not collide.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		CheckResults: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "deidaudit_check_results_total",
			Help: "Total check results by action and outcome",
		}, []string{"action", "outcome"}),

		CheckErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "deidaudit_check_errors_total",
			Help: "Total checks that could not be evaluated, by action",
		}, []string{"action"}),

		Files: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "deidaudit_files_total",
			Help: "Total indexed files by status",
		}, []string{"status"}), // status: "decoded", "skipped"

		BatchFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "deidaudit_batch_failures_total",
			Help: "Total batches that failed as a whole",
		}),

		BatchLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "deidaudit_batch_duration_seconds",
			Help:    "Duration of one batch from decoding to the last evaluated check",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
	}
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// IncrementResult records one check result. A nil passed is a pending result.
func (m *Metrics) IncrementResult(action string, passed *bool) {
	if m == nil {
		return
	}
	outcome := OutcomePending
	if passed != nil {
		outcome = OutcomeFailed
		if *passed {
			outcome = OutcomePassed
		}
	}
	m.CheckResults.WithLabelValues(action, outcome).Inc()
}

// IncrementCheckError records a check that could not be evaluated.
func (m *Metrics) IncrementCheckError(action string) {
	if m != nil {
		m.CheckErrors.WithLabelValues(action).Inc()
	}
}

// IncrementFile records an indexed file by status.
func (m *Metrics) IncrementFile(status string) {
	if m != nil {
		m.Files.WithLabelValues(status).Inc()
	}
}

// IncrementBatchFailure records a failed batch.
func (m *Metrics) IncrementBatchFailure() {
	if m != nil {
		m.BatchFailures.Inc()
	}
}

// ObserveBatchLatency records the duration of one batch.
func (m *Metrics) ObserveBatchLatency(d time.Duration) {
	if m != nil {
		m.BatchLatency.Observe(d.Seconds())
	}
}

// WriteFile writes the metrics in the text exposition format, for the node exporter textfile
// collector or for archiving next to the run output.
func (m *Metrics) WriteFile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return errors.Wrapf(err, "failed to write metrics to %s", path)
	}
	return nil
}
