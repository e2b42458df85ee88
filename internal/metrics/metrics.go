package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Runs by mode and outcome (ok, error, cancelled)
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_runs_total",
			Help: "Total number of triage runs",
		},
		[]string{"mode", "outcome"},
	)

	// Run wall time
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "triage_run_duration_seconds",
			Help:    "Triage run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~4m
		},
		[]string{"mode"},
	)

	// Per-message outcomes: processed, skipped_deleted, error
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_messages_total",
			Help: "Messages handled by the pipeline by outcome",
		},
		[]string{"outcome"},
	)

	ClassificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_classifications_total",
			Help: "Classifications by category and rule",
		},
		[]string{"category", "rule"},
	)

	// Actions by kind and outcome: applied, failed, dry_run
	ActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_actions_total",
			Help: "Executed actions by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	CursorTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "triage_cursor_timestamp_ms",
			Help: "Last processed message timestamp stored in the cursor",
		},
	)

	// Outbox dispatch results: published, failed
	OutboxTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_outbox_events_total",
			Help: "Outbox events dispatched to the broker",
		},
		[]string{"outcome"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)
)

// RecordRun records a finished run
func RecordRun(mode, outcome string, duration time.Duration) {
	RunsTotal.WithLabelValues(mode, outcome).Inc()
	RunDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// IncrementMessage counts one message outcome
func IncrementMessage(outcome string) {
	MessagesTotal.WithLabelValues(outcome).Inc()
}

// IncrementClassification counts one classification
func IncrementClassification(category, rule string) {
	ClassificationsTotal.WithLabelValues(category, rule).Inc()
}

// IncrementAction counts one executed action
func IncrementAction(kind, outcome string) {
	ActionsTotal.WithLabelValues(kind, outcome).Inc()
}

// SetCursorTimestamp exports the stored cursor position
func SetCursorTimestamp(ms int64) {
	CursorTimestamp.Set(float64(ms))
}

// IncrementOutbox counts one outbox dispatch attempt
func IncrementOutbox(outcome string) {
	OutboxTotal.WithLabelValues(outcome).Inc()
}

// RecordHTTPRequestDuration records an API request
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}
