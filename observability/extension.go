package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xraph/escrow/dlq"
	"github.com/xraph/escrow/ext"
	"github.com/xraph/escrow/workflow"
)

// Compile-time interface checks.
var (
	_ ext.Extension            = (*MetricsExtension)(nil)
	_ ext.ExecutionStarted     = (*MetricsExtension)(nil)
	_ ext.ExecutionResumed     = (*MetricsExtension)(nil)
	_ ext.StepFailed           = (*MetricsExtension)(nil)
	_ ext.ExecutionCommitted   = (*MetricsExtension)(nil)
	_ ext.ExecutionCompensated = (*MetricsExtension)(nil)
	_ ext.ExecutionFailed      = (*MetricsExtension)(nil)
	_ ext.DeadLettered         = (*MetricsExtension)(nil)
	_ ext.RecoverySwept        = (*MetricsExtension)(nil)
)

// Execution outcomes used as the "outcome" label.
const (
	OutcomeCommitted   = "committed"
	OutcomeCompensated = "compensated"
	OutcomeFailed      = "failed"
)

// MetricsExtension records system-wide execution metrics in Prometheus.
// Register it as an Escrow extension to track start, resume and finish
// counts per workflow, step failures, dead letters and recovery sweeps.
type MetricsExtension struct {
	ExecutionsStarted  *prometheus.CounterVec
	ExecutionsResumed  *prometheus.CounterVec
	ExecutionsFinished *prometheus.CounterVec
	ExecutionDuration  *prometheus.HistogramVec
	StepFailures       *prometheus.CounterVec
	DeadLetters        prometheus.Counter
	RecoveryResumed    prometheus.Counter
	RecoveryRetried    prometheus.Counter

	gatherer prometheus.Gatherer
}

// NewMetricsExtension registers the metrics with the default Prometheus
// registry.
func NewMetricsExtension() *MetricsExtension {
	return newMetricsExtension(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewMetricsExtensionWithRegistry registers the metrics with registry. A
// nil registry gets a new isolated one.
func NewMetricsExtensionWithRegistry(registry *prometheus.Registry) *MetricsExtension {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	return newMetricsExtension(registry, registry)
}

func newMetricsExtension(registerer prometheus.Registerer, gatherer prometheus.Gatherer) *MetricsExtension {
	m := &MetricsExtension{
		ExecutionsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_executions_started_total",
			Help: "Executions started, by workflow.",
		}, []string{"workflow"}),
		ExecutionsResumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_executions_resumed_total",
			Help: "Executions resumed after a restart, retry or replay, by workflow.",
		}, []string{"workflow"}),
		ExecutionsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_executions_finished_total",
			Help: "Executions finished, by workflow and outcome.",
		}, []string{"workflow", "outcome"}),
		ExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "escrow_execution_duration_seconds",
			Help:    "Wall time of an execution attempt, by workflow and outcome.",
			Buckets: prometheus.DefBuckets,
		}, []string{"workflow", "outcome"}),
		StepFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_step_failures_total",
			Help: "Durable step failures, by workflow.",
		}, []string{"workflow"}),
		DeadLetters: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "escrow_dead_letters_total",
			Help: "Failed executions recorded as dead letters.",
		}),
		RecoveryResumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "escrow_recovery_resumed_total",
			Help: "Stalled executions resumed by the recovery sweep.",
		}),
		RecoveryRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "escrow_recovery_retried_total",
			Help: "Dead letters retried by the recovery sweep.",
		}),
		gatherer: gatherer,
	}

	registerer.MustRegister(
		m.ExecutionsStarted,
		m.ExecutionsResumed,
		m.ExecutionsFinished,
		m.ExecutionDuration,
		m.StepFailures,
		m.DeadLetters,
		m.RecoveryResumed,
		m.RecoveryRetried,
	)
	return m
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// Handler returns an HTTP handler that exposes the metrics.
func (m *MetricsExtension) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ── Execution lifecycle hooks ───────────────────────

// OnExecutionStarted implements ext.ExecutionStarted.
func (m *MetricsExtension) OnExecutionStarted(_ context.Context, e *workflow.Execution) error {
	m.ExecutionsStarted.WithLabelValues(e.Name).Inc()
	return nil
}

// OnExecutionResumed implements ext.ExecutionResumed.
func (m *MetricsExtension) OnExecutionResumed(_ context.Context, e *workflow.Execution) error {
	m.ExecutionsResumed.WithLabelValues(e.Name).Inc()
	return nil
}

// OnStepFailed implements ext.StepFailed.
func (m *MetricsExtension) OnStepFailed(_ context.Context, e *workflow.Execution, _ string, _ error) error {
	m.StepFailures.WithLabelValues(e.Name).Inc()
	return nil
}

// OnExecutionCommitted implements ext.ExecutionCommitted.
func (m *MetricsExtension) OnExecutionCommitted(_ context.Context, e *workflow.Execution, elapsed time.Duration) error {
	m.finished(e, OutcomeCommitted, elapsed)
	return nil
}

// OnExecutionCompensated implements ext.ExecutionCompensated.
func (m *MetricsExtension) OnExecutionCompensated(_ context.Context, e *workflow.Execution, elapsed time.Duration) error {
	m.finished(e, OutcomeCompensated, elapsed)
	return nil
}

// OnExecutionFailed implements ext.ExecutionFailed.
func (m *MetricsExtension) OnExecutionFailed(_ context.Context, e *workflow.Execution, _ error) error {
	m.ExecutionsFinished.WithLabelValues(e.Name, OutcomeFailed).Inc()
	return nil
}

func (m *MetricsExtension) finished(e *workflow.Execution, outcome string, elapsed time.Duration) {
	m.ExecutionsFinished.WithLabelValues(e.Name, outcome).Inc()
	m.ExecutionDuration.WithLabelValues(e.Name, outcome).Observe(elapsed.Seconds())
}

// ── Other hooks ─────────────────────────────────────

// OnDeadLettered implements ext.DeadLettered.
func (m *MetricsExtension) OnDeadLettered(_ context.Context, _ *dlq.Entry) error {
	m.DeadLetters.Inc()
	return nil
}

// OnRecoverySwept implements ext.RecoverySwept.
func (m *MetricsExtension) OnRecoverySwept(_ context.Context, resumed, retried int) error {
	m.RecoveryResumed.Add(float64(resumed))
	m.RecoveryRetried.Add(float64(retried))
	return nil
}
