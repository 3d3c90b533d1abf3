package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/escrow/dlq"
	"github.com/xraph/escrow/ext"
	"github.com/xraph/escrow/workflow"
)

// Compile-time interface checks.
var (
	_ ext.Extension            = (*Extension)(nil)
	_ ext.ExecutionStarted     = (*Extension)(nil)
	_ ext.ExecutionResumed     = (*Extension)(nil)
	_ ext.StepCompleted        = (*Extension)(nil)
	_ ext.StepFailed           = (*Extension)(nil)
	_ ext.ExecutionCommitted   = (*Extension)(nil)
	_ ext.ExecutionCompensated = (*Extension)(nil)
	_ ext.ExecutionFailed      = (*Extension)(nil)
	_ ext.DeadLettered         = (*Extension)(nil)
	_ ext.RecoverySwept        = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one entry of the audit trail.
type AuditEvent struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Details
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension bridges Escrow lifecycle events to an audit trail backend.
// Each lifecycle hook emits a structured audit event through the [Recorder].
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// ── Execution lifecycle hooks ───────────────────────

// OnExecutionStarted implements ext.ExecutionStarted.
func (e *Extension) OnExecutionStarted(ctx context.Context, x *workflow.Execution) error {
	return e.record(ctx, ActionExecutionStarted, SeverityInfo, OutcomeSuccess,
		ResourceExecution, x.ID, CategoryExecution, nil,
		"workflow", x.Name,
		"version", x.Version,
		"parent_id", x.ParentID,
	)
}

// OnExecutionResumed implements ext.ExecutionResumed.
func (e *Extension) OnExecutionResumed(ctx context.Context, x *workflow.Execution) error {
	return e.record(ctx, ActionExecutionResumed, SeverityInfo, OutcomeSuccess,
		ResourceExecution, x.ID, CategoryExecution, nil,
		"workflow", x.Name,
		"attempts", x.Attempts,
	)
}

// OnStepCompleted implements ext.StepCompleted.
func (e *Extension) OnStepCompleted(ctx context.Context, x *workflow.Execution, step string, elapsed time.Duration) error {
	return e.record(ctx, ActionStepCompleted, SeverityInfo, OutcomeSuccess,
		ResourceExecution, x.ID, CategoryExecution, nil,
		"workflow", x.Name,
		"step", step,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnStepFailed implements ext.StepFailed.
func (e *Extension) OnStepFailed(ctx context.Context, x *workflow.Execution, step string, stepErr error) error {
	return e.record(ctx, ActionStepFailed, SeverityWarning, OutcomeFailure,
		ResourceExecution, x.ID, CategoryExecution, stepErr,
		"workflow", x.Name,
		"step", step,
	)
}

// OnExecutionCommitted implements ext.ExecutionCommitted.
func (e *Extension) OnExecutionCommitted(ctx context.Context, x *workflow.Execution, elapsed time.Duration) error {
	return e.record(ctx, ActionExecutionCommitted, SeverityInfo, OutcomeSuccess,
		ResourceExecution, x.ID, CategoryExecution, nil,
		"workflow", x.Name,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnExecutionCompensated implements ext.ExecutionCompensated. A
// compensated execution ended as the business expected, so the event is
// a warning rather than a failure.
func (e *Extension) OnExecutionCompensated(ctx context.Context, x *workflow.Execution, elapsed time.Duration) error {
	return e.record(ctx, ActionExecutionCompensated, SeverityWarning, OutcomeSuccess,
		ResourceExecution, x.ID, CategoryExecution, nil,
		"workflow", x.Name,
		"output", string(x.Output),
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnExecutionFailed implements ext.ExecutionFailed.
func (e *Extension) OnExecutionFailed(ctx context.Context, x *workflow.Execution, execErr error) error {
	return e.record(ctx, ActionExecutionFailed, SeverityCritical, OutcomeFailure,
		ResourceExecution, x.ID, CategoryExecution, execErr,
		"workflow", x.Name,
		"attempts", x.Attempts,
	)
}

// ── Other hooks ─────────────────────────────────────

// OnDeadLettered implements ext.DeadLettered.
func (e *Extension) OnDeadLettered(ctx context.Context, entry *dlq.Entry) error {
	var reason error
	if entry.Error != "" {
		reason = fmt.Errorf("%s", entry.Error)
	}
	return e.record(ctx, ActionDeadLettered, SeverityCritical, OutcomeFailure,
		ResourceDeadLetter, entry.ID.String(), CategoryDLQ, reason,
		"execution_id", entry.ExecutionID,
		"workflow", entry.Workflow,
		"retry_count", entry.RetryCount,
		"max_retries", entry.MaxRetries,
	)
}

// OnRecoverySwept implements ext.RecoverySwept. Empty sweeps are not
// recorded.
func (e *Extension) OnRecoverySwept(ctx context.Context, resumed, retried int) error {
	if resumed == 0 && retried == 0 {
		return nil
	}
	return e.record(ctx, ActionRecoverySwept, SeverityInfo, OutcomeSuccess,
		ResourceRecovery, "", CategoryRecovery, nil,
		"resumed", resumed,
		"retried", retried,
	)
}

// ── Internal helpers ────────────────────────────────

// record builds and sends an audit event if the action is enabled.
// The kvPairs argument is a list of key-value pairs added to Metadata.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			slog.String("action", action),
			slog.String("resource_id", resourceID),
			slog.String("error", recErr.Error()),
		)
	}
	return nil
}
