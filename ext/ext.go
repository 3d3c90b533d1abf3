package ext

import (
	"context"
	"time"

	"github.com/xraph/escrow/dlq"
	"github.com/xraph/escrow/workflow"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Execution lifecycle hooks
// ──────────────────────────────────────────────────

// ExecutionStarted is called when a new execution begins.
type ExecutionStarted interface {
	OnExecutionStarted(ctx context.Context, e *workflow.Execution) error
}

// ExecutionResumed is called when an unfinished execution is resumed
// after a restart, a retry or a replay.
type ExecutionResumed interface {
	OnExecutionResumed(ctx context.Context, e *workflow.Execution) error
}

// StepCompleted is called after a durable step completes.
type StepCompleted interface {
	OnStepCompleted(ctx context.Context, e *workflow.Execution, step string, elapsed time.Duration) error
}

// StepFailed is called when a durable step fails.
type StepFailed interface {
	OnStepFailed(ctx context.Context, e *workflow.Execution, step string, err error) error
}

// ExecutionCommitted is called after an execution finishes on its
// forward path.
type ExecutionCommitted interface {
	OnExecutionCommitted(ctx context.Context, e *workflow.Execution, elapsed time.Duration) error
}

// ExecutionCompensated is called after an execution finishes having
// undone its effects.
type ExecutionCompensated interface {
	OnExecutionCompensated(ctx context.Context, e *workflow.Execution, elapsed time.Duration) error
}

// ExecutionFailed is called when an execution fails terminally.
type ExecutionFailed interface {
	OnExecutionFailed(ctx context.Context, e *workflow.Execution, err error) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// DeadLettered is called when a failed execution is recorded in the
// dead letter store.
type DeadLettered interface {
	OnDeadLettered(ctx context.Context, entry *dlq.Entry) error
}

// RecoverySwept is called after each recovery sweep with the number of
// executions resumed and dead letters retried.
type RecoverySwept interface {
	OnRecoverySwept(ctx context.Context, resumed, retried int) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
