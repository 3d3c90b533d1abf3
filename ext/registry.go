package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/escrow/dlq"
	"github.com/xraph/escrow/workflow"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time.
type executionStartedEntry struct {
	name string
	hook ExecutionStarted
}

type executionResumedEntry struct {
	name string
	hook ExecutionResumed
}

type stepCompletedEntry struct {
	name string
	hook StepCompleted
}

type stepFailedEntry struct {
	name string
	hook StepFailed
}

type executionCommittedEntry struct {
	name string
	hook ExecutionCommitted
}

type executionCompensatedEntry struct {
	name string
	hook ExecutionCompensated
}

type executionFailedEntry struct {
	name string
	hook ExecutionFailed
}

type deadLetteredEntry struct {
	name string
	hook DeadLettered
}

type recoverySweptEntry struct {
	name string
	hook RecoverySwept
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
//
// Registry satisfies workflow.Emitter and can be handed to the runner
// directly.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	executionStarted     []executionStartedEntry
	executionResumed     []executionResumedEntry
	stepCompleted        []stepCompletedEntry
	stepFailed           []stepFailedEntry
	executionCommitted   []executionCommittedEntry
	executionCompensated []executionCompensatedEntry
	executionFailed      []executionFailedEntry
	deadLettered         []deadLetteredEntry
	recoverySwept        []recoverySweptEntry
	shutdown             []shutdownEntry
}

var _ workflow.Emitter = (*Registry)(nil)

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order. Register
// must not be called once events are being emitted.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(ExecutionStarted); ok {
		r.executionStarted = append(r.executionStarted, executionStartedEntry{name, h})
	}
	if h, ok := e.(ExecutionResumed); ok {
		r.executionResumed = append(r.executionResumed, executionResumedEntry{name, h})
	}
	if h, ok := e.(StepCompleted); ok {
		r.stepCompleted = append(r.stepCompleted, stepCompletedEntry{name, h})
	}
	if h, ok := e.(StepFailed); ok {
		r.stepFailed = append(r.stepFailed, stepFailedEntry{name, h})
	}
	if h, ok := e.(ExecutionCommitted); ok {
		r.executionCommitted = append(r.executionCommitted, executionCommittedEntry{name, h})
	}
	if h, ok := e.(ExecutionCompensated); ok {
		r.executionCompensated = append(r.executionCompensated, executionCompensatedEntry{name, h})
	}
	if h, ok := e.(ExecutionFailed); ok {
		r.executionFailed = append(r.executionFailed, executionFailedEntry{name, h})
	}
	if h, ok := e.(DeadLettered); ok {
		r.deadLettered = append(r.deadLettered, deadLetteredEntry{name, h})
	}
	if h, ok := e.(RecoverySwept); ok {
		r.recoverySwept = append(r.recoverySwept, recoverySweptEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Execution event emitters
// ──────────────────────────────────────────────────

// EmitExecutionStarted notifies all extensions that implement ExecutionStarted.
func (r *Registry) EmitExecutionStarted(ctx context.Context, e *workflow.Execution) {
	for _, x := range r.executionStarted {
		if err := x.hook.OnExecutionStarted(ctx, e); err != nil {
			r.logHookError("OnExecutionStarted", x.name, err)
		}
	}
}

// EmitExecutionResumed notifies all extensions that implement ExecutionResumed.
func (r *Registry) EmitExecutionResumed(ctx context.Context, e *workflow.Execution) {
	for _, x := range r.executionResumed {
		if err := x.hook.OnExecutionResumed(ctx, e); err != nil {
			r.logHookError("OnExecutionResumed", x.name, err)
		}
	}
}

// EmitStepCompleted notifies all extensions that implement StepCompleted.
func (r *Registry) EmitStepCompleted(ctx context.Context, e *workflow.Execution, step string, elapsed time.Duration) {
	for _, x := range r.stepCompleted {
		if err := x.hook.OnStepCompleted(ctx, e, step, elapsed); err != nil {
			r.logHookError("OnStepCompleted", x.name, err)
		}
	}
}

// EmitStepFailed notifies all extensions that implement StepFailed.
func (r *Registry) EmitStepFailed(ctx context.Context, e *workflow.Execution, step string, stepErr error) {
	for _, x := range r.stepFailed {
		if err := x.hook.OnStepFailed(ctx, e, step, stepErr); err != nil {
			r.logHookError("OnStepFailed", x.name, err)
		}
	}
}

// EmitExecutionCommitted notifies all extensions that implement ExecutionCommitted.
func (r *Registry) EmitExecutionCommitted(ctx context.Context, e *workflow.Execution, elapsed time.Duration) {
	for _, x := range r.executionCommitted {
		if err := x.hook.OnExecutionCommitted(ctx, e, elapsed); err != nil {
			r.logHookError("OnExecutionCommitted", x.name, err)
		}
	}
}

// EmitExecutionCompensated notifies all extensions that implement ExecutionCompensated.
func (r *Registry) EmitExecutionCompensated(ctx context.Context, e *workflow.Execution, elapsed time.Duration) {
	for _, x := range r.executionCompensated {
		if err := x.hook.OnExecutionCompensated(ctx, e, elapsed); err != nil {
			r.logHookError("OnExecutionCompensated", x.name, err)
		}
	}
}

// EmitExecutionFailed notifies all extensions that implement ExecutionFailed.
func (r *Registry) EmitExecutionFailed(ctx context.Context, e *workflow.Execution, execErr error) {
	for _, x := range r.executionFailed {
		if err := x.hook.OnExecutionFailed(ctx, e, execErr); err != nil {
			r.logHookError("OnExecutionFailed", x.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitDeadLettered notifies all extensions that implement DeadLettered.
func (r *Registry) EmitDeadLettered(ctx context.Context, entry *dlq.Entry) {
	for _, x := range r.deadLettered {
		if err := x.hook.OnDeadLettered(ctx, entry); err != nil {
			r.logHookError("OnDeadLettered", x.name, err)
		}
	}
}

// EmitRecoverySwept notifies all extensions that implement RecoverySwept.
func (r *Registry) EmitRecoverySwept(ctx context.Context, resumed, retried int) {
	for _, x := range r.recoverySwept {
		if err := x.hook.OnRecoverySwept(ctx, resumed, retried); err != nil {
			r.logHookError("OnRecoverySwept", x.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, x := range r.shutdown {
		if err := x.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", x.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Hook errors are never propagated.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
