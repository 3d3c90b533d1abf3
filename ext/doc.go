// Package ext defines the extension system for Escrow.
//
// Extensions are notified of execution lifecycle events and can react to
// them, recording metrics or writing audit trails. Each lifecycle hook is
// a separate interface so extensions opt in only to the events they care
// about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (e *MyExtension) OnExecutionCompensated(ctx context.Context, x *workflow.Execution, elapsed time.Duration) error {
//	    log.Printf("execution %s compensated after %s", x.ID, elapsed)
//	    return nil
//	}
//
// # Execution Lifecycle Hooks
//
//   - [ExecutionStarted]: a new execution began
//   - [ExecutionResumed]: an unfinished execution was picked up again
//   - [StepCompleted]: a durable step finished successfully
//   - [StepFailed]: a durable step failed
//   - [ExecutionCommitted]: the execution finished on its forward path
//   - [ExecutionCompensated]: the execution finished after undoing its effects
//   - [ExecutionFailed]: the execution failed terminally
//
// # Other Hooks
//
//   - [DeadLettered]: a failed execution was recorded for retry
//   - [RecoverySwept]: the recovery scheduler completed a sweep
//   - [Shutdown]: the engine is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface.
package ext
