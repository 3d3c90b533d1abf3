package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionExecutionStarted     = "execution.started"
	ActionExecutionResumed     = "execution.resumed"
	ActionStepCompleted        = "execution.step_completed"
	ActionStepFailed           = "execution.step_failed"
	ActionExecutionCommitted   = "execution.committed"
	ActionExecutionCompensated = "execution.compensated"
	ActionExecutionFailed      = "execution.failed"
	ActionDeadLettered         = "deadletter.recorded"
	ActionRecoverySwept        = "recovery.swept"
)

// Audit event categories group related actions.
const (
	CategoryExecution = "escrow.execution"
	CategoryDLQ       = "escrow.dlq"
	CategoryRecovery  = "escrow.recovery"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceExecution  = "execution"
	ResourceDeadLetter = "dead_letter"
	ResourceRecovery   = "recovery_sweep"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionExecutionStarted,
		ActionExecutionResumed,
		ActionStepCompleted,
		ActionStepFailed,
		ActionExecutionCommitted,
		ActionExecutionCompensated,
		ActionExecutionFailed,
		ActionDeadLettered,
		ActionRecoverySwept,
	}
}
