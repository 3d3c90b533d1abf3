// Package audithook is an Escrow extension that records execution
// lifecycle events as an audit trail.
//
// Every execution, dead-letter and recovery hook emits a structured audit
// event through the [Recorder] interface. The extension assigns severity
// levels (info for normal operations, warning for step failures and
// compensations, critical for terminal failures) and metadata such as the
// workflow name, step, elapsed time and error.
//
// # Logging backend
//
//	audithook.New(audithook.NewLogRecorder(logger))
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionExecutionFailed,
//	        audithook.ActionDeadLettered,
//	    ),
//	)
package audithook
