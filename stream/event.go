// Package stream fans execution lifecycle events out to live subscribers.
// The Broker is an ext.Extension; subscribers pick events by topic.
package stream

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	// Execution events.
	EventExecutionStarted     EventType = "execution.started"
	EventExecutionResumed     EventType = "execution.resumed"
	EventStepCompleted        EventType = "execution.step_completed"
	EventStepFailed           EventType = "execution.step_failed"
	EventExecutionCommitted   EventType = "execution.committed"
	EventExecutionCompensated EventType = "execution.compensated"
	EventExecutionFailed      EventType = "execution.failed"

	// Dead letter events.
	EventDeadLettered EventType = "deadletter.recorded"

	// Recovery events.
	EventRecoverySwept EventType = "recovery.swept"
)

// Event is the envelope sent to subscribers.
type Event struct {
	// Type identifies the lifecycle event.
	Type EventType `json:"type"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"ts"`

	// Topic is the entity topic the event belongs to, if any.
	Topic string `json:"topic,omitempty"`

	// Data is the event-specific payload.
	Data json.RawMessage `json:"data"`
}

// ExecutionEventData is the payload for execution events.
type ExecutionEventData struct {
	ExecutionID string `json:"execution_id"`
	Workflow    string `json:"workflow"`
	State       string `json:"state"`
	Step        string `json:"step,omitempty"`
	Attempts    int    `json:"attempts,omitempty"`
	ElapsedMs   int64  `json:"elapsed_ms,omitempty"`
	Error       string `json:"error,omitempty"`
}

// DeadLetterEventData is the payload for dead letter events.
type DeadLetterEventData struct {
	EntryID     string `json:"entry_id"`
	ExecutionID string `json:"execution_id"`
	Workflow    string `json:"workflow"`
	Error       string `json:"error"`
	RetryCount  int    `json:"retry_count"`
	NextRetryAt string `json:"next_retry_at,omitempty"`
}

// RecoveryEventData is the payload for recovery sweeps.
type RecoveryEventData struct {
	Resumed int `json:"resumed"`
	Retried int `json:"retried"`
}
