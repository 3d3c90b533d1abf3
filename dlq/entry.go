package dlq

import (
	"time"

	"github.com/xraph/escrow/id"
)

// Entry records an execution that failed with a fatal error and needs
// operator attention or a scheduled retry.
type Entry struct {
	ID          id.DeadLetterID `json:"id"`
	ExecutionID string          `json:"execution_id"`
	Workflow    string          `json:"workflow"`
	Input       []byte          `json:"input,omitempty"`
	Error       string          `json:"error"`
	RetryCount  int             `json:"retry_count"`
	MaxRetries  int             `json:"max_retries"`
	NextRetryAt *time.Time      `json:"next_retry_at,omitempty"`
	FailedAt    time.Time       `json:"failed_at"`
	ReplayedAt  *time.Time      `json:"replayed_at,omitempty"`
	ResolvedAt  *time.Time      `json:"resolved_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Resolved reports whether a retry of the execution finished without a
// fatal error.
func (e *Entry) Resolved() bool { return e.ResolvedAt != nil }

// Exhausted reports whether the automatic retry budget is used up.
func (e *Entry) Exhausted() bool { return e.RetryCount >= e.MaxRetries }
