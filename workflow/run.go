package workflow

import (
	"time"

	"github.com/xraph/escrow"
)

// State represents the lifecycle state of a workflow execution.
type State string

const (
	// StateRunning means the execution has started and not yet finished.
	// Interrupted executions stay running until they are resumed.
	StateRunning State = "running"
	// StateCommitted means the handler returned successfully.
	StateCommitted State = "committed"
	// StateCompensated means the handler returned successfully after
	// undoing its reservations.
	StateCompensated State = "compensated"
	// StateFailed means the handler returned an error.
	StateFailed State = "failed"
)

// Terminal reports whether no further transitions are expected.
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateCompensated || s == StateFailed
}

// Execution is a single durable run of a workflow, keyed by its
// execution ID.
type Execution struct {
	escrow.Entity

	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Version     int        `json:"version"`
	State       State      `json:"state"`
	Input       []byte     `json:"input,omitempty"`
	Output      []byte     `json:"output,omitempty"`
	Error       string     `json:"error,omitempty"`
	ParentID    string     `json:"parent_id,omitempty"`
	Attempts    int        `json:"attempts"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
