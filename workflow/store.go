package workflow

import (
	"context"
	"time"
)

// ListOpts controls pagination for execution list queries.
type ListOpts struct {
	// Limit is the maximum number of executions to return. Zero means no limit.
	Limit int
	// Offset is the number of executions to skip.
	Offset int
	// State filters by execution state. Empty means all states.
	State State
	// Name filters by workflow name. Empty means all workflows.
	Name string
	// UpdatedBefore, when set, only returns executions last updated
	// before this time.
	UpdatedBefore time.Time
}

// Store defines the persistence contract for workflow executions.
type Store interface {
	// CreateExecution persists a new execution. It returns
	// escrow.ErrExecutionExists when the ID is already taken.
	CreateExecution(ctx context.Context, e *Execution) error

	// GetExecution retrieves an execution by ID. It returns
	// escrow.ErrExecutionNotFound when none exists.
	GetExecution(ctx context.Context, executionID string) (*Execution, error)

	// UpdateExecution persists changes to an existing execution.
	UpdateExecution(ctx context.Context, e *Execution) error

	// ListExecutions returns executions matching the given options, oldest
	// first.
	ListExecutions(ctx context.Context, opts ListOpts) ([]*Execution, error)

	// ListChildExecutions returns all executions started by a parent.
	ListChildExecutions(ctx context.Context, parentID string) ([]*Execution, error)

	// SaveCheckpoint records a step outcome. The first write for a key
	// wins; later writes for the same key are ignored.
	SaveCheckpoint(ctx context.Context, executionID, key string, data []byte) error

	// GetCheckpoint returns the checkpoint data for a key, or nil when the
	// step has not completed.
	GetCheckpoint(ctx context.Context, executionID, key string) ([]byte, error)

	// ListCheckpoints returns all checkpoints of an execution in creation
	// order.
	ListCheckpoints(ctx context.Context, executionID string) ([]*Checkpoint, error)

	// DeleteCheckpointsAfter removes every checkpoint created after the
	// given key. An empty key removes all checkpoints of the execution.
	DeleteCheckpointsAfter(ctx context.Context, executionID, afterKey string) error
}
