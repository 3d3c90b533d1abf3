package dlq

import (
	"context"
	"time"

	"github.com/xraph/escrow/id"
)

// ListOpts controls pagination and filtering for dead letter queries.
type ListOpts struct {
	// Limit is the maximum number of entries to return. Zero means no limit.
	Limit int
	// Offset is the number of entries to skip.
	Offset int
	// Workflow filters by workflow name. Empty means all workflows.
	Workflow string
	// DueBefore, when set, only returns unresolved entries whose next
	// retry is scheduled at or before this time.
	DueBefore time.Time
}

// Store defines the persistence contract for dead letters. There is at
// most one entry per execution.
type Store interface {
	// PushDLQ adds a dead letter.
	PushDLQ(ctx context.Context, entry *Entry) error

	// UpdateDLQ persists changes to an existing dead letter.
	UpdateDLQ(ctx context.Context, entry *Entry) error

	// ListDLQ returns dead letters matching the given options, oldest
	// failure first.
	ListDLQ(ctx context.Context, opts ListOpts) ([]*Entry, error)

	// GetDLQ retrieves a dead letter by ID. It returns
	// escrow.ErrDeadLetterNotFound when none exists.
	GetDLQ(ctx context.Context, entryID id.DeadLetterID) (*Entry, error)

	// GetDLQByExecution retrieves the dead letter of an execution. It
	// returns escrow.ErrDeadLetterNotFound when none exists.
	GetDLQByExecution(ctx context.Context, executionID string) (*Entry, error)

	// PurgeDLQ removes dead letters with FailedAt before the given time
	// and returns how many were removed.
	PurgeDLQ(ctx context.Context, before time.Time) (int64, error)

	// CountDLQ returns the total number of dead letters.
	CountDLQ(ctx context.Context) (int64, error)
}
