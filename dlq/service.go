package dlq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/backoff"
	"github.com/xraph/escrow/id"
	"github.com/xraph/escrow/workflow"
)

// DefaultMaxRetries is the automatic retry budget of a dead letter.
const DefaultMaxRetries = 5

// Retrier moves a failed execution back to running. *workflow.Runner
// satisfies it.
type Retrier interface {
	Retry(ctx context.Context, executionID string) (*workflow.Handle, error)
}

// Option configures a Service.
type Option func(*Service)

// WithMaxRetries sets the automatic retry budget.
func WithMaxRetries(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

// WithBackoff sets the delay strategy between automatic retries.
func WithBackoff(b backoff.Strategy) Option {
	return func(s *Service) { s.backoff = b }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// Service provides high-level dead letter operations over a Store.
type Service struct {
	store      Store
	retrier    Retrier
	backoff    backoff.Strategy
	maxRetries int
	logger     *slog.Logger
}

// NewService creates a dead letter service.
func NewService(store Store, retrier Retrier, opts ...Option) *Service {
	s := &Service{
		store:      store,
		retrier:    retrier,
		backoff:    backoff.DefaultStrategy(),
		maxRetries: DefaultMaxRetries,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Push records a fatal failure of exec. A second failure of the same
// execution updates its existing entry and schedules the next retry
// while budget remains.
func (s *Service) Push(ctx context.Context, exec *workflow.Execution, execErr error) (*Entry, error) {
	now := time.Now().UTC()

	entry, err := s.store.GetDLQByExecution(ctx, exec.ID)
	switch {
	case err == nil:
		entry.Error = execErr.Error()
		entry.FailedAt = now
		entry.ResolvedAt = nil
		entry.NextRetryAt = s.nextRetry(entry, now)
		if err := s.store.UpdateDLQ(ctx, entry); err != nil {
			return nil, err
		}
	case errors.Is(err, escrow.ErrDeadLetterNotFound):
		entry = &Entry{
			ID:          id.NewDeadLetterID(),
			ExecutionID: exec.ID,
			Workflow:    exec.Name,
			Input:       exec.Input,
			Error:       execErr.Error(),
			MaxRetries:  s.maxRetries,
			FailedAt:    now,
			CreatedAt:   now,
		}
		entry.NextRetryAt = s.nextRetry(entry, now)
		if err := s.store.PushDLQ(ctx, entry); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	s.logger.Warn("execution dead-lettered",
		slog.String("execution_id", exec.ID),
		slog.String("workflow", exec.Name),
		slog.String("dead_letter_id", entry.ID.String()),
		slog.Int("retry_count", entry.RetryCount),
		slog.String("error", entry.Error),
	)
	return entry, nil
}

func (s *Service) nextRetry(e *Entry, now time.Time) *time.Time {
	if e.Exhausted() {
		return nil
	}
	at := now.Add(s.backoff.Delay(e.RetryCount + 1))
	return &at
}

// Resolve marks the dead letter of an execution as resolved. Executions
// without a dead letter are ignored.
func (s *Service) Resolve(ctx context.Context, executionID string) error {
	entry, err := s.store.GetDLQByExecution(ctx, executionID)
	if errors.Is(err, escrow.ErrDeadLetterNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	entry.ResolvedAt = &now
	entry.NextRetryAt = nil
	return s.store.UpdateDLQ(ctx, entry)
}

// Replay retries the dead-lettered execution now, regardless of its
// schedule or remaining budget.
func (s *Service) Replay(ctx context.Context, entryID id.DeadLetterID) (*workflow.Handle, error) {
	entry, err := s.store.GetDLQ(ctx, entryID)
	if err != nil {
		return nil, err
	}
	return s.replay(ctx, entry)
}

func (s *Service) replay(ctx context.Context, entry *Entry) (*workflow.Handle, error) {
	now := time.Now().UTC()
	entry.RetryCount++
	entry.ReplayedAt = &now
	entry.NextRetryAt = nil
	if err := s.store.UpdateDLQ(ctx, entry); err != nil {
		return nil, err
	}

	h, err := s.retrier.Retry(ctx, entry.ExecutionID)
	if err != nil {
		return nil, fmt.Errorf("retry execution %s: %w", entry.ExecutionID, err)
	}
	s.logger.Info("dead letter replayed",
		slog.String("dead_letter_id", entry.ID.String()),
		slog.String("execution_id", entry.ExecutionID),
		slog.Int("retry_count", entry.RetryCount),
	)
	return h, nil
}

// RetryDue replays every unresolved dead letter whose next retry time has
// passed and returns how many were replayed.
func (s *Service) RetryDue(ctx context.Context) (int, error) {
	due, err := s.store.ListDLQ(ctx, ListOpts{DueBefore: time.Now().UTC()})
	if err != nil {
		return 0, err
	}

	replayed := 0
	for _, entry := range due {
		if _, err := s.replay(ctx, entry); err != nil {
			s.logger.Error("scheduled dead letter retry failed",
				slog.String("dead_letter_id", entry.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		replayed++
	}
	return replayed, nil
}

// DLQStore returns the underlying store for direct access to List, Get,
// Purge and Count operations.
func (s *Service) DLQStore() Store {
	return s.store
}
