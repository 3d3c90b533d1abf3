package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/dlq"
	"github.com/xraph/escrow/id"
)

const dlqColumns = `id, execution_id, workflow, input, error, retry_count, max_retries,
	next_retry_at, failed_at, replayed_at, resolved_at, created_at`

// PushDLQ adds a dead letter.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO escrow_dead_letters (`+dlqColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		entry.ID.String(), entry.ExecutionID, entry.Workflow, entry.Input, entry.Error,
		entry.RetryCount, entry.MaxRetries, entry.NextRetryAt, entry.FailedAt,
		entry.ReplayedAt, entry.ResolvedAt, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("escrow/postgres: push dlq: %w", err)
	}
	return nil
}

// UpdateDLQ persists changes to an existing dead letter.
func (s *Store) UpdateDLQ(ctx context.Context, entry *dlq.Entry) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE escrow_dead_letters SET
			input = $2, error = $3, retry_count = $4, max_retries = $5,
			next_retry_at = $6, failed_at = $7, replayed_at = $8, resolved_at = $9
		WHERE id = $1`,
		entry.ID.String(), entry.Input, entry.Error, entry.RetryCount, entry.MaxRetries,
		entry.NextRetryAt, entry.FailedAt, entry.ReplayedAt, entry.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("escrow/postgres: update dlq: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return escrow.ErrDeadLetterNotFound
	}
	return nil
}

// ListDLQ returns dead letters matching the given options, oldest failure
// first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	query := `SELECT ` + dlqColumns + ` FROM escrow_dead_letters WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Workflow != "" {
		query += fmt.Sprintf(" AND workflow = $%d", argIdx)
		args = append(args, opts.Workflow)
		argIdx++
	}
	if !opts.DueBefore.IsZero() {
		query += fmt.Sprintf(" AND resolved_at IS NULL AND next_retry_at IS NOT NULL AND next_retry_at <= $%d", argIdx)
		args = append(args, opts.DueBefore)
		argIdx++
	}

	query += " ORDER BY failed_at ASC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("escrow/postgres: list dlq: %w", err)
	}
	defer rows.Close()

	var entries []*dlq.Entry
	for rows.Next() {
		e, scanErr := scanDLQ(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("escrow/postgres: scan dlq row: %w", scanErr)
		}
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("escrow/postgres: iterate dlq rows: %w", err)
	}
	return entries, nil
}

// GetDLQ retrieves a dead letter by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DeadLetterID) (*dlq.Entry, error) {
	return s.getDLQ(ctx, `id = $1`, entryID.String())
}

// GetDLQByExecution retrieves the dead letter of an execution.
func (s *Store) GetDLQByExecution(ctx context.Context, executionID string) (*dlq.Entry, error) {
	return s.getDLQ(ctx, `execution_id = $1`, executionID)
}

func (s *Store) getDLQ(ctx context.Context, cond string, arg string) (*dlq.Entry, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+dlqColumns+` FROM escrow_dead_letters WHERE `+cond, arg)
	e, err := scanDLQ(row)
	if err != nil {
		if isNoRows(err) {
			return nil, escrow.ErrDeadLetterNotFound
		}
		return nil, fmt.Errorf("escrow/postgres: get dlq: %w", err)
	}
	return e, nil
}

// PurgeDLQ removes dead letters that failed before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM escrow_dead_letters WHERE failed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("escrow/postgres: purge dlq: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountDLQ returns the total number of dead letters.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM escrow_dead_letters`).Scan(&count); err != nil {
		return 0, fmt.Errorf("escrow/postgres: count dlq: %w", err)
	}
	return count, nil
}

func scanDLQ(row pgx.Row) (*dlq.Entry, error) {
	var (
		e     dlq.Entry
		idStr string
	)
	err := row.Scan(
		&idStr, &e.ExecutionID, &e.Workflow, &e.Input, &e.Error, &e.RetryCount, &e.MaxRetries,
		&e.NextRetryAt, &e.FailedAt, &e.ReplayedAt, &e.ResolvedAt, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsed, parseErr := id.ParseDeadLetterID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("escrow/postgres: parse dlq id %q: %w", idStr, parseErr)
	}
	e.ID = parsed
	return &e, nil
}
