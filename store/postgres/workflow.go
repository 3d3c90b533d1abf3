package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/id"
	"github.com/xraph/escrow/workflow"
)

const executionColumns = `id, name, version, state, input, output, error, parent_id,
	attempts, started_at, completed_at, created_at, updated_at`

// CreateExecution persists a new execution.
func (s *Store) CreateExecution(ctx context.Context, e *workflow.Execution) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO escrow_executions (`+executionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		e.ID, e.Name, e.Version, string(e.State), e.Input, e.Output, e.Error, e.ParentID,
		e.Attempts, e.StartedAt, e.CompletedAt, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return escrow.ErrExecutionExists
		}
		return fmt.Errorf("escrow/postgres: create execution: %w", err)
	}
	return nil
}

// GetExecution retrieves an execution by ID.
func (s *Store) GetExecution(ctx context.Context, executionID string) (*workflow.Execution, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+executionColumns+` FROM escrow_executions WHERE id = $1`,
		executionID,
	)
	e, err := scanExecution(row)
	if err != nil {
		if isNoRows(err) {
			return nil, escrow.ErrExecutionNotFound
		}
		return nil, fmt.Errorf("escrow/postgres: get execution: %w", err)
	}
	return e, nil
}

// UpdateExecution persists changes to an existing execution.
func (s *Store) UpdateExecution(ctx context.Context, e *workflow.Execution) error {
	e.UpdatedAt = time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		UPDATE escrow_executions SET
			version = $2, state = $3, input = $4, output = $5, error = $6,
			attempts = $7, started_at = $8, completed_at = $9, updated_at = $10
		WHERE id = $1`,
		e.ID, e.Version, string(e.State), e.Input, e.Output, e.Error,
		e.Attempts, e.StartedAt, e.CompletedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("escrow/postgres: update execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return escrow.ErrExecutionNotFound
	}
	return nil
}

// ListExecutions returns executions matching the given options, oldest
// first.
func (s *Store) ListExecutions(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Execution, error) {
	var (
		where []string
		args  []any
	)
	if opts.State != "" {
		args = append(args, string(opts.State))
		where = append(where, fmt.Sprintf("state = $%d", len(args)))
	}
	if opts.Name != "" {
		args = append(args, opts.Name)
		where = append(where, fmt.Sprintf("name = $%d", len(args)))
	}
	if !opts.UpdatedBefore.IsZero() {
		args = append(args, opts.UpdatedBefore)
		where = append(where, fmt.Sprintf("updated_at < $%d", len(args)))
	}

	query := `SELECT ` + executionColumns + ` FROM escrow_executions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	return s.queryExecutions(ctx, query, args...)
}

// ListChildExecutions returns all executions started by a parent.
func (s *Store) ListChildExecutions(ctx context.Context, parentID string) ([]*workflow.Execution, error) {
	return s.queryExecutions(ctx,
		`SELECT `+executionColumns+` FROM escrow_executions
		WHERE parent_id = $1 ORDER BY created_at ASC, id ASC`,
		parentID,
	)
}

func (s *Store) queryExecutions(ctx context.Context, query string, args ...any) ([]*workflow.Execution, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("escrow/postgres: list executions: %w", err)
	}
	defer rows.Close()

	var result []*workflow.Execution
	for rows.Next() {
		e, scanErr := scanExecution(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("escrow/postgres: scan execution: %w", scanErr)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func scanExecution(row pgx.Row) (*workflow.Execution, error) {
	var (
		e     workflow.Execution
		state string
	)
	err := row.Scan(
		&e.ID, &e.Name, &e.Version, &state, &e.Input, &e.Output, &e.Error, &e.ParentID,
		&e.Attempts, &e.StartedAt, &e.CompletedAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.State = workflow.State(state)
	return &e, nil
}

// SaveCheckpoint records a step outcome. The first write for a key wins.
func (s *Store) SaveCheckpoint(ctx context.Context, executionID, key string, data []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO escrow_checkpoints (id, execution_id, key, data, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (execution_id, key) DO NOTHING`,
		id.NewCheckpointID().String(), executionID, key, data, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("escrow/postgres: save checkpoint: %w", err)
	}
	return nil
}

// GetCheckpoint returns the checkpoint data for a key, or nil when the
// step has not completed.
func (s *Store) GetCheckpoint(ctx context.Context, executionID, key string) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM escrow_checkpoints WHERE execution_id = $1 AND key = $2`,
		executionID, key,
	).Scan(&data)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("escrow/postgres: get checkpoint: %w", err)
	}
	return data, nil
}

// ListCheckpoints returns all checkpoints of an execution in creation
// order.
func (s *Store) ListCheckpoints(ctx context.Context, executionID string) ([]*workflow.Checkpoint, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, execution_id, key, data, created_at
		FROM escrow_checkpoints
		WHERE execution_id = $1
		ORDER BY seq ASC`,
		executionID,
	)
	if err != nil {
		return nil, fmt.Errorf("escrow/postgres: list checkpoints: %w", err)
	}
	defer rows.Close()

	var result []*workflow.Checkpoint
	for rows.Next() {
		var (
			cp    workflow.Checkpoint
			idStr string
		)
		if scanErr := rows.Scan(&idStr, &cp.ExecutionID, &cp.Key, &cp.Data, &cp.CreatedAt); scanErr != nil {
			return nil, fmt.Errorf("escrow/postgres: scan checkpoint: %w", scanErr)
		}
		parsed, parseErr := id.Parse(idStr)
		if parseErr != nil {
			return nil, fmt.Errorf("escrow/postgres: parse checkpoint id %q: %w", idStr, parseErr)
		}
		cp.ID = parsed
		result = append(result, &cp)
	}
	return result, rows.Err()
}

// DeleteCheckpointsAfter removes every checkpoint created after afterKey.
// An empty key removes all checkpoints of the execution.
func (s *Store) DeleteCheckpointsAfter(ctx context.Context, executionID, afterKey string) error {
	var seq int64
	if afterKey != "" {
		err := s.pool.QueryRow(ctx,
			`SELECT seq FROM escrow_checkpoints WHERE execution_id = $1 AND key = $2`,
			executionID, afterKey,
		).Scan(&seq)
		if err != nil {
			if isNoRows(err) {
				return escrow.ErrCheckpointNotFound
			}
			return fmt.Errorf("escrow/postgres: find checkpoint: %w", err)
		}
	}

	_, err := s.pool.Exec(ctx,
		`DELETE FROM escrow_checkpoints WHERE execution_id = $1 AND seq > $2`,
		executionID, seq,
	)
	if err != nil {
		return fmt.Errorf("escrow/postgres: delete checkpoints: %w", err)
	}
	return nil
}
