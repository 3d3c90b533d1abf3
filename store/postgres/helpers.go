package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// isNoRows returns true when err indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// isDuplicateKey checks if a PostgreSQL error is a unique_violation (23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// inTx runs fn inside a transaction. The transaction is committed when fn
// returns nil and rolled back otherwise.
func (s *Store) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("escrow/postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("escrow/postgres: commit: %w", err)
	}
	return nil
}

// notify announces a change on NotifyChannel. Failures are logged; the
// row is already persisted and waiters fall back to polling.
func (s *Store) notify(ctx context.Context, executionID, topic string) {
	_, err := s.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, executionID+":"+topic)
	if err != nil {
		s.logger.Warn("failed to notify subscribers",
			"execution_id", executionID, "topic", topic, "error", err)
	}
}

// isForeignKey checks if a PostgreSQL error is a foreign_key_violation
// (23503).
func isForeignKey(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}
