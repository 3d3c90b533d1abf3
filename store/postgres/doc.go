// Package postgres implements the escrow store on PostgreSQL using pgx/v5.
//
// The schema is created by Migrate from SQL files embedded in the binary
// and tracked in escrow_migrations. Checkpoint writes use ON CONFLICT DO
// NOTHING so the first recorded outcome of a step wins. Signal and
// message writes are announced with pg_notify on NotifyChannel, and the
// store LISTENs on it to wake event.Bus waits.
//
// Usage:
//
//	s, err := postgres.New(ctx, "postgres://localhost:5432/escrow?sslmode=disable")
//	if err != nil { ... }
//	defer s.Close()
//	if err := s.Migrate(ctx); err != nil { ... }
package postgres
