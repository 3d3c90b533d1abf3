package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/payment"
)

// CreateSession persists a new session. An existing session is kept.
func (s *Store) CreateSession(ctx context.Context, sess *payment.Session) error {
	items, err := json.Marshal(sess.Items)
	if err != nil {
		return fmt.Errorf("escrow/postgres: encode session items: %w", err)
	}
	if sess.Items == nil {
		items = []byte("[]")
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO payment_sessions (
			session_id, client_reference_id, success_url, cancel_url, webhook,
			status, items, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (session_id) DO NOTHING`,
		sess.ID, sess.ClientReferenceID, sess.SuccessURL, sess.CancelURL, sess.Webhook,
		sess.Status, items, sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("escrow/postgres: create session: %w", err)
	}
	return nil
}

// GetSession returns a session.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*payment.Session, error) {
	var (
		sess  payment.Session
		items []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT session_id, client_reference_id, success_url, cancel_url, webhook,
			status, items, created_at, updated_at
		FROM payment_sessions WHERE session_id = $1`,
		sessionID,
	).Scan(
		&sess.ID, &sess.ClientReferenceID, &sess.SuccessURL, &sess.CancelURL, &sess.Webhook,
		&sess.Status, &items, &sess.CreatedAt, &sess.UpdatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, escrow.ErrSessionNotFound
		}
		return nil, fmt.Errorf("escrow/postgres: get session: %w", err)
	}

	if err := json.Unmarshal(items, &sess.Items); err != nil {
		return nil, fmt.Errorf("escrow/postgres: decode session items: %w", err)
	}
	if len(sess.Items) == 0 {
		sess.Items = nil
	}
	return &sess, nil
}

// UpdateSessionStatus sets the status of a session.
func (s *Store) UpdateSessionStatus(ctx context.Context, sessionID, status string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE payment_sessions SET status = $2, updated_at = $3 WHERE session_id = $1`,
		sessionID, status, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("escrow/postgres: update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return escrow.ErrSessionNotFound
	}
	return nil
}
