package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/event"
	"github.com/xraph/escrow/id"
)

// PublishSignal persists a signal and notifies listeners.
func (s *Store) PublishSignal(ctx context.Context, sig *event.Signal) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO escrow_signals (id, execution_id, topic, value, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		sig.ID.String(), sig.ExecutionID, sig.Topic, sig.Value, sig.CreatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return escrow.ErrSignalExists
		}
		return fmt.Errorf("escrow/postgres: publish signal: %w", err)
	}

	s.notify(ctx, sig.ExecutionID, sig.Topic)
	return nil
}

// GetSignal returns the signal for an execution and topic, or nil.
func (s *Store) GetSignal(ctx context.Context, executionID, topic string) (*event.Signal, error) {
	var (
		sig   event.Signal
		idStr string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, execution_id, topic, value, created_at
		FROM escrow_signals
		WHERE execution_id = $1 AND topic = $2`,
		executionID, topic,
	).Scan(&idStr, &sig.ExecutionID, &sig.Topic, &sig.Value, &sig.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("escrow/postgres: get signal: %w", err)
	}

	parsed, err := id.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("escrow/postgres: parse signal id %q: %w", idStr, err)
	}
	sig.ID = parsed
	return &sig, nil
}

// SendMessage persists a message and notifies listeners.
func (s *Store) SendMessage(ctx context.Context, msg *event.Message) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO escrow_messages (id, execution_id, topic, payload, consumed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.ID.String(), msg.ExecutionID, msg.Topic, msg.Payload, msg.Consumed, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("escrow/postgres: send message: %w", err)
	}

	s.notify(ctx, msg.ExecutionID, msg.Topic)
	return nil
}

// NextMessage returns the oldest unconsumed message, or nil.
func (s *Store) NextMessage(ctx context.Context, executionID, topic string) (*event.Message, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, execution_id, topic, payload, consumed, created_at
		FROM escrow_messages
		WHERE execution_id = $1 AND topic = $2 AND consumed = FALSE
		ORDER BY seq ASC
		LIMIT 1`,
		executionID, topic,
	)
	msg, err := scanMessage(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("escrow/postgres: next message: %w", err)
	}
	return msg, nil
}

// ConsumeMessage marks a message as consumed.
func (s *Store) ConsumeMessage(ctx context.Context, messageID id.MessageID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE escrow_messages SET consumed = TRUE WHERE id = $1`,
		messageID.String(),
	)
	if err != nil {
		return fmt.Errorf("escrow/postgres: consume message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return escrow.ErrMessageNotFound
	}
	return nil
}

func scanMessage(row pgx.Row) (*event.Message, error) {
	var (
		msg   event.Message
		idStr string
	)
	err := row.Scan(&idStr, &msg.ExecutionID, &msg.Topic, &msg.Payload, &msg.Consumed, &msg.CreatedAt)
	if err != nil {
		return nil, err
	}

	parsed, parseErr := id.ParseMessageID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("escrow/postgres: parse message id %q: %w", idStr, parseErr)
	}
	msg.ID = parsed
	return &msg, nil
}
