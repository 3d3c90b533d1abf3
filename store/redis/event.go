package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/event"
	"github.com/xraph/escrow/id"
)

// PublishSignal persists a signal. SETNX keeps the first value per
// execution and topic.
func (s *Store) PublishSignal(ctx context.Context, sig *event.Signal) error {
	raw, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("escrow/redis: encode signal: %w", err)
	}
	ok, err := s.client.SetNX(ctx, signalKey(sig.ExecutionID, sig.Topic), raw, 0).Result()
	if err != nil {
		return fmt.Errorf("escrow/redis: publish signal: %w", err)
	}
	if !ok {
		return escrow.ErrSignalExists
	}
	return nil
}

// GetSignal returns the signal for an execution and topic, or nil.
func (s *Store) GetSignal(ctx context.Context, executionID, topic string) (*event.Signal, error) {
	raw, err := s.client.Get(ctx, signalKey(executionID, topic)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("escrow/redis: get signal: %w", err)
	}
	var sig event.Signal
	if err := json.Unmarshal(raw, &sig); err != nil {
		return nil, fmt.Errorf("escrow/redis: decode signal: %w", err)
	}
	return &sig, nil
}

// SendMessage persists a message and appends it to the execution topic's
// stream.
func (s *Store) SendMessage(ctx context.Context, msg *event.Message) error {
	mID := msg.ID.String()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, messageKey(mID),
		"id", mID,
		"execution_id", msg.ExecutionID,
		"topic", msg.Topic,
		"payload", string(msg.Payload),
		"consumed", "0",
		"created_at", msg.CreatedAt.Format(time.RFC3339Nano),
	)
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: messageStreamKey(msg.ExecutionID, msg.Topic),
		Values: map[string]interface{}{
			"message_id": mID,
		},
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("escrow/redis: send message: %w", err)
	}
	return nil
}

// NextMessage returns the oldest unconsumed message for an execution and
// topic, or nil.
func (s *Store) NextMessage(ctx context.Context, executionID, topic string) (*event.Message, error) {
	entries, err := s.client.XRange(ctx, messageStreamKey(executionID, topic), "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("escrow/redis: next message xrange: %w", err)
	}

	for _, entry := range entries {
		mID, ok := entry.Values["message_id"].(string)
		if !ok {
			continue
		}
		vals, err := s.client.HGetAll(ctx, messageKey(mID)).Result()
		if err != nil {
			return nil, fmt.Errorf("escrow/redis: next message get: %w", err)
		}
		if len(vals) == 0 || vals["consumed"] == "1" {
			continue
		}
		return mapToMessage(vals)
	}
	return nil, nil
}

// ConsumeMessage marks a message as consumed.
func (s *Store) ConsumeMessage(ctx context.Context, messageID id.MessageID) error {
	key := messageKey(messageID.String())

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("escrow/redis: consume message exists: %w", err)
	}
	if exists == 0 {
		return escrow.ErrMessageNotFound
	}
	if err := s.client.HSet(ctx, key, "consumed", "1").Err(); err != nil {
		return fmt.Errorf("escrow/redis: consume message: %w", err)
	}
	return nil
}

func mapToMessage(m map[string]string) (*event.Message, error) {
	mID, err := id.ParseWithPrefix(m["id"], id.PrefixMessage)
	if err != nil {
		return nil, fmt.Errorf("escrow/redis: parse message id: %w", err)
	}
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	return &event.Message{
		ID:          mID,
		ExecutionID: m["execution_id"],
		Topic:       m["topic"],
		Payload:     []byte(m["payload"]),
		Consumed:    m["consumed"] == "1",
		CreatedAt:   createdAt,
	}, nil
}
