package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/event"
	"github.com/xraph/escrow/id"
)

// receipt is the checkpointed outcome of a Receive. An empty MessageID
// means the wait timed out.
type receipt struct {
	MessageID string          `json:"message_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Publish records value as the execution's signal on topic. Callers
// waiting with Bus.AwaitSignal observe it. A nil value publishes null.
// Replaying a completed Publish is a no-op; publishing twice on the same
// topic returns escrow.ErrSignalExists.
func (w *Workflow) Publish(topic string, value any) error {
	key := w.nextKey("publish:" + topic)

	data, err := w.store.GetCheckpoint(w.ctx, w.exec.ID, key)
	if err != nil {
		return fmt.Errorf("workflow %s: get checkpoint %q: %w", w.exec.Name, key, err)
	}
	if data != nil {
		return decodeRecord(key, data, nil)
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("workflow %s: encode signal %q: %w", w.exec.Name, topic, err)
	}

	store := w.bus.Store()
	pubErr := store.PublishSignal(w.ctx, &event.Signal{
		ID:          id.NewSignalID(),
		ExecutionID: w.exec.ID,
		Topic:       topic,
		Value:       payload,
		CreatedAt:   time.Now().UTC(),
	})
	if errors.Is(pubErr, escrow.ErrSignalExists) {
		// A crash between publishing and checkpointing leaves the same
		// value behind; adopt it.
		existing, getErr := store.GetSignal(w.ctx, w.exec.ID, topic)
		if getErr == nil && existing != nil && bytes.Equal(existing.Value, payload) {
			pubErr = nil
		}
	}
	if pubErr != nil {
		return fmt.Errorf("workflow %s: publish %q: %w", w.exec.Name, topic, pubErr)
	}

	enc, err := encodeOutput(nil)
	if err != nil {
		return err
	}
	if err := w.store.SaveCheckpoint(w.ctx, w.exec.ID, key, enc); err != nil {
		return fmt.Errorf("workflow %s: save checkpoint %q: %w", w.exec.Name, key, err)
	}

	w.logger.Debug("signal published", slog.String("topic", topic))
	return nil
}

// Receive waits for the next message sent to this execution on topic and
// returns its JSON payload, or nil when timeout elapses first. The
// deadline is checkpointed before waiting, so a resumed execution only
// waits for the remainder. The received message is checkpointed and
// consumed; replay returns the same payload.
func (w *Workflow) Receive(topic string, timeout time.Duration) ([]byte, error) {
	key := w.nextKey("recv:" + topic)

	data, err := w.store.GetCheckpoint(w.ctx, w.exec.ID, key)
	if err != nil {
		return nil, fmt.Errorf("workflow %s: get checkpoint %q: %w", w.exec.Name, key, err)
	}
	if data != nil {
		var rec receipt
		if err := decodeRecord(key, data, &rec); err != nil {
			return nil, fmt.Errorf("workflow %s: decode checkpoint %q: %w", w.exec.Name, key, err)
		}
		if rec.MessageID == "" {
			return nil, nil
		}
		// The message may not have been consumed before an interruption.
		if msgID, parseErr := id.ParseMessageID(rec.MessageID); parseErr == nil {
			_ = w.bus.Consume(w.ctx, msgID)
		}
		return rec.Payload, nil
	}

	deadline, err := w.durableTime(key+"/deadline", time.Now().Add(timeout))
	if err != nil {
		return nil, err
	}

	msg, err := w.bus.AwaitMessage(w.ctx, w.exec.ID, topic, time.Until(deadline))
	if err != nil {
		return nil, fmt.Errorf("workflow %s: receive %q: %w", w.exec.Name, topic, err)
	}

	rec := receipt{}
	if msg != nil {
		rec.MessageID = msg.ID.String()
		rec.Payload = msg.Payload
	}
	enc, err := encodeOutput(rec)
	if err != nil {
		return nil, err
	}
	if err := w.store.SaveCheckpoint(w.ctx, w.exec.ID, key, enc); err != nil {
		return nil, fmt.Errorf("workflow %s: save checkpoint %q: %w", w.exec.Name, key, err)
	}

	if msg == nil {
		w.logger.Debug("receive timed out", slog.String("topic", topic))
		return nil, nil
	}
	if err := w.bus.Consume(w.ctx, msg.ID); err != nil {
		w.logger.Warn("failed to consume message",
			slog.String("message_id", msg.ID.String()),
			slog.String("error", err.Error()),
		)
	}
	return msg.Payload, nil
}

// ReceiveValue is Receive with the payload decoded into T. ok is false
// when the wait timed out or the payload was null.
func ReceiveValue[T any](w *Workflow, topic string, timeout time.Duration) (value T, ok bool, err error) {
	payload, err := w.Receive(topic, timeout)
	if err != nil {
		return value, false, err
	}
	if len(payload) == 0 || bytes.Equal(bytes.TrimSpace(payload), event.Null) {
		return value, false, nil
	}
	if err := json.Unmarshal(payload, &value); err != nil {
		return value, false, fmt.Errorf("workflow %s: decode message %q: %w", w.exec.Name, topic, err)
	}
	return value, true, nil
}

// Sleep pauses the workflow for d. The wake-up time is checkpointed before
// sleeping, so a resumed execution only sleeps for the remainder and a
// completed sleep is skipped.
func (w *Workflow) Sleep(name string, d time.Duration) error {
	key := w.nextKey("sleep:" + name)

	wake, err := w.durableTime(key, time.Now().Add(d))
	if err != nil {
		return err
	}

	remaining := time.Until(wake)
	if remaining <= 0 {
		return nil
	}
	t := time.NewTimer(remaining)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-w.ctx.Done():
		return w.ctx.Err()
	}
}

// durableTime returns the time checkpointed under key, recording def
// first if nothing is stored yet.
func (w *Workflow) durableTime(key string, def time.Time) (time.Time, error) {
	data, err := w.store.GetCheckpoint(w.ctx, w.exec.ID, key)
	if err != nil {
		return time.Time{}, fmt.Errorf("workflow %s: get checkpoint %q: %w", w.exec.Name, key, err)
	}
	if data != nil {
		var t time.Time
		if err := decodeRecord(key, data, &t); err != nil {
			return time.Time{}, fmt.Errorf("workflow %s: decode checkpoint %q: %w", w.exec.Name, key, err)
		}
		return t, nil
	}

	def = def.UTC()
	enc, err := encodeOutput(def)
	if err != nil {
		return time.Time{}, err
	}
	if err := w.store.SaveCheckpoint(w.ctx, w.exec.ID, key, enc); err != nil {
		return time.Time{}, fmt.Errorf("workflow %s: save checkpoint %q: %w", w.exec.Name, key, err)
	}
	return def, nil
}

// ── Child executions ────────────────────────────────

// SpawnChild starts the child execution childID of workflow name without
// waiting for it and returns its ID. The start is checkpointed and
// idempotent on childID, so replay never starts a second child.
func SpawnChild[T any](w *Workflow, childID, name string, input T) (string, error) {
	return StepWithResult(w, "spawn:"+name, func(ctx context.Context) (string, error) {
		if w.children == nil {
			return "", fmt.Errorf("workflow %s: child starter not configured", w.exec.Name)
		}
		raw, err := json.Marshal(input)
		if err != nil {
			return "", fmt.Errorf("marshal child input %q: %w", name, err)
		}
		return w.children.StartChildRaw(ctx, w.exec.ID, childID, name, raw)
	})
}
