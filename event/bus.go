// Package event provides the signal and message channels between running
// executions and their callers. Executions publish signals (one value per
// topic) and receive messages; callers send messages and await signals.
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/escrow/id"
)

// DefaultPollInterval is how often timed waits re-check the store.
const DefaultPollInterval = 10 * time.Millisecond

// Option configures a Bus.
type Option func(*Bus)

// WithPollInterval sets how often timed waits poll the store.
func WithPollInterval(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.poll = d
		}
	}
}

// WithLogger sets the bus logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// Bus provides the caller-facing operations over an event Store and the
// timed waits used on both sides. When the store is also a Notifier,
// waits wake on its announcements as well as on the poll interval.
type Bus struct {
	store    Store
	notifier Notifier
	poll     time.Duration
	logger   *slog.Logger
}

// NewBus creates an event bus backed by the given store.
func NewBus(store Store, opts ...Option) *Bus {
	b := &Bus{store: store, poll: DefaultPollInterval, logger: slog.Default()}
	if n, ok := store.(Notifier); ok {
		b.notifier = n
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Store returns the underlying event store.
func (b *Bus) Store() Store { return b.store }

// PollInterval returns how often timed waits poll the store.
func (b *Bus) PollInterval() time.Duration { return b.poll }

// Send delivers a JSON-encoded value to an execution on a topic.
func (b *Bus) Send(ctx context.Context, executionID, topic string, value any) (*Message, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode message for %s/%s: %w", executionID, topic, err)
	}
	msg := &Message{
		ID:          id.NewMessageID(),
		ExecutionID: executionID,
		Topic:       topic,
		Payload:     payload,
		CreatedAt:   time.Now().UTC(),
	}
	if err := b.store.SendMessage(ctx, msg); err != nil {
		return nil, err
	}
	b.logger.Debug("message sent",
		slog.String("execution_id", executionID),
		slog.String("topic", topic),
		slog.String("message_id", msg.ID.String()),
	)
	return msg, nil
}

// AwaitSignal blocks until the execution publishes on the topic or the
// timeout elapses. It returns nil on timeout.
func (b *Bus) AwaitSignal(ctx context.Context, executionID, topic string, timeout time.Duration) (*Signal, error) {
	wake, stop := b.watch(executionID, topic)
	defer stop()
	return poll(ctx, b.poll, timeout, wake, func(ctx context.Context) (*Signal, error) {
		return b.store.GetSignal(ctx, executionID, topic)
	})
}

// AwaitMessage blocks until an unconsumed message is available for the
// execution and topic or the timeout elapses. It does not consume the
// message. It returns nil on timeout.
func (b *Bus) AwaitMessage(ctx context.Context, executionID, topic string, timeout time.Duration) (*Message, error) {
	wake, stop := b.watch(executionID, topic)
	defer stop()
	return poll(ctx, b.poll, timeout, wake, func(ctx context.Context) (*Message, error) {
		return b.store.NextMessage(ctx, executionID, topic)
	})
}

// Consume marks a message as consumed.
func (b *Bus) Consume(ctx context.Context, messageID id.MessageID) error {
	return b.store.ConsumeMessage(ctx, messageID)
}

// watch starts a store watch before the first read so no announcement
// between the read and the wait is lost. Without a Notifier the channel
// is nil and never fires.
func (b *Bus) watch(executionID, topic string) (<-chan struct{}, func()) {
	if b.notifier == nil {
		return nil, func() {}
	}
	return b.notifier.Watch(executionID, topic)
}

func poll[T any](ctx context.Context, interval, timeout time.Duration, wake <-chan struct{}, get func(context.Context) (*T, error)) (*T, error) {
	deadline := time.Now().Add(timeout)
	for {
		v, err := get(ctx)
		if err != nil {
			return nil, err
		}
		if v != nil {
			return v, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		wait := interval
		if wait > remaining {
			wait = remaining
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-wake:
			t.Stop()
		case <-t.C:
		}
	}
}
