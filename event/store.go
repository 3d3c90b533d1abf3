package event

import (
	"context"

	"github.com/xraph/escrow/id"
)

// Store defines the persistence contract for signals and messages.
type Store interface {
	// PublishSignal persists a signal. It returns escrow.ErrSignalExists
	// when the execution already published on the topic.
	PublishSignal(ctx context.Context, sig *Signal) error

	// GetSignal returns the signal for an execution and topic, or nil when
	// nothing has been published yet.
	GetSignal(ctx context.Context, executionID, topic string) (*Signal, error)

	// SendMessage persists a message for an execution.
	SendMessage(ctx context.Context, msg *Message) error

	// NextMessage returns the oldest unconsumed message for an execution
	// and topic, or nil when there is none.
	NextMessage(ctx context.Context, executionID, topic string) (*Message, error)

	// ConsumeMessage marks a message as consumed. Consuming an already
	// consumed message is a no-op; an unknown ID returns
	// escrow.ErrMessageNotFound.
	ConsumeMessage(ctx context.Context, messageID id.MessageID) error
}

// Notifier is implemented by stores that announce signal and message
// writes. Watch returns a channel that receives after a write for the
// execution and topic, and a func that ends the watch. Waits still poll,
// so a missed announcement only costs latency.
type Notifier interface {
	Watch(executionID, topic string) (<-chan struct{}, func())
}
