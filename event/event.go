package event

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/xraph/escrow/id"
)

// Null is the JSON encoding of the empty signal value. A saga publishes it
// to release a caller when no meaningful value can be produced.
var Null = []byte("null")

// Signal is a single value published by an execution on a topic. Each
// (execution, topic) pair carries at most one signal.
type Signal struct {
	ID          id.SignalID `json:"id"`
	ExecutionID string      `json:"execution_id"`
	Topic       string      `json:"topic"`
	Value       []byte      `json:"value"`
	CreatedAt   time.Time   `json:"created_at"`
}

// IsNull reports whether the signal carries the null value.
func (s *Signal) IsNull() bool {
	return s == nil || len(s.Value) == 0 || bytes.Equal(bytes.TrimSpace(s.Value), Null)
}

// Message is a value sent to an execution on a topic. The execution
// consumes messages one at a time in send order.
type Message struct {
	ID          id.MessageID `json:"id"`
	ExecutionID string       `json:"execution_id"`
	Topic       string       `json:"topic"`
	Payload     []byte       `json:"payload"`
	Consumed    bool         `json:"consumed"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Decode unmarshals a signal value into T. ok is false when the signal is
// missing or null.
func Decode[T any](s *Signal) (value T, ok bool, err error) {
	if s.IsNull() {
		return value, false, nil
	}
	if err := json.Unmarshal(s.Value, &value); err != nil {
		return value, false, err
	}
	return value, true, nil
}
