package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/escrow/dlq"
	"github.com/xraph/escrow/ext"
	"github.com/xraph/escrow/workflow"
)

// DefaultBufferSize is the per-subscriber event buffer.
const DefaultBufferSize = 64

var (
	_ ext.Extension            = (*Broker)(nil)
	_ ext.ExecutionStarted     = (*Broker)(nil)
	_ ext.ExecutionResumed     = (*Broker)(nil)
	_ ext.StepCompleted        = (*Broker)(nil)
	_ ext.StepFailed           = (*Broker)(nil)
	_ ext.ExecutionCommitted   = (*Broker)(nil)
	_ ext.ExecutionCompensated = (*Broker)(nil)
	_ ext.ExecutionFailed      = (*Broker)(nil)
	_ ext.DeadLettered         = (*Broker)(nil)
	_ ext.RecoverySwept        = (*Broker)(nil)
	_ ext.Shutdown             = (*Broker)(nil)
)

// Broker receives lifecycle hooks and fans them out to subscribers via
// topic-based pub/sub.
type Broker struct {
	topics *TopicRegistry
	logger *slog.Logger

	mu          sync.Mutex
	subscribers map[string]*Subscriber
	nextID      atomic.Int64

	totalPublished atomic.Int64
	totalDropped   atomic.Int64

	bufferSize int
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBufferSize sets the per-subscriber event buffer size.
func WithBufferSize(size int) BrokerOption {
	return func(b *Broker) { b.bufferSize = size }
}

// NewBroker creates a new stream broker.
func NewBroker(logger *slog.Logger, opts ...BrokerOption) *Broker {
	b := &Broker{
		topics:      NewTopicRegistry(),
		logger:      logger,
		subscribers: make(map[string]*Subscriber),
		bufferSize:  DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements ext.Extension.
func (b *Broker) Name() string { return "stream-broker" }

// Subscribe creates a subscriber on the given topics. Every topic must
// pass ValidateTopic.
func (b *Broker) Subscribe(topics ...string) (*Subscriber, error) {
	for _, topic := range topics {
		if err := ValidateTopic(topic); err != nil {
			return nil, err
		}
	}
	sub := newSubscriber("sub_"+strconv.FormatInt(b.nextID.Add(1), 10), b.bufferSize)

	b.mu.Lock()
	b.subscribers[sub.ID()] = sub
	b.mu.Unlock()

	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
	return sub, nil
}

// Remove unsubscribes a subscriber from all topics and closes its channel.
func (b *Broker) Remove(sub *Subscriber) {
	b.topics.UnsubscribeAll(sub.ID())
	b.mu.Lock()
	delete(b.subscribers, sub.ID())
	b.mu.Unlock()
	sub.close()
}

// BrokerStats contains broker counters.
type BrokerStats struct {
	TopicCount      int   `json:"topic_count"`
	SubscriberCount int   `json:"subscriber_count"`
	TotalPublished  int64 `json:"total_published"`
	TotalDropped    int64 `json:"total_dropped"`
}

// Stats returns broker statistics.
func (b *Broker) Stats() BrokerStats {
	b.mu.Lock()
	count := len(b.subscribers)
	b.mu.Unlock()
	return BrokerStats{
		TopicCount:      b.topics.TopicCount(),
		SubscriberCount: count,
		TotalPublished:  b.totalPublished.Load(),
		TotalDropped:    b.totalDropped.Load(),
	}
}

func (b *Broker) publish(evt *Event, topics ...string) {
	topics = append(topics, TopicFirehose)
	if evt.Topic != "" {
		topics = append(topics, evt.Topic)
	}
	delivered, dropped := b.topics.Broadcast(topics, evt)
	b.totalPublished.Add(int64(delivered))
	if dropped > 0 {
		b.totalDropped.Add(int64(dropped))
		b.logger.Debug("stream events dropped", slog.String("type", string(evt.Type)), slog.Int("count", dropped))
	}
}

func (b *Broker) publishExecution(typ EventType, e *workflow.Execution, data ExecutionEventData) {
	data.ExecutionID = e.ID
	data.Workflow = e.Name
	data.State = string(e.State)
	data.Attempts = e.Attempts
	b.publish(&Event{
		Type:      typ,
		Timestamp: time.Now().UTC(),
		Topic:     ExecutionTopic(e.ID),
		Data:      mustMarshal(data),
	}, TopicExecutions, WorkflowTopic(e.Name))
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic("stream: marshal event data: " + err.Error())
	}
	return data
}

// ── Execution lifecycle hooks ─────────────────────────────

func (b *Broker) OnExecutionStarted(_ context.Context, e *workflow.Execution) error {
	b.publishExecution(EventExecutionStarted, e, ExecutionEventData{})
	return nil
}

func (b *Broker) OnExecutionResumed(_ context.Context, e *workflow.Execution) error {
	b.publishExecution(EventExecutionResumed, e, ExecutionEventData{})
	return nil
}

func (b *Broker) OnStepCompleted(_ context.Context, e *workflow.Execution, step string, elapsed time.Duration) error {
	b.publishExecution(EventStepCompleted, e, ExecutionEventData{Step: step, ElapsedMs: elapsed.Milliseconds()})
	return nil
}

func (b *Broker) OnStepFailed(_ context.Context, e *workflow.Execution, step string, err error) error {
	b.publishExecution(EventStepFailed, e, ExecutionEventData{Step: step, Error: err.Error()})
	return nil
}

func (b *Broker) OnExecutionCommitted(_ context.Context, e *workflow.Execution, elapsed time.Duration) error {
	b.publishExecution(EventExecutionCommitted, e, ExecutionEventData{ElapsedMs: elapsed.Milliseconds()})
	return nil
}

func (b *Broker) OnExecutionCompensated(_ context.Context, e *workflow.Execution, elapsed time.Duration) error {
	b.publishExecution(EventExecutionCompensated, e, ExecutionEventData{ElapsedMs: elapsed.Milliseconds()})
	return nil
}

func (b *Broker) OnExecutionFailed(_ context.Context, e *workflow.Execution, err error) error {
	b.publishExecution(EventExecutionFailed, e, ExecutionEventData{Error: err.Error()})
	return nil
}

// ── Dead letter and recovery hooks ─────────────────────────────

func (b *Broker) OnDeadLettered(_ context.Context, entry *dlq.Entry) error {
	data := DeadLetterEventData{
		EntryID:     entry.ID.String(),
		ExecutionID: entry.ExecutionID,
		Workflow:    entry.Workflow,
		Error:       entry.Error,
		RetryCount:  entry.RetryCount,
	}
	if entry.NextRetryAt != nil {
		data.NextRetryAt = entry.NextRetryAt.Format(time.RFC3339)
	}
	b.publish(&Event{
		Type:      EventDeadLettered,
		Timestamp: time.Now().UTC(),
		Topic:     ExecutionTopic(entry.ExecutionID),
		Data:      mustMarshal(data),
	}, TopicDeadLetters, WorkflowTopic(entry.Workflow))
	return nil
}

func (b *Broker) OnRecoverySwept(_ context.Context, resumed, retried int) error {
	if resumed == 0 && retried == 0 {
		return nil
	}
	b.publish(&Event{
		Type:      EventRecoverySwept,
		Timestamp: time.Now().UTC(),
		Data:      mustMarshal(RecoveryEventData{Resumed: resumed, Retried: retried}),
	})
	return nil
}

// OnShutdown closes every subscriber.
func (b *Broker) OnShutdown(_ context.Context) error {
	b.mu.Lock()
	subs := make([]*Subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		b.Remove(sub)
	}
	b.logger.Debug("stream broker closed", slog.Int("subscribers", len(subs)))
	return nil
}
