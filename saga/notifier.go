package saga

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/workflow"
)

// Notifier publishes results back to the caller of a saga. Each topic
// carries at most one value; a second publish is logged and ignored.
type Notifier struct {
	wf     *workflow.Workflow
	logger *slog.Logger

	mu        sync.Mutex
	declared  []string
	published map[string]bool
}

// NewNotifier creates a notifier for the running execution.
func NewNotifier(wf *workflow.Workflow) *Notifier {
	return &Notifier{
		wf:        wf,
		logger:    wf.Logger().With(slog.String("saga_id", wf.ExecutionID())),
		published: make(map[string]bool),
	}
}

// PublishOnce publishes value on topic unless the topic already carries
// a value.
func (n *Notifier) PublishOnce(topic string, value any) error {
	n.mu.Lock()
	if n.published[topic] {
		n.mu.Unlock()
		n.logger.Warn("signal already published, ignoring", slog.String("topic", topic))
		return nil
	}
	n.published[topic] = true
	n.mu.Unlock()

	err := n.wf.Publish(topic, value)
	if errors.Is(err, escrow.ErrSignalExists) {
		n.logger.Warn("signal already published, ignoring", slog.String("topic", topic))
		return nil
	}
	if err != nil {
		n.mu.Lock()
		delete(n.published, topic)
		n.mu.Unlock()
	}
	return err
}

// Published reports whether topic has been published through n.
func (n *Notifier) Published(topic string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.published[topic]
}

// Guard declares topics that must be released when the saga ends and
// returns the release function. Defer it at the top of the workflow.
func (n *Notifier) Guard(topics ...string) func() {
	n.mu.Lock()
	n.declared = append(n.declared, topics...)
	n.mu.Unlock()
	return n.AtCompletion
}

// AtCompletion publishes null on every declared topic that has not been
// published, releasing callers blocked on it. It does nothing while the
// execution is being interrupted, so a resumed run can still publish the
// real value.
func (n *Notifier) AtCompletion() {
	if n.wf.Context().Err() != nil {
		return
	}

	n.mu.Lock()
	var pending []string
	for _, topic := range n.declared {
		if !n.published[topic] {
			pending = append(pending, topic)
		}
	}
	n.mu.Unlock()

	for _, topic := range pending {
		if err := n.PublishOnce(topic, nil); err != nil {
			n.logger.Error("failed to release signal",
				slog.String("topic", topic),
				slog.String("error", err.Error()),
			)
			continue
		}
		n.logger.Debug("released signal with null", slog.String("topic", topic))
	}
}
