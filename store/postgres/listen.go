package postgres

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xraph/escrow/event"
)

var _ event.Notifier = (*Store)(nil)

const (
	listenRetryDelay   = time.Second
	listenReadyTimeout = 2 * time.Second
)

// listener holds one dedicated connection LISTENing on NotifyChannel and
// fans notifications out to watchers keyed by "<execution id>:<topic>".
type listener struct {
	once   sync.Once
	ready  chan struct{}
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	watchers map[string]map[chan struct{}]struct{}
}

func newListener() *listener {
	return &listener{
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
		watchers: make(map[string]map[chan struct{}]struct{}),
	}
}

// Watch implements event.Notifier. The first call starts the LISTEN
// connection and waits briefly for it to be established.
func (s *Store) Watch(executionID, topic string) (<-chan struct{}, func()) {
	l := s.listener
	l.once.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		l.cancel = cancel
		go s.listen(ctx)
		select {
		case <-l.ready:
		case <-time.After(listenReadyTimeout):
			s.logger.Warn("listen connection not ready, waits fall back to polling")
		}
	})

	key := executionID + ":" + topic
	ch := make(chan struct{}, 1)
	l.mu.Lock()
	if l.watchers[key] == nil {
		l.watchers[key] = make(map[chan struct{}]struct{})
	}
	l.watchers[key][ch] = struct{}{}
	l.mu.Unlock()

	return ch, func() {
		l.mu.Lock()
		delete(l.watchers[key], ch)
		if len(l.watchers[key]) == 0 {
			delete(l.watchers, key)
		}
		l.mu.Unlock()
	}
}

func (s *Store) listen(ctx context.Context) {
	defer close(s.listener.done)
	first := true
	for {
		err := s.listenOnce(ctx, first)
		first = false
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("listen connection lost", "channel", NotifyChannel, "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(listenRetryDelay):
		}
	}
}

func (s *Store) listenOnce(ctx context.Context, first bool) error {
	pooled, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("escrow/postgres: acquire listen connection: %w", err)
	}
	// A LISTENing connection must not go back to the pool.
	conn := pooled.Hijack()
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
		return fmt.Errorf("escrow/postgres: listen: %w", err)
	}
	if first {
		close(s.listener.ready)
	}

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		s.wake(n.Payload)
	}
}

func (s *Store) wake(key string) {
	l := s.listener
	l.mu.Lock()
	defer l.mu.Unlock()
	for ch := range l.watchers[key] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// stopListening ends the LISTEN connection if it was started.
func (s *Store) stopListening() {
	l := s.listener
	l.once.Do(func() {})
	if l.cancel != nil {
		l.cancel()
		<-l.done
	}
}
