package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/bank"
	"github.com/xraph/escrow/dlq"
	"github.com/xraph/escrow/event"
	"github.com/xraph/escrow/id"
	"github.com/xraph/escrow/payment"
	"github.com/xraph/escrow/shop"
	"github.com/xraph/escrow/widget"
	"github.com/xraph/escrow/workflow"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle in tests), so we verify each
// subsystem.
var (
	_ workflow.Store = (*Store)(nil)
	_ event.Store    = (*Store)(nil)
	_ dlq.Store      = (*Store)(nil)
	_ bank.Store     = (*Store)(nil)
	_ shop.Store     = (*Store)(nil)
	_ widget.Store   = (*Store)(nil)
	_ payment.Store  = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing and development.
type Store struct {
	mu sync.RWMutex

	executions  map[string]*workflow.Execution
	checkpoints map[string][]*workflow.Checkpoint // key: execution ID, creation order
	signals     map[string]*event.Signal          // key: "executionID:topic"
	messages    []*event.Message                  // send order
	dlqs        map[string]*dlq.Entry

	accounts     map[int64]*bank.Account
	transactions map[int64]*bank.TransactionRecord
	nextAccount  int64
	nextTxn      int64

	products   map[int64]*shop.Product
	carts      map[string]map[int64]int // username -> product -> quantity
	orders     map[int64]*shop.Order
	orderItems map[int64][]shop.OrderItem
	nextProd   int64
	nextOrder  int64

	widget       *widget.Product
	widgetOrders map[int64]*widget.Order
	nextWOrder   int64

	sessions map[string]*payment.Session
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		executions:   make(map[string]*workflow.Execution),
		checkpoints:  make(map[string][]*workflow.Checkpoint),
		signals:      make(map[string]*event.Signal),
		dlqs:         make(map[string]*dlq.Entry),
		accounts:     make(map[int64]*bank.Account),
		transactions: make(map[int64]*bank.TransactionRecord),
		products:     make(map[int64]*shop.Product),
		carts:        make(map[string]map[int64]int),
		orders:       make(map[int64]*shop.Order),
		orderItems:   make(map[int64][]shop.OrderItem),
		widgetOrders: make(map[int64]*widget.Order),
		sessions:     make(map[string]*payment.Session),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle: Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Workflow Store
// ──────────────────────────────────────────────────

func copyExecution(e *workflow.Execution) *workflow.Execution {
	cp := *e
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// CreateExecution persists a new execution.
func (m *Store) CreateExecution(_ context.Context, e *workflow.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.executions[e.ID]; exists {
		return escrow.ErrExecutionExists
	}
	m.executions[e.ID] = copyExecution(e)
	return nil
}

// GetExecution retrieves an execution by ID.
func (m *Store) GetExecution(_ context.Context, executionID string) (*workflow.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.executions[executionID]
	if !ok {
		return nil, escrow.ErrExecutionNotFound
	}
	return copyExecution(e), nil
}

// UpdateExecution persists changes to an existing execution.
func (m *Store) UpdateExecution(_ context.Context, e *workflow.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.executions[e.ID]; !ok {
		return escrow.ErrExecutionNotFound
	}
	e.UpdatedAt = time.Now().UTC()
	m.executions[e.ID] = copyExecution(e)
	return nil
}

// ListExecutions returns executions matching the given options.
func (m *Store) ListExecutions(_ context.Context, opts workflow.ListOpts) ([]*workflow.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*workflow.Execution, 0, len(m.executions))
	for _, e := range m.executions {
		if opts.State != "" && e.State != opts.State {
			continue
		}
		if opts.Name != "" && e.Name != opts.Name {
			continue
		}
		if !opts.UpdatedBefore.IsZero() && !e.UpdatedAt.Before(opts.UpdatedBefore) {
			continue
		}
		result = append(result, copyExecution(e))
	}

	sortExecutions(result)
	return paginate(result, opts.Offset, opts.Limit), nil
}

// ListChildExecutions returns all executions started by a parent.
func (m *Store) ListChildExecutions(_ context.Context, parentID string) ([]*workflow.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*workflow.Execution
	for _, e := range m.executions {
		if e.ParentID == parentID {
			result = append(result, copyExecution(e))
		}
	}
	sortExecutions(result)
	return result, nil
}

func sortExecutions(es []*workflow.Execution) {
	sort.Slice(es, func(i, k int) bool {
		if es[i].CreatedAt.Equal(es[k].CreatedAt) {
			return es[i].ID < es[k].ID
		}
		return es[i].CreatedAt.Before(es[k].CreatedAt)
	})
}

// SaveCheckpoint records a step outcome. The first write for a key wins.
func (m *Store) SaveCheckpoint(_ context.Context, executionID, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, cp := range m.checkpoints[executionID] {
		if cp.Key == key {
			return nil
		}
	}
	m.checkpoints[executionID] = append(m.checkpoints[executionID], &workflow.Checkpoint{
		ID:          id.NewCheckpointID(),
		ExecutionID: executionID,
		Key:         key,
		Data:        append([]byte(nil), data...),
		CreatedAt:   time.Now().UTC(),
	})
	return nil
}

// GetCheckpoint retrieves the checkpoint data for a key.
func (m *Store) GetCheckpoint(_ context.Context, executionID, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, cp := range m.checkpoints[executionID] {
		if cp.Key == key {
			return cp.Data, nil
		}
	}
	return nil, nil // no checkpoint is not an error
}

// ListCheckpoints returns all checkpoints of an execution in creation
// order.
func (m *Store) ListCheckpoints(_ context.Context, executionID string) ([]*workflow.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cps := m.checkpoints[executionID]
	result := make([]*workflow.Checkpoint, len(cps))
	for i, cp := range cps {
		c := *cp
		result[i] = &c
	}
	return result, nil
}

// DeleteCheckpointsAfter removes every checkpoint recorded after afterKey.
func (m *Store) DeleteCheckpointsAfter(_ context.Context, executionID, afterKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if afterKey == "" {
		delete(m.checkpoints, executionID)
		return nil
	}
	cps := m.checkpoints[executionID]
	for i, cp := range cps {
		if cp.Key == afterKey {
			m.checkpoints[executionID] = cps[:i+1]
			return nil
		}
	}
	return escrow.ErrCheckpointNotFound
}

// ──────────────────────────────────────────────────
// Event Store
// ──────────────────────────────────────────────────

func signalKey(executionID, topic string) string {
	return executionID + ":" + topic
}

// PublishSignal persists a signal. Each execution publishes at most once
// per topic.
func (m *Store) PublishSignal(_ context.Context, sig *event.Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := signalKey(sig.ExecutionID, sig.Topic)
	if _, exists := m.signals[key]; exists {
		return escrow.ErrSignalExists
	}
	cp := *sig
	m.signals[key] = &cp
	return nil
}

// GetSignal returns the signal for an execution and topic, or nil.
func (m *Store) GetSignal(_ context.Context, executionID, topic string) (*event.Signal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sig, ok := m.signals[signalKey(executionID, topic)]
	if !ok {
		return nil, nil
	}
	cp := *sig
	return &cp, nil
}

// SendMessage persists a message for an execution.
func (m *Store) SendMessage(_ context.Context, msg *event.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *msg
	m.messages = append(m.messages, &cp)
	return nil
}

// NextMessage returns the oldest unconsumed message for an execution and
// topic, or nil.
func (m *Store) NextMessage(_ context.Context, executionID, topic string) (*event.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, msg := range m.messages {
		if msg.ExecutionID == executionID && msg.Topic == topic && !msg.Consumed {
			cp := *msg
			return &cp, nil
		}
	}
	return nil, nil
}

// ConsumeMessage marks a message as consumed.
func (m *Store) ConsumeMessage(_ context.Context, messageID id.MessageID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, msg := range m.messages {
		if msg.ID.String() == messageID.String() {
			msg.Consumed = true
			return nil
		}
	}
	return escrow.ErrMessageNotFound
}

// ──────────────────────────────────────────────────
// DLQ Store
// ──────────────────────────────────────────────────

func copyEntry(e *dlq.Entry) *dlq.Entry {
	cp := *e
	for _, t := range []**time.Time{&cp.NextRetryAt, &cp.ReplayedAt, &cp.ResolvedAt} {
		if *t != nil {
			v := **t
			*t = &v
		}
	}
	return &cp
}

// PushDLQ adds a dead letter.
func (m *Store) PushDLQ(_ context.Context, entry *dlq.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dlqs[entry.ID.String()] = copyEntry(entry)
	return nil
}

// UpdateDLQ persists changes to an existing dead letter.
func (m *Store) UpdateDLQ(_ context.Context, entry *dlq.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := entry.ID.String()
	if _, ok := m.dlqs[key]; !ok {
		return escrow.ErrDeadLetterNotFound
	}
	m.dlqs[key] = copyEntry(entry)
	return nil
}

// ListDLQ returns dead letters matching the given options.
func (m *Store) ListDLQ(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*dlq.Entry, 0, len(m.dlqs))
	for _, e := range m.dlqs {
		if opts.Workflow != "" && e.Workflow != opts.Workflow {
			continue
		}
		if !opts.DueBefore.IsZero() {
			if e.Resolved() || e.NextRetryAt == nil || e.NextRetryAt.After(opts.DueBefore) {
				continue
			}
		}
		result = append(result, copyEntry(e))
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].FailedAt.Before(result[k].FailedAt)
	})

	return paginate(result, opts.Offset, opts.Limit), nil
}

// GetDLQ retrieves a dead letter by ID.
func (m *Store) GetDLQ(_ context.Context, entryID id.DeadLetterID) (*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return nil, escrow.ErrDeadLetterNotFound
	}
	return copyEntry(e), nil
}

// GetDLQByExecution retrieves the dead letter of an execution.
func (m *Store) GetDLQByExecution(_ context.Context, executionID string) (*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, e := range m.dlqs {
		if e.ExecutionID == executionID {
			return copyEntry(e), nil
		}
	}
	return nil, escrow.ErrDeadLetterNotFound
}

// PurgeDLQ removes dead letters with FailedAt before the given time.
func (m *Store) PurgeDLQ(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for key, e := range m.dlqs {
		if e.FailedAt.Before(before) {
			delete(m.dlqs, key)
			count++
		}
	}
	return count, nil
}

// CountDLQ returns the total number of dead letters.
func (m *Store) CountDLQ(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return int64(len(m.dlqs)), nil
}

func paginate[T any](s []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(s) {
			return nil
		}
		s = s[offset:]
	}
	if limit > 0 && len(s) > limit {
		s = s[:limit]
	}
	return s
}
