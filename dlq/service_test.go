package dlq_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/backoff"
	"github.com/xraph/escrow/dlq"
	"github.com/xraph/escrow/store/memory"
	"github.com/xraph/escrow/workflow"
)

type fakeRetrier struct {
	mu      sync.Mutex
	retried []string
	err     error
}

func (f *fakeRetrier) Retry(_ context.Context, executionID string) (*workflow.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.retried = append(f.retried, executionID)
	return nil, nil
}

func (f *fakeRetrier) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.retried...)
}

func newTestService(retrier dlq.Retrier, opts ...dlq.Option) (*dlq.Service, *memory.Store) {
	s := memory.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	all := append([]dlq.Option{dlq.WithLogger(logger)}, opts...)
	return dlq.NewService(s, retrier, all...), s
}

func fatalExecution(id string) *workflow.Execution {
	return &workflow.Execution{
		Entity: escrow.NewEntity(),
		ID:     id,
		Name:   "bank.deposit",
		State:  workflow.StateFailed,
		Input:  []byte(`{"amount":10}`),
	}
}

func TestService_PushCreatesOneEntryPerExecution(t *testing.T) {
	svc, s := newTestService(&fakeRetrier{}, dlq.WithBackoff(backoff.NewConstant(time.Minute)))
	ctx := context.Background()

	exec := fatalExecution("exec-1")
	first, err := svc.Push(ctx, exec, errors.New("Mismatch"))
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if first.Workflow != "bank.deposit" || string(first.Input) != `{"amount":10}` {
		t.Errorf("entry = %s %s, want bank.deposit {\"amount\":10}", first.Workflow, first.Input)
	}
	if first.NextRetryAt == nil {
		t.Fatal("expected a scheduled retry")
	}

	second, err := svc.Push(ctx, exec, errors.New("Mismatch again"))
	if err != nil {
		t.Fatalf("Push again: %v", err)
	}
	if second.ID.String() != first.ID.String() {
		t.Errorf("entry ID = %s, want %s", second.ID, first.ID)
	}
	if n, _ := s.CountDLQ(ctx); n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
	got, _ := s.GetDLQByExecution(ctx, "exec-1")
	if got.Error != "Mismatch again" {
		t.Errorf("error = %q, want %q", got.Error, "Mismatch again")
	}
}

func TestService_RetryDue(t *testing.T) {
	retrier := &fakeRetrier{}
	svc, s := newTestService(retrier,
		dlq.WithBackoff(backoff.NewConstant(0)),
		dlq.WithMaxRetries(1),
	)
	ctx := context.Background()

	if _, err := svc.Push(ctx, fatalExecution("exec-1"), errors.New("Mismatch")); err != nil {
		t.Fatalf("Push: %v", err)
	}

	n, err := svc.RetryDue(ctx)
	if err != nil {
		t.Fatalf("RetryDue: %v", err)
	}
	if n != 1 {
		t.Fatalf("replayed = %d, want 1", n)
	}
	if calls := retrier.calls(); len(calls) != 1 || calls[0] != "exec-1" {
		t.Errorf("retried = %v, want [exec-1]", calls)
	}

	entry, _ := s.GetDLQByExecution(ctx, "exec-1")
	if entry.RetryCount != 1 || entry.ReplayedAt == nil {
		t.Errorf("entry retry count = %d replayed %v, want 1 and set", entry.RetryCount, entry.ReplayedAt)
	}

	// The retry failed fatally again; the budget is spent.
	entry2, err := svc.Push(ctx, fatalExecution("exec-1"), errors.New("Mismatch"))
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if !entry2.Exhausted() || entry2.NextRetryAt != nil {
		t.Errorf("exhausted = %v next = %v, want true and nil", entry2.Exhausted(), entry2.NextRetryAt)
	}
	if n, _ := svc.RetryDue(ctx); n != 0 {
		t.Errorf("replayed after exhaustion = %d, want 0", n)
	}
}

func TestService_ResolveStopsRetries(t *testing.T) {
	retrier := &fakeRetrier{}
	svc, s := newTestService(retrier, dlq.WithBackoff(backoff.NewConstant(0)))
	ctx := context.Background()

	if _, err := svc.Push(ctx, fatalExecution("exec-1"), errors.New("Mismatch")); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := svc.Resolve(ctx, "exec-1"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := svc.Resolve(ctx, "never-failed"); err != nil {
		t.Errorf("Resolve(unknown): %v", err)
	}

	entry, _ := s.GetDLQByExecution(ctx, "exec-1")
	if !entry.Resolved() {
		t.Error("entry should be resolved")
	}
	if n, _ := svc.RetryDue(ctx); n != 0 {
		t.Errorf("replayed = %d, want 0", n)
	}
}

func TestService_ReplayIgnoresSchedule(t *testing.T) {
	retrier := &fakeRetrier{}
	svc, _ := newTestService(retrier,
		dlq.WithBackoff(backoff.NewConstant(time.Hour)),
		dlq.WithMaxRetries(0),
	)
	ctx := context.Background()

	entry, err := svc.Push(ctx, fatalExecution("exec-1"), errors.New("Mismatch"))
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if entry.NextRetryAt != nil {
		t.Errorf("next retry = %v, want nil with no budget", entry.NextRetryAt)
	}

	if _, err := svc.Replay(ctx, entry.ID); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if calls := retrier.calls(); len(calls) != 1 {
		t.Errorf("retried = %v, want one call", calls)
	}

	retrier.err = escrow.ErrInvalidState
	if _, err := svc.Replay(ctx, entry.ID); !errors.Is(err, escrow.ErrInvalidState) {
		t.Errorf("Replay error = %v, want %v", err, escrow.ErrInvalidState)
	}
}
