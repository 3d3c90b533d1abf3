package workflow_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/workflow"
)

func registerDouble(reg *workflow.Registry, calls *atomic.Int32) {
	workflow.RegisterDefinition(reg, workflow.NewWorkflow("double", func(wf *workflow.Workflow, n int) (int, error) {
		return workflow.StepWithResult(wf, "double", func(context.Context) (int, error) {
			if calls != nil {
				calls.Add(1)
			}
			return n * 2, nil
		})
	}))
}

func TestRunner_StartAndCommit(t *testing.T) {
	r, reg, s := newTestRunner(t)
	registerDouble(reg, nil)

	res := runToEnd(t, r, "double-21", "double", 21)
	if res.Status != workflow.StatusCommitted {
		t.Fatalf("status = %q, want %q", res.Status, workflow.StatusCommitted)
	}
	out, err := workflow.DecodeOutput[int](res)
	if err != nil {
		t.Fatalf("DecodeOutput: %v", err)
	}
	if out != 42 {
		t.Errorf("output = %d, want 42", out)
	}

	stored, err := s.GetExecution(context.Background(), "double-21")
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if stored.State != workflow.StateCommitted {
		t.Errorf("stored state = %q, want %q", stored.State, workflow.StateCommitted)
	}
	if stored.CompletedAt == nil {
		t.Error("expected CompletedAt to be set")
	}
	if stored.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", stored.Attempts)
	}
}

func TestRunner_StartOrResumeIsIdempotent(t *testing.T) {
	r, reg, _ := newTestRunner(t)
	var calls atomic.Int32
	registerDouble(reg, &calls)

	first := runToEnd(t, r, "same-key", "double", 5)
	second := runToEnd(t, r, "same-key", "double", 99)

	if calls.Load() != 1 {
		t.Errorf("step calls = %d, want 1", calls.Load())
	}
	if string(first.Output) != "10" || string(second.Output) != "10" {
		t.Errorf("outputs = %s and %s, want 10 and 10", first.Output, second.Output)
	}
}

func TestRunner_GeneratedID(t *testing.T) {
	r, reg, _ := newTestRunner(t)
	registerDouble(reg, nil)

	h, err := workflow.Start(context.Background(), r, "double", 1)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if h.ID() == "" {
		t.Fatal("expected a generated execution ID")
	}
	if res := waitHandle(t, h); res.Status != workflow.StatusCommitted {
		t.Errorf("status = %q, want %q", res.Status, workflow.StatusCommitted)
	}
}

func TestRunner_StartAndFail(t *testing.T) {
	r, reg, _ := newTestRunner(t)
	workflow.RegisterDefinition(reg, workflow.NewWorkflow("fail-wf", func(_ *workflow.Workflow, _ struct{}) (struct{}, error) {
		return struct{}{}, errors.New("intentional failure")
	}))

	res := runToEnd(t, r, "fail-1", "fail-wf", struct{}{})
	if res.Status != workflow.StatusFailed {
		t.Fatalf("status = %q, want %q", res.Status, workflow.StatusFailed)
	}
	if res.Error != "intentional failure" {
		t.Errorf("error = %q, want %q", res.Error, "intentional failure")
	}
	if _, err := workflow.DecodeOutput[struct{}](res); err == nil {
		t.Error("DecodeOutput of a failed execution should return an error")
	}
}

func TestRunner_PanicFails(t *testing.T) {
	r, reg, _ := newTestRunner(t)
	workflow.RegisterDefinition(reg, workflow.NewWorkflow("panic-wf", func(_ *workflow.Workflow, _ struct{}) (struct{}, error) {
		panic("boom")
	}))

	res := runToEnd(t, r, "panic-1", "panic-wf", struct{}{})
	if res.Status != workflow.StatusFailed {
		t.Errorf("status = %q, want %q", res.Status, workflow.StatusFailed)
	}
}

func TestRunner_MarkCompensated(t *testing.T) {
	r, reg, _ := newTestRunner(t)
	workflow.RegisterDefinition(reg, workflow.NewWorkflow("comp-wf", func(wf *workflow.Workflow, _ struct{}) (string, error) {
		wf.MarkCompensated()
		return "undone", nil
	}))

	res := runToEnd(t, r, "comp-1", "comp-wf", struct{}{})
	if res.Status != workflow.StatusCompensated {
		t.Fatalf("status = %q, want %q", res.Status, workflow.StatusCompensated)
	}
	if out, _ := workflow.DecodeOutput[string](res); out != "undone" {
		t.Errorf("output = %q, want %q", out, "undone")
	}
}

func TestRunner_UnknownWorkflow(t *testing.T) {
	r, _, _ := newTestRunner(t)
	_, err := workflow.StartOrResume(context.Background(), r, "x", "missing", struct{}{})
	if !errors.Is(err, escrow.ErrWorkflowNotFound) {
		t.Errorf("err = %v, want %v", err, escrow.ErrWorkflowNotFound)
	}
}

func TestRunner_IDBelongsToOtherWorkflow(t *testing.T) {
	r, reg, _ := newTestRunner(t)
	registerDouble(reg, nil)
	workflow.RegisterDefinition(reg, workflow.NewWorkflow("other", func(_ *workflow.Workflow, _ int) (int, error) {
		return 0, nil
	}))

	runToEnd(t, r, "shared", "double", 1)
	_, err := workflow.StartOrResume(context.Background(), r, "shared", "other", 1)
	if !errors.Is(err, escrow.ErrInvalidState) {
		t.Errorf("err = %v, want %v", err, escrow.ErrInvalidState)
	}
}

func TestRunner_ResumeAfterCrash(t *testing.T) {
	r1, reg, s := newTestRunner(t)

	var (
		firstCalls  atomic.Int32
		secondCalls atomic.Int32
		block       atomic.Bool
		entered     = make(chan struct{}, 1)
	)
	block.Store(true)

	workflow.RegisterDefinition(reg, workflow.NewWorkflow("two-step", func(wf *workflow.Workflow, _ struct{}) (int, error) {
		a, err := workflow.StepWithResult(wf, "first", func(context.Context) (int, error) {
			firstCalls.Add(1)
			return 1, nil
		})
		if err != nil {
			return 0, err
		}
		b, err := workflow.StepWithResult(wf, "second", func(ctx context.Context) (int, error) {
			secondCalls.Add(1)
			if block.Load() {
				entered <- struct{}{}
				<-ctx.Done()
				return 0, ctx.Err()
			}
			return 2, nil
		})
		if err != nil {
			return 0, err
		}
		return a + b, nil
	}))

	h, err := workflow.StartOrResume(context.Background(), r1, "crash-1", "two-step", struct{}{})
	if err != nil {
		t.Fatalf("StartOrResume: %v", err)
	}
	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("second step never started")
	}

	// Simulate a crash: interrupt everything in flight.
	if err := r1.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if res := waitHandle(t, h); res.Status != workflow.StatusPending {
		t.Fatalf("status after crash = %q, want %q", res.Status, workflow.StatusPending)
	}

	block.Store(false)
	r2 := newRunnerOn(t, reg, s)
	n, err := r2.ResumeAll(context.Background())
	if err != nil {
		t.Fatalf("ResumeAll: %v", err)
	}
	if n != 1 {
		t.Fatalf("resumed = %d, want 1", n)
	}

	res := runToEnd(t, r2, "crash-1", "two-step", struct{}{})
	if res.Status != workflow.StatusCommitted || string(res.Output) != "3" {
		t.Fatalf("result = %s %s, want committed 3", res.Status, res.Output)
	}
	if firstCalls.Load() != 1 {
		t.Errorf("first step calls = %d, want 1", firstCalls.Load())
	}
	if secondCalls.Load() != 2 {
		t.Errorf("second step calls = %d, want 2", secondCalls.Load())
	}

	exec, _ := s.GetExecution(context.Background(), "crash-1")
	if exec.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", exec.Attempts)
	}
}

func TestRunner_ResumeRejectsFinished(t *testing.T) {
	r, reg, _ := newTestRunner(t)
	registerDouble(reg, nil)
	runToEnd(t, r, "done-1", "double", 1)

	if _, err := r.Resume(context.Background(), "done-1"); !errors.Is(err, escrow.ErrInvalidState) {
		t.Errorf("err = %v, want %v", err, escrow.ErrInvalidState)
	}
}

func TestRunner_FailureRunsCompensations(t *testing.T) {
	r, reg, _ := newTestRunner(t)

	var undone atomic.Int32
	workflow.RegisterDefinition(reg, workflow.NewWorkflow("reserve-then-fail", func(wf *workflow.Workflow, _ struct{}) (struct{}, error) {
		err := wf.StepWithCompensation("reserve",
			func(context.Context) error { return nil },
			func(context.Context) error { undone.Add(1); return nil },
		)
		if err != nil {
			return struct{}{}, err
		}
		return struct{}{}, errors.New("downstream failed")
	}))

	res := runToEnd(t, r, "rtf-1", "reserve-then-fail", struct{}{})
	if res.Status != workflow.StatusFailed {
		t.Fatalf("status = %q, want %q", res.Status, workflow.StatusFailed)
	}
	if undone.Load() != 1 {
		t.Errorf("compensations = %d, want 1", undone.Load())
	}
	if keys := timelineKeys(t, r, "rtf-1"); !hasKey(keys, "compensate:reserve#1") {
		t.Errorf("timeline %v missing compensate:reserve#1", keys)
	}
}

func TestRunner_Retry(t *testing.T) {
	r, reg, _ := newTestRunner(t)

	var (
		prepCalls atomic.Int32
		failing   atomic.Bool
	)
	failing.Store(true)

	workflow.RegisterDefinition(reg, workflow.NewWorkflow("flaky", func(wf *workflow.Workflow, _ struct{}) (string, error) {
		if err := wf.Step("prepare", func(context.Context) error {
			prepCalls.Add(1)
			return nil
		}); err != nil {
			return "", err
		}
		return workflow.StepWithResult(wf, "call", func(context.Context) (string, error) {
			if failing.Load() {
				return "", errors.New("remote down")
			}
			return "ok", nil
		})
	}))

	res := runToEnd(t, r, "flaky-1", "flaky", struct{}{})
	if res.Status != workflow.StatusFailed {
		t.Fatalf("status = %q, want %q", res.Status, workflow.StatusFailed)
	}

	failing.Store(false)
	h, err := r.Retry(context.Background(), "flaky-1")
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	res = waitHandle(t, h)
	if res.Status != workflow.StatusCommitted {
		t.Fatalf("status after retry = %q, want %q", res.Status, workflow.StatusCommitted)
	}
	if prepCalls.Load() != 1 {
		t.Errorf("prepare calls = %d, want 1", prepCalls.Load())
	}

	if _, err := r.Retry(context.Background(), "flaky-1"); !errors.Is(err, escrow.ErrInvalidState) {
		t.Errorf("retry of committed: err = %v, want %v", err, escrow.ErrInvalidState)
	}
}

func TestRunner_ShutdownRejectsNewWork(t *testing.T) {
	r, reg, _ := newTestRunner(t)
	registerDouble(reg, nil)

	if err := r.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	_, err := workflow.StartOrResume(context.Background(), r, "late", "double", 1)
	if !errors.Is(err, escrow.ErrShuttingDown) {
		t.Errorf("err = %v, want %v", err, escrow.ErrShuttingDown)
	}
}

func TestRunner_VersionPinned(t *testing.T) {
	r, reg, s := newTestRunner(t)
	workflow.RegisterDefinition(reg, &workflow.Definition[struct{}, int]{
		Name:    "versioned",
		Version: 2,
		Handler: func(*workflow.Workflow, struct{}) (int, error) { return 2, nil },
	})

	res := runToEnd(t, r, "v-1", "versioned", struct{}{})
	if string(res.Output) != "2" {
		t.Errorf("output = %s, want 2", res.Output)
	}
	exec, _ := s.GetExecution(context.Background(), "v-1")
	if exec.Version != 2 {
		t.Errorf("version = %d, want 2", exec.Version)
	}
}
