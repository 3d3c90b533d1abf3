package workflow_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/escrow/event"
	"github.com/xraph/escrow/store/memory"
	"github.com/xraph/escrow/workflow"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestBus(s event.Store) *event.Bus {
	return event.NewBus(s, event.WithPollInterval(2*time.Millisecond), event.WithLogger(testLogger()))
}

// newTestRunner returns a runner over a fresh memory store. The runner is
// shut down when the test ends.
func newTestRunner(t *testing.T, opts ...workflow.RunnerOption) (*workflow.Runner, *workflow.Registry, *memory.Store) {
	t.Helper()
	s := memory.New()
	reg := workflow.NewRegistry()
	r := newRunnerOn(t, reg, s, opts...)
	return r, reg, s
}

func newRunnerOn(t *testing.T, reg *workflow.Registry, s *memory.Store, opts ...workflow.RunnerOption) *workflow.Runner {
	t.Helper()
	all := append([]workflow.RunnerOption{workflow.WithLogger(testLogger())}, opts...)
	r := workflow.NewRunner(reg, s, newTestBus(s), all...)
	t.Cleanup(func() { _ = r.Shutdown(context.Background()) })
	return r
}

// runToEnd starts or resumes executionID and waits for its result.
func runToEnd[I any](t *testing.T, r *workflow.Runner, executionID, name string, input I) *workflow.Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h, err := workflow.StartOrResume(ctx, r, executionID, name, input)
	if err != nil {
		t.Fatalf("StartOrResume(%s): %v", name, err)
	}
	res, err := h.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait(%s): %v", name, err)
	}
	return res
}

func waitHandle(t *testing.T, h *workflow.Handle) *workflow.Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := h.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	return res
}

func timelineKeys(t *testing.T, r *workflow.Runner, executionID string) []string {
	t.Helper()
	entries, err := r.Timeline(context.Background(), executionID)
	if err != nil {
		t.Fatalf("Timeline: %v", err)
	}
	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.Key
	}
	return keys
}

func hasKey(keys []string, want string) bool {
	for _, k := range keys {
		if k == want {
			return true
		}
	}
	return false
}
