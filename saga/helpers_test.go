package saga_test

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

func newTestRunner(t *testing.T) (*workflow.Runner, *workflow.Registry) {
	t.Helper()
	s := memory.New()
	reg := workflow.NewRegistry()
	bus := event.NewBus(s, event.WithPollInterval(2*time.Millisecond), event.WithLogger(testLogger()))
	r := workflow.NewRunner(reg, s, bus, workflow.WithLogger(testLogger()))
	t.Cleanup(func() { _ = r.Shutdown(context.Background()) })
	return r, reg
}

// runHandler registers handler under a fresh workflow name, runs it as
// executionID and waits for the result.
func runHandler[O any](t *testing.T, r *workflow.Runner, reg *workflow.Registry, executionID string, handler func(wf *workflow.Workflow, _ struct{}) (O, error)) *workflow.Result {
	t.Helper()
	name := "test." + executionID
	workflow.RegisterDefinition(reg, workflow.NewWorkflow(name, handler))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h, err := workflow.StartOrResume(ctx, r, executionID, name, struct{}{})
	if err != nil {
		t.Fatalf("StartOrResume: %v", err)
	}
	res, err := h.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	return res
}

func awaitSignal(t *testing.T, r *workflow.Runner, executionID, topic string) *event.Signal {
	t.Helper()
	sig, err := r.Bus().AwaitSignal(context.Background(), executionID, topic, 2*time.Second)
	if err != nil {
		t.Fatalf("AwaitSignal(%s): %v", topic, err)
	}
	if sig == nil {
		t.Fatalf("no signal on %s", topic)
	}
	return sig
}
