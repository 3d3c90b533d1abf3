package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/escrow/event"
	"github.com/xraph/escrow/middleware"
)

// StepEmitter is called by the Workflow to emit step lifecycle events.
// This interface is satisfied by ext.Registry (via an adapter in the
// engine package) to break the import cycle between workflow and ext.
type StepEmitter interface {
	EmitStepCompleted(ctx context.Context, e *Execution, step string, elapsed time.Duration)
	EmitStepFailed(ctx context.Context, e *Execution, step string, err error)
}

// ChildStarter starts child executions on behalf of a workflow.
type ChildStarter interface {
	StartChildRaw(ctx context.Context, parentID, childID, name string, input []byte) (string, error)
}

// Compensation is an undo action registered by StepWithCompensation.
type Compensation struct {
	StepName   string
	Compensate func(ctx context.Context) error
}

// Workflow is the execution context passed to workflow handler functions.
// It provides durable steps, signals, messages and sleeps. Every method
// checkpoints its outcome so an interrupted execution replays to the
// same point.
type Workflow struct {
	ctx      context.Context
	exec     *Execution
	store    Store
	bus      *event.Bus
	steps    *Steps
	children ChildStarter
	emitter  StepEmitter
	mw       middleware.Middleware
	logger   *slog.Logger

	mu            sync.Mutex
	calls         map[string]int
	compensations []Compensation
	compensated   bool
}

func newWorkflow(ctx context.Context, exec *Execution, r *Runner) *Workflow {
	return &Workflow{
		ctx:      ctx,
		exec:     exec,
		store:    r.store,
		bus:      r.bus,
		steps:    r.steps,
		children: r,
		emitter:  r.emitter,
		mw:       r.mw,
		logger:   r.logger.With(slog.String("execution_id", exec.ID), slog.String("workflow", exec.Name)),
		calls:    make(map[string]int),
	}
}

// Context returns the underlying context.Context. It is cancelled when
// the runner shuts down.
func (w *Workflow) Context() context.Context { return w.ctx }

// ExecutionID returns the ID of the running execution.
func (w *Workflow) ExecutionID() string { return w.exec.ID }

// Execution returns the execution record.
func (w *Workflow) Execution() *Execution { return w.exec }

// Logger returns a logger annotated with the execution ID.
func (w *Workflow) Logger() *slog.Logger { return w.logger }

// Bus returns the event bus the execution publishes and receives on.
func (w *Workflow) Bus() *event.Bus { return w.bus }

// MarkCompensated records that the handler undid its reservations. A
// handler that returns nil after MarkCompensated ends in StateCompensated.
func (w *Workflow) MarkCompensated() {
	w.mu.Lock()
	w.compensated = true
	w.mu.Unlock()
}

// Compensated reports whether MarkCompensated was called.
func (w *Workflow) Compensated() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.compensated
}

// nextKey returns the checkpoint key for the next call of name.
func (w *Workflow) nextKey(name string) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls[name]++
	return fmt.Sprintf("%s#%d", name, w.calls[name])
}

// Compensations returns the undo actions registered so far.
func (w *Workflow) Compensations() []Compensation {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Compensation, len(w.compensations))
	copy(out, w.compensations)
	return out
}
