package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/event"
	"github.com/xraph/escrow/id"
	"github.com/xraph/escrow/middleware"
)

// DefaultResumeConcurrency bounds how many executions ResumeAll resumes
// at once.
const DefaultResumeConcurrency = 8

// Emitter emits execution-level lifecycle events.
// This interface is satisfied by ext.Registry (via an adapter in the
// engine package) to break the import cycle between workflow and ext.
type Emitter interface {
	StepEmitter
	EmitExecutionStarted(ctx context.Context, e *Execution)
	EmitExecutionResumed(ctx context.Context, e *Execution)
	EmitExecutionCommitted(ctx context.Context, e *Execution, elapsed time.Duration)
	EmitExecutionCompensated(ctx context.Context, e *Execution, elapsed time.Duration)
	EmitExecutionFailed(ctx context.Context, e *Execution, err error)
}

type nopEmitter struct{}

func (nopEmitter) EmitStepCompleted(context.Context, *Execution, string, time.Duration) {}
func (nopEmitter) EmitStepFailed(context.Context, *Execution, string, error)            {}
func (nopEmitter) EmitExecutionStarted(context.Context, *Execution)                     {}
func (nopEmitter) EmitExecutionResumed(context.Context, *Execution)                     {}
func (nopEmitter) EmitExecutionCommitted(context.Context, *Execution, time.Duration)    {}
func (nopEmitter) EmitExecutionCompensated(context.Context, *Execution, time.Duration)  {}
func (nopEmitter) EmitExecutionFailed(context.Context, *Execution, error)               {}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the runner logger.
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// WithEmitter sets the lifecycle event emitter.
func WithEmitter(e Emitter) RunnerOption {
	return func(r *Runner) { r.emitter = e }
}

// WithMiddleware sets the middleware chain wrapped around every executed
// step body.
func WithMiddleware(mws ...middleware.Middleware) RunnerOption {
	return func(r *Runner) { r.mw = middleware.Chain(mws...) }
}

// WithSteps sets the step registry used by Call.
func WithSteps(s *Steps) RunnerOption {
	return func(r *Runner) { r.steps = s }
}

// WithResumeConcurrency bounds concurrent resumes in ResumeAll.
func WithResumeConcurrency(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.resumeLimit = n
		}
	}
}

// Runner orchestrates workflow execution: creating executions, running
// handlers in the background, resuming interrupted executions and
// recording their outcome.
type Runner struct {
	registry    *Registry
	steps       *Steps
	store       Store
	bus         *event.Bus
	emitter     Emitter
	mw          middleware.Middleware
	logger      *slog.Logger
	resumeLimit int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]*Handle
	closed   bool
}

// NewRunner creates a workflow runner.
func NewRunner(registry *Registry, store Store, bus *event.Bus, opts ...RunnerOption) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		registry:    registry,
		steps:       NewSteps(),
		store:       store,
		bus:         bus,
		emitter:     nopEmitter{},
		mw:          middleware.Chain(),
		logger:      slog.Default(),
		resumeLimit: DefaultResumeConcurrency,
		ctx:         ctx,
		cancel:      cancel,
		inflight:    make(map[string]*Handle),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Registry returns the workflow registry.
func (r *Runner) Registry() *Registry { return r.registry }

// Steps returns the step registry.
func (r *Runner) Steps() *Steps { return r.steps }

// Store returns the workflow store.
func (r *Runner) Store() Store { return r.store }

// Bus returns the event bus.
func (r *Runner) Bus() *event.Bus { return r.bus }

// Start starts a new execution of workflow name under a generated ID.
func Start[I any](ctx context.Context, r *Runner, name string, input I) (*Handle, error) {
	return StartOrResume(ctx, r, "", name, input)
}

// StartOrResume starts workflow name under executionID, or attaches to
// the execution already registered under that ID. The input is
// JSON-marshaled and stored on the Execution.
func StartOrResume[I any](ctx context.Context, r *Runner, executionID, name string, input I) (*Handle, error) {
	data, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("marshal input for workflow %q: %w", name, err)
	}
	return r.StartOrResumeRaw(ctx, executionID, name, data)
}

// StartOrResumeRaw is StartOrResume with pre-serialized JSON input. An
// empty executionID gets a generated one. Calling it again with the same
// ID never runs the workflow twice:
//
//   - an execution running in this process returns its handle;
//   - a running execution that is not in flight is resumed;
//   - a finished execution returns a handle to its result;
//   - an execution created concurrently elsewhere is followed by polling.
//
// The handler runs in the background, detached from ctx cancellation and
// stopped only by Shutdown.
func (r *Runner) StartOrResumeRaw(ctx context.Context, executionID, name string, input []byte) (*Handle, error) {
	return r.startOrResume(ctx, executionID, "", name, input)
}

// StartChildRaw starts (or attaches to) the child execution childID.
// Implements ChildStarter.
func (r *Runner) StartChildRaw(ctx context.Context, parentID, childID, name string, input []byte) (string, error) {
	h, err := r.startOrResume(ctx, childID, parentID, name, input)
	if err != nil {
		return "", err
	}
	return h.ID(), nil
}

func (r *Runner) startOrResume(ctx context.Context, executionID, parentID, name string, input []byte) (*Handle, error) {
	if _, ok := r.registry.Get(name); !ok {
		return nil, fmt.Errorf("%w: %q", escrow.ErrWorkflowNotFound, name)
	}
	if executionID == "" {
		executionID = id.NewExecutionID().String()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, escrow.ErrShuttingDown
	}
	if h, ok := r.inflight[executionID]; ok {
		return h, nil
	}

	exec, err := r.store.GetExecution(ctx, executionID)
	switch {
	case err == nil:
		if exec.Name != name {
			return nil, fmt.Errorf("%w: execution %s belongs to workflow %q, not %q",
				escrow.ErrInvalidState, executionID, exec.Name, name)
		}
		if exec.State.Terminal() {
			return r.finishedHandle(executionID), nil
		}
		return r.launchLocked(ctx, exec, true)
	case !errors.Is(err, escrow.ErrExecutionNotFound):
		return nil, fmt.Errorf("get execution %s: %w", executionID, err)
	}

	exec = &Execution{
		Entity:    escrow.NewEntity(),
		ID:        executionID,
		Name:      name,
		Version:   r.registry.LatestVersion(name),
		State:     StateRunning,
		Input:     input,
		ParentID:  parentID,
		StartedAt: time.Now().UTC(),
	}
	if err := r.store.CreateExecution(ctx, exec); err != nil {
		if errors.Is(err, escrow.ErrExecutionExists) {
			return &Handle{id: executionID, runner: r}, nil
		}
		return nil, fmt.Errorf("create execution for workflow %q: %w", name, err)
	}

	r.emitter.EmitExecutionStarted(ctx, exec)
	return r.launchLocked(ctx, exec, false)
}

func (r *Runner) finishedHandle(executionID string) *Handle {
	done := make(chan struct{})
	close(done)
	return &Handle{id: executionID, runner: r, done: done}
}

// launchLocked runs exec in the background. r.mu must be held.
func (r *Runner) launchLocked(ctx context.Context, exec *Execution, resumed bool) (*Handle, error) {
	handler, ok := r.registry.GetVersion(exec.Name, exec.Version)
	if !ok {
		return nil, fmt.Errorf("%w: %q version %d (execution %s)",
			escrow.ErrWorkflowNotFound, exec.Name, exec.Version, exec.ID)
	}

	if resumed {
		r.logger.Info("resuming execution",
			slog.String("execution_id", exec.ID),
			slog.String("workflow", exec.Name),
		)
		r.emitter.EmitExecutionResumed(ctx, exec)
	}

	h := &Handle{id: exec.ID, runner: r, done: make(chan struct{})}
	r.inflight[exec.ID] = h

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(r.ctx, cancel)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(h.done)
		defer func() {
			r.mu.Lock()
			delete(r.inflight, exec.ID)
			r.mu.Unlock()
		}()
		defer cancel()
		defer stop()

		r.execute(runCtx, exec, handler)
	}()

	return h, nil
}

// execute runs the handler and records the outcome. An execution whose
// context is cancelled mid-run is left running for a later resume.
func (r *Runner) execute(ctx context.Context, exec *Execution, handler HandlerFunc) {
	logger := r.logger.With(
		slog.String("execution_id", exec.ID),
		slog.String("workflow", exec.Name),
	)

	exec.Attempts++
	exec.State = StateRunning
	exec.Touch()
	if err := r.store.UpdateExecution(ctx, exec); err != nil {
		logger.Error("failed to record execution attempt", slog.String("error", err.Error()))
		return
	}

	wf := newWorkflow(ctx, exec, r)
	start := time.Now()
	output, err := invoke(wf, handler, exec.Input)
	elapsed := time.Since(start)

	if err != nil && ctx.Err() != nil {
		logger.Warn("execution interrupted", slog.String("error", err.Error()))
		return
	}

	saveCtx := context.WithoutCancel(ctx)
	now := time.Now().UTC()
	exec.CompletedAt = &now
	exec.Touch()

	if err != nil {
		if comps := wf.Compensations(); len(comps) > 0 {
			logger.Info("running saga compensations", slog.Int("count", len(comps)))
			if compErr := wf.RunCompensations(); compErr != nil {
				logger.Error("compensation errors during execution failure",
					slog.String("error", compErr.Error()),
				)
			}
		}

		exec.State = StateFailed
		exec.Error = err.Error()
		if updateErr := r.store.UpdateExecution(saveCtx, exec); updateErr != nil {
			logger.Error("failed to update execution as failed", slog.String("error", updateErr.Error()))
		}
		logger.Info("execution failed", slog.String("error", err.Error()))
		r.emitter.EmitExecutionFailed(saveCtx, exec, err)
		return
	}

	exec.Output = output
	exec.State = StateCommitted
	if wf.Compensated() {
		exec.State = StateCompensated
	}
	if updateErr := r.store.UpdateExecution(saveCtx, exec); updateErr != nil {
		logger.Error("failed to update execution", slog.String("error", updateErr.Error()))
	}
	logger.Info("execution finished",
		slog.String("state", string(exec.State)),
		slog.Duration("elapsed", elapsed),
	)
	if exec.State == StateCompensated {
		r.emitter.EmitExecutionCompensated(saveCtx, exec, elapsed)
		return
	}
	r.emitter.EmitExecutionCommitted(saveCtx, exec, elapsed)
}

func invoke(wf *Workflow, handler HandlerFunc, input []byte) (out []byte, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("workflow %s panicked: %v", wf.exec.Name, p)
		}
	}()
	return handler(wf, input)
}

// Resume continues a running execution that is not in flight in this
// process. Completed steps replay from their checkpoints.
func (r *Runner) Resume(ctx context.Context, executionID string) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, escrow.ErrShuttingDown
	}
	if h, ok := r.inflight[executionID]; ok {
		return h, nil
	}

	exec, err := r.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("get execution %s: %w", executionID, err)
	}
	if exec.State != StateRunning {
		return nil, fmt.Errorf("%w: execution %s is %s, not running",
			escrow.ErrInvalidState, executionID, exec.State)
	}
	return r.launchLocked(ctx, exec, true)
}

// ResumeAll resumes every running execution that is not in flight in
// this process and returns how many were resumed. Called at startup for
// crash recovery.
func (r *Runner) ResumeAll(ctx context.Context) (int, error) {
	return r.resumeMatching(ctx, ListOpts{State: StateRunning})
}

// ResumeStale resumes running executions that have not been updated for
// at least olderThan.
func (r *Runner) ResumeStale(ctx context.Context, olderThan time.Duration) (int, error) {
	return r.resumeMatching(ctx, ListOpts{
		State:         StateRunning,
		UpdatedBefore: time.Now().UTC().Add(-olderThan),
	})
}

func (r *Runner) resumeMatching(ctx context.Context, opts ListOpts) (int, error) {
	execs, err := r.store.ListExecutions(ctx, opts)
	if err != nil {
		return 0, fmt.Errorf("list running executions: %w", err)
	}

	var resumed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.resumeLimit)

	for _, exec := range execs {
		if r.inFlight(exec.ID) {
			continue
		}
		g.Go(func() error {
			if _, resumeErr := r.Resume(gctx, exec.ID); resumeErr != nil {
				r.logger.Error("failed to resume execution",
					slog.String("execution_id", exec.ID),
					slog.String("error", resumeErr.Error()),
				)
				return nil
			}
			resumed.Add(1)
			return nil
		})
	}

	_ = g.Wait()
	return int(resumed.Load()), nil
}

func (r *Runner) inFlight(executionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.inflight[executionID]
	return ok
}

// Retry moves a failed execution back to running and resumes it. The
// recorded failure and every checkpoint after it are discarded, so the
// failing step runs again; earlier steps still replay.
func (r *Runner) Retry(ctx context.Context, executionID string) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, escrow.ErrShuttingDown
	}

	exec, err := r.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("get execution %s: %w", executionID, err)
	}
	if exec.State != StateFailed {
		return nil, fmt.Errorf("%w: execution %s is %s, not failed",
			escrow.ErrInvalidState, executionID, exec.State)
	}

	if err := r.discardFailure(ctx, executionID); err != nil {
		return nil, err
	}

	exec.State = StateRunning
	exec.Error = ""
	exec.Output = nil
	exec.CompletedAt = nil
	exec.Touch()
	if err := r.store.UpdateExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("reset execution %s to running: %w", executionID, err)
	}

	return r.launchLocked(ctx, exec, true)
}

// discardFailure deletes the first recorded step failure of an execution
// and every checkpoint created after it.
func (r *Runner) discardFailure(ctx context.Context, executionID string) error {
	cps, err := r.store.ListCheckpoints(ctx, executionID)
	if err != nil {
		return fmt.Errorf("list checkpoints for execution %s: %w", executionID, err)
	}

	for i, cp := range cps {
		var rec record
		if json.Unmarshal(cp.Data, &rec) != nil || !rec.failed() {
			continue
		}
		after := ""
		if i > 0 {
			after = cps[i-1].Key
		}
		if err := r.store.DeleteCheckpointsAfter(ctx, executionID, after); err != nil {
			return fmt.Errorf("delete checkpoints of execution %s: %w", executionID, err)
		}
		return nil
	}
	return nil
}

// Result returns the current status of an execution.
func (r *Runner) Result(ctx context.Context, executionID string) (*Result, error) {
	exec, err := r.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	return resultOf(exec), nil
}

// Execution returns the execution record.
func (r *Runner) Execution(ctx context.Context, executionID string) (*Execution, error) {
	return r.store.GetExecution(ctx, executionID)
}

// Executions lists execution records.
func (r *Runner) Executions(ctx context.Context, opts ListOpts) ([]*Execution, error) {
	return r.store.ListExecutions(ctx, opts)
}

// Shutdown stops accepting work, interrupts every in-flight execution and
// waits for their goroutines to return. Interrupted executions stay
// running in the store.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
