package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/escrow/middleware"
)

// Step executes a named step function. If a checkpoint exists for this
// call of the step, the recorded outcome is returned without running fn.
// Otherwise fn runs through the middleware chain and its outcome is
// checkpointed, including failures.
func (w *Workflow) Step(name string, fn func(ctx context.Context) error) error {
	_, err := StepWithResult(w, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// StepWithResult executes a named step that returns a typed value. The
// result is JSON-encoded into the checkpoint; on replay it is decoded and
// returned without re-executing the step function. A failed step is
// recorded too and replays as the same *StepError.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func StepWithResult[T any](w *Workflow, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	key := w.nextKey(name)

	data, err := w.store.GetCheckpoint(w.ctx, w.exec.ID, key)
	if err != nil {
		return zero, fmt.Errorf("workflow %s: get checkpoint %q: %w", w.exec.Name, key, err)
	}
	if data != nil {
		var result T
		if decErr := decodeRecord(key, data, &result); decErr != nil {
			var stepErr *StepError
			if errors.As(decErr, &stepErr) {
				w.logger.Debug("replaying failed step", slog.String("step", key))
				return zero, decErr
			}
			return zero, fmt.Errorf("workflow %s: decode checkpoint %q: %w", w.exec.Name, key, decErr)
		}
		w.logger.Debug("returning checkpointed result", slog.String("step", key))
		return result, nil
	}

	var result T
	start := time.Now()
	stepErr := w.mw(w.ctx, w.describe(key), func(ctx context.Context) error {
		var fnErr error
		result, fnErr = fn(ctx)
		return fnErr
	})
	elapsed := time.Since(start)

	if stepErr != nil {
		w.emitter.EmitStepFailed(w.ctx, w.exec, key, stepErr)
		if w.ctx.Err() != nil {
			// Interrupted: leave the step unrecorded so resume re-runs it.
			return zero, stepErr
		}
		enc, encErr := encodeFailure(stepErr)
		if encErr != nil {
			return zero, fmt.Errorf("workflow %s: encode failure %q: %w", w.exec.Name, key, encErr)
		}
		if saveErr := w.store.SaveCheckpoint(w.ctx, w.exec.ID, key, enc); saveErr != nil {
			return zero, fmt.Errorf("workflow %s: save checkpoint %q: %w", w.exec.Name, key, saveErr)
		}
		return zero, &StepError{Step: key, Message: stepErr.Error(), cause: stepErr}
	}

	enc, encErr := encodeOutput(result)
	if encErr != nil {
		return zero, fmt.Errorf("workflow %s: encode checkpoint %q: %w", w.exec.Name, key, encErr)
	}
	if saveErr := w.store.SaveCheckpoint(w.ctx, w.exec.ID, key, enc); saveErr != nil {
		return zero, fmt.Errorf("workflow %s: save checkpoint %q: %w", w.exec.Name, key, saveErr)
	}

	w.emitter.EmitStepCompleted(w.ctx, w.exec, key, elapsed)
	return result, nil
}

func (w *Workflow) describe(key string) middleware.Step {
	return middleware.Step{
		ExecutionID: w.exec.ID,
		Workflow:    w.exec.Name,
		Name:        key,
		Attempt:     w.exec.Attempts,
	}
}

// Parallel executes multiple step functions concurrently using errgroup.
// If any step fails, the others are cancelled and the first error is
// returned. Each sub-step is checkpointed under the group's key plus its
// index; the group as a whole is checkpointed once every sub-step
// succeeded.
func (w *Workflow) Parallel(group string, steps ...func(ctx context.Context) error) error {
	name := "parallel:" + group
	w.mu.Lock()
	groupKey := fmt.Sprintf("%s#%d", name, w.calls[name]+1)
	w.mu.Unlock()

	return w.Step(name, func(ctx context.Context) error {
		g, gctx := errgroup.WithContext(ctx)
		for i, step := range steps {
			key := fmt.Sprintf("%s/%d", groupKey, i)
			fn := step
			g.Go(func() error {
				d, err := w.store.GetCheckpoint(gctx, w.exec.ID, key)
				if err != nil {
					return err
				}
				if d != nil {
					return nil
				}
				if err := fn(gctx); err != nil {
					return err
				}
				enc, err := encodeOutput(nil)
				if err != nil {
					return err
				}
				return w.store.SaveCheckpoint(gctx, w.exec.ID, key, enc)
			})
		}
		return g.Wait()
	})
}

// ── Saga Compensations ──────────────────────────────

// StepWithCompensation executes a named step with an associated
// compensation function. If the step succeeds, the compensation is pushed
// onto a LIFO stack. When the handler returns an error, the runner runs
// every registered compensation in reverse order as durable steps.
func (w *Workflow) StepWithCompensation(
	name string,
	execute func(ctx context.Context) error,
	compensate func(ctx context.Context) error,
) error {
	if err := w.Step(name, execute); err != nil {
		return err
	}
	w.mu.Lock()
	w.compensations = append(w.compensations, Compensation{
		StepName:   name,
		Compensate: compensate,
	})
	w.mu.Unlock()
	return nil
}

// RunCompensations runs the registered compensations in reverse order,
// each as the durable step "compensate:<name>". Every compensation runs
// even if an earlier one fails; the failures are joined.
func (w *Workflow) RunCompensations() error {
	comps := w.Compensations()

	var errs []error
	for i := len(comps) - 1; i >= 0; i-- {
		c := comps[i]
		if err := w.Step("compensate:"+c.StepName, c.Compensate); err != nil {
			w.logger.Error("compensation failed",
				slog.String("step", c.StepName),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("compensate %q: %w", c.StepName, err))
		}
	}

	w.mu.Lock()
	w.compensations = nil
	w.mu.Unlock()

	return errors.Join(errs...)
}
