package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/escrow"
)

// Status is the caller-facing view of an execution's state.
type Status string

const (
	StatusPending     Status = "pending"
	StatusCommitted   Status = "committed"
	StatusCompensated Status = "compensated"
	StatusFailed      Status = "failed"
)

// Result is the outcome of an execution as seen by its caller.
type Result struct {
	ExecutionID string          `json:"execution_id"`
	Workflow    string          `json:"workflow"`
	Status      Status          `json:"status"`
	Output      json.RawMessage `json:"output,omitempty"`
	Error       string          `json:"error,omitempty"`
}

func resultOf(e *Execution) *Result {
	res := &Result{ExecutionID: e.ID, Workflow: e.Name, Status: StatusPending}
	switch e.State {
	case StateCommitted:
		res.Status = StatusCommitted
		res.Output = e.Output
	case StateCompensated:
		res.Status = StatusCompensated
		res.Output = e.Output
	case StateFailed:
		res.Status = StatusFailed
		res.Error = e.Error
	}
	return res
}

// Done reports whether the execution has finished.
func (r *Result) Done() bool { return r.Status != StatusPending }

// DecodeOutput decodes the output of a finished execution into T. A
// failed execution returns its error message as an error; a pending one
// returns escrow.ErrInvalidState.
func DecodeOutput[T any](r *Result) (T, error) {
	var out T
	switch r.Status {
	case StatusPending:
		return out, fmt.Errorf("%w: execution %s is still pending", escrow.ErrInvalidState, r.ExecutionID)
	case StatusFailed:
		return out, errors.New(r.Error)
	}
	if len(r.Output) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(r.Output, &out); err != nil {
		return out, fmt.Errorf("decode output of execution %s: %w", r.ExecutionID, err)
	}
	return out, nil
}

// Handle refers to an execution started through the Runner.
type Handle struct {
	id     string
	runner *Runner
	// done is closed when the local goroutine returns. A nil channel means
	// the execution runs elsewhere and Wait polls the store.
	done chan struct{}
}

// ID returns the execution ID.
func (h *Handle) ID() string { return h.id }

// Wait blocks until the execution finishes or ctx is done. An execution
// interrupted by Shutdown returns a pending Result.
func (h *Handle) Wait(ctx context.Context) (*Result, error) {
	if h.done != nil {
		select {
		case <-h.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return h.runner.Result(ctx, h.id)
	}

	interval := 10 * time.Millisecond
	if h.runner.bus != nil {
		interval = h.runner.bus.PollInterval()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		res, err := h.runner.Result(ctx, h.id)
		if err != nil {
			return nil, err
		}
		if res.Done() {
			return res, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
