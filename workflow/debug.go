package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/escrow"
)

// TimelineEntry represents a single checkpoint in an execution's history.
type TimelineEntry struct {
	Key       string          `json:"key"`
	Output    json.RawMessage `json:"output,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Timeline returns the checkpoints of an execution in the order they were
// recorded.
func (r *Runner) Timeline(ctx context.Context, executionID string) ([]TimelineEntry, error) {
	if _, err := r.store.GetExecution(ctx, executionID); err != nil {
		return nil, err
	}
	checkpoints, err := r.store.ListCheckpoints(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints for execution %s: %w", executionID, err)
	}

	entries := make([]TimelineEntry, len(checkpoints))
	for i, cp := range checkpoints {
		var rec record
		if err := json.Unmarshal(cp.Data, &rec); err != nil {
			return nil, fmt.Errorf("decode checkpoint %q: %w", cp.Key, err)
		}
		entries[i] = TimelineEntry{
			Key:       cp.Key,
			Output:    rec.Output,
			Error:     rec.Error,
			CreatedAt: cp.CreatedAt,
		}
	}
	return entries, nil
}

// InspectStep returns the raw checkpoint data recorded under key.
func (r *Runner) InspectStep(ctx context.Context, executionID, key string) ([]byte, error) {
	data, err := r.store.GetCheckpoint(ctx, executionID, key)
	if err != nil {
		return nil, fmt.Errorf("get checkpoint %q for execution %s: %w", key, executionID, err)
	}
	if data == nil {
		return nil, fmt.Errorf("%w: %q for execution %s", escrow.ErrCheckpointNotFound, key, executionID)
	}
	return data, nil
}

// ReplayFrom re-executes a finished execution from a specific step. The
// checkpoint for key and everything before it are kept, every later
// checkpoint is deleted, and the execution is resumed.
func (r *Runner) ReplayFrom(ctx context.Context, executionID, key string) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, escrow.ErrShuttingDown
	}
	if _, ok := r.inflight[executionID]; ok {
		return nil, fmt.Errorf("%w: execution %s is in flight", escrow.ErrInvalidState, executionID)
	}

	exec, err := r.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("get execution %s: %w", executionID, err)
	}

	data, err := r.store.GetCheckpoint(ctx, executionID, key)
	if err != nil {
		return nil, fmt.Errorf("get checkpoint %q for execution %s: %w", key, executionID, err)
	}
	if data == nil {
		return nil, fmt.Errorf("%w: %q for execution %s", escrow.ErrCheckpointNotFound, key, executionID)
	}

	if err := r.store.DeleteCheckpointsAfter(ctx, executionID, key); err != nil {
		return nil, fmt.Errorf("delete checkpoints after %q for execution %s: %w", key, executionID, err)
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
