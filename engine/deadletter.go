package engine

import (
	"context"
	"time"

	"github.com/xraph/escrow/dlq"
	"github.com/xraph/escrow/ext"
	"github.com/xraph/escrow/workflow"
)

// deadLetterHook records every failed execution in the dead letter store
// and resolves the entry once a retry finishes.
type deadLetterHook struct {
	dlq  *dlq.Service
	emit *ext.Registry
}

var (
	_ ext.ExecutionFailed      = (*deadLetterHook)(nil)
	_ ext.ExecutionCommitted   = (*deadLetterHook)(nil)
	_ ext.ExecutionCompensated = (*deadLetterHook)(nil)
)

func (h *deadLetterHook) Name() string { return "dead-letter" }

func (h *deadLetterHook) OnExecutionFailed(ctx context.Context, e *workflow.Execution, err error) error {
	entry, pushErr := h.dlq.Push(ctx, e, err)
	if pushErr != nil {
		return pushErr
	}
	h.emit.EmitDeadLettered(ctx, entry)
	return nil
}

func (h *deadLetterHook) OnExecutionCommitted(ctx context.Context, e *workflow.Execution, _ time.Duration) error {
	return h.resolve(ctx, e)
}

func (h *deadLetterHook) OnExecutionCompensated(ctx context.Context, e *workflow.Execution, _ time.Duration) error {
	return h.resolve(ctx, e)
}

func (h *deadLetterHook) resolve(ctx context.Context, e *workflow.Execution) error {
	if e.Attempts <= 1 {
		return nil
	}
	return h.dlq.Resolve(ctx, e.ID)
}
