// Package middleware provides composable middleware around durable step
// execution. Middleware wraps the step body synchronously and only runs
// when the step actually executes; replayed steps served from a checkpoint
// bypass the chain.
package middleware

import "context"

// Step describes the durable step being executed.
type Step struct {
	// ExecutionID is the ID of the owning execution.
	ExecutionID string
	// Workflow is the registered workflow name.
	Workflow string
	// Name is the checkpoint key of the step, including its call order.
	Name string
	// Attempt is the execution attempt that runs the step (1 for the
	// first run, incremented on every resume).
	Attempt int
}

// Handler is the terminal function that executes the step body.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler with cross-cutting logic. Middleware MUST call
// next to continue the chain unless it is deliberately short-circuiting.
type Middleware func(ctx context.Context, s Step, next Handler) error

// Chain composes multiple middleware into a single Middleware. The first
// middleware in the list is the outermost wrapper.
//
// Example: Chain(logging, recover, tracing) executes as:
//
//	logging → recover → tracing → step
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, s Step, next Handler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, s, prev)
			}
		}
		return h(ctx)
	}
}
