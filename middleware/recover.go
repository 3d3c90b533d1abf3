package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
)

// Recover returns middleware that converts a panicking step body into an
// error so the execution fails instead of crashing the process.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, s Step, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("step panicked",
					slog.String("execution_id", s.ExecutionID),
					slog.String("step", s.Name),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				retErr = fmt.Errorf("panic in step %s: %v", s.Name, r)
			}
		}()
		return next(ctx)
	}
}
