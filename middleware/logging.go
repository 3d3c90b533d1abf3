package middleware

import (
	"context"
	"log/slog"
	"time"
)

// Logging returns middleware that logs step start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, s Step, next Handler) error {
		logger.Debug("step started",
			slog.String("execution_id", s.ExecutionID),
			slog.String("workflow", s.Workflow),
			slog.String("step", s.Name),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Warn("step failed",
				slog.String("execution_id", s.ExecutionID),
				slog.String("workflow", s.Workflow),
				slog.String("step", s.Name),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Debug("step completed",
				slog.String("execution_id", s.ExecutionID),
				slog.String("workflow", s.Workflow),
				slog.String("step", s.Name),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
