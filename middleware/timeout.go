package middleware

import (
	"context"
	"time"
)

// Timeout returns middleware that bounds every step body by d. A zero or
// negative duration disables the bound.
func Timeout(d time.Duration) Middleware {
	return func(ctx context.Context, _ Step, next Handler) error {
		if d <= 0 {
			return next(ctx)
		}
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return next(ctx)
	}
}
