package middleware

import (
	"context"
	"time"

	"github.com/scribely/tierq/job"
)

// Timeout returns middleware that bounds claim execution to d. The
// claim's context is cancelled when the deadline passes, and the claim
// is expected to return ctx.Err(). A non-positive d disables the bound.
func Timeout(d time.Duration) Middleware {
	return func(ctx context.Context, _ *job.Job, next Handler) error {
		if d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return next(ctx)
	}
}
