package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/scribely/tierq/job"
)

// Recover returns middleware that converts panics in the claim chain
// into errors, so one panicking job cannot take down the pool worker
// that claimed it. The panic value and stack are logged.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (retErr error) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			logger.Error("claim panicked",
				slog.String("job_id", j.ID.String()),
				slog.String("tier", string(j.Tier)),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			retErr = fmt.Errorf("panic in claim for job %s: %v", j.ID, r)
		}()
		return next(ctx)
	}
}
