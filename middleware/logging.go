package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/scribely/tierq/job"
)

// Logging returns middleware that logs each claim's outcome with its
// duration. Claim starts log at debug so steady-state traffic does not
// flood the log; outcomes log at info or error.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		claim := logger.With(
			slog.String("job_id", j.ID.String()),
			slog.String("tier", string(j.Tier)),
			slog.String("owner_id", j.OwnerID),
		)
		claim.Debug("claim started")

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			claim.Error("claim failed",
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
			return err
		}
		claim.Info("claim completed", slog.Duration("elapsed", elapsed))
		return nil
	}
}
