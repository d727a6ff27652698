package middleware

import (
	"context"

	"github.com/scribely/tierq/auth"
	"github.com/scribely/tierq/job"
)

// Identity returns middleware that stamps the job owner's identity on
// the context. Claim code that calls back into the engine (cancel,
// job reads) then acts as the owner rather than as an anonymous caller.
func Identity() Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		if j.OwnerID != "" {
			ctx = auth.WithIdentity(ctx, auth.Identity{Subject: j.OwnerID})
		}
		return next(ctx)
	}
}
