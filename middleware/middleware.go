// Package middleware provides composable middleware for claim
// execution. Middleware wraps the claim callback synchronously and can
// modify execution (recover from panics, stamp identity, log, add
// tracing, etc.).
package middleware

import (
	"context"

	"github.com/scribely/tierq/job"
)

// Handler is the terminal function that runs the claim logic.
type Handler func(ctx context.Context) error

// Middleware runs around a Handler. It sees the job being claimed and
// decides whether to call next; returning without calling next
// short-circuits the chain.
type Middleware func(ctx context.Context, j *job.Job, next Handler) error

// Chain folds the given middleware into one. The first entry is the
// outermost wrapper, so Chain(logging, recover, identity) runs as
//
//	logging → recover → identity → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		// Fold right to left so mws[0] ends up outermost.
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, j, prev)
			}
		}
		return h(ctx)
	}
}

// Apply wraps a claim function in the given middleware. The first
// middleware is the outermost wrapper. With no middleware the function
// is returned unchanged.
func Apply(fn func(context.Context, *job.Job) error, mws ...Middleware) func(context.Context, *job.Job) error {
	if len(mws) == 0 {
		return fn
	}
	chain := Chain(mws...)
	return func(ctx context.Context, j *job.Job) error {
		return chain(ctx, j, func(ctx context.Context) error {
			return fn(ctx, j)
		})
	}
}
