// Package middleware provides composable middleware for claim
// execution.
//
// A [Middleware] observes or alters a single claim: it receives the
// job, the context, and the next handler in the chain. [Chain] folds a
// slice of middleware into one, first entry outermost:
//
//	// logging → recover → handler
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Logging] records claim start, duration, and outcome
//   - [Recover] catches panics and converts them to errors
//   - [Timeout] cancels the claim context after a configured duration
//   - [Tracing] wraps execution in an OpenTelemetry span
//   - [Metrics] records per-claim duration and outcome counters
//   - [Identity] stamps the job owner's identity on the context
//
// # Writing Custom Middleware
//
//	func MyMiddleware() middleware.Middleware {
//	    return func(ctx context.Context, j *job.Job, next middleware.Handler) error {
//	        // pre-processing
//	        err := next(ctx)
//	        // post-processing
//	        return err
//	    }
//	}
//
// Skipping the next call short-circuits the rest of the chain, which is
// how a circuit breaker or rate limiter would reject a claim.
//
// # Wiring
//
// engine.WithClaimMiddleware applies a chain around the configured
// claim function:
//
//	eng, err := engine.Build(q,
//	    engine.WithClaimFunc(claim),
//	    engine.WithClaimMiddleware(
//	        middleware.Logging(logger),
//	        middleware.Recover(logger),
//	        middleware.Identity(),
//	    ),
//	)
package middleware
