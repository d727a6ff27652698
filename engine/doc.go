// Package engine wires all tierq subsystems together and provides the
// primary application-level API for submitting and tracking
// transcription jobs.
//
// The engine package exists to break a fundamental import cycle: the
// root tierq package defines Entity (imported by job and every package
// built on it) and therefore cannot import those packages back. Engine
// sits above all subsystem packages and below the application layer.
//
// # Building an Engine
//
//	q, err := tierq.New(
//	    tierq.WithStore(pgStore),
//	    tierq.WithCapacity(8),
//	    tierq.WithSlotDuration(3*time.Minute),
//	)
//
//	eng, err := engine.Build(q,
//	    engine.WithHook(myHook),
//	    engine.WithThrottleConfig(throttle.DefaultConfigs()...),
//	    engine.WithClaimFunc(runTranscription),
//	)
//
// # Submitting and Tracking Work
//
//	j, err := eng.Submit(ctx, "u_1201", tier.Pro, "s3://bucket/episode.wav")
//
//	placement, err := eng.Locate(ctx, j.ID)
//
//	ctx = auth.WithIdentity(ctx, auth.Identity{Subject: "u_1201"})
//	j, err = eng.Cancel(ctx, j.ID)
//
// # Running Jobs
//
// A claim function makes the pool execute work in-process. Workers
// report progress and outcomes through the engine:
//
//	eng.MarkStatus(ctx, jobID, job.StatusTranscribing)
//	eng.Finish(ctx, jobID, job.StatusCompleted, "")
//
// Without a claim function the pool only admits; external workers
// discover admitted jobs through the store or the HTTP API.
//
// # Options
//
//   - [WithHook] registers a lifecycle hook
//   - [WithClaimFunc] sets the in-process claim function
//   - [WithClaimMiddleware] wraps the claim function in middleware
//   - [WithBackoff] sets the sweep-failure backoff strategy
//   - [WithThrottleConfig] adds per-tier handoff pacing
//   - [WithOwnerThrottleConfig] adds per-owner handoff pacing
//   - [WithStatsSchedule] enables the periodic stats reporter
//   - [WithMeterProvider] sets the OpenTelemetry meter provider
package engine
