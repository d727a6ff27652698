// Package engine wires all tierq subsystems together. It creates the
// hook registry, admission controller, position estimator, cancel
// handler, stats collector, and worker pool, and provides the facade
// operations applications call.
//
// This package exists to break the import cycle: the root tierq
// package defines Entity (imported by job, and through it by every
// subsystem) and so cannot import those packages back. The engine
// package sits above all subsystem packages and below the application
// layer.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/scribely/tierq"
	"github.com/scribely/tierq/admission"
	"github.com/scribely/tierq/auth"
	"github.com/scribely/tierq/backoff"
	"github.com/scribely/tierq/cancel"
	"github.com/scribely/tierq/hook"
	"github.com/scribely/tierq/id"
	"github.com/scribely/tierq/job"
	"github.com/scribely/tierq/middleware"
	"github.com/scribely/tierq/observability"
	"github.com/scribely/tierq/position"
	"github.com/scribely/tierq/stats"
	"github.com/scribely/tierq/throttle"
	"github.com/scribely/tierq/tier"
	"github.com/scribely/tierq/worker"
)

// Engine wraps a Queue with typed subsystem access.
// Use Build() to create one from a Queue.
type Engine struct {
	q          *tierq.Queue
	store      job.Store
	hooks      *hook.Registry
	controller *admission.Controller
	estimator  *position.Estimator
	canceller  *cancel.Handler
	collector  *stats.Collector
	reporter   *stats.Reporter
	pool       *worker.Pool
	throttler  *throttle.Manager
	bo         backoff.Strategy
	logger     *slog.Logger

	// Collected by options, consumed once during Build.
	claim           worker.ClaimFunc
	claimMW         []middleware.Middleware
	throttleConfigs []throttle.Config
	ownerConfigs    []throttle.OwnerConfig
	statsSchedule   string

	// OpenTelemetry provider (optional; nil means use global).
	meterProvider metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithHook registers a lifecycle hook.
func WithHook(h hook.Hook) Option {
	return func(eng *Engine) {
		eng.hooks.Register(h)
	}
}

// WithClaimFunc sets the function the worker pool hands admitted jobs
// to. Without one the pool only admits; external workers pick up
// admitted jobs through the store or API.
func WithClaimFunc(fn worker.ClaimFunc) Option {
	return func(eng *Engine) {
		eng.claim = fn
	}
}

// WithClaimMiddleware wraps the claim function in the given middleware,
// outermost first. Ignored when no claim function is configured.
func WithClaimMiddleware(mws ...middleware.Middleware) Option {
	return func(eng *Engine) {
		eng.claimMW = append(eng.claimMW, mws...)
	}
}

// WithBackoff sets the strategy the worker pool uses to back off after
// failed admission sweeps.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) {
		eng.bo = b
	}
}

// WithThrottleConfig adds per-tier pacing limits for claim handoff.
func WithThrottleConfig(configs ...throttle.Config) Option {
	return func(eng *Engine) {
		eng.throttleConfigs = append(eng.throttleConfigs, configs...)
	}
}

// WithOwnerThrottleConfig adds per-owner pacing limits within a tier.
func WithOwnerThrottleConfig(configs ...throttle.OwnerConfig) Option {
	return func(eng *Engine) {
		eng.ownerConfigs = append(eng.ownerConfigs, configs...)
	}
}

// WithStatsSchedule enables the periodic stats reporter on the given
// cron expression, for example "*/5 * * * *".
func WithStatsSchedule(expr string) Option {
	return func(eng *Engine) {
		eng.statsSchedule = expr
	}
}

// WithMeterProvider sets the OpenTelemetry meter provider for queue
// metrics. Without one the global provider applies.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build wires a Queue into a ready Engine.
func Build(q *tierq.Queue, opts ...Option) (*Engine, error) {
	logger := q.Logger()
	storer := q.Store()

	if storer == nil {
		return nil, tierq.ErrNoStore
	}

	// Type-assert the store to get the job.Store interface.
	js, ok := storer.(job.Store)
	if !ok {
		return nil, fmt.Errorf("tierq: store does not implement job.Store")
	}

	eng := &Engine{
		q:      q,
		store:  js,
		hooks:  hook.NewRegistry(logger),
		logger: logger,
	}

	for _, opt := range opts {
		opt(eng)
	}

	// Default backoff strategy if none provided.
	if eng.bo == nil {
		eng.bo = backoff.DefaultStrategy()
	}

	// Register the observability metrics hook. With no meter provider
	// configured the global one applies, which defaults to a noop.
	var metrics *observability.Metrics
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/scribely/tierq")
		metrics = observability.NewWithMeter(meter)
	} else {
		metrics = observability.New()
	}
	eng.hooks.Register(metrics)

	config := q.Config()

	eng.controller = admission.New(js,
		admission.WithHooks(eng.hooks),
		admission.WithClock(q.Clock()),
		admission.WithLogger(logger),
		admission.WithObserver(metrics),
		admission.WithBatch(config.AdmitBatch),
	)
	eng.estimator = position.New(js, position.WithLogger(logger))
	eng.canceller = cancel.New(js,
		cancel.WithHooks(eng.hooks),
		cancel.WithClock(q.Clock()),
		cancel.WithLogger(logger),
	)
	eng.collector = stats.New(js,
		stats.WithClock(q.Clock()),
		stats.WithLogger(logger),
	)

	// Create the stats reporter if a schedule was provided.
	if eng.statsSchedule != "" {
		reporter, err := stats.NewReporter(eng.collector, config.Capacity, eng.statsSchedule, logger)
		if err != nil {
			return nil, fmt.Errorf("tierq: stats schedule: %w", err)
		}
		eng.reporter = reporter
	}

	poolOpts := []worker.PoolOption{
		worker.WithCapacity(config.Capacity),
		worker.WithPollInterval(config.PollInterval),
		worker.WithBackoff(eng.bo),
		worker.WithClock(q.Clock()),
	}
	if eng.claim != nil {
		claim := eng.claim
		if len(eng.claimMW) > 0 {
			claim = middleware.Apply(claim, eng.claimMW...)
		}
		poolOpts = append(poolOpts, worker.WithClaimFunc(claim))
	}

	// Create the throttle manager if pacing configs were provided.
	if len(eng.throttleConfigs) > 0 || len(eng.ownerConfigs) > 0 {
		eng.throttler = throttle.NewManager(eng.throttleConfigs...)
		for _, oc := range eng.ownerConfigs {
			eng.throttler.SetOwnerConfig(oc)
		}
		poolOpts = append(poolOpts, worker.WithThrottle(eng.throttler))
	}

	eng.pool = worker.NewPool(js, eng.controller, eng.hooks, logger, poolOpts...)

	// Wire back into the Queue.
	q.SetPool(eng.pool)
	q.SetHooks(eng.hooks)

	return eng, nil
}

// Submit enqueues a transcription job for ownerID at the queue clock's
// current time. The job starts queued with no admission stamp; a later
// admission sweep picks it in tier order. Unknown tiers are accepted
// and rank at the lowest weight.
func (eng *Engine) Submit(ctx context.Context, ownerID string, t tier.Tier, source string, opts ...job.Option) (*job.Job, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("tierq: submit: owner required")
	}
	if source == "" {
		return nil, fmt.Errorf("tierq: submit: source required")
	}

	j := job.New(ownerID, t, source, eng.q.Clock().Now(), opts...)
	if err := eng.store.CreateJob(ctx, j); err != nil {
		return nil, err
	}

	eng.logger.Info("job submitted",
		slog.String("job_id", j.ID.String()),
		slog.String("owner_id", j.OwnerID),
		slog.String("tier", string(j.Tier)),
	)
	eng.hooks.EmitJobSubmitted(ctx, j)
	return j, nil
}

// TryAdmit runs one admission sweep immediately instead of waiting for
// the next poll tick. It returns the jobs admitted by this sweep;
// empty when the queue is paused or nothing is waiting.
func (eng *Engine) TryAdmit(ctx context.Context) ([]*job.Job, error) {
	return eng.controller.TryAdmit(ctx, eng.q.Config().Capacity)
}

// Cancel cancels a job on behalf of the identity attached to ctx via
// auth.WithIdentity. Owners cancel their own jobs, operators cancel
// any; everyone else gets tierq.ErrForbidden. If the job is being
// claimed right now, the claim's context is cancelled too.
func (eng *Engine) Cancel(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	caller, _ := auth.IdentityFrom(ctx)
	j, err := eng.canceller.Cancel(ctx, jobID, caller)
	if err != nil {
		return nil, err
	}
	eng.pool.CancelActive(jobID)
	return j, nil
}

// Locate reports where a waiting job stands in the queue and estimates
// its wait from the configured capacity and slot duration.
func (eng *Engine) Locate(ctx context.Context, jobID id.JobID) (*position.Placement, error) {
	config := eng.q.Config()
	return eng.estimator.Locate(ctx, jobID, config.Capacity, config.SlotDuration)
}

// Stats returns a point-in-time snapshot of queue depth and running
// load. Access control is the transport layer's concern; in-process
// callers are trusted.
func (eng *Engine) Stats(ctx context.Context) (*stats.Snapshot, error) {
	return eng.collector.Snapshot(ctx, eng.q.Config().Capacity)
}

// MarkStatus moves a running job to a new progress label and notifies
// hooks with the prior one. Labels outside the running phase are
// rejected before the store is touched.
func (eng *Engine) MarkStatus(ctx context.Context, jobID id.JobID, status job.Status) (*job.Job, error) {
	if !status.Progress() {
		return nil, fmt.Errorf("%w: %q is not a progress status", tierq.ErrInvalidTransition, status)
	}

	prev, err := eng.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	from := prev.Status

	j, err := eng.store.SetJobStatus(ctx, jobID, status, eng.q.Clock().Now())
	if err != nil {
		return nil, err
	}

	eng.hooks.EmitJobStatusChanged(ctx, j, from, status)
	return j, nil
}

// Finish records a terminal outcome for a running job. Status must be
// StatusCompleted or StatusFailed; cancellations go through Cancel.
func (eng *Engine) Finish(ctx context.Context, jobID id.JobID, status job.Status, reason string) (*job.Job, error) {
	if status != job.StatusCompleted && status != job.StatusFailed {
		return nil, fmt.Errorf("%w: %q is not a finish status", tierq.ErrInvalidTransition, status)
	}

	j, err := eng.store.FinishJob(ctx, jobID, status, reason, eng.q.Clock().Now())
	if err != nil {
		return nil, err
	}

	var elapsed time.Duration
	if j.CompletedAt != nil && j.PickedAt != nil {
		elapsed = j.CompletedAt.Sub(*j.PickedAt)
	}

	eng.logger.Info("job finished",
		slog.String("job_id", j.ID.String()),
		slog.String("status", string(j.Status)),
		slog.Duration("elapsed", elapsed),
	)
	eng.hooks.EmitJobFinished(ctx, j, elapsed)
	return j, nil
}

// Job fetches a single job by ID.
func (eng *Engine) Job(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return eng.store.GetJob(ctx, jobID)
}

// Jobs lists jobs matching opts, ordered by submission time then ID.
func (eng *Engine) Jobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	return eng.store.ListJobs(ctx, opts)
}

// Start begins background admission by starting the worker pool and,
// if one was configured, the periodic stats reporter.
func (eng *Engine) Start(ctx context.Context) error {
	if eng.reporter != nil {
		if err := eng.reporter.Start(ctx); err != nil {
			return fmt.Errorf("start stats reporter: %w", err)
		}
	}
	return eng.q.Start(ctx)
}

// Stop gracefully shuts down the engine.
func (eng *Engine) Stop(ctx context.Context) error {
	if eng.reporter != nil {
		if err := eng.reporter.Stop(ctx); err != nil {
			eng.logger.Error("stats reporter stop error", slog.String("error", err.Error()))
		}
	}
	return eng.q.Stop(ctx)
}

// Hooks returns the hook registry.
func (eng *Engine) Hooks() *hook.Registry { return eng.hooks }

// Queue returns the underlying Queue.
func (eng *Engine) Queue() *tierq.Queue { return eng.q }

// Pool returns the worker pool.
func (eng *Engine) Pool() *worker.Pool { return eng.pool }

// Controller returns the admission controller.
func (eng *Engine) Controller() *admission.Controller { return eng.controller }

// Throttler returns the throttle manager, or nil when no pacing
// configs were provided.
func (eng *Engine) Throttler() *throttle.Manager { return eng.throttler }
