// Package admission picks waiting jobs to run under the capacity cap.
//
// The Controller is stateless between calls; the atomic
// select-and-mark lives in the store, so any number of controllers and
// processes can race TryAdmit against one database without exceeding
// the cap.
package admission

import (
	"context"
	"log/slog"
	"time"

	"github.com/scribely/tierq"
	"github.com/scribely/tierq/hook"
	"github.com/scribely/tierq/job"
)

// Observer receives admission timing. The observability package
// implements it to feed the admission duration histogram.
type Observer interface {
	ObserveAdmission(ctx context.Context, elapsed time.Duration, admitted int)
}

// Controller drives job admission over a shared store.
type Controller struct {
	store    job.Store
	hooks    *hook.Registry
	clock    tierq.Clock
	logger   *slog.Logger
	observer Observer
	batch    int
}

// Option configures a Controller.
type Option func(*Controller)

// WithHooks sets the lifecycle hook registry notified on admissions.
func WithHooks(r *hook.Registry) Option {
	return func(c *Controller) { c.hooks = r }
}

// WithClock sets the time source used for admission timestamps.
func WithClock(clk tierq.Clock) Option {
	return func(c *Controller) { c.clock = clk }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithObserver sets the admission timing observer.
func WithObserver(o Observer) Option {
	return func(c *Controller) { c.observer = o }
}

// WithBatch caps how many jobs a single TryAdmit may pick. Zero means
// no extra cap beyond free capacity.
func WithBatch(n int) Option {
	return func(c *Controller) { c.batch = n }
}

// New creates a Controller over the given store.
func New(store job.Store, opts ...Option) *Controller {
	c := &Controller{
		store:  store,
		clock:  tierq.SystemClock{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TryAdmit picks waiting jobs to run, highest rank first, until the
// running count reaches capacity. Capacity at or below zero is a
// paused queue: nothing is admitted and no error is returned.
//
// Returned jobs already carry status processing and a picked_at
// timestamp; the admitting store write is atomic, so two concurrent
// calls never admit the same job or overshoot the cap between them.
func (c *Controller) TryAdmit(ctx context.Context, capacity int) ([]*job.Job, error) {
	if capacity <= 0 {
		c.logger.Debug("admission skipped, queue paused", slog.Int("capacity", capacity))
		if c.hooks != nil {
			c.hooks.EmitQueuePaused(ctx, capacity)
		}
		return nil, nil
	}

	limit := c.batch
	if limit <= 0 || limit > capacity {
		limit = capacity
	}

	start := time.Now()
	admitted, err := c.store.AdmitJobs(ctx, capacity, limit, c.clock.Now())
	if err != nil {
		c.logger.Error("admission failed", slog.String("error", err.Error()))
		return nil, err
	}
	if c.observer != nil {
		c.observer.ObserveAdmission(ctx, time.Since(start), len(admitted))
	}

	if len(admitted) == 0 {
		return nil, nil
	}

	for _, j := range admitted {
		c.logger.Info("job admitted",
			slog.String("job_id", j.ID.String()),
			slog.String("tier", string(j.Tier)),
			slog.String("owner_id", j.OwnerID),
		)
		if c.hooks != nil {
			c.hooks.EmitJobAdmitted(ctx, j)
		}
	}
	return admitted, nil
}
