// Package cancel terminates jobs on behalf of their owners.
//
// Cancellation is cooperative bookkeeping: the job record goes
// terminal and stops being admissible, and external workers observe
// the state on their next check. Nothing here preempts work already in
// flight.
package cancel

import (
	"context"
	"errors"
	"log/slog"

	"github.com/scribely/tierq"
	"github.com/scribely/tierq/auth"
	"github.com/scribely/tierq/hook"
	"github.com/scribely/tierq/id"
	"github.com/scribely/tierq/job"
)

// Handler cancels jobs over a shared store.
type Handler struct {
	store  job.Store
	hooks  *hook.Registry
	clock  tierq.Clock
	logger *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithHooks sets the lifecycle hook registry notified on cancellation.
func WithHooks(r *hook.Registry) Option {
	return func(h *Handler) { h.hooks = r }
}

// WithClock sets the time source used for the cancellation timestamp.
func WithClock(clk tierq.Clock) Option {
	return func(h *Handler) { h.clock = clk }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// New creates a Handler over the given store.
func New(store job.Store, opts ...Option) *Handler {
	h := &Handler{
		store:  store,
		clock:  tierq.SystemClock{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Cancel marks a job cancelled on behalf of caller.
//
// Only the job's owner or an operator may cancel; anyone else gets
// tierq.ErrForbidden and no state changes. Cancelling an already
// cancelled job succeeds without another write. Jobs that completed or
// failed return tierq.ErrNotCancellable; their records are never
// rewritten. Waiting and running jobs alike are cancellable.
func (h *Handler) Cancel(ctx context.Context, jobID id.JobID, caller auth.Identity) (*job.Job, error) {
	j, err := h.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if !caller.Owns(j.OwnerID) {
		h.logger.Warn("cancel refused",
			slog.String("job_id", jobID.String()),
			slog.String("owner_id", j.OwnerID),
			slog.String("caller", caller.Subject),
		)
		return nil, tierq.ErrForbidden
	}

	if j.Done {
		if j.Status == job.StatusCancelled {
			return j, nil
		}
		return nil, tierq.ErrNotCancellable
	}

	out, err := h.store.CancelJob(ctx, jobID, h.clock.Now())
	if errors.Is(err, tierq.ErrJobDone) {
		// Lost a race with a concurrent cancel or finish. Re-read to
		// tell the idempotent case from the not-cancellable one.
		cur, getErr := h.store.GetJob(ctx, jobID)
		if getErr != nil {
			return nil, getErr
		}
		if cur.Status == job.StatusCancelled {
			return cur, nil
		}
		return nil, tierq.ErrNotCancellable
	}
	if err != nil {
		return nil, err
	}

	h.logger.Info("job cancelled",
		slog.String("job_id", out.ID.String()),
		slog.String("owner_id", out.OwnerID),
		slog.Bool("by_operator", caller.Operator && caller.Subject != out.OwnerID),
	)
	if h.hooks != nil {
		h.hooks.EmitJobCancelled(ctx, out)
	}
	return out, nil
}
