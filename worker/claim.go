package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/scribely/tierq"
	"github.com/scribely/tierq/job"
)

// ClaimFunc receives an admitted job. Embedded deployments run the
// transcription pipeline inside it and finish the job themselves; a
// returned error marks the job failed. The context is cancelled when
// the job is cancelled mid-claim or the pool shuts down hard.
type ClaimFunc func(ctx context.Context, j *job.Job) error

// dispatch hands one admitted job to a claim worker. It blocks on the
// semaphore and the throttle, in admission order, and reports false
// when the pool is stopping.
func (p *Pool) dispatch(j *job.Job) bool {
	if err := p.sem.Acquire(p.baseCtx, 1); err != nil {
		return false
	}

	if p.throttle != nil {
		for !p.throttle.Acquire(j.Tier, j.OwnerID) {
			select {
			case <-p.stopCh:
				p.sem.Release(1)
				return false
			case <-time.After(throttleRetryDelay):
			}
		}
	}

	// Re-read before handoff: a cancel may have landed between the
	// admission sweep and this point.
	cur, err := p.store.GetJob(context.Background(), j.ID)
	if err != nil {
		p.logger.Warn("claim handoff pre-read failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		p.releaseSlots(j)
		return true
	}
	if cur.Done {
		p.logger.Info("skipping handoff, job reached a terminal state",
			slog.String("job_id", cur.ID.String()),
			slog.String("status", string(cur.Status)),
		)
		p.releaseSlots(j)
		return true
	}

	p.wg.Add(1)
	go p.runClaim(cur)
	return true
}

// runClaim executes the claim callback for one job.
func (p *Pool) runClaim(j *job.Job) {
	defer p.wg.Done()
	defer p.releaseSlots(j)

	ctx, cancel := context.WithCancel(context.Background())
	p.trackClaim(j.ID.String(), cancel)
	defer cancel()
	defer p.untrackClaim(j.ID.String())

	if err := p.claim(ctx, j); err != nil {
		p.failClaim(j, err)
	}
}

// failClaim records a failed outcome for a claim that returned an
// error. Losing the race to a cancel is not a failure of this path.
func (p *Pool) failClaim(j *job.Job, claimErr error) {
	ctx := context.Background()
	failed, err := p.store.FinishJob(ctx, j.ID, job.StatusFailed, claimErr.Error(), p.clock.Now())
	if err != nil {
		if errors.Is(err, tierq.ErrJobDone) {
			p.logger.Debug("claim failed after job reached a terminal state",
				slog.String("job_id", j.ID.String()),
				slog.String("claim_error", claimErr.Error()),
			)
			return
		}
		p.logger.Error("failed to record claim failure",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	p.logger.Warn("claim failed",
		slog.String("job_id", failed.ID.String()),
		slog.String("tier", string(failed.Tier)),
		slog.String("error", claimErr.Error()),
	)

	var elapsed time.Duration
	if failed.PickedAt != nil && failed.CompletedAt != nil {
		elapsed = failed.CompletedAt.Sub(*failed.PickedAt)
	}
	if p.hooks != nil {
		p.hooks.EmitJobFinished(ctx, failed, elapsed)
	}
}

func (p *Pool) releaseSlots(j *job.Job) {
	p.sem.Release(1)
	if p.throttle != nil {
		p.throttle.Release(j.Tier, j.OwnerID)
	}
}
