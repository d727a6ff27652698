// Package worker runs the admission pump. A single sweep loop asks the
// admission controller for the best waiting jobs on every poll tick and
// hands each admitted job to a claim worker, bounded by a weighted
// semaphore and paced by an optional per-tier throttle.
//
// The pool never executes transcriptions. A [ClaimFunc] is the handoff
// seam to whatever does; without one the pool still admits, and
// external workers discover admitted jobs through the API.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/scribely/tierq"
	"github.com/scribely/tierq/admission"
	"github.com/scribely/tierq/backoff"
	"github.com/scribely/tierq/hook"
	"github.com/scribely/tierq/id"
	"github.com/scribely/tierq/job"
	"github.com/scribely/tierq/tier"
)

// Throttle paces claim handoff per tier and per owner. The pool calls
// Acquire before handing an admitted job to a claim worker and Release
// after the claim returns. throttle.Manager implements it.
type Throttle interface {
	// Acquire checks rate limits and in-flight caps for the tier/owner
	// combination. Returns true if the handoff may proceed.
	Acquire(t tier.Tier, ownerID string) bool
	// Release decrements the active count for the tier/owner pair.
	Release(t tier.Tier, ownerID string)
}

// throttleRetryDelay is how long the sweep loop waits before re-asking
// the throttle for a denied handoff. Finer than the poll interval so a
// 1/s rate limit does not stretch into one handoff per poll tick.
const throttleRetryDelay = 100 * time.Millisecond

// Pool drives admission on a timer and fans admitted jobs out to claim
// workers.
type Pool struct {
	store        job.Store
	controller   *admission.Controller
	hooks        *hook.Registry
	claim        ClaimFunc
	capacity     int
	maxClaims    int
	pollInterval time.Duration
	strategy     backoff.Strategy
	throttle     Throttle
	clock        tierq.Clock
	workerID     id.WorkerID
	logger       *slog.Logger

	sem *semaphore.Weighted

	// baseCtx gates semaphore and throttle waits; Stop cancels it so a
	// blocked dispatch unwinds instead of outliving the pool.
	baseCtx    context.Context
	baseCancel context.CancelFunc

	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
	activeJobs map[string]context.CancelFunc
	activeMu   sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithCapacity sets the running-job cap passed to every admission
// sweep. Zero or negative pauses admission.
func WithCapacity(n int) PoolOption {
	return func(p *Pool) { p.capacity = n }
}

// WithMaxClaims bounds how many claim workers may run at once.
// Defaults to the capacity.
func WithMaxClaims(n int) PoolOption {
	return func(p *Pool) { p.maxClaims = n }
}

// WithPollInterval sets how often the pool sweeps for admissible jobs.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithClaimFunc sets the handoff callback for admitted jobs.
func WithClaimFunc(fn ClaimFunc) PoolOption {
	return func(p *Pool) { p.claim = fn }
}

// WithThrottle sets the per-tier pacing manager.
func WithThrottle(t Throttle) PoolOption {
	return func(p *Pool) { p.throttle = t }
}

// WithBackoff sets the delay strategy applied after failed sweeps.
func WithBackoff(s backoff.Strategy) PoolOption {
	return func(p *Pool) { p.strategy = s }
}

// WithClock sets the time source for terminal stamps.
func WithClock(c tierq.Clock) PoolOption {
	return func(p *Pool) { p.clock = c }
}

// NewPool creates an admission pool.
func NewPool(
	store job.Store,
	controller *admission.Controller,
	hooks *hook.Registry,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	defaults := tierq.DefaultConfig()
	p := &Pool{
		store:        store,
		controller:   controller,
		hooks:        hooks,
		capacity:     defaults.Capacity,
		pollInterval: defaults.PollInterval,
		strategy:     backoff.DefaultStrategy(),
		clock:        tierq.SystemClock{},
		workerID:     id.NewWorkerID(),
		logger:       logger,
		stopCh:       make(chan struct{}),
		activeJobs:   make(map[string]context.CancelFunc),
	}
	p.baseCtx, p.baseCancel = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(p)
	}
	if p.maxClaims <= 0 {
		p.maxClaims = p.capacity
	}
	if p.maxClaims < 1 {
		p.maxClaims = 1
	}
	p.sem = semaphore.NewWeighted(int64(p.maxClaims))
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the sweep loop. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("admission pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("capacity", p.capacity),
		slog.Duration("poll_interval", p.pollInterval),
	)

	p.wg.Add(1)
	go p.sweepLoop()

	return nil
}

// Stop signals the pool to stop and waits for in-flight claims to
// finish. If the context has a deadline, active claims are cancelled
// when time runs out.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("admission pool stopping", slog.String("worker_id", p.workerID.String()))

	// Signal the sweep loop and unblock semaphore/throttle waits.
	close(p.stopCh)
	p.baseCancel()

	// Wait for completion or context deadline.
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("admission pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("admission pool shutdown timed out, cancelling active claims")
		p.cancelActiveClaims()
		p.wg.Wait()
	}

	return nil
}

// CancelActive cancels the in-flight claim for a job, if this pool is
// running one. The job record is already terminal by the time callers
// invoke this; cancelling the context tells the claim worker to stop
// spending effort on it. Reports whether a claim was found.
func (p *Pool) CancelActive(jobID id.JobID) bool {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	cancel, ok := p.activeJobs[jobID.String()]
	if ok {
		cancel()
	}
	return ok
}

// sweepLoop runs one admission sweep per poll tick.
func (p *Pool) sweepLoop() {
	defer p.wg.Done()

	errStreak := 0
	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		admitted, err := p.controller.TryAdmit(context.Background(), p.capacity)
		if err != nil {
			errStreak++
			p.logger.Error("admission sweep failed",
				slog.Int("attempt", errStreak),
				slog.String("error", err.Error()),
			)
			p.sleepFor(p.strategy.Delay(errStreak))
			continue
		}
		errStreak = 0

		for _, j := range admitted {
			if p.claim == nil {
				break
			}
			if !p.dispatch(j) {
				return
			}
		}

		p.sleep()
	}
}

func (p *Pool) sleep() {
	p.sleepFor(p.pollInterval)
}

func (p *Pool) sleepFor(d time.Duration) {
	select {
	case <-time.After(d):
	case <-p.stopCh:
	}
}

func (p *Pool) trackClaim(jobID string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.activeJobs[jobID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrackClaim(jobID string) {
	p.activeMu.Lock()
	delete(p.activeJobs, jobID)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActiveClaims() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for jobID, cancel := range p.activeJobs {
		p.logger.Warn("cancelling active claim", slog.String("job_id", jobID))
		cancel()
	}
}
