// Package position reports where a waiting job stands in the queue and
// estimates how long it will wait.
//
// Placement is a read-only snapshot and goes stale immediately;
// higher-tier submissions push a waiting job back, admissions pull it
// forward. The wait estimate is a heuristic upper bound, not a
// promise.
package position

import (
	"context"
	"log/slog"
	"time"

	"github.com/scribely/tierq"
	"github.com/scribely/tierq/id"
	"github.com/scribely/tierq/job"
	"github.com/scribely/tierq/tier"
)

// Placement describes a waiting job's standing at one instant.
type Placement struct {
	JobID    id.JobID  `json:"job_id"`
	Tier     tier.Tier `json:"tier"`
	Position int       `json:"position"`
	Running  int       `json:"running"`
	Capacity int       `json:"capacity"`

	// EstimatedWait is ceil(Position / Capacity) processing slots. A
	// job at position 0 with free capacity reports zero wait.
	EstimatedWait time.Duration `json:"estimated_wait"`

	// Indefinite is set when the queue is paused. EstimatedWait is
	// zero and meaningless in that case.
	Indefinite bool `json:"indefinite"`
}

// Estimator computes placements over a shared store.
type Estimator struct {
	store  job.Store
	logger *slog.Logger
}

// Option configures an Estimator.
type Option func(*Estimator)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Estimator) { e.logger = l }
}

// New creates an Estimator over the given store.
func New(store job.Store, opts ...Option) *Estimator {
	e := &Estimator{
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Locate reports the placement of a waiting job.
//
// Position counts the waiting jobs ranked strictly ahead, so 0 means
// next in line. Jobs that are running or terminal return
// tierq.ErrNotQueued; unknown ids return tierq.ErrJobNotFound. Locate
// never mutates.
func (e *Estimator) Locate(ctx context.Context, jobID id.JobID, capacity int, slot time.Duration) (*Placement, error) {
	j, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.Phase() != job.PhaseWaiting {
		return nil, tierq.ErrNotQueued
	}

	pos, err := e.store.WaitingPosition(ctx, j.Rank())
	if err != nil {
		return nil, err
	}
	running, err := e.store.CountRunning(ctx)
	if err != nil {
		return nil, err
	}

	p := &Placement{
		JobID:    j.ID,
		Tier:     j.Tier,
		Position: pos,
		Running:  running,
		Capacity: capacity,
	}
	if capacity <= 0 {
		p.Indefinite = true
		return p, nil
	}

	rounds := (pos + capacity - 1) / capacity
	p.EstimatedWait = time.Duration(rounds) * slot
	return p, nil
}
