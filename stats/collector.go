// Package stats assembles operator-facing queue snapshots.
//
// A snapshot is assembled from independent count queries and is not a
// single atomic read; totals can be off by in-flight admissions. That
// is acceptable for dashboards and capacity planning, which is all
// this surface serves.
package stats

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/scribely/tierq"
	"github.com/scribely/tierq/job"
	"github.com/scribely/tierq/tier"
)

// TierCount is the number of waiting jobs in one tier.
type TierCount struct {
	Tier  tier.Tier `json:"tier"`
	Count int       `json:"count"`
}

// Snapshot is the queue state at one instant.
type Snapshot struct {
	Capacity int `json:"capacity"`
	Running  int `json:"running"`
	Waiting  int `json:"waiting"`

	// Tiers lists waiting counts per tier, known tiers first in
	// weight order, then any unrecognized labels alphabetically.
	// Known tiers appear even when their count is zero.
	Tiers []TierCount `json:"tiers"`

	CollectedAt time.Time `json:"collected_at"`
}

// Paused reports whether the snapshot was taken from a paused queue.
func (s *Snapshot) Paused() bool { return s.Capacity <= 0 }

// Collector produces snapshots over a shared store.
type Collector struct {
	store  job.Store
	clock  tierq.Clock
	logger *slog.Logger
}

// Option configures a Collector.
type Option func(*Collector)

// WithClock sets the time source for CollectedAt stamps.
func WithClock(clk tierq.Clock) Option {
	return func(c *Collector) { c.clock = clk }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Collector) { c.logger = l }
}

// New creates a Collector over the given store.
func New(store job.Store, opts ...Option) *Collector {
	c := &Collector{
		store:  store,
		clock:  tierq.SystemClock{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Snapshot collects the current counts. The three count queries run
// concurrently; the first error cancels the rest.
func (c *Collector) Snapshot(ctx context.Context, capacity int) (*Snapshot, error) {
	var (
		running int
		waiting int
		byTier  map[tier.Tier]int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		running, err = c.store.CountRunning(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		waiting, err = c.store.CountWaiting(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		byTier, err = c.store.CountWaitingByTier(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Snapshot{
		Capacity:    capacity,
		Running:     running,
		Waiting:     waiting,
		Tiers:       orderTiers(byTier),
		CollectedAt: c.clock.Now(),
	}, nil
}

// orderTiers lays the per-tier counts out deterministically: known
// tiers in weight order, then unrecognized labels alphabetically.
func orderTiers(byTier map[tier.Tier]int) []TierCount {
	known := tier.All()
	out := make([]TierCount, 0, len(known))
	seen := make(map[tier.Tier]bool, len(known))
	for _, t := range known {
		out = append(out, TierCount{Tier: t, Count: byTier[t]})
		seen[t] = true
	}

	var extras []tier.Tier
	for t := range byTier {
		if !seen[t] {
			extras = append(extras, t)
		}
	}
	sort.Slice(extras, func(i, k int) bool { return extras[i] < extras[k] })
	for _, t := range extras {
		out = append(out, TierCount{Tier: t, Count: byTier[t]})
	}
	return out
}
