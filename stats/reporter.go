package stats

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// cronParser supports standard 5-field cron and descriptors like
// "@every 1m".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression and returns the schedule.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// snapshotTimeout bounds how long one periodic collection may take.
const snapshotTimeout = 10 * time.Second

// Reporter logs a queue snapshot on a cron schedule. It gives
// operators a heartbeat in the logs without scraping the stats
// endpoint.
type Reporter struct {
	collector *Collector
	capacity  int
	schedule  cronlib.Schedule
	logger    *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// NewReporter creates a Reporter that snapshots on the given cron
// expression, such as "@every 1m" or "*/5 * * * *".
func NewReporter(c *Collector, capacity int, expr string, logger *slog.Logger) (*Reporter, error) {
	sched, err := ParseSchedule(expr)
	if err != nil {
		return nil, fmt.Errorf("tierq/stats: parse schedule %q: %w", expr, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{
		collector: c,
		capacity:  capacity,
		schedule:  sched,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}, nil
}

// Start launches the reporting goroutine. It returns immediately.
func (r *Reporter) Start(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}
	r.running = true

	r.wg.Add(1)
	go r.loop()
	return nil
}

// Stop signals the reporter to stop and waits for it to finish.
func (r *Reporter) Stop(_ context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.mu.Unlock()

	close(r.stopCh)
	r.wg.Wait()
	return nil
}

func (r *Reporter) loop() {
	defer r.wg.Done()

	for {
		now := time.Now().UTC()
		timer := time.NewTimer(r.schedule.Next(now).Sub(now))

		select {
		case <-r.stopCh:
			timer.Stop()
			return
		case <-timer.C:
			r.report()
		}
	}
}

func (r *Reporter) report() {
	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()

	snap, err := r.collector.Snapshot(ctx, r.capacity)
	if err != nil {
		r.logger.Error("stats snapshot error", slog.String("error", err.Error()))
		return
	}

	r.logger.Info("queue stats",
		slog.Int("capacity", snap.Capacity),
		slog.Int("running", snap.Running),
		slog.Int("waiting", snap.Waiting),
		slog.Bool("paused", snap.Paused()),
		slog.String("tiers", formatTiers(snap.Tiers)),
	)
}

// formatTiers renders per-tier counts as "premium=0 pro=2 basic=1 free=4".
func formatTiers(tiers []TierCount) string {
	var b strings.Builder
	for i, tc := range tiers {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s=%d", tc.Tier, tc.Count)
	}
	return b.String()
}
