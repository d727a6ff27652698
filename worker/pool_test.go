package worker_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/scribely/tierq/admission"
	"github.com/scribely/tierq/backoff"
	"github.com/scribely/tierq/hook"
	"github.com/scribely/tierq/id"
	"github.com/scribely/tierq/job"
	"github.com/scribely/tierq/store/memory"
	"github.com/scribely/tierq/tier"
	"github.com/scribely/tierq/worker"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func setupTestPool(t *testing.T, capacity int, pollInterval time.Duration, opts ...worker.PoolOption) (
	*worker.Pool, *memory.Store, *hook.Registry,
) {
	t.Helper()
	logger := slog.Default()
	s := memory.New()
	hooks := hook.NewRegistry(logger)
	ctrl := admission.New(s, admission.WithHooks(hooks))

	all := append([]worker.PoolOption{
		worker.WithCapacity(capacity),
		worker.WithPollInterval(pollInterval),
	}, opts...)
	pool := worker.NewPool(s, ctrl, hooks, logger, all...)

	return pool, s, hooks
}

func seedJob(t *testing.T, s *memory.Store, owner string, tr tier.Tier, at time.Time) *job.Job {
	t.Helper()
	j := job.New(owner, tr, "s3://scribely/audio/a.wav", at)
	if err := s.CreateJob(context.Background(), j); err != nil {
		t.Fatalf("create job: %v", err)
	}
	return j
}

// waitFor polls cond until it returns true or the deadline passes.
func waitFor(t *testing.T, msg string, cond func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for " + msg)
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func stopPool(t *testing.T, pool *worker.Pool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("stop error: %v", err)
	}
}

func TestPool_StartStop(t *testing.T) {
	pool, _, _ := setupTestPool(t, 2, 50*time.Millisecond)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	// Double start should be no-op.
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("unexpected double-start error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}

	// Double stop should be no-op.
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("unexpected double-stop error: %v", err)
	}
}

func TestPool_AdmitsAndClaims(t *testing.T) {
	var claimed atomic.Bool
	var claimedID atomic.Value

	pool, s, _ := setupTestPool(t, 1, 10*time.Millisecond,
		worker.WithClaimFunc(func(_ context.Context, j *job.Job) error {
			claimedID.Store(j.ID.String())
			claimed.Store(true)
			return nil
		}),
	)

	j := seedJob(t, s, "u_owner", tier.Pro, base)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	waitFor(t, "claim", claimed.Load)
	stopPool(t, pool)

	if got := claimedID.Load(); got != j.ID.String() {
		t.Errorf("claimed job = %v, want %s", got, j.ID)
	}

	got, err := s.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("get job error: %v", err)
	}
	if got.PickedAt == nil {
		t.Error("expected PickedAt to be set after admission")
	}
	if got.Status != job.StatusProcessing {
		t.Errorf("status = %q, want %q", got.Status, job.StatusProcessing)
	}
}

func TestPool_NilClaimIsAdmissionPump(t *testing.T) {
	pool, s, _ := setupTestPool(t, 1, 10*time.Millisecond)

	j := seedJob(t, s, "u_owner", tier.Free, base)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	waitFor(t, "admission", func() bool {
		got, err := s.GetJob(context.Background(), j.ID)
		return err == nil && got.PickedAt != nil
	})
	stopPool(t, pool)
}

func TestPool_ClaimErrorMarksFailed(t *testing.T) {
	pool, s, _ := setupTestPool(t, 1, 10*time.Millisecond,
		worker.WithClaimFunc(func(_ context.Context, _ *job.Job) error {
			return errors.New("transcoder unreachable")
		}),
	)

	j := seedJob(t, s, "u_owner", tier.Basic, base)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	waitFor(t, "terminal outcome", func() bool {
		got, err := s.GetJob(context.Background(), j.ID)
		return err == nil && got.Done
	})
	stopPool(t, pool)

	got, err := s.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("get job error: %v", err)
	}
	if got.Status != job.StatusFailed {
		t.Errorf("status = %q, want %q", got.Status, job.StatusFailed)
	}
	if got.FailureReason != "transcoder unreachable" {
		t.Errorf("failure reason = %q, want %q", got.FailureReason, "transcoder unreachable")
	}
}

func TestPool_ClaimsInAdmissionOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string

	pool, s, _ := setupTestPool(t, 2, 10*time.Millisecond,
		worker.WithClaimFunc(func(ctx context.Context, j *job.Job) error {
			mu.Lock()
			order = append(order, j.ID.String())
			mu.Unlock()
			<-ctx.Done()
			return nil
		}),
	)

	a := seedJob(t, s, "u_a", tier.Free, base)
	b := seedJob(t, s, "u_b", tier.Basic, base.Add(time.Second))
	c := seedJob(t, s, "u_c", tier.Pro, base.Add(2*time.Second))
	d := seedJob(t, s, "u_d", tier.Free, base.Add(3*time.Second))

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	waitFor(t, "two claims", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	})

	mu.Lock()
	got := append([]string(nil), order...)
	mu.Unlock()
	want := []string{c.ID.String(), b.ID.String()}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("claim %d = %s, want %s", i, got[i], want[i])
		}
	}

	// The free jobs wait while capacity is held.
	for _, j := range []*job.Job{a, d} {
		cur, err := s.GetJob(context.Background(), j.ID)
		if err != nil {
			t.Fatalf("get job error: %v", err)
		}
		if cur.PickedAt != nil {
			t.Errorf("job %s should still be waiting", j.ID)
		}
	}

	stopPool(t, pool)
}

func TestPool_PausedAdmitsNothing(t *testing.T) {
	var claimed atomic.Bool

	pool, s, _ := setupTestPool(t, 0, 10*time.Millisecond,
		worker.WithClaimFunc(func(_ context.Context, _ *job.Job) error {
			claimed.Store(true)
			return nil
		}),
	)

	j := seedJob(t, s, "u_owner", tier.Premium, base)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	time.Sleep(150 * time.Millisecond)
	stopPool(t, pool)

	if claimed.Load() {
		t.Error("no claim should fire while the queue is paused")
	}
	got, err := s.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("get job error: %v", err)
	}
	if got.PickedAt != nil {
		t.Error("job should remain waiting while the queue is paused")
	}
}

// gateThrottle denies every handoff until opened.
type gateThrottle struct {
	mu   sync.Mutex
	open bool
}

func (g *gateThrottle) Acquire(_ tier.Tier, _ string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.open
}

func (g *gateThrottle) Release(_ tier.Tier, _ string) {}

func (g *gateThrottle) set(open bool) {
	g.mu.Lock()
	g.open = open
	g.mu.Unlock()
}

func TestPool_SkipsJobCancelledBeforeHandoff(t *testing.T) {
	var claimed atomic.Bool
	gate := &gateThrottle{}

	pool, s, _ := setupTestPool(t, 1, 10*time.Millisecond,
		worker.WithClaimFunc(func(_ context.Context, _ *job.Job) error {
			claimed.Store(true)
			return nil
		}),
		worker.WithThrottle(gate),
	)

	j := seedJob(t, s, "u_owner", tier.Pro, base)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	// The sweep admits the job, then the closed gate holds the handoff.
	waitFor(t, "admission", func() bool {
		got, err := s.GetJob(context.Background(), j.ID)
		return err == nil && got.PickedAt != nil
	})

	// Cancel while the handoff is gated, then open the gate.
	if _, err := s.CancelJob(context.Background(), j.ID, time.Now()); err != nil {
		t.Fatalf("cancel error: %v", err)
	}
	gate.set(true)

	time.Sleep(300 * time.Millisecond)
	stopPool(t, pool)

	if claimed.Load() {
		t.Error("cancelled job must not reach the claim callback")
	}
	got, err := s.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("get job error: %v", err)
	}
	if got.Status != job.StatusCancelled {
		t.Errorf("status = %q, want %q", got.Status, job.StatusCancelled)
	}
}

func TestPool_CancelActiveStopsClaim(t *testing.T) {
	var started atomic.Bool
	var sawCancel atomic.Bool

	pool, s, _ := setupTestPool(t, 1, 10*time.Millisecond,
		worker.WithClaimFunc(func(ctx context.Context, _ *job.Job) error {
			started.Store(true)
			<-ctx.Done()
			sawCancel.Store(true)
			return nil
		}),
	)

	j := seedJob(t, s, "u_owner", tier.Pro, base)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	waitFor(t, "claim start", started.Load)

	if !pool.CancelActive(j.ID) {
		t.Error("CancelActive should find the in-flight claim")
	}
	waitFor(t, "claim cancellation", sawCancel.Load)

	if pool.CancelActive(id.NewJobID()) {
		t.Error("CancelActive should not find an unknown job")
	}

	stopPool(t, pool)
}

func TestPool_ShutdownCancelsActiveClaims(t *testing.T) {
	var started atomic.Bool
	var sawCancel atomic.Bool

	pool, s, _ := setupTestPool(t, 1, 10*time.Millisecond,
		worker.WithClaimFunc(func(ctx context.Context, _ *job.Job) error {
			started.Store(true)
			<-ctx.Done()
			sawCancel.Store(true)
			return ctx.Err()
		}),
	)

	seedJob(t, s, "u_owner", tier.Pro, base)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	waitFor(t, "claim start", started.Load)

	// A short deadline forces the hard-cancel path.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("stop error: %v", err)
	}

	if !sawCancel.Load() {
		t.Error("expected the active claim to be cancelled on timeout")
	}
}

// failingStore makes every admission sweep fail.
type failingStore struct {
	*memory.Store
	sweeps atomic.Int64
}

func (f *failingStore) AdmitJobs(_ context.Context, _, _ int, _ time.Time) ([]*job.Job, error) {
	f.sweeps.Add(1)
	return nil, errors.New("connection reset")
}

func TestPool_RetriesAfterSweepError(t *testing.T) {
	logger := slog.Default()
	fs := &failingStore{Store: memory.New()}
	ctrl := admission.New(fs)

	pool := worker.NewPool(fs, ctrl, hook.NewRegistry(logger), logger,
		worker.WithCapacity(1),
		worker.WithPollInterval(10*time.Millisecond),
		worker.WithBackoff(backoff.NewConstant(10*time.Millisecond)),
	)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	waitFor(t, "repeated sweeps", func() bool { return fs.sweeps.Load() >= 3 })
	stopPool(t, pool)
}

func TestPool_GracefulShutdown(t *testing.T) {
	pool, _, _ := setupTestPool(t, 4, 50*time.Millisecond)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	// Allow the sweep loop to start polling.
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("graceful shutdown failed: %v", err)
	}
}
