package badgerstore_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/scribely/tierq"
	"github.com/scribely/tierq/id"
	"github.com/scribely/tierq/job"
	badgerstore "github.com/scribely/tierq/store/badger"
	"github.com/scribely/tierq/tier"
)

func setupTestStore(t *testing.T) *badgerstore.Store {
	t.Helper()

	store, err := badgerstore.NewInMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func seedJob(t *testing.T, s *badgerstore.Store, owner string, tr tier.Tier, createdAt time.Time) *job.Job {
	t.Helper()
	j := job.New(owner, tr, "https://cdn.example.com/audio.mp3", createdAt)
	if err := s.CreateJob(context.Background(), j); err != nil {
		t.Fatalf("seed job: %v", err)
	}
	return j
}

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// ──────────────────────────────────────────────────
// Lifecycle tests
// ──────────────────────────────────────────────────

func TestStore_Ping(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
}

func TestStore_Persistence(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tierq-badger")
	s, err := badgerstore.New(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	j := job.New("user", tier.Pro, "https://cdn.example.com/audio.mp3", base)
	if err := s.CreateJob(context.Background(), j); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := badgerstore.New(path)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	t.Cleanup(func() {
		_ = reopened.Close()
	})

	got, err := reopened.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if got.OwnerID != "user" || got.Tier != tier.Pro {
		t.Fatalf("job did not survive reopen: %+v", got)
	}
	waiting, err := reopened.CountWaiting(context.Background())
	if err != nil {
		t.Fatalf("count waiting: %v", err)
	}
	if waiting != 1 {
		t.Fatalf("expected 1 waiting after reopen, got %d", waiting)
	}
}

// ──────────────────────────────────────────────────
// Job Store tests
// ──────────────────────────────────────────────────

func TestJobStore_CreateAndGet(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	ctx := context.Background()

	j := job.New("user-1", tier.Pro, "https://cdn.example.com/ep1.mp3", base,
		job.WithTitle("Episode 1"),
		job.WithLanguage("en"),
	)
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Duplicate should fail.
	if dupErr := s.CreateJob(ctx, j); !errors.Is(dupErr, tierq.ErrJobExists) {
		t.Fatalf("expected ErrJobExists, got: %v", dupErr)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.OwnerID != "user-1" || got.Tier != tier.Pro || got.Title != "Episode 1" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.Status != job.StatusQueued || got.Phase() != job.PhaseWaiting {
		t.Fatalf("expected waiting queued job, got %s/%s", got.Status, got.Phase())
	}

	_, err = s.GetJob(ctx, id.NewJobID())
	if !errors.Is(err, tierq.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got: %v", err)
	}
}

func TestJobStore_TimePrecision(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	ctx := context.Background()

	created := base.Add(123456789 * time.Nanosecond)
	j := seedJob(t, s, "user", tier.Basic, created)

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.CreatedAt.Equal(created) {
		t.Fatalf("created_at lost precision: want %v, got %v", created, got.CreatedAt)
	}
}

func TestJobStore_AdmitPriorityOrder(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	ctx := context.Background()

	a := seedJob(t, s, "alice", tier.Free, base)
	b := seedJob(t, s, "bob", tier.Basic, base.Add(1*time.Second))
	c := seedJob(t, s, "carol", tier.Pro, base.Add(2*time.Second))
	d := seedJob(t, s, "dave", tier.Free, base.Add(3*time.Second))

	admitted, err := s.AdmitJobs(ctx, 2, 0, base.Add(time.Minute))
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if len(admitted) != 2 {
		t.Fatalf("expected 2 admitted, got %d", len(admitted))
	}
	if admitted[0].ID != c.ID || admitted[1].ID != b.ID {
		t.Fatalf("expected pro then basic, got %s then %s", admitted[0].Tier, admitted[1].Tier)
	}

	posA, err := s.WaitingPosition(ctx, a.Rank())
	if err != nil {
		t.Fatalf("position a: %v", err)
	}
	if posA != 0 {
		t.Fatalf("expected position 0 for earliest free job, got %d", posA)
	}
	posD, err := s.WaitingPosition(ctx, d.Rank())
	if err != nil {
		t.Fatalf("position d: %v", err)
	}
	if posD != 1 {
		t.Fatalf("expected position 1 for later free job, got %d", posD)
	}
}

func TestJobStore_AdmitCapacityAccounting(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		seedJob(t, s, "user", tier.Basic, base.Add(time.Duration(i)*time.Second))
	}

	first, err := s.AdmitJobs(ctx, 2, 0, base.Add(time.Minute))
	if err != nil {
		t.Fatalf("first admit: %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("expected 2 admitted, got %d", len(first))
	}

	// Capacity is full, second admit returns nothing.
	second, err := s.AdmitJobs(ctx, 2, 0, base.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("second admit: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("expected 0 admitted at full capacity, got %d", len(second))
	}

	// Finishing one job frees one slot.
	if _, err := s.FinishJob(ctx, first[0].ID, job.StatusCompleted, "", base.Add(3*time.Minute)); err != nil {
		t.Fatalf("finish: %v", err)
	}
	third, err := s.AdmitJobs(ctx, 2, 0, base.Add(4*time.Minute))
	if err != nil {
		t.Fatalf("third admit: %v", err)
	}
	if len(third) != 1 {
		t.Fatalf("expected 1 admitted after a slot freed, got %d", len(third))
	}

	running, err := s.CountRunning(ctx)
	if err != nil {
		t.Fatalf("count running: %v", err)
	}
	if running != 2 {
		t.Fatalf("expected 2 running, got %d", running)
	}
}

func TestJobStore_AdmitPausedAndLimit(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		seedJob(t, s, "user", tier.Premium, base.Add(time.Duration(i)*time.Second))
	}

	// Paused capacity admits nothing.
	admitted, err := s.AdmitJobs(ctx, 0, 0, base.Add(time.Minute))
	if err != nil {
		t.Fatalf("admit paused: %v", err)
	}
	if len(admitted) != 0 {
		t.Fatalf("expected 0 admitted when paused, got %d", len(admitted))
	}

	// Batch limit bounds the claim below free capacity.
	admitted, err = s.AdmitJobs(ctx, 3, 2, base.Add(time.Minute))
	if err != nil {
		t.Fatalf("admit limited: %v", err)
	}
	if len(admitted) != 2 {
		t.Fatalf("expected 2 admitted with limit 2, got %d", len(admitted))
	}
}

func TestJobStore_AdmitConcurrent(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		seedJob(t, s, "user", tier.Free, base.Add(time.Duration(i)*time.Second))
	}

	const capacity = 3
	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			admitted, err := s.AdmitJobs(ctx, capacity, 0, base.Add(time.Minute))
			if err != nil {
				t.Errorf("admit: %v", err)
				return
			}
			mu.Lock()
			for _, j := range admitted {
				seen[j.ID.String()]++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	total := 0
	for jid, n := range seen {
		if n > 1 {
			t.Errorf("job %s admitted %d times", jid, n)
		}
		total += n
	}
	if total != capacity {
		t.Errorf("expected exactly %d admissions across all callers, got %d", capacity, total)
	}
}

func TestJobStore_CancelLifecycle(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	ctx := context.Background()

	waiting := seedJob(t, s, "user", tier.Basic, base)

	got, err := s.CancelJob(ctx, waiting.ID, base.Add(time.Minute))
	if err != nil {
		t.Fatalf("cancel waiting: %v", err)
	}
	if got.Status != job.StatusCancelled || !got.Done || got.CompletedAt == nil {
		t.Fatalf("cancel did not finalize: %+v", got)
	}
	if got.PickedAt != nil {
		t.Fatalf("cancel of waiting job set picked_at: %v", got.PickedAt)
	}

	// The cancelled job left the waiting index.
	if n, _ := s.CountWaiting(ctx); n != 0 {
		t.Fatalf("cancelled job still counted waiting: %d", n)
	}

	// Cancelling again reports the terminal state.
	if _, err = s.CancelJob(ctx, waiting.ID, base.Add(2*time.Minute)); !errors.Is(err, tierq.ErrJobDone) {
		t.Fatalf("expected ErrJobDone on re-cancel, got: %v", err)
	}

	// A completed job refuses cancellation the same way.
	runJob := seedJob(t, s, "user", tier.Pro, base.Add(time.Second))
	if _, err = s.AdmitJobs(ctx, 1, 0, base.Add(3*time.Minute)); err != nil {
		t.Fatalf("admit: %v", err)
	}
	if _, err = s.FinishJob(ctx, runJob.ID, job.StatusCompleted, "", base.Add(4*time.Minute)); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if _, err = s.CancelJob(ctx, runJob.ID, base.Add(5*time.Minute)); !errors.Is(err, tierq.ErrJobDone) {
		t.Fatalf("expected ErrJobDone cancelling completed job, got: %v", err)
	}
}

func TestJobStore_FinishAndStatus(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	ctx := context.Background()

	j := seedJob(t, s, "user", tier.Premium, base)

	// Progress and finish require the running phase.
	if _, err := s.SetJobStatus(ctx, j.ID, job.StatusTranscribing, base.Add(time.Second)); !errors.Is(err, tierq.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on waiting job, got: %v", err)
	}
	if _, err := s.FinishJob(ctx, j.ID, job.StatusCompleted, "", base.Add(time.Second)); !errors.Is(err, tierq.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition finishing waiting job, got: %v", err)
	}

	if _, err := s.AdmitJobs(ctx, 1, 0, base.Add(time.Minute)); err != nil {
		t.Fatalf("admit: %v", err)
	}

	got, err := s.SetJobStatus(ctx, j.ID, job.StatusTranscribing, base.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("set status: %v", err)
	}
	if got.Status != job.StatusTranscribing {
		t.Fatalf("expected transcribing, got %s", got.Status)
	}

	got, err = s.FinishJob(ctx, j.ID, job.StatusFailed, "decode error", base.Add(3*time.Minute))
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if got.Status != job.StatusFailed || got.FailureReason != "decode error" {
		t.Fatalf("failed outcome not recorded: %+v", got)
	}
}

func TestJobStore_CountsAndList(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	ctx := context.Background()

	seedJob(t, s, "alice", tier.Pro, base)
	seedJob(t, s, "bob", tier.Basic, base.Add(time.Second))
	seedJob(t, s, "alice", tier.Free, base.Add(2*time.Second))

	if _, err := s.AdmitJobs(ctx, 1, 0, base.Add(time.Minute)); err != nil {
		t.Fatalf("admit: %v", err)
	}

	waiting, err := s.CountWaiting(ctx)
	if err != nil {
		t.Fatalf("count waiting: %v", err)
	}
	if waiting != 2 {
		t.Fatalf("expected 2 waiting, got %d", waiting)
	}

	byTier, err := s.CountWaitingByTier(ctx)
	if err != nil {
		t.Fatalf("count by tier: %v", err)
	}
	if byTier[tier.Basic] != 1 || byTier[tier.Free] != 1 {
		t.Fatalf("unexpected per-tier counts: %v", byTier)
	}

	mine, err := s.ListJobs(ctx, job.ListOpts{Owner: "alice"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(mine) != 2 {
		t.Fatalf("expected 2 jobs for alice, got %d", len(mine))
	}
	if !mine[0].CreatedAt.Before(mine[1].CreatedAt) {
		t.Fatalf("list not in arrival order: %v then %v", mine[0].CreatedAt, mine[1].CreatedAt)
	}

	runningList, err := s.ListJobs(ctx, job.ListOpts{Phase: job.PhaseRunning})
	if err != nil {
		t.Fatalf("list running: %v", err)
	}
	if len(runningList) != 1 || runningList[0].Tier != tier.Pro {
		t.Fatalf("expected the pro job running, got %v", runningList)
	}
}

func TestJobStore_Delete(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	ctx := context.Background()

	j := seedJob(t, s, "user", tier.Free, base)
	if err := s.DeleteJob(ctx, j.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.DeleteJob(ctx, j.ID); !errors.Is(err, tierq.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got: %v", err)
	}

	// Index entries went with the record.
	if n, _ := s.CountWaiting(ctx); n != 0 {
		t.Fatalf("deleted job still counted waiting: %d", n)
	}
}
