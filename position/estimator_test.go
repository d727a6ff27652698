package position_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/scribely/tierq"
	"github.com/scribely/tierq/id"
	"github.com/scribely/tierq/job"
	"github.com/scribely/tierq/position"
	"github.com/scribely/tierq/store/memory"
	"github.com/scribely/tierq/tier"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

const slot = 3 * time.Minute

func seedJob(t *testing.T, s job.Store, owner string, tr tier.Tier, at time.Time) *job.Job {
	t.Helper()
	j := job.New(owner, tr, "s3://scribely/audio/a.wav", at)
	if err := s.CreateJob(context.Background(), j); err != nil {
		t.Fatalf("seed job: %v", err)
	}
	return j
}

func TestLocate_AfterAdmission(t *testing.T) {
	t.Parallel()

	s := memory.New()
	a := seedJob(t, s, "u_a", tier.Free, base)
	seedJob(t, s, "u_b", tier.Basic, base.Add(time.Second))
	seedJob(t, s, "u_c", tier.Pro, base.Add(2*time.Second))
	d := seedJob(t, s, "u_d", tier.Free, base.Add(3*time.Second))

	// Admit under capacity 2: the pro and basic jobs go first.
	if _, err := s.AdmitJobs(context.Background(), 2, 2, base.Add(time.Minute)); err != nil {
		t.Fatalf("AdmitJobs: %v", err)
	}

	est := position.New(s)

	pa, err := est.Locate(context.Background(), a.ID, 2, slot)
	if err != nil {
		t.Fatalf("Locate(a): %v", err)
	}
	if pa.Position != 0 {
		t.Errorf("a position = %d, want 0", pa.Position)
	}
	if pa.EstimatedWait != 0 {
		t.Errorf("a wait = %s, want 0", pa.EstimatedWait)
	}
	if pa.Running != 2 {
		t.Errorf("a running = %d, want 2", pa.Running)
	}
	if pa.Tier != tier.Free {
		t.Errorf("a tier = %s, want free", pa.Tier)
	}

	pd, err := est.Locate(context.Background(), d.ID, 2, slot)
	if err != nil {
		t.Fatalf("Locate(d): %v", err)
	}
	if pd.Position != 1 {
		t.Errorf("d position = %d, want 1", pd.Position)
	}
	if pd.EstimatedWait != slot {
		t.Errorf("d wait = %s, want %s", pd.EstimatedWait, slot)
	}
}

func TestLocate_WaitScalesWithCapacity(t *testing.T) {
	t.Parallel()

	s := memory.New()
	for i := range 5 {
		seedJob(t, s, "u_pro", tier.Pro, base.Add(time.Duration(i)*time.Second))
	}
	target := seedJob(t, s, "u_free", tier.Free, base.Add(10*time.Second))

	est := position.New(s)

	tests := []struct {
		name     string
		capacity int
		want     time.Duration
	}{
		{"serial", 1, 5 * slot},
		{"pairs", 2, 3 * slot},
		{"exact", 5, slot},
		{"oversized", 8, slot},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p, err := est.Locate(context.Background(), target.ID, tt.capacity, slot)
			if err != nil {
				t.Fatalf("Locate: %v", err)
			}
			if p.Position != 5 {
				t.Errorf("position = %d, want 5", p.Position)
			}
			if p.EstimatedWait != tt.want {
				t.Errorf("wait = %s, want %s", p.EstimatedWait, tt.want)
			}
			if p.Indefinite {
				t.Error("wait should not be indefinite")
			}
		})
	}
}

func TestLocate_PausedQueueIndefinite(t *testing.T) {
	t.Parallel()

	s := memory.New()
	seedJob(t, s, "u_x", tier.Premium, base)
	target := seedJob(t, s, "u_y", tier.Free, base.Add(time.Second))

	est := position.New(s)
	p, err := est.Locate(context.Background(), target.ID, 0, slot)
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}

	if !p.Indefinite {
		t.Error("paused queue should report an indefinite wait")
	}
	if p.EstimatedWait != 0 {
		t.Errorf("indefinite wait estimate = %s, want 0", p.EstimatedWait)
	}
	if p.Position != 1 {
		t.Errorf("position = %d, want 1", p.Position)
	}
}

func TestLocate_NotFound(t *testing.T) {
	t.Parallel()

	est := position.New(memory.New())
	if _, err := est.Locate(context.Background(), id.NewJobID(), 2, slot); !errors.Is(err, tierq.ErrJobNotFound) {
		t.Fatalf("err = %v, want ErrJobNotFound", err)
	}
}

func TestLocate_RunningAndTerminalNotQueued(t *testing.T) {
	t.Parallel()

	s := memory.New()
	running := seedJob(t, s, "u_r", tier.Pro, base)
	done := seedJob(t, s, "u_t", tier.Pro, base.Add(time.Second))
	cancelled := seedJob(t, s, "u_c", tier.Free, base.Add(2*time.Second))

	ctx := context.Background()
	if _, err := s.AdmitJobs(ctx, 2, 2, base.Add(time.Minute)); err != nil {
		t.Fatalf("AdmitJobs: %v", err)
	}
	if _, err := s.FinishJob(ctx, done.ID, job.StatusCompleted, "", base.Add(2*time.Minute)); err != nil {
		t.Fatalf("FinishJob: %v", err)
	}
	if _, err := s.CancelJob(ctx, cancelled.ID, base.Add(2*time.Minute)); err != nil {
		t.Fatalf("CancelJob: %v", err)
	}

	est := position.New(s)
	for _, j := range []*job.Job{running, done, cancelled} {
		if _, err := est.Locate(ctx, j.ID, 2, slot); !errors.Is(err, tierq.ErrNotQueued) {
			t.Errorf("Locate(%s) err = %v, want ErrNotQueued", j.ID, err)
		}
	}
}
