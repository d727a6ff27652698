package tierq

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewDefaults(t *testing.T) {
	t.Parallel()

	q, err := New()
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	cfg := q.Config()
	if cfg.Capacity != 4 {
		t.Errorf("default capacity = %d, want 4", cfg.Capacity)
	}
	if cfg.SlotDuration != 3*time.Minute {
		t.Errorf("default slot duration = %s, want 3m", cfg.SlotDuration)
	}
	if q.Clock() == nil {
		t.Error("default clock is nil")
	}
}

func TestOptionValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opt  Option
	}{
		{"zero slot duration", WithSlotDuration(0)},
		{"negative slot duration", WithSlotDuration(-time.Second)},
		{"negative admit batch", WithAdmitBatch(-1)},
		{"zero poll interval", WithPollInterval(0)},
		{"zero shutdown timeout", WithShutdownTimeout(0)},
		{"nil clock", WithClock(nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if _, err := New(tt.opt); !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("New() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestWithCapacityAllowsPause(t *testing.T) {
	t.Parallel()

	// Non-positive capacity pauses admission rather than failing
	// construction.
	for _, n := range []int{0, -3} {
		q, err := New(WithCapacity(n))
		if err != nil {
			t.Fatalf("New(WithCapacity(%d)) error: %v", n, err)
		}
		if got := q.Config().Capacity; got != n {
			t.Errorf("capacity = %d, want %d", got, n)
		}
	}
}

func TestStartWithoutStore(t *testing.T) {
	t.Parallel()

	q, err := New()
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := q.Start(context.Background()); !errors.Is(err, ErrNoStore) {
		t.Fatalf("Start() error = %v, want ErrNoStore", err)
	}
}
