package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/scribely/tierq"
	"github.com/scribely/tierq/id"
	"github.com/scribely/tierq/job"
	"github.com/scribely/tierq/store"
	"github.com/scribely/tierq/tier"
)

// Ensure Store implements store.Store at compile time.
var _ store.Store = (*Store)(nil)

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing and development.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*job.Job
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs: make(map[string]*job.Job),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle: Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// CreateJob persists a new waiting job.
func (m *Store) CreateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return tierq.ErrJobExists
	}
	m.jobs[key] = j.Clone()
	return nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, tierq.ErrJobNotFound
	}
	return j.Clone(), nil
}

// AdmitJobs atomically claims the best waiting jobs up to capacity,
// marks them running at now, and returns them in admission order.
func (m *Store) AdmitJobs(_ context.Context, capacity, limit int, now time.Time) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if capacity <= 0 {
		return nil, nil
	}

	running := 0
	candidates := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		switch j.Phase() {
		case job.PhaseRunning:
			running++
		case job.PhaseWaiting:
			candidates = append(candidates, j)
		}
	}

	free := capacity - running
	if free <= 0 {
		return nil, nil
	}
	if limit > 0 && limit < free {
		free = limit
	}

	// Tier weight DESC, CreatedAt ASC, ID ASC.
	sort.Slice(candidates, func(i, k int) bool {
		return tier.Less(candidates[i].Rank(), candidates[k].Rank())
	})
	if len(candidates) > free {
		candidates = candidates[:free]
	}

	result := make([]*job.Job, len(candidates))
	for i, j := range candidates {
		picked := now
		j.PickedAt = &picked
		j.Status = job.StatusProcessing
		j.Touch(now)
		result[i] = j.Clone()
	}
	return result, nil
}

// CancelJob marks a not-yet-done job cancelled at now.
func (m *Store) CancelJob(_ context.Context, jobID id.JobID, now time.Time) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, tierq.ErrJobNotFound
	}
	if j.Done {
		return nil, tierq.ErrJobDone
	}

	completed := now
	j.Status = job.StatusCancelled
	j.Done = true
	j.CompletedAt = &completed
	j.Touch(now)
	return j.Clone(), nil
}

// FinishJob records a terminal outcome for a running job at now.
func (m *Store) FinishJob(_ context.Context, jobID id.JobID, status job.Status, reason string, now time.Time) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, tierq.ErrJobNotFound
	}
	if j.Done {
		return nil, tierq.ErrJobDone
	}
	if j.PickedAt == nil {
		return nil, tierq.ErrInvalidTransition
	}

	completed := now
	j.Status = status
	j.Done = true
	j.CompletedAt = &completed
	j.FailureReason = reason
	j.Touch(now)
	return j.Clone(), nil
}

// SetJobStatus updates the progress label of a running job.
func (m *Store) SetJobStatus(_ context.Context, jobID id.JobID, status job.Status, now time.Time) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, tierq.ErrJobNotFound
	}
	if j.Done {
		return nil, tierq.ErrJobDone
	}
	if j.PickedAt == nil {
		return nil, tierq.ErrInvalidTransition
	}

	j.Status = status
	j.Touch(now)
	return j.Clone(), nil
}

// CountRunning returns the number of running jobs.
func (m *Store) CountRunning(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, j := range m.jobs {
		if j.Phase() == job.PhaseRunning {
			count++
		}
	}
	return count, nil
}

// CountWaiting returns the number of waiting jobs.
func (m *Store) CountWaiting(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, j := range m.jobs {
		if j.Phase() == job.PhaseWaiting {
			count++
		}
	}
	return count, nil
}

// CountWaitingByTier returns waiting counts keyed by stored tier.
func (m *Store) CountWaitingByTier(_ context.Context) (map[tier.Tier]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[tier.Tier]int)
	for _, j := range m.jobs {
		if j.Phase() == job.PhaseWaiting {
			counts[j.Tier]++
		}
	}
	return counts, nil
}

// WaitingPosition counts the waiting jobs that strictly outrank rank.
func (m *Store) WaitingPosition(_ context.Context, rank tier.Rank) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ahead := 0
	for _, j := range m.jobs {
		if j.Phase() != job.PhaseWaiting {
			continue
		}
		if tier.Compare(j.Rank(), rank) < 0 {
			ahead++
		}
	}
	return ahead, nil
}

// ListJobs returns jobs matching opts, ordered by CreatedAt then ID.
func (m *Store) ListJobs(_ context.Context, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if opts.Owner != "" && j.OwnerID != opts.Owner {
			continue
		}
		if opts.Status != "" && j.Status != opts.Status {
			continue
		}
		if opts.Phase != "" && j.Phase() != opts.Phase {
			continue
		}
		result = append(result, j.Clone())
	}

	sort.Slice(result, func(i, k int) bool {
		if !result[i].CreatedAt.Equal(result[k].CreatedAt) {
			return result[i].CreatedAt.Before(result[k].CreatedAt)
		}
		return result[i].ID.String() < result[k].ID.String()
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// DeleteJob removes a job by ID.
func (m *Store) DeleteJob(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	if _, ok := m.jobs[key]; !ok {
		return tierq.ErrJobNotFound
	}
	delete(m.jobs, key)
	return nil
}
