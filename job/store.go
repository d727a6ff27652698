package job

import (
	"context"
	"time"

	"github.com/scribely/tierq/id"
	"github.com/scribely/tierq/tier"
)

// ListOpts controls pagination and filtering for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
	// Owner filters by owner. Empty means all owners.
	Owner string
	// Status filters by status label. Empty means all statuses.
	Status Status
	// Phase filters by derived phase. Empty means all phases.
	Phase Phase
}

// Store defines the persistence contract for jobs. Implementations
// must make AdmitJobs atomic: two concurrent calls never admit the
// same job, and the running count never exceeds capacity.
//
// Conditional mutations (CancelJob, FinishJob, SetJobStatus) check the
// stored (PickedAt, Done) pair in the same round trip as the write and
// report why they refused: tierq.ErrJobNotFound when the job does not
// exist, tierq.ErrJobDone when it already reached a terminal outcome,
// tierq.ErrInvalidTransition when the job is in the wrong phase for
// the requested change. Callers own the policy on top, for example
// treating ErrJobDone on cancel as idempotent success when the stored
// status is already cancelled.
type Store interface {
	// CreateJob persists a new waiting job.
	CreateJob(ctx context.Context, j *Job) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// AdmitJobs atomically selects the best waiting jobs and marks them
	// running at now. It admits at most capacity-running jobs, further
	// bounded by limit when limit > 0. Selection order is tier weight
	// descending, then CreatedAt ascending, then ID ascending. Returns
	// the admitted jobs in that order; empty when capacity is full or
	// capacity <= 0 (paused).
	AdmitJobs(ctx context.Context, capacity, limit int, now time.Time) ([]*Job, error)

	// CancelJob marks a not-yet-done job cancelled at now and returns
	// the updated record. Works in both waiting and running phases.
	CancelJob(ctx context.Context, jobID id.JobID, now time.Time) (*Job, error)

	// FinishJob records a terminal outcome (completed or failed) for a
	// running job at now. reason is stored for failed outcomes.
	FinishJob(ctx context.Context, jobID id.JobID, status Status, reason string, now time.Time) (*Job, error)

	// SetJobStatus updates the progress label of a running job.
	SetJobStatus(ctx context.Context, jobID id.JobID, status Status, now time.Time) (*Job, error)

	// CountRunning returns the number of running jobs.
	CountRunning(ctx context.Context) (int, error)

	// CountWaiting returns the number of waiting jobs.
	CountWaiting(ctx context.Context) (int, error)

	// CountWaitingByTier returns waiting counts keyed by stored tier.
	CountWaitingByTier(ctx context.Context) (map[tier.Tier]int, error)

	// WaitingPosition counts the waiting jobs that strictly outrank the
	// given rank. A waiting job's position is the number of waiting
	// jobs admitted before it.
	WaitingPosition(ctx context.Context, rank tier.Rank) (int, error)

	// ListJobs returns jobs matching opts, ordered by CreatedAt then ID.
	ListJobs(ctx context.Context, opts ListOpts) ([]*Job, error)

	// DeleteJob removes a job record.
	DeleteJob(ctx context.Context, jobID id.JobID) error
}
