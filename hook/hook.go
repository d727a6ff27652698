package hook

import (
	"context"
	"time"

	"github.com/scribely/tierq/job"
)

// Hook is the base interface all hooks implement. Event delivery is
// opt-in: implement the event interfaces below for the events you want.
type Hook interface {
	// Name returns a unique identifier for the hook, used in logs.
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle events
// ──────────────────────────────────────────────────

// JobSubmitted is notified after a job is durably stored as queued.
type JobSubmitted interface {
	Hook
	OnJobSubmitted(ctx context.Context, j *job.Job) error
}

// JobAdmitted is notified after a job is picked to run. The job carries
// its picked_at timestamp, so wait time is j.PickedAt.Sub(j.CreatedAt).
type JobAdmitted interface {
	Hook
	OnJobAdmitted(ctx context.Context, j *job.Job) error
}

// JobStatusChanged is notified when a running job reports a progress
// label. It does not fire for the queued, cancelled, completed or
// failed transitions, which have their own events.
type JobStatusChanged interface {
	Hook
	OnJobStatusChanged(ctx context.Context, j *job.Job, from, to job.Status) error
}

// JobFinished is notified when a job reaches completed or failed.
// elapsed is the run time from admission to the terminal mark; it is
// zero when the job never ran.
type JobFinished interface {
	Hook
	OnJobFinished(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobCancelled is notified after a job is cancelled. It fires once per
// cancellation; repeated cancels of an already cancelled job do not
// re-emit.
type JobCancelled interface {
	Hook
	OnJobCancelled(ctx context.Context, j *job.Job) error
}

// ──────────────────────────────────────────────────
// Queue events
// ──────────────────────────────────────────────────

// QueuePaused is notified when an admission attempt finds the queue
// paused. capacity carries the configured value, zero or negative.
type QueuePaused interface {
	Hook
	OnQueuePaused(ctx context.Context, capacity int) error
}

// Shutdown is notified when the queue stops. Hooks should release any
// resources they hold; the context carries the shutdown deadline.
type Shutdown interface {
	Hook
	OnShutdown(ctx context.Context) error
}
