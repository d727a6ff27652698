package job

import (
	"time"

	"github.com/scribely/tierq"
	"github.com/scribely/tierq/id"
	"github.com/scribely/tierq/tier"
)

// Status is the fine-grained lifecycle label reported to users. The
// queue's own bookkeeping depends only on the coarser Phase derived
// from (PickedAt, Done); cancellation keeps both layers in sync.
type Status string

const (
	// StatusQueued means the job is waiting for admission.
	StatusQueued Status = "queued"
	// StatusProcessing means the job was admitted and a worker owns it.
	StatusProcessing Status = "processing"
	// StatusDownloading means the worker is fetching the source media.
	StatusDownloading Status = "downloading"
	// StatusTranscribing means speech-to-text is in progress.
	StatusTranscribing Status = "transcribing"
	// StatusRefining means the raw transcript is being cleaned up.
	StatusRefining Status = "refining"
	// StatusCancelled means the job was cancelled by its owner or an operator.
	StatusCancelled Status = "cancelled"
	// StatusCompleted means the transcript was produced successfully.
	StatusCompleted Status = "completed"
	// StatusFailed means the job failed terminally.
	StatusFailed Status = "failed"
)

// Phase is the coarse scheduling state derived from (PickedAt, Done).
type Phase string

const (
	// PhaseWaiting means not yet picked and not done.
	PhaseWaiting Phase = "waiting"
	// PhaseRunning means picked and not done.
	PhaseRunning Phase = "running"
	// PhaseTerminal means done. Terminal records are immutable.
	PhaseTerminal Phase = "terminal"
)

// phaseTransitions enumerates the legal phase moves. Terminal reaches
// nothing: once done, always done.
var phaseTransitions = map[Phase][]Phase{
	PhaseWaiting:  {PhaseRunning, PhaseTerminal},
	PhaseRunning:  {PhaseTerminal},
	PhaseTerminal: {},
}

// CanTransition reports whether moving from one phase to another is
// legal. Every mutation is validated against this table instead of ad
// hoc null checks.
func CanTransition(from, to Phase) bool {
	for _, p := range phaseTransitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

// statusPhases maps each status label to the phase it belongs to.
var statusPhases = map[Status]Phase{
	StatusQueued:       PhaseWaiting,
	StatusProcessing:   PhaseRunning,
	StatusDownloading:  PhaseRunning,
	StatusTranscribing: PhaseRunning,
	StatusRefining:     PhaseRunning,
	StatusCancelled:    PhaseTerminal,
	StatusCompleted:    PhaseTerminal,
	StatusFailed:       PhaseTerminal,
}

// StatusPhase returns the phase a status label belongs to. ok is false
// for labels the queue does not know.
func StatusPhase(s Status) (Phase, bool) {
	p, ok := statusPhases[s]
	return p, ok
}

// cancelableStatuses is the set of labels a job may be cancelled from.
// Completed and failed are absent: a delivered or failed outcome is
// never resurrected. Cancelled itself is absent because cancelling an
// already-cancelled job is an idempotent no-op, not a transition.
var cancelableStatuses = map[Status]bool{
	StatusQueued:       true,
	StatusProcessing:   true,
	StatusDownloading:  true,
	StatusTranscribing: true,
	StatusRefining:     true,
}

// Cancelable reports whether a job with this status may be cancelled.
func (s Status) Cancelable() bool {
	return cancelableStatuses[s]
}

// Progress reports whether s is a running-phase label a worker may
// report while the job executes.
func (s Status) Progress() bool {
	return statusPhases[s] == PhaseRunning
}

// Terminal reports whether s is a terminal label.
func (s Status) Terminal() bool {
	return statusPhases[s] == PhaseTerminal
}

// Job is one submitted transcription request tracked by the queue.
type Job struct {
	tierq.Entity

	ID            id.JobID   `json:"id"`
	OwnerID       string     `json:"owner_id"`
	Tier          tier.Tier  `json:"tier"`
	Source        string     `json:"source"`
	Title         string     `json:"title,omitempty"`
	Language      string     `json:"language,omitempty"`
	Status        Status     `json:"status"`
	PickedAt      *time.Time `json:"picked_at,omitempty"`
	Done          bool       `json:"done"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
}

// New creates a queued job owned by owner, stamped at now. CreatedAt is
// the FIFO tie-break key, so callers should submit through one clock.
func New(owner string, t tier.Tier, source string, now time.Time, opts ...Option) *Job {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Job{
		Entity:   tierq.NewEntityAt(now),
		ID:       id.NewJobID(),
		OwnerID:  owner,
		Tier:     t,
		Source:   source,
		Title:    o.Title,
		Language: o.Language,
		Status:   StatusQueued,
	}
}

// Phase derives the coarse scheduling state from (PickedAt, Done).
func (j *Job) Phase() Phase {
	switch {
	case j.Done:
		return PhaseTerminal
	case j.PickedAt != nil:
		return PhaseRunning
	default:
		return PhaseWaiting
	}
}

// Rank returns the job's priority key for the tier comparator.
func (j *Job) Rank() tier.Rank {
	return tier.Rank{Tier: j.Tier, CreatedAt: j.CreatedAt, JobID: j.ID}
}

// Terminal reports whether the job reached a terminal outcome.
func (j *Job) Terminal() bool {
	return j.Done
}

// Clone returns a deep copy. Stores hand out clones so callers cannot
// mutate shared records.
func (j *Job) Clone() *Job {
	cp := *j
	if j.PickedAt != nil {
		t := *j.PickedAt
		cp.PickedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
