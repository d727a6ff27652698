package hook

import (
	"context"
	"log/slog"
	"time"

	"github.com/scribely/tierq/job"
)

// entry types pair a registered hook with its name so log lines can
// identify the failing hook without re-asserting interfaces.

type jobSubmittedEntry struct {
	name string
	hook JobSubmitted
}

type jobAdmittedEntry struct {
	name string
	hook JobAdmitted
}

type jobStatusChangedEntry struct {
	name string
	hook JobStatusChanged
}

type jobFinishedEntry struct {
	name string
	hook JobFinished
}

type jobCancelledEntry struct {
	name string
	hook JobCancelled
}

type queuePausedEntry struct {
	name string
	hook QueuePaused
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered hooks and dispatches lifecycle events to
// those that implement the corresponding event interfaces. Interface
// discovery happens once at Register time, not on every emit.
//
// Registry is not safe for concurrent registration; register all hooks
// before the queue starts. Emitting is read-only and safe to call from
// any goroutine.
type Registry struct {
	logger *slog.Logger

	all []Hook

	submitted     []jobSubmittedEntry
	admitted      []jobAdmittedEntry
	statusChanged []jobStatusChangedEntry
	finished      []jobFinishedEntry
	cancelled     []jobCancelledEntry
	paused        []queuePausedEntry
	shutdown      []shutdownEntry
}

// NewRegistry returns an empty registry that logs hook failures to
// logger. A nil logger falls back to slog.Default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds a hook to the registry, discovering which event
// interfaces it implements.
func (r *Registry) Register(h Hook) {
	r.all = append(r.all, h)

	name := h.Name()
	if v, ok := h.(JobSubmitted); ok {
		r.submitted = append(r.submitted, jobSubmittedEntry{name: name, hook: v})
	}
	if v, ok := h.(JobAdmitted); ok {
		r.admitted = append(r.admitted, jobAdmittedEntry{name: name, hook: v})
	}
	if v, ok := h.(JobStatusChanged); ok {
		r.statusChanged = append(r.statusChanged, jobStatusChangedEntry{name: name, hook: v})
	}
	if v, ok := h.(JobFinished); ok {
		r.finished = append(r.finished, jobFinishedEntry{name: name, hook: v})
	}
	if v, ok := h.(JobCancelled); ok {
		r.cancelled = append(r.cancelled, jobCancelledEntry{name: name, hook: v})
	}
	if v, ok := h.(QueuePaused); ok {
		r.paused = append(r.paused, queuePausedEntry{name: name, hook: v})
	}
	if v, ok := h.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name: name, hook: v})
	}
}

// Hooks returns all registered hooks in registration order.
func (r *Registry) Hooks() []Hook { return r.all }

// ──────────────────────────────────────────────────
// Emitters
// ──────────────────────────────────────────────────

// EmitJobSubmitted notifies all JobSubmitted hooks.
func (r *Registry) EmitJobSubmitted(ctx context.Context, j *job.Job) {
	for _, e := range r.submitted {
		if err := e.hook.OnJobSubmitted(ctx, j); err != nil {
			r.logHookError("OnJobSubmitted", e.name, err)
		}
	}
}

// EmitJobAdmitted notifies all JobAdmitted hooks.
func (r *Registry) EmitJobAdmitted(ctx context.Context, j *job.Job) {
	for _, e := range r.admitted {
		if err := e.hook.OnJobAdmitted(ctx, j); err != nil {
			r.logHookError("OnJobAdmitted", e.name, err)
		}
	}
}

// EmitJobStatusChanged notifies all JobStatusChanged hooks.
func (r *Registry) EmitJobStatusChanged(ctx context.Context, j *job.Job, from, to job.Status) {
	for _, e := range r.statusChanged {
		if err := e.hook.OnJobStatusChanged(ctx, j, from, to); err != nil {
			r.logHookError("OnJobStatusChanged", e.name, err)
		}
	}
}

// EmitJobFinished notifies all JobFinished hooks.
func (r *Registry) EmitJobFinished(ctx context.Context, j *job.Job, elapsed time.Duration) {
	for _, e := range r.finished {
		if err := e.hook.OnJobFinished(ctx, j, elapsed); err != nil {
			r.logHookError("OnJobFinished", e.name, err)
		}
	}
}

// EmitJobCancelled notifies all JobCancelled hooks.
func (r *Registry) EmitJobCancelled(ctx context.Context, j *job.Job) {
	for _, e := range r.cancelled {
		if err := e.hook.OnJobCancelled(ctx, j); err != nil {
			r.logHookError("OnJobCancelled", e.name, err)
		}
	}
}

// EmitQueuePaused notifies all QueuePaused hooks.
func (r *Registry) EmitQueuePaused(ctx context.Context, capacity int) {
	for _, e := range r.paused {
		if err := e.hook.OnQueuePaused(ctx, capacity); err != nil {
			r.logHookError("OnQueuePaused", e.name, err)
		}
	}
}

// EmitShutdown notifies all Shutdown hooks.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError records a hook failure. Hook errors never propagate to
// the operation that emitted the event.
func (r *Registry) logHookError(event, hookName string, err error) {
	r.logger.Warn("lifecycle hook failed",
		slog.String("event", event),
		slog.String("hook", hookName),
		slog.String("error", err.Error()),
	)
}
