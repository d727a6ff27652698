package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/scribely/tierq/auth"
	"github.com/scribely/tierq/hook"
	"github.com/scribely/tierq/job"
)

// Compile-time interface checks.
var (
	_ hook.Hook             = (*Hook)(nil)
	_ hook.JobSubmitted     = (*Hook)(nil)
	_ hook.JobAdmitted      = (*Hook)(nil)
	_ hook.JobStatusChanged = (*Hook)(nil)
	_ hook.JobFinished      = (*Hook)(nil)
	_ hook.JobCancelled     = (*Hook)(nil)
	_ hook.QueuePaused      = (*Hook)(nil)
)

// Recorder is the interface audit backends implement. It is defined
// locally so this package carries no backend dependency; callers
// inject their concrete trail at wiring time.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one entry of the audit trail.
type AuditEvent struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Who did it. Empty for system-initiated events like admission.
	Actor    string `json:"actor,omitempty"`
	Operator bool   `json:"operator,omitempty"`

	// Details
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// LogRecorder returns a Recorder that writes events to logger at the
// level matching the event severity. It is the default backend.
func LogRecorder(logger *slog.Logger) Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return RecorderFunc(func(ctx context.Context, evt *AuditEvent) error {
		level := slog.LevelInfo
		switch evt.Severity {
		case SeverityWarning:
			level = slog.LevelWarn
		case SeverityCritical:
			level = slog.LevelError
		}
		logger.Log(ctx, level, "audit",
			slog.String("action", evt.Action),
			slog.String("resource_id", evt.ResourceID),
			slog.String("actor", evt.Actor),
			slog.String("outcome", evt.Outcome),
			slog.Any("metadata", evt.Metadata),
		)
		return nil
	})
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Hook bridges queue lifecycle events to an audit trail backend. Each
// lifecycle hook emits a structured audit event through the [Recorder].
type Hook struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates a Hook that emits audit events through the provided
// Recorder. A nil Recorder falls back to [LogRecorder] on the default
// logger.
func New(r Recorder, opts ...Option) *Hook {
	h := &Hook{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.recorder == nil {
		h.recorder = LogRecorder(h.logger)
	}
	return h
}

// Name implements hook.Hook.
func (h *Hook) Name() string { return "audit-hook" }

// ── Job lifecycle hooks ─────────────────────────────

// OnJobSubmitted implements hook.JobSubmitted.
func (h *Hook) OnJobSubmitted(ctx context.Context, j *job.Job) error {
	return h.record(ctx, ActionJobSubmitted, SeverityInfo, OutcomeSuccess,
		ResourceJob, j.ID.String(), CategoryJob, "",
		"owner_id", j.OwnerID,
		"tier", string(j.Tier),
		"source", j.Source,
	)
}

// OnJobAdmitted implements hook.JobAdmitted.
func (h *Hook) OnJobAdmitted(ctx context.Context, j *job.Job) error {
	kv := []any{
		"owner_id", j.OwnerID,
		"tier", string(j.Tier),
	}
	if j.PickedAt != nil {
		kv = append(kv, "waited_ms", j.PickedAt.Sub(j.CreatedAt).Milliseconds())
	}
	return h.record(ctx, ActionJobAdmitted, SeverityInfo, OutcomeSuccess,
		ResourceJob, j.ID.String(), CategoryJob, "", kv...)
}

// OnJobStatusChanged implements hook.JobStatusChanged.
func (h *Hook) OnJobStatusChanged(ctx context.Context, j *job.Job, from, to job.Status) error {
	return h.record(ctx, ActionJobStatusChanged, SeverityInfo, OutcomeSuccess,
		ResourceJob, j.ID.String(), CategoryJob, "",
		"from", string(from),
		"to", string(to),
	)
}

// OnJobFinished implements hook.JobFinished. Completed and failed jobs
// become distinct actions so failure trails can be filtered on.
func (h *Hook) OnJobFinished(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	if j.Status == job.StatusFailed {
		return h.record(ctx, ActionJobFailed, SeverityCritical, OutcomeFailure,
			ResourceJob, j.ID.String(), CategoryJob, j.FailureReason,
			"owner_id", j.OwnerID,
			"tier", string(j.Tier),
			"elapsed_ms", elapsed.Milliseconds(),
		)
	}
	return h.record(ctx, ActionJobCompleted, SeverityInfo, OutcomeSuccess,
		ResourceJob, j.ID.String(), CategoryJob, "",
		"owner_id", j.OwnerID,
		"tier", string(j.Tier),
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnJobCancelled implements hook.JobCancelled.
func (h *Hook) OnJobCancelled(ctx context.Context, j *job.Job) error {
	return h.record(ctx, ActionJobCancelled, SeverityInfo, OutcomeSuccess,
		ResourceJob, j.ID.String(), CategoryJob, "",
		"owner_id", j.OwnerID,
		"tier", string(j.Tier),
	)
}

// ── Queue hooks ─────────────────────────────────────

// OnQueuePaused implements hook.QueuePaused.
func (h *Hook) OnQueuePaused(ctx context.Context, capacity int) error {
	return h.record(ctx, ActionQueuePaused, SeverityWarning, OutcomeSuccess,
		ResourceQueue, "admission", CategoryQueue, "",
		"capacity", strconv.Itoa(capacity),
	)
}

// ── Internal helpers ────────────────────────────────

// record builds and sends an audit event if the action is enabled.
// The kvPairs argument is a list of key-value pairs added to Metadata.
func (h *Hook) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	reason string,
	kvPairs ...any,
) error {
	if h.enabled != nil && !h.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}
	if caller, ok := auth.IdentityFrom(ctx); ok {
		evt.Actor = caller.Subject
		evt.Operator = caller.Operator
	}

	if recErr := h.recorder.Record(ctx, evt); recErr != nil {
		h.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
