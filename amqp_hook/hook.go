package amqphook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

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

// Broker publishes a message body under a routing key. [*Publisher]
// implements it; tests substitute an in-memory fake.
type Broker interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
}

// Hook bridges queue lifecycle events to an AMQP broker. Each
// lifecycle hook publishes one JSON message with the event type as the
// routing key.
type Hook struct {
	broker   Broker
	enabled  map[string]bool        // nil = all enabled
	payloads map[string]PayloadFunc // custom payload builders
}

// New creates a Hook that publishes lifecycle events through the
// provided broker.
func New(b Broker, opts ...Option) *Hook {
	h := &Hook{broker: b}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Name implements hook.Hook.
func (h *Hook) Name() string { return "amqp-hook" }

// ── Job lifecycle hooks ─────────────────────────────

// OnJobSubmitted implements hook.JobSubmitted.
func (h *Hook) OnJobSubmitted(ctx context.Context, j *job.Job) error {
	return h.send(ctx, EventJobSubmitted, newJobPayload(j))
}

// OnJobAdmitted implements hook.JobAdmitted.
func (h *Hook) OnJobAdmitted(ctx context.Context, j *job.Job) error {
	p := &jobAdmittedPayload{jobPayload: *newJobPayload(j)}
	if j.PickedAt != nil {
		p.WaitedMs = j.PickedAt.Sub(j.CreatedAt).Milliseconds()
	}
	return h.send(ctx, EventJobAdmitted, p)
}

// OnJobStatusChanged implements hook.JobStatusChanged.
func (h *Hook) OnJobStatusChanged(ctx context.Context, j *job.Job, from, to job.Status) error {
	return h.send(ctx, EventJobStatusChanged, &jobStatusChangedPayload{
		jobPayload: *newJobPayload(j),
		From:       string(from),
		To:         string(to),
	})
}

// OnJobFinished implements hook.JobFinished. A failed outcome is
// published under [EventJobFailed], everything else under
// [EventJobCompleted].
func (h *Hook) OnJobFinished(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	if j.Status == job.StatusFailed {
		return h.send(ctx, EventJobFailed, &jobFailedPayload{
			jobPayload: *newJobPayload(j),
			Error:      j.FailureReason,
			ElapsedMs:  elapsed.Milliseconds(),
		})
	}
	return h.send(ctx, EventJobCompleted, &jobCompletedPayload{
		jobPayload: *newJobPayload(j),
		ElapsedMs:  elapsed.Milliseconds(),
	})
}

// OnJobCancelled implements hook.JobCancelled.
func (h *Hook) OnJobCancelled(ctx context.Context, j *job.Job) error {
	return h.send(ctx, EventJobCancelled, newJobPayload(j))
}

// ── Queue lifecycle hooks ───────────────────────────

// OnQueuePaused implements hook.QueuePaused.
func (h *Hook) OnQueuePaused(ctx context.Context, capacity int) error {
	return h.send(ctx, EventQueuePaused, &queuePausedPayload{Capacity: capacity})
}

// ── Internal helpers ────────────────────────────────

// send marshals and publishes a payload if the event type is enabled.
func (h *Hook) send(ctx context.Context, eventType string, defaultData any) error {
	if h.enabled != nil && !h.enabled[eventType] {
		return nil
	}

	data := defaultData
	if fn, ok := h.payloads[eventType]; ok {
		custom, err := fn(defaultData)
		if err != nil {
			return err
		}
		data = custom
	}

	body, err := json.Marshal(&envelope{
		Event:      eventType,
		OccurredAt: time.Now().UTC().Format(time.RFC3339Nano),
		Data:       data,
	})
	if err != nil {
		return fmt.Errorf("tierq/amqp: marshal %s: %w", eventType, err)
	}
	return h.broker.Publish(ctx, eventType, body)
}

// envelope is the top-level message shape consumers decode first.
type envelope struct {
	Event      string `json:"event"`
	OccurredAt string `json:"occurred_at"`
	Data       any    `json:"data"`
}

// ── Default payload types ───────────────────────────

type jobPayload struct {
	JobID   string `json:"job_id"`
	OwnerID string `json:"owner_id"`
	Tier    string `json:"tier"`
	Status  string `json:"status"`
	Source  string `json:"source"`
}

func newJobPayload(j *job.Job) *jobPayload {
	return &jobPayload{
		JobID:   j.ID.String(),
		OwnerID: j.OwnerID,
		Tier:    string(j.Tier),
		Status:  string(j.Status),
		Source:  j.Source,
	}
}

type jobAdmittedPayload struct {
	jobPayload
	WaitedMs int64 `json:"waited_ms"`
}

type jobStatusChangedPayload struct {
	jobPayload
	From string `json:"from"`
	To   string `json:"to"`
}

type jobCompletedPayload struct {
	jobPayload
	ElapsedMs int64 `json:"elapsed_ms"`
}

type jobFailedPayload struct {
	jobPayload
	Error     string `json:"error"`
	ElapsedMs int64  `json:"elapsed_ms"`
}

type queuePausedPayload struct {
	Capacity int `json:"capacity"`
}
