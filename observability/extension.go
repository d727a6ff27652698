package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/scribely/tierq/admission"
	"github.com/scribely/tierq/hook"
	"github.com/scribely/tierq/job"
)

// meterName is the instrumentation scope name for tierq metrics.
const meterName = "github.com/scribely/tierq"

// Compile-time interface checks.
var (
	_ hook.Hook          = (*Metrics)(nil)
	_ hook.JobSubmitted  = (*Metrics)(nil)
	_ hook.JobAdmitted   = (*Metrics)(nil)
	_ hook.JobFinished   = (*Metrics)(nil)
	_ hook.JobCancelled  = (*Metrics)(nil)
	_ admission.Observer = (*Metrics)(nil)
)

// Metrics records queue lifecycle metrics. Register it as a hook to
// track submission, admission, cancellation and finish rates per tier,
// and pass it to the admission controller via
// [admission.WithObserver] to feed the sweep duration histogram.
//
// Instruments:
//   - tierq.job.submitted (Int64Counter): submissions, by tier
//   - tierq.job.admitted (Int64Counter): admissions, by tier
//   - tierq.job.finished (Int64Counter): terminal outcomes, by tier and status
//   - tierq.job.cancelled (Int64Counter): cancellations, by tier
//   - tierq.job.wait_time (Float64Histogram): submission-to-admission
//     wait in seconds, by tier
//   - tierq.admission.duration (Float64Histogram): one admission sweep
//     in seconds
//   - tierq.admission.batch_size (Int64Histogram): jobs admitted per sweep
type Metrics struct {
	submitted  metric.Int64Counter
	admitted   metric.Int64Counter
	finished   metric.Int64Counter
	cancelled  metric.Int64Counter
	waitTime   metric.Float64Histogram
	sweepTime  metric.Float64Histogram
	sweepBatch metric.Int64Histogram
}

// New creates a Metrics hook using the global OTel MeterProvider. If no
// MeterProvider is configured, noop instruments are used and the hook
// becomes a pass-through.
func New() *Metrics {
	return NewWithMeter(otel.Meter(meterName))
}

// NewWithMeter creates a Metrics hook with the provided meter. This
// variant allows injecting a specific MeterProvider for testing.
func NewWithMeter(meter metric.Meter) *Metrics {
	// Create instruments once at construction time. OTel instruments
	// are safe for concurrent use. On error, the API returns noop
	// instruments so the hook degrades gracefully.
	m := &Metrics{}
	var err error

	m.submitted, err = meter.Int64Counter(
		"tierq.job.submitted",
		metric.WithDescription("Total jobs submitted to the queue"),
		metric.WithUnit("{job}"),
	)
	_ = err // noop fallback guaranteed by OTel API contract

	m.admitted, err = meter.Int64Counter(
		"tierq.job.admitted",
		metric.WithDescription("Total jobs admitted for processing"),
		metric.WithUnit("{job}"),
	)
	_ = err

	m.finished, err = meter.Int64Counter(
		"tierq.job.finished",
		metric.WithDescription("Total jobs reaching a terminal outcome"),
		metric.WithUnit("{job}"),
	)
	_ = err

	m.cancelled, err = meter.Int64Counter(
		"tierq.job.cancelled",
		metric.WithDescription("Total jobs cancelled"),
		metric.WithUnit("{job}"),
	)
	_ = err

	m.waitTime, err = meter.Float64Histogram(
		"tierq.job.wait_time",
		metric.WithDescription("Time from submission to admission in seconds"),
		metric.WithUnit("s"),
	)
	_ = err

	m.sweepTime, err = meter.Float64Histogram(
		"tierq.admission.duration",
		metric.WithDescription("Duration of one admission sweep in seconds"),
		metric.WithUnit("s"),
	)
	_ = err

	m.sweepBatch, err = meter.Int64Histogram(
		"tierq.admission.batch_size",
		metric.WithDescription("Jobs admitted per admission sweep"),
		metric.WithUnit("{job}"),
	)
	_ = err

	return m
}

// Name implements hook.Hook.
func (m *Metrics) Name() string { return "observability-metrics" }

// ── Job lifecycle hooks ─────────────────────────────

// OnJobSubmitted implements hook.JobSubmitted.
func (m *Metrics) OnJobSubmitted(ctx context.Context, j *job.Job) error {
	m.submitted.Add(ctx, 1, tierAttr(j))
	return nil
}

// OnJobAdmitted implements hook.JobAdmitted. Wait time is derived from
// the admission stamp; a job without one contributes no histogram point.
func (m *Metrics) OnJobAdmitted(ctx context.Context, j *job.Job) error {
	m.admitted.Add(ctx, 1, tierAttr(j))
	if j.PickedAt != nil {
		m.waitTime.Record(ctx, j.PickedAt.Sub(j.CreatedAt).Seconds(), tierAttr(j))
	}
	return nil
}

// OnJobFinished implements hook.JobFinished.
func (m *Metrics) OnJobFinished(ctx context.Context, j *job.Job, _ time.Duration) error {
	m.finished.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tier", string(j.Tier)),
		attribute.String("status", string(j.Status)),
	))
	return nil
}

// OnJobCancelled implements hook.JobCancelled.
func (m *Metrics) OnJobCancelled(ctx context.Context, j *job.Job) error {
	m.cancelled.Add(ctx, 1, tierAttr(j))
	return nil
}

// ── Admission observer ──────────────────────────────

// ObserveAdmission implements admission.Observer.
func (m *Metrics) ObserveAdmission(ctx context.Context, elapsed time.Duration, admitted int) {
	m.sweepTime.Record(ctx, elapsed.Seconds())
	m.sweepBatch.Record(ctx, int64(admitted))
}

// tierAttr builds the per-tier attribute set.
func tierAttr(j *job.Job) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("tier", string(j.Tier)))
}
