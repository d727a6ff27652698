package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/scribely/tierq/job"
)

// meterName is the instrumentation scope name for tierq metrics.
const meterName = "github.com/scribely/tierq"

// Metrics returns middleware that measures each claim execution on the
// global OTel MeterProvider. Until a provider is registered the
// instruments are noops.
//
// Instruments:
//   - tierq.claim.duration (Float64Histogram): seconds spent in the
//     claim, with attributes tier and status ("ok" or "error")
//   - tierq.claim.executions (Int64Counter): claim executions, with
//     attributes tier and status ("ok" or "error")
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter returns metrics middleware recording on the given
// meter, for callers that run more than one MeterProvider.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// Instruments are created once and shared by every claim. A failed
	// registration yields noop instruments, never nil.
	duration, _ := meter.Float64Histogram(
		"tierq.claim.duration",
		metric.WithDescription("Time spent executing a claimed job, in seconds"),
		metric.WithUnit("s"),
	)
	executions, _ := meter.Int64Counter(
		"tierq.claim.executions",
		metric.WithDescription("Claim executions, split by outcome"),
		metric.WithUnit("{execution}"),
	)

	return func(ctx context.Context, j *job.Job, next Handler) error {
		start := time.Now()
		err := next(ctx)

		status := "ok"
		if err != nil {
			status = "error"
		}
		attrs := metric.WithAttributes(
			attribute.String("tier", string(j.Tier)),
			attribute.String("status", status),
		)
		duration.Record(ctx, time.Since(start).Seconds(), attrs)
		executions.Add(ctx, 1, attrs)

		return err
	}
}
