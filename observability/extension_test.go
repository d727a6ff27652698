package observability_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/scribely/tierq/hook"
	"github.com/scribely/tierq/job"
	"github.com/scribely/tierq/observability"
	"github.com/scribely/tierq/tier"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func setupTestMeter() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return reader, mp
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// hasAttr reports whether the data point attribute set carries key=value.
func hasAttr(dp metricdata.DataPoint[int64], key, value string) bool {
	for _, attr := range dp.Attributes.ToSlice() {
		if string(attr.Key) == key && attr.Value.AsString() == value {
			return true
		}
	}
	return false
}

func newTestJob() *job.Job {
	return job.New("u_owner", tier.Pro, "s3://scribely/audio/a.wav", base)
}

func TestMetrics_Name(t *testing.T) {
	_, mp := setupTestMeter()
	m := observability.NewWithMeter(mp.Meter("test"))
	if m.Name() != "observability-metrics" {
		t.Errorf("expected name %q, got %q", "observability-metrics", m.Name())
	}
}

func TestMetrics_JobSubmitted(t *testing.T) {
	reader, mp := setupTestMeter()
	m := observability.NewWithMeter(mp.Meter("test"))

	if err := m.OnJobSubmitted(context.Background(), newTestJob()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rm := collectMetrics(t, reader)
	mtr := findMetric(rm, "tierq.job.submitted")
	if mtr == nil {
		t.Fatal("tierq.job.submitted metric not found")
	}

	sum, ok := mtr.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("expected Sum[int64] data type")
	}
	if len(sum.DataPoints) == 0 {
		t.Fatal("no data points recorded")
	}
	if sum.DataPoints[0].Value != 1 {
		t.Errorf("expected value=1, got %d", sum.DataPoints[0].Value)
	}
	if !hasAttr(sum.DataPoints[0], "tier", "pro") {
		t.Error("expected tier=pro attribute on submitted counter")
	}
}

func TestMetrics_JobAdmitted_RecordsWaitTime(t *testing.T) {
	reader, mp := setupTestMeter()
	m := observability.NewWithMeter(mp.Meter("test"))

	j := newTestJob()
	picked := base.Add(90 * time.Second)
	j.PickedAt = &picked

	if err := m.OnJobAdmitted(context.Background(), j); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rm := collectMetrics(t, reader)

	mtr := findMetric(rm, "tierq.job.admitted")
	if mtr == nil {
		t.Fatal("tierq.job.admitted metric not found")
	}
	sum, ok := mtr.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("expected Sum[int64] data type")
	}
	if sum.DataPoints[0].Value != 1 {
		t.Errorf("expected value=1, got %d", sum.DataPoints[0].Value)
	}

	mtr = findMetric(rm, "tierq.job.wait_time")
	if mtr == nil {
		t.Fatal("tierq.job.wait_time metric not found")
	}
	hist, ok := mtr.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("expected Histogram[float64] data type")
	}
	if len(hist.DataPoints) == 0 {
		t.Fatal("no data points recorded for wait time")
	}
	if hist.DataPoints[0].Count != 1 {
		t.Errorf("expected count=1, got %d", hist.DataPoints[0].Count)
	}
	if hist.DataPoints[0].Sum != 90 {
		t.Errorf("expected sum=90s, got %v", hist.DataPoints[0].Sum)
	}
}

func TestMetrics_JobAdmitted_NoAdmissionStamp(t *testing.T) {
	reader, mp := setupTestMeter()
	m := observability.NewWithMeter(mp.Meter("test"))

	// No PickedAt: counter still moves, histogram stays empty.
	if err := m.OnJobAdmitted(context.Background(), newTestJob()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rm := collectMetrics(t, reader)
	if findMetric(rm, "tierq.job.admitted") == nil {
		t.Error("tierq.job.admitted metric not found")
	}
	if findMetric(rm, "tierq.job.wait_time") != nil {
		t.Error("expected no wait_time points without an admission stamp")
	}
}

func TestMetrics_JobFinished_StatusAttribute(t *testing.T) {
	reader, mp := setupTestMeter()
	m := observability.NewWithMeter(mp.Meter("test"))
	ctx := context.Background()

	jc := newTestJob()
	jc.Status = job.StatusCompleted
	if err := m.OnJobFinished(ctx, jc, 2*time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	jf := newTestJob()
	jf.Status = job.StatusFailed
	if err := m.OnJobFinished(ctx, jf, time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rm := collectMetrics(t, reader)
	mtr := findMetric(rm, "tierq.job.finished")
	if mtr == nil {
		t.Fatal("tierq.job.finished metric not found")
	}
	sum, ok := mtr.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("expected Sum[int64] data type")
	}
	if len(sum.DataPoints) != 2 {
		t.Fatalf("expected 2 data points (completed, failed), got %d", len(sum.DataPoints))
	}

	var haveCompleted, haveFailed bool
	for _, dp := range sum.DataPoints {
		switch {
		case hasAttr(dp, "status", "completed"):
			haveCompleted = dp.Value == 1
		case hasAttr(dp, "status", "failed"):
			haveFailed = dp.Value == 1
		}
	}
	if !haveCompleted {
		t.Error("missing status=completed data point with value 1")
	}
	if !haveFailed {
		t.Error("missing status=failed data point with value 1")
	}
}

func TestMetrics_JobCancelled(t *testing.T) {
	reader, mp := setupTestMeter()
	m := observability.NewWithMeter(mp.Meter("test"))

	if err := m.OnJobCancelled(context.Background(), newTestJob()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rm := collectMetrics(t, reader)
	mtr := findMetric(rm, "tierq.job.cancelled")
	if mtr == nil {
		t.Fatal("tierq.job.cancelled metric not found")
	}
	sum, ok := mtr.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("expected Sum[int64] data type")
	}
	if sum.DataPoints[0].Value != 1 {
		t.Errorf("expected value=1, got %d", sum.DataPoints[0].Value)
	}
}

func TestMetrics_ObserveAdmission(t *testing.T) {
	reader, mp := setupTestMeter()
	m := observability.NewWithMeter(mp.Meter("test"))

	m.ObserveAdmission(context.Background(), 40*time.Millisecond, 3)

	rm := collectMetrics(t, reader)

	mtr := findMetric(rm, "tierq.admission.duration")
	if mtr == nil {
		t.Fatal("tierq.admission.duration metric not found")
	}
	dur, ok := mtr.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("expected Histogram[float64] data type")
	}
	if dur.DataPoints[0].Count != 1 {
		t.Errorf("expected count=1, got %d", dur.DataPoints[0].Count)
	}

	mtr = findMetric(rm, "tierq.admission.batch_size")
	if mtr == nil {
		t.Fatal("tierq.admission.batch_size metric not found")
	}
	batch, ok := mtr.Data.(metricdata.Histogram[int64])
	if !ok {
		t.Fatal("expected Histogram[int64] data type")
	}
	if batch.DataPoints[0].Sum != 3 {
		t.Errorf("expected batch sum=3, got %d", batch.DataPoints[0].Sum)
	}
}

func TestMetrics_DefaultNoopSafe(t *testing.T) {
	// Constructing without a global provider must not panic.
	m := observability.New()
	ctx := context.Background()

	if err := m.OnJobSubmitted(ctx, newTestJob()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m.ObserveAdmission(ctx, time.Millisecond, 0)
}

func TestMetrics_ViaRegistry(t *testing.T) {
	reader, mp := setupTestMeter()
	m := observability.NewWithMeter(mp.Meter("test"))

	reg := hook.NewRegistry(slog.Default())
	reg.Register(m)

	ctx := context.Background()
	j := newTestJob()

	reg.EmitJobSubmitted(ctx, j)
	reg.EmitJobAdmitted(ctx, j)
	reg.EmitJobFinished(ctx, j, 50*time.Millisecond)
	reg.EmitJobCancelled(ctx, j)

	rm := collectMetrics(t, reader)
	for _, name := range []string{
		"tierq.job.submitted",
		"tierq.job.admitted",
		"tierq.job.finished",
		"tierq.job.cancelled",
	} {
		mtr := findMetric(rm, name)
		if mtr == nil {
			t.Errorf("%s metric not found", name)
			continue
		}
		sum, ok := mtr.Data.(metricdata.Sum[int64])
		if !ok {
			t.Errorf("%s: expected Sum[int64] data type", name)
			continue
		}
		var total int64
		for _, dp := range sum.DataPoints {
			total += dp.Value
		}
		if total != 1 {
			t.Errorf("%s: want 1, got %d", name, total)
		}
	}
}
