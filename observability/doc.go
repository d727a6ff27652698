// Package observability provides an OpenTelemetry metrics hook for the
// queue. The Metrics hook implements lifecycle hooks to record counters
// for job submission, admission, cancellation and finish, plus
// histograms for queue wait time and admission sweep duration.
//
// Instruments use the global MeterProvider by default. Without one
// configured they degrade to noops, so registering the hook in a
// deployment without a metrics pipeline costs nothing.
package observability
