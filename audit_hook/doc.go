// Package audithook bridges queue lifecycle events to an audit trail.
//
// Every job and queue lifecycle hook emits a structured audit event
// through the [Recorder] interface. Events carry the acting identity
// when the context has one, a severity (info for normal operations,
// warning for a paused queue, critical for failed jobs) and metadata
// such as owner, tier, elapsed time and failure reasons.
//
// Without a Recorder the hook writes events to slog, which is enough
// for a single-node deployment's append-only log shipping.
//
// # Bridging to an audit backend
//
//	audithook.New(audithook.RecorderFunc(func(ctx context.Context, evt *audithook.AuditEvent) error {
//	    return trail.Write(ctx, evt.Action, evt.ResourceID, evt.Metadata)
//	}))
//
// # Selective filtering
//
// QueuePaused fires on every admission attempt against a paused queue,
// which is once per poll tick. Deployments that pause for long windows
// should filter it out:
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionJobCancelled,
//	        audithook.ActionJobFailed,
//	    ),
//	)
package audithook
