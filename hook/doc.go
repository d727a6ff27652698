// Package hook defines the lifecycle hook system for tierq.
//
// Hooks are notified of queue lifecycle events and can react to them by
// recording metrics, publishing notifications, writing audit logs, and
// so on. Each lifecycle event is a separate interface so hooks opt in
// only to the events they care about.
//
// # Implementing a Hook
//
//	type MyHook struct{}
//
//	func (h *MyHook) Name() string { return "my-hook" }
//
//	// Opt in to specific events by implementing their interfaces.
//	func (h *MyHook) OnJobAdmitted(ctx context.Context, j *job.Job) error {
//	    log.Printf("job %s admitted", j.ID)
//	    return nil
//	}
//
// # Job Lifecycle Events
//
//   - [JobSubmitted]: job was accepted into the queue
//   - [JobAdmitted]: job was picked to run under the capacity cap
//   - [JobStatusChanged]: a worker reported a progress label
//   - [JobFinished]: job reached completed or failed
//   - [JobCancelled]: job was cancelled by its owner or an operator
//
// # Other Events
//
//   - [QueuePaused]: an admission attempt observed a paused queue
//   - [Shutdown]: the queue is shutting down gracefully
//
// The [Registry] fans out each event to all registered hooks that
// implement the corresponding interface. Hook errors are logged and
// never propagate into the operation that emitted the event.
package hook
