package amqphook

// Lifecycle event types. Each constant maps to one lifecycle hook and
// doubles as the AMQP routing key.
const (
	EventJobSubmitted     = "scribely.job.submitted"
	EventJobAdmitted      = "scribely.job.admitted"
	EventJobStatusChanged = "scribely.job.status_changed"
	EventJobCompleted     = "scribely.job.completed"
	EventJobFailed        = "scribely.job.failed"
	EventJobCancelled     = "scribely.job.cancelled"
	EventQueuePaused      = "scribely.queue.paused"
)

// AllEvents returns every event type this hook can publish.
func AllEvents() []string {
	return []string{
		EventJobSubmitted,
		EventJobAdmitted,
		EventJobStatusChanged,
		EventJobCompleted,
		EventJobFailed,
		EventJobCancelled,
		EventQueuePaused,
	}
}
