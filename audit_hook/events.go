package audithook

// Audit event actions. Each constant corresponds to one lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionJobSubmitted     = "job.submitted"
	ActionJobAdmitted      = "job.admitted"
	ActionJobStatusChanged = "job.status_changed"
	ActionJobCompleted     = "job.completed"
	ActionJobFailed        = "job.failed"
	ActionJobCancelled     = "job.cancelled"
	ActionQueuePaused      = "queue.paused"
)

// Audit event categories group related actions.
const (
	CategoryJob   = "tierq.job"
	CategoryQueue = "tierq.queue"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceJob   = "job"
	ResourceQueue = "queue"
)

// AllActions returns every action this hook can emit.
func AllActions() []string {
	return []string{
		ActionJobSubmitted,
		ActionJobAdmitted,
		ActionJobStatusChanged,
		ActionJobCompleted,
		ActionJobFailed,
		ActionJobCancelled,
		ActionQueuePaused,
	}
}
