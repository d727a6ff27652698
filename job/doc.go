// Package job defines the job entity, its state machine, and the store
// contract every backend implements.
//
// # Job Entity
//
// A [Job] is one submitted transcription request. It embeds
// [tierq.Entity] for timestamps and carries two layers of state:
//
//   - the scheduling pair (PickedAt, Done), which is all the queue's
//     bookkeeping depends on, and
//   - the Status label (queued, processing, downloading, transcribing,
//     refining, cancelled, completed, failed) reported to users by the
//     surrounding pipeline.
//
// The pair derives the coarse [Phase] enumeration:
//
//	waiting → running → terminal
//	waiting → terminal              (cancelled before admission)
//
// PickedAt is set exactly once, at admission, and never cleared: a
// running job that must stop is cancelled, not re-queued, so the same
// job can never be dispatched twice. Done is monotonic.
//
// # Ordering
//
// A job's priority key is [Job.Rank]; the tier package holds the
// comparator shared by admission and position queries.
//
// # Store
//
// [Store] is the persistence contract. The conditional writes on
// (picked_at, done) for admission, cancellation, and finish are the
// queue's only cross-process synchronization, so implementations must
// make them atomic; see the store backends.
package job
