package tierq

import "errors"

var (
	// Store errors.
	ErrNoStore          = errors.New("tierq: no store configured")
	ErrStoreClosed      = errors.New("tierq: store closed")
	ErrStoreUnavailable = errors.New("tierq: store unavailable")
	ErrMigrationFailed  = errors.New("tierq: migration failed")

	// Not found errors.
	ErrJobNotFound = errors.New("tierq: job not found")
	ErrJobExists   = errors.New("tierq: job already exists")

	// Authorization errors.
	ErrUnauthorized = errors.New("tierq: operator credential missing or invalid")
	ErrForbidden    = errors.New("tierq: caller is not the job owner")

	// State errors.
	ErrNotCancellable    = errors.New("tierq: job already finished, not cancellable")
	ErrNotQueued         = errors.New("tierq: job is not waiting in the queue")
	ErrJobDone           = errors.New("tierq: job already reached a terminal state")
	ErrInvalidTransition = errors.New("tierq: invalid status transition")

	// Lifecycle errors. A paused queue is not an error for admission
	// itself; ErrPaused is for callers that need the condition as a
	// value.
	ErrPaused   = errors.New("tierq: queue is paused")
	ErrShutdown = errors.New("tierq: queue is shut down")

	// Configuration errors.
	ErrInvalidConfig = errors.New("tierq: invalid configuration")
)
