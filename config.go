package tierq

import "time"

// Config holds configuration for the Queue.
type Config struct {
	// Capacity is the global cap on concurrently running jobs.
	// Zero or negative pauses admission: nothing is ever admitted.
	Capacity int

	// SlotDuration is the average length of one processing slot, used by
	// the position estimator's wait heuristic.
	SlotDuration time.Duration

	// AdmitBatch caps how many jobs a single admission attempt may pick.
	// Zero means fill all free capacity in one call.
	AdmitBatch int

	// PollInterval is how often the worker pool triggers admission.
	PollInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Capacity:        4,
		SlotDuration:    3 * time.Minute,
		AdmitBatch:      0,
		PollInterval:    5 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}
