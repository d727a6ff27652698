package throttle

import (
	"fmt"

	"golang.org/x/time/rate"

	"github.com/scribely/tierq/tier"
)

// OwnerConfig defines rate limits and in-flight caps for a specific
// owner on a specific tier. One account bulk-uploading a podcast
// backlog gets paced without touching the rest of its tier.
type OwnerConfig struct {
	// Tier is the tier this config applies to.
	Tier tier.Tier

	// OwnerID is the owning account identifier (job.OwnerID).
	OwnerID string

	// Rate is the sustained handoffs per second for this owner.
	Rate float64

	// Burst is the burst size for the owner's rate limiter.
	Burst int

	// MaxActive limits simultaneous in-flight jobs for this owner on
	// this tier. Zero means no owner-specific cap.
	MaxActive int
}

// ownerState tracks runtime state for a single tier+owner pair.
type ownerState struct {
	limiter   *rate.Limiter
	maxActive int
	active    int
}

// ownerKey builds the map key for a tier+owner pair.
func ownerKey(t tier.Tier, ownerID string) string {
	return fmt.Sprintf("%s:%s", t, ownerID)
}

// SetOwnerConfig configures rate limits and in-flight caps for a
// specific owner on a specific tier. Calling this multiple times for
// the same tier+owner replaces the previous configuration.
func (m *Manager) SetOwnerConfig(cfg OwnerConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := ownerKey(cfg.Tier, cfg.OwnerID)
	existing := m.owners[key]

	os := &ownerState{
		maxActive: cfg.MaxActive,
	}
	if cfg.Rate > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		os.limiter = rate.NewLimiter(rate.Limit(cfg.Rate), burst)
	}

	// Preserve current active count if reconfiguring.
	if existing != nil {
		os.active = existing.active
	}
	m.owners[key] = os
}

// OwnerActiveCount returns the current number of in-flight jobs for a
// tier+owner pair.
func (m *Manager) OwnerActiveCount(t tier.Tier, ownerID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if os := m.owners[ownerKey(t, ownerID)]; os != nil {
		return os.active
	}
	return 0
}
