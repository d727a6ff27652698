package throttle

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/scribely/tierq/tier"
)

// Config defines per-tier pacing such as rate limiting and in-flight caps.
type Config struct {
	// Tier is the subscription tier this config applies to.
	Tier tier.Tier

	// MaxActive limits how many jobs from this tier may be in flight
	// simultaneously across the local worker pool. Zero means no
	// tier-specific limit (pool-wide concurrency still applies).
	MaxActive int

	// Rate is the maximum sustained handoffs per second from this
	// tier. Zero disables rate limiting.
	Rate float64

	// Burst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if Rate is set but Burst is zero.
	Burst int
}

// tierState tracks runtime state for a single tier.
type tierState struct {
	config  Config
	limiter *rate.Limiter
	active  int
}

// Manager controls per-tier and per-owner rate limiting and in-flight
// caps. It is safe for concurrent use.
type Manager struct {
	mu     sync.Mutex
	tiers  map[tier.Tier]*tierState
	owners map[string]*ownerState
}

// NewManager creates a Manager with the given tier configurations.
// Tiers not listed here have no limits.
func NewManager(configs ...Config) *Manager {
	m := &Manager{
		tiers:  make(map[tier.Tier]*tierState, len(configs)),
		owners: make(map[string]*ownerState),
	}
	for _, cfg := range configs {
		m.tiers[cfg.Tier] = newTierState(cfg)
	}
	return m
}

// DefaultConfigs returns a starting point that paces the low tiers and
// leaves the paid tiers unthrottled. Pro and premium are deliberately
// absent: an unconfigured tier has no limits.
func DefaultConfigs() []Config {
	return []Config{
		{Tier: tier.Free, Rate: 1, Burst: 2},
		{Tier: tier.Basic, Rate: 2, Burst: 4},
	}
}

func newTierState(cfg Config) *tierState {
	ts := &tierState{config: cfg}
	if cfg.Rate > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		ts.limiter = rate.NewLimiter(rate.Limit(cfg.Rate), burst)
	}
	return ts
}

// Acquire checks rate limits and in-flight caps for the given tier and
// owner. If the handoff is allowed to proceed it increments the active
// counters and returns true. The caller MUST call Release when the job
// leaves flight.
func (m *Manager) Acquire(t tier.Tier, ownerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Check tier-level constraints.
	ts := m.tiers[t]
	if ts != nil {
		if ts.limiter != nil && !ts.limiter.Allow() {
			return false
		}
		if ts.config.MaxActive > 0 && ts.active >= ts.config.MaxActive {
			return false
		}
	}

	// Check owner-level constraints.
	if ownerID != "" {
		os := m.owners[ownerKey(t, ownerID)]
		if os != nil {
			if os.limiter != nil && !os.limiter.Allow() {
				return false
			}
			if os.maxActive > 0 && os.active >= os.maxActive {
				return false
			}
			os.active++
		}
	}

	// Increment tier active count.
	if ts != nil {
		ts.active++
	}

	return true
}

// Release decrements the active counters for the tier and owner.
func (m *Manager) Release(t tier.Tier, ownerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ts := m.tiers[t]; ts != nil && ts.active > 0 {
		ts.active--
	}

	if ownerID != "" {
		if os := m.owners[ownerKey(t, ownerID)]; os != nil && os.active > 0 {
			os.active--
		}
	}
}

// SetConfig dynamically updates (or creates) a tier configuration.
func (m *Manager) SetConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.tiers[cfg.Tier]
	ts := newTierState(cfg)

	// Preserve current active count if reconfiguring.
	if existing != nil {
		ts.active = existing.active
	}
	m.tiers[cfg.Tier] = ts
}

// ActiveCount returns the current number of in-flight jobs for a tier.
func (m *Manager) ActiveCount(t tier.Tier) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ts := m.tiers[t]; ts != nil {
		return ts.active
	}
	return 0
}
