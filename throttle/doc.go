// Package throttle paces admission handoff per tier and per owner.
//
// The worker pool asks the Manager before handing an admitted job to a
// claim worker. Throttling never changes admission order; it only
// spreads handoff over time so one tier or one owner cannot soak up
// every worker the moment capacity opens.
//
// # Per-Tier Configuration
//
// Use [Config] to set per-tier rate limits and active caps:
//
//	throttle.Config{
//	    Tier:      tier.Free,
//	    Rate:      1,      // max 1 handoff/s from this tier
//	    Burst:     2,      // allow bursts up to 2
//	    MaxActive: 4,      // max 4 free jobs in flight at once
//	}
//
// # Manager
//
// [Manager] enforces per-tier and per-owner limits at handoff time.
// It uses a token-bucket rate limiter (golang.org/x/time/rate) and an
// active-count gate for the in-flight caps.
//
//	m := throttle.NewManager(configs...)
//	if m.Acquire(j.Tier, j.OwnerID) {
//	    defer m.Release(j.Tier, j.OwnerID)
//	    // hand the job to a worker
//	}
//
// Tiers without a [Config] have no limits beyond the pool-wide
// concurrency.
package throttle
