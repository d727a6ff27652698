// Package tier defines subscription tiers and the priority order they
// impose on waiting jobs.
//
// The comparator here is the single source of ordering truth: the memory
// store sorts with it, the position estimator counts with it, and the
// ordering expressions in the SQL/Redis/Mongo backends are the persisted
// image of the same key. Admission order and reported position can
// therefore never disagree.
package tier

import (
	"strings"
	"time"

	"github.com/scribely/tierq/id"
)

// Tier is a subscription level. Unknown values are legal and rank lowest.
type Tier string

// Recognized subscription tiers.
const (
	Free    Tier = "free"
	Basic   Tier = "basic"
	Pro     Tier = "pro"
	Premium Tier = "premium"
)

// Weight bounds, exported for store backends that persist the weight.
const (
	MinWeight = 1
	MaxWeight = 3
)

// Weight maps a tier to its scheduling weight. Higher weights are served
// first. Unrecognized or empty tiers degrade to the lowest weight rather
// than failing; a stored record must always remain orderable.
func (t Tier) Weight() int {
	switch t {
	case Pro, Premium:
		return MaxWeight
	case Basic:
		return 2
	default:
		return MinWeight
	}
}

// Known reports whether t is one of the recognized tiers. The queue core
// never requires this; the API layer uses it to reject typos at
// submission time.
func (t Tier) Known() bool {
	switch t {
	case Free, Basic, Pro, Premium:
		return true
	default:
		return false
	}
}

// All returns the recognized tiers in priority order, highest first.
// Stats surfaces iterate this for a stable per-tier breakdown.
func All() []Tier {
	return []Tier{Premium, Pro, Basic, Free}
}

// Rank is the ordering key of one job: everything the priority order may
// depend on, and nothing else. In particular it never includes picked or
// status fields, so a job's rank is stable for its whole waiting life.
type Rank struct {
	Tier      Tier
	CreatedAt time.Time
	JobID     id.JobID
}

// Compare orders two ranks: higher tier weight first, then earlier
// arrival, then smaller job id. The id component breaks timestamp
// collisions, so the order is strict and total. Returns a negative value
// if a is served before b, positive if b is served before a, and zero
// only when both keys refer to the same job.
func Compare(a, b Rank) int {
	aw, bw := a.Tier.Weight(), b.Tier.Weight()
	switch {
	case aw > bw:
		return -1
	case aw < bw:
		return 1
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(a.JobID.String(), b.JobID.String())
}

// Less reports whether a is served before b. Position queries count the
// waiting jobs whose rank is Less than the queried one.
func Less(a, b Rank) bool {
	return Compare(a, b) < 0
}
