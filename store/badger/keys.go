package badgerstore

import (
	"encoding/binary"

	"github.com/scribely/tierq/tier"
)

// key prefixes
const (
	keyPrefixJob     = "job:"
	keyPrefixWaiting = "idx:waiting:"
	keyPrefixRunning = "idx:running:"
)

// jobKey returns the key holding a job record.
func jobKey(jobID string) []byte {
	return []byte(keyPrefixJob + jobID)
}

// runningKey returns the running-index key for a job.
func runningKey(jobID string) []byte {
	return []byte(keyPrefixRunning + jobID)
}

// waitingKey returns the waiting-index key for a rank. Byte order of
// these keys equals admission order: the weight byte is inverted so
// heavier tiers sort first, creation nanos are big-endian, and the
// job ID breaks exact ties.
func waitingKey(r tier.Rank) []byte {
	jid := r.JobID.String()
	key := make([]byte, 0, len(keyPrefixWaiting)+1+8+len(jid))
	key = append(key, keyPrefixWaiting...)
	key = append(key, byte(tier.MaxWeight-r.Tier.Weight()))
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(r.CreatedAt.UTC().UnixNano()))
	key = append(key, ts[:]...)
	key = append(key, jid...)
	return key
}
