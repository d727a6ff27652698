package redis

// Redis key naming conventions for tierq data.
// All keys are prefixed with "tierq:" to avoid collisions.

const keyPrefix = "tierq:"

// jobKeyPrefix prefixes every job Hash key. The admission script
// receives it as an argument so it can derive Hash keys from members.
const jobKeyPrefix = keyPrefix + "job:"

// jobKey returns the Hash key for a job entity: tierq:job:{id}
func jobKey(id string) string { return jobKeyPrefix + id }

// waitingKey is the Sorted Set of waiting job IDs scored by rank.
const waitingKey = keyPrefix + "waiting"

// runningKey is the Set of running job IDs; its cardinality is the
// running count the admission script checks against capacity.
const runningKey = keyPrefix + "running"

// jobIDsKey is the Set tracking all job IDs for enumeration.
const jobIDsKey = keyPrefix + "job_ids"
