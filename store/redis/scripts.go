package redis

import goredis "github.com/redis/go-redis/v9"

// Conditional script results. The Lua sources below return these
// markers, and runConditional maps them onto the error taxonomy.
const (
	resultOK         = "ok"
	resultMissing    = "missing"
	resultDone       = "done"
	resultWrongPhase = "phase"
)

// admitScript claims the best waiting jobs under the capacity cap.
// Scripts execute atomically, so counting the running set and moving
// members out of the waiting set is one step and two concurrent
// admitters can never claim the same job or overshoot the cap.
//
// KEYS: 1=waiting zset, 2=running set
// ARGV: 1=capacity, 2=limit, 3=now, 4=running status, 5=job key prefix
// Returns the claimed members in rank order.
var admitScript = goredis.NewScript(`
local running = redis.call('SCARD', KEYS[2])
local free = tonumber(ARGV[1]) - running
local lim = tonumber(ARGV[2])
if lim > 0 and lim < free then free = lim end
if free <= 0 then return {} end
local ids = redis.call('ZRANGE', KEYS[1], 0, free - 1)
for _, jid in ipairs(ids) do
	redis.call('ZREM', KEYS[1], jid)
	redis.call('SADD', KEYS[2], jid)
	redis.call('HSET', ARGV[5] .. jid,
		'status', ARGV[4], 'picked_at', ARGV[3], 'updated_at', ARGV[3])
end
return ids
`)

// cancelScript finalizes a not-yet-done job as cancelled and removes it
// from whichever membership structure still holds it.
//
// KEYS: 1=job hash, 2=waiting zset, 3=running set
// ARGV: 1=job id, 2=now, 3=cancelled status
var cancelScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 'missing' end
if redis.call('HGET', KEYS[1], 'done') == 'true' then return 'done' end
redis.call('HSET', KEYS[1],
	'status', ARGV[3], 'done', 'true', 'completed_at', ARGV[2], 'updated_at', ARGV[2])
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('SREM', KEYS[3], ARGV[1])
return 'ok'
`)

// finishScript records a terminal outcome for a running job. A job with
// no picked_at field was never admitted, so finishing it is refused.
//
// KEYS: 1=job hash, 2=running set
// ARGV: 1=job id, 2=terminal status, 3=failure reason, 4=now
var finishScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 'missing' end
if redis.call('HGET', KEYS[1], 'done') == 'true' then return 'done' end
if not redis.call('HGET', KEYS[1], 'picked_at') then return 'phase' end
redis.call('HSET', KEYS[1],
	'status', ARGV[2], 'done', 'true', 'completed_at', ARGV[4],
	'failure_reason', ARGV[3], 'updated_at', ARGV[4])
redis.call('SREM', KEYS[2], ARGV[1])
return 'ok'
`)

// statusScript updates the progress label of a running job.
//
// KEYS: 1=job hash
// ARGV: 1=status, 2=now
var statusScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 'missing' end
if redis.call('HGET', KEYS[1], 'done') == 'true' then return 'done' end
if not redis.call('HGET', KEYS[1], 'picked_at') then return 'phase' end
redis.call('HSET', KEYS[1], 'status', ARGV[1], 'updated_at', ARGV[2])
return 'ok'
`)
