// Package redis implements the store using Redis for high-throughput
// deployments. Jobs are stored as Hashes, the waiting queue is a Sorted
// Set whose score encodes the admission rank, and running jobs are
// tracked in a plain Set. Admission and the conditional lifecycle
// writes run as Lua scripts, so their check and write are one atomic
// step on the server.
//
// The caller owns the Redis client lifecycle:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
