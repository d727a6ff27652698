// Package tierq provides a tiered priority queue and admission controller
// for transcription jobs. It decides which submitted jobs may start
// processing under a fixed concurrency cap, ranks waiting jobs by
// subscription tier with FIFO tie-breaking, and answers position/ETA,
// cancellation, and operator stats queries over the same records.
//
// tierq is designed as a library, not a service. Import it, configure a
// store, and drive admission from your own worker loop, the bundled
// worker pool, or the HTTP binding in the api package.
//
// # Quick Start
//
//	q, err := tierq.New(
//	    tierq.WithStore(pgStore),
//	    tierq.WithCapacity(4),
//	)
//
// # Architecture
//
// tierq follows a composable store pattern: the job package defines the
// persistence contract and a single backend implements it (memory,
// postgres, sqlite, redis, mongo, bun, badger). The select-and-mark step
// of admission is atomic inside the store, so multiple processes can
// share one queue without an in-process scheduler owning correctness.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package tierq
