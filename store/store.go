package store

import (
	"context"

	"github.com/scribely/tierq/job"
)

// Store is the aggregate persistence interface. A single backend
// (postgres, bun, sqlite, redis, mongo, badger, memory) implements
// job.Store plus the lifecycle methods below.
type Store interface {
	job.Store

	// Migrate prepares the backend schema, applying anything not yet
	// applied. Safe to call on every start.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close releases backend resources the store owns. Caller-owned
	// clients are left open.
	Close() error
}
