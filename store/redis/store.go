package redis

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/scribely/tierq/store"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Option configures the Store.
type Option func(*Store)

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store implements store.Store on Redis hashes and sorted sets.
type Store struct {
	client redis.Cmdable
	logger *slog.Logger
}

// New wraps an existing Redis client in a Store. Ownership of the
// client stays with the caller, so Close does not touch it. Cmdable
// admits both single-node clients and cluster clients.
func New(client redis.Cmdable, opts ...Option) *Store {
	s := &Store{client: client, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client exposes the underlying Redis client, shared with callers that
// want to run their own commands against the same keyspace.
func (s *Store) Client() redis.Cmdable { return s.client }

// Migrate is a no-op. Redis has no schema to prepare.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping round-trips a PING to verify connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op. The client is caller-owned; see New.
func (s *Store) Close() error { return nil }
