package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/scribely/tierq/store"
)

// Collection name constants.
const (
	colJobs  = "tierq_jobs"
	colLocks = "tierq_locks"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Store implements store.Store on a MongoDB database. The mongo client
// stays caller-owned; Close on the Store is a no-op.
type Store struct {
	db     *mongod.Database
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a new MongoDB store on the given database handle.
func New(db *mongod.Database, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying *mongo.Database for advanced usage.
func (s *Store) DB() *mongod.Database {
	return s.db
}

// Migrate creates the indexes the job queries rely on.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if len(models) == 0 {
			continue
		}
		_, err := s.db.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("tierq/mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

// Close is a no-op because the caller owns the client lifecycle.
func (s *Store) Close() error {
	return nil
}

// ── helpers ──────────────────────────────────────────────────────

// isNoDocuments reports whether err is the driver's no-documents
// sentinel.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongod.ErrNoDocuments)
}

// isDuplicateKey reports whether err is a unique index violation.
func isDuplicateKey(err error) bool {
	return mongod.IsDuplicateKeyError(err)
}

// migrationIndexes returns the index definitions for the tierq collections.
func migrationIndexes() map[string][]mongod.IndexModel {
	return map[string][]mongod.IndexModel{
		colJobs: {
			// Admission index: waiting jobs in rank order.
			{Keys: bson.D{
				{Key: "done", Value: 1},
				{Key: "picked_at", Value: 1},
				{Key: "tier_weight", Value: -1},
				{Key: "created_at", Value: 1},
				{Key: "_id", Value: 1},
			}},
			// Owner listing index.
			{Keys: bson.D{
				{Key: "owner_id", Value: 1},
				{Key: "created_at", Value: 1},
			}},
			// Status index.
			{Keys: bson.D{{Key: "status", Value: 1}}},
		},
		colLocks: {
			// Expiry lookup for lease takeover.
			{Keys: bson.D{{Key: "expires_at", Value: 1}}},
		},
	}
}
