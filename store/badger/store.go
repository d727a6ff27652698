package badgerstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/scribely/tierq"
	"github.com/scribely/tierq/store"
)

// Ensure Store implements the composite interface at compile time.
var _ store.Store = (*Store)(nil)

// Store is an embedded BadgerDB implementation of store.Store.
type Store struct {
	db     *badger.DB
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

// New opens a store at path, creating the directory if needed.
func New(path string, opts ...Option) (*Store, error) {
	return open(badger.DefaultOptions(path), opts...)
}

// NewInMemory opens a store in Badger's in-memory mode. Nothing
// survives Close; intended for tests and development.
func NewInMemory(opts ...Option) (*Store, error) {
	return open(badger.DefaultOptions("").WithInMemory(true), opts...)
}

func open(bopts badger.Options, opts ...Option) (*Store, error) {
	bopts.Logger = nil // badger logs through its own interface, not slog

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("tierq/badger: open: %w", err)
	}

	s := &Store{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// DB returns the underlying *badger.DB for advanced usage.
func (s *Store) DB() *badger.DB {
	return s.db
}

// Migrate is a no-op; Badger has no schema.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping reports whether the database is still open.
func (s *Store) Ping(_ context.Context) error {
	if s.db.IsClosed() {
		return tierq.ErrStoreClosed
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// retryUpdate retries an update on transaction conflicts. Badger
// transactions are optimistic, so admitters racing on the waiting
// index conflict instead of blocking. The delay is fixed so retry
// behavior stays deterministic under test.
func (s *Store) retryUpdate(ctx context.Context, fn func(txn *badger.Txn) error) error {
	const maxRetries = 50
	const retryDelay = 1 * time.Millisecond

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
			time.Sleep(retryDelay)
		}

		err := s.db.Update(fn)
		if err == nil {
			return nil
		}
		if errors.Is(err, badger.ErrConflict) {
			lastErr = err
			continue
		}
		return err
	}
	return fmt.Errorf("tierq/badger: transaction conflict after %d retries: %w", maxRetries, lastErr)
}
