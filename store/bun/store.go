package bunstore

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"

	"github.com/uptrace/bun"

	"github.com/scribely/tierq/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Ensure Store implements the composite interface at compile time.
var _ store.Store = (*Store)(nil)

// admitLockKey is the advisory lock key that serializes admission
// transactions. The pgx store takes the same key, so admitters stay
// serialized even when both stores point at one database.
const admitLockKey = int64(0x7469657271) // "tierq"

// Store persists jobs through the Bun ORM on the PostgreSQL dialect.
// It is schema-compatible with the pgx store, so the two can be mixed
// against one database. The *bun.DB stays caller-owned.
type Store struct {
	db     *bun.DB
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

// New wraps an existing *bun.DB in a Store. Close leaves the db open
// for the caller.
func New(db *bun.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB exposes the underlying *bun.DB for queries outside the store's
// surface.
func (s *Store) DB() *bun.DB {
	return s.db
}

// Migrate applies the embedded schema migrations that have not run
// yet. Applied files are recorded in tierq_migrations, the same
// tracking table the pgx store uses, so a database migrated by one
// store is current for the other.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS tierq_migrations (
			filename   TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("tierq/bun: create migrations table: %w", err)
	}

	names, err := migrationFiles()
	if err != nil {
		return err
	}

	for _, name := range names {
		applied, err := s.db.NewSelect().
			TableExpr("tierq_migrations").
			Where("filename = ?", name).
			Exists(ctx)
		if err != nil {
			return fmt.Errorf("tierq/bun: check migration %s: %w", name, err)
		}
		if applied {
			continue
		}

		data, err := fs.ReadFile(migrationsFS, "migrations/"+name)
		if err != nil {
			return fmt.Errorf("tierq/bun: read migration %s: %w", name, err)
		}

		// The migration and its bookkeeping row land together or not
		// at all.
		err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			if _, err := tx.ExecContext(ctx, string(data)); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO tierq_migrations (filename) VALUES (?)`, name)
			return err
		})
		if err != nil {
			return fmt.Errorf("tierq/bun: apply migration %s: %w", name, err)
		}

		s.logger.Info("applied migration", slog.String("file", name))
	}

	return nil
}

// migrationFiles lists the embedded .sql files in lexical order, which
// is the order they were authored in.
func migrationFiles() ([]string, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("tierq/bun: read migrations: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close is a no-op because the caller owns the *bun.DB lifecycle.
func (s *Store) Close() error {
	return nil
}
