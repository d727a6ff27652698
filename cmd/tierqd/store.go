package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	goredis "github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/scribely/tierq"
	badgerstore "github.com/scribely/tierq/store/badger"
	bunstore "github.com/scribely/tierq/store/bun"
	"github.com/scribely/tierq/store/memory"
	mongostore "github.com/scribely/tierq/store/mongo"
	"github.com/scribely/tierq/store/postgres"
	redisstore "github.com/scribely/tierq/store/redis"
	"github.com/scribely/tierq/store/sqlite"
)

// cleanupFunc releases client handles the store itself does not own.
// Stores that own their connection (postgres, sqlite, badger) close it
// in Store.Close and get a no-op cleanup.
type cleanupFunc func(ctx context.Context) error

func noopCleanup(context.Context) error { return nil }

// openStore picks a backend from the DSN scheme:
//
//	memory://                        in-process map, lost on restart
//	postgres://user:pw@host/db       pgx pool
//	bun+postgres://user:pw@host/db   bun ORM over pgdriver
//	redis://host:6379/0              go-redis client
//	mongodb://host:27017             mongo driver, TIERQ_MONGO_DB database
//	badger:///var/lib/tierq          badger at the given path, empty = in-memory
//	sqlite:///var/lib/tierq.db       sqlite file
func openStore(ctx context.Context, cfg config, logger *slog.Logger) (tierq.Storer, cleanupFunc, error) {
	dsn := cfg.StoreDSN
	switch {
	case dsn == "memory://" || dsn == "memory":
		return memory.New(), noopCleanup, nil

	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		s, err := postgres.New(ctx, dsn, postgres.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return s, noopCleanup, nil

	case strings.HasPrefix(dsn, "bun+postgres://"):
		raw := strings.TrimPrefix(dsn, "bun+")
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(raw)))
		db := bun.NewDB(sqldb, pgdialect.New())
		cleanup := func(context.Context) error { return db.Close() }
		return bunstore.New(db, bunstore.WithLogger(logger)), cleanup, nil

	case strings.HasPrefix(dsn, "redis://"), strings.HasPrefix(dsn, "rediss://"):
		opt, err := goredis.ParseURL(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis dsn: %w", err)
		}
		client := goredis.NewClient(opt)
		cleanup := func(context.Context) error { return client.Close() }
		return redisstore.New(client, redisstore.WithLogger(logger)), cleanup, nil

	case strings.HasPrefix(dsn, "mongodb://"), strings.HasPrefix(dsn, "mongodb+srv://"):
		client, err := mongod.Connect(mongoopts.Client().ApplyURI(dsn))
		if err != nil {
			return nil, nil, fmt.Errorf("connect mongodb: %w", err)
		}
		cleanup := func(ctx context.Context) error { return client.Disconnect(ctx) }
		db := client.Database(cfg.MongoDatabase)
		return mongostore.New(db, mongostore.WithLogger(logger)), cleanup, nil

	case strings.HasPrefix(dsn, "badger://"):
		path := strings.TrimPrefix(dsn, "badger://")
		if path == "" {
			s, err := badgerstore.NewInMemory(badgerstore.WithLogger(logger))
			if err != nil {
				return nil, nil, err
			}
			return s, noopCleanup, nil
		}
		s, err := badgerstore.New(path, badgerstore.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return s, noopCleanup, nil

	case strings.HasPrefix(dsn, "sqlite://"):
		s, err := sqlite.New(strings.TrimPrefix(dsn, "sqlite://"), sqlite.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return s, noopCleanup, nil

	default:
		return nil, nil, fmt.Errorf("unrecognized store dsn %q", dsn)
	}
}
