// Command tierqd serves the tierq HTTP API backed by a configurable
// store. All configuration comes from TIERQ_* environment variables;
// unset variables fall back to defaults suitable for local development
// (in-memory store, capacity 4).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/scribely/tierq"
	amqphook "github.com/scribely/tierq/amqp_hook"
	"github.com/scribely/tierq/api"
	"github.com/scribely/tierq/auth"
	"github.com/scribely/tierq/engine"
)

type config struct {
	Addr            string        `env:"TIERQ_ADDR" envDefault:":8080"`
	StoreDSN        string        `env:"TIERQ_STORE_DSN" envDefault:"memory://"`
	Capacity        int           `env:"TIERQ_CAPACITY" envDefault:"4"`
	SlotDuration    time.Duration `env:"TIERQ_SLOT_DURATION" envDefault:"3m"`
	AdmitBatch      int           `env:"TIERQ_ADMIT_BATCH" envDefault:"0"`
	PollInterval    time.Duration `env:"TIERQ_POLL_INTERVAL" envDefault:"5s"`
	ShutdownTimeout time.Duration `env:"TIERQ_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	OperatorSecret  string        `env:"TIERQ_OPERATOR_SECRET"`
	SkipMigrate     bool          `env:"TIERQ_SKIP_MIGRATE"`
	StatsSchedule   string        `env:"TIERQ_STATS_SCHEDULE"`
	AMQPURL         string        `env:"TIERQ_AMQP_URL"`
	AMQPExchange    string        `env:"TIERQ_AMQP_EXCHANGE"`
	MongoDatabase   string        `env:"TIERQ_MONGO_DB" envDefault:"tierq"`
	LogLevel        slog.Level    `env:"TIERQ_LOG_LEVEL" envDefault:"info"`
}

func main() {
	if err := run(); err != nil {
		slog.Error("tierqd exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, cleanup, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	q, err := tierq.New(
		tierq.WithStore(store),
		tierq.WithCapacity(cfg.Capacity),
		tierq.WithSlotDuration(cfg.SlotDuration),
		tierq.WithAdmitBatch(cfg.AdmitBatch),
		tierq.WithPollInterval(cfg.PollInterval),
		tierq.WithShutdownTimeout(cfg.ShutdownTimeout),
		tierq.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("configure queue: %w", err)
	}

	if !cfg.SkipMigrate {
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate store: %w", err)
		}
	}

	var engOpts []engine.Option
	if cfg.StatsSchedule != "" {
		engOpts = append(engOpts, engine.WithStatsSchedule(cfg.StatsSchedule))
	}

	// The AMQP hook is optional; a configured URL that cannot be dialed
	// is a startup failure rather than a silently disabled feature.
	var pub *amqphook.Publisher
	if cfg.AMQPURL != "" {
		pubOpts := []amqphook.PublisherOption{amqphook.WithPublisherLogger(logger)}
		if cfg.AMQPExchange != "" {
			pubOpts = append(pubOpts, amqphook.WithExchange(cfg.AMQPExchange))
		}
		pub, err = amqphook.NewPublisher(cfg.AMQPURL, pubOpts...)
		if err != nil {
			return fmt.Errorf("connect amqp: %w", err)
		}
		engOpts = append(engOpts, engine.WithHook(amqphook.New(pub)))
	}

	eng, err := engine.Build(q, engOpts...)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	a := api.New(eng,
		api.WithOperatorSecret(auth.OperatorSecret(cfg.OperatorSecret)),
		api.WithLogger(logger),
	)
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("tierqd listening",
			"addr", cfg.Addr,
			"capacity", cfg.Capacity,
			"slot_duration", cfg.SlotDuration,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down", "timeout", cfg.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	// Engine.Stop drains the pool, emits shutdown hooks, and closes the
	// store, so the publisher and client cleanup run after it.
	if err := eng.Stop(shutdownCtx); err != nil {
		logger.Error("engine stop error", "error", err)
	}
	if pub != nil {
		if err := pub.Close(); err != nil {
			logger.Error("amqp close error", "error", err)
		}
	}
	if err := cleanup(shutdownCtx); err != nil {
		logger.Error("store cleanup error", "error", err)
	}
	return nil
}
