package tierq

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Option configures a Queue.
type Option func(*Queue) error

// Storer is the minimal store interface held by the Queue.
// It covers lifecycle operations only. The full composite interface
// (store.Store) is used in subsystem layers that don't create import
// cycles. Implementations satisfy store.Store which embeds the job
// store contract.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// poolRunner is an internal interface for worker pool lifecycle.
type poolRunner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// hookEmitter is an internal interface for lifecycle hook shutdown.
type hookEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Queue is the central coordinator for admission, position estimation,
// cancellation, and stats over one shared job store.
//
// Create one with New() and functional options. The Queue holds
// references to subsystem components via internal interfaces to avoid
// import cycles. Use engine.Build to wire everything together.
type Queue struct {
	config Config
	logger *slog.Logger
	store  Storer
	clock  Clock
	hooks  hookEmitter
	pool   poolRunner

	// started tracks whether Start has been called.
	started bool
}

// New creates a new Queue with the given options.
func New(opts ...Option) (*Queue, error) {
	q := &Queue{
		config: DefaultConfig(),
		logger: slog.Default(),
		clock:  SystemClock{},
	}
	for _, opt := range opts {
		if err := opt(q); err != nil {
			return nil, err
		}
	}
	return q, nil
}

// Logger returns the queue's logger.
func (q *Queue) Logger() *slog.Logger { return q.logger }

// Store returns the queue's store.
func (q *Queue) Store() Storer { return q.store }

// Config returns a copy of the queue's configuration.
func (q *Queue) Config() Config { return q.config }

// Clock returns the queue's time source.
func (q *Queue) Clock() Clock { return q.clock }

// SetPool sets the worker pool (called by the engine package).
func (q *Queue) SetPool(p poolRunner) { q.pool = p }

// SetHooks sets the hook emitter (called by the engine package).
func (q *Queue) SetHooks(h hookEmitter) { q.hooks = h }

// Start begins background admission if a worker pool is attached.
// A Queue without a pool is still fully usable for on-demand admission.
func (q *Queue) Start(ctx context.Context) error {
	if q.store == nil {
		return ErrNoStore
	}
	if q.pool != nil {
		if err := q.pool.Start(ctx); err != nil {
			return err
		}
	}
	q.started = true
	return nil
}

// Stop gracefully shuts down the queue.
func (q *Queue) Stop(ctx context.Context) error {
	if q.pool != nil && q.started {
		if err := q.pool.Stop(ctx); err != nil {
			q.logger.Error("pool stop error", "error", err)
		}
	}
	if q.hooks != nil {
		q.hooks.EmitShutdown(ctx)
	}
	if q.store != nil {
		return q.store.Close()
	}
	return nil
}

// WithCapacity sets the global cap on concurrently running jobs.
// Zero or negative values are legal and pause admission.
func WithCapacity(n int) Option {
	return func(q *Queue) error {
		q.config.Capacity = n
		return nil
	}
}

// WithSlotDuration sets the average processing-slot length used for wait
// estimates.
func WithSlotDuration(d time.Duration) Option {
	return func(q *Queue) error {
		if d <= 0 {
			return fmt.Errorf("%w: slot duration must be positive, got %s", ErrInvalidConfig, d)
		}
		q.config.SlotDuration = d
		return nil
	}
}

// WithAdmitBatch caps how many jobs one admission attempt may pick.
func WithAdmitBatch(n int) Option {
	return func(q *Queue) error {
		if n < 0 {
			return fmt.Errorf("%w: admit batch must not be negative, got %d", ErrInvalidConfig, n)
		}
		q.config.AdmitBatch = n
		return nil
	}
}

// WithPollInterval sets how often the worker pool triggers admission.
func WithPollInterval(d time.Duration) Option {
	return func(q *Queue) error {
		if d <= 0 {
			return fmt.Errorf("%w: poll interval must be positive, got %s", ErrInvalidConfig, d)
		}
		q.config.PollInterval = d
		return nil
	}
}

// WithShutdownTimeout sets the maximum time to wait for graceful shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(q *Queue) error {
		if d <= 0 {
			return fmt.Errorf("%w: shutdown timeout must be positive, got %s", ErrInvalidConfig, d)
		}
		q.config.ShutdownTimeout = d
		return nil
	}
}

// WithLogger sets the structured logger for the queue.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) error {
		q.logger = l
		return nil
	}
}

// WithStore sets the persistence backend for the queue.
// The store must implement Storer at minimum; typically it will be a
// store.Store which embeds the job store contract.
func WithStore(s Storer) Option {
	return func(q *Queue) error {
		q.store = s
		return nil
	}
}

// WithClock sets the time source. Defaults to SystemClock.
func WithClock(c Clock) Option {
	return func(q *Queue) error {
		if c == nil {
			return fmt.Errorf("%w: clock must not be nil", ErrInvalidConfig)
		}
		q.clock = c
		return nil
	}
}
