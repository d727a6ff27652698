package amqphook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/scribely/tierq/backoff"
)

// DefaultExchange is the topic exchange events are published to.
const DefaultExchange = "tierq.events"

// ErrNotConnected is returned by Publish while the broker connection
// is down and the redial loop has not restored it yet.
var ErrNotConnected = errors.New("tierq/amqp: not connected")

// Publisher maintains one AMQP connection and channel and re-dials
// with backoff when the broker drops it. Publishing while disconnected
// fails fast with [ErrNotConnected] rather than blocking the caller;
// lifecycle hooks tolerate lost events, queue operations do not
// tolerate stalls.
type Publisher struct {
	url      string
	exchange string
	strategy backoff.Strategy
	logger   *slog.Logger

	mu        sync.Mutex
	conn      *amqp.Connection
	channel   *amqp.Channel
	redialing bool
	closed    bool

	stopCh chan struct{}
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithExchange sets the topic exchange name.
func WithExchange(name string) PublisherOption {
	return func(p *Publisher) { p.exchange = name }
}

// WithBackoff sets the redial delay strategy.
func WithBackoff(s backoff.Strategy) PublisherOption {
	return func(p *Publisher) { p.strategy = s }
}

// WithPublisherLogger sets the structured logger.
func WithPublisherLogger(l *slog.Logger) PublisherOption {
	return func(p *Publisher) { p.logger = l }
}

// NewPublisher dials the broker and declares the topic exchange.
func NewPublisher(url string, opts ...PublisherOption) (*Publisher, error) {
	p := &Publisher{
		url:      url,
		exchange: DefaultExchange,
		strategy: backoff.NewExponentialWithJitter(time.Second, 30*time.Second),
		logger:   slog.Default(),
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.connectLocked(); err != nil {
		return nil, fmt.Errorf("tierq/amqp: dial %s: %w", p.exchange, err)
	}
	return p, nil
}

// Publish sends body to the topic exchange under the given routing
// key. Messages are persistent JSON.
func (p *Publisher) Publish(ctx context.Context, routingKey string, body []byte) error {
	p.mu.Lock()
	ch := p.channel
	p.mu.Unlock()

	if ch == nil {
		return ErrNotConnected
	}

	err := ch.PublishWithContext(ctx,
		p.exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	)
	if err != nil {
		p.scheduleRedial()
		return fmt.Errorf("tierq/amqp: publish %s: %w", routingKey, err)
	}
	return nil
}

// Close tears the connection down and stops the redial loop.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.stopCh)

	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			_ = p.conn.Close()
			p.channel, p.conn = nil, nil
			return fmt.Errorf("tierq/amqp: close channel: %w", err)
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			p.channel, p.conn = nil, nil
			return fmt.Errorf("tierq/amqp: close connection: %w", err)
		}
	}
	p.channel, p.conn = nil, nil
	return nil
}

// ── internals ───────────────────────────────────────

// connectLocked dials, opens a channel and declares the exchange.
// Caller holds p.mu.
func (p *Publisher) connectLocked() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return err
	}
	if err := ch.ExchangeDeclare(
		p.exchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}

	p.conn, p.channel = conn, ch

	// A broker-initiated close triggers the redial loop without
	// waiting for the next publish to fail.
	closings := conn.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		if amqpErr, ok := <-closings; ok && amqpErr != nil {
			p.logger.Warn("amqp connection lost", slog.String("error", amqpErr.Error()))
			p.scheduleRedial()
		}
	}()
	return nil
}

// scheduleRedial drops the dead connection and starts one redial loop.
func (p *Publisher) scheduleRedial() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.redialing || p.closed {
		return
	}
	p.redialing = true
	p.teardownLocked()
	go p.redialLoop()
}

func (p *Publisher) redialLoop() {
	for attempt := 1; ; attempt++ {
		select {
		case <-p.stopCh:
			return
		case <-time.After(p.strategy.Delay(attempt)):
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return
		}
		err := p.connectLocked()
		if err == nil {
			p.redialing = false
			p.mu.Unlock()
			p.logger.Info("amqp reconnected", slog.Int("attempts", attempt))
			return
		}
		p.mu.Unlock()

		p.logger.Warn("amqp redial failed",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
	}
}

// teardownLocked closes whatever remains of the connection. Caller
// holds p.mu.
func (p *Publisher) teardownLocked() {
	if p.channel != nil {
		_ = p.channel.Close() //nolint:errcheck // already dead
		p.channel = nil
	}
	if p.conn != nil {
		_ = p.conn.Close() //nolint:errcheck // already dead
		p.conn = nil
	}
}
