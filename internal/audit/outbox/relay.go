// Package outbox relays committed audit events to the message bus.
//
// Stores write one outbox row in the same transaction as each audit event.
// The relay claims unpublished rows, produces them, and marks them published
// before releasing the claim, so delivery is at-least-once and replicas never
// publish the same batch concurrently.
package outbox

import (
	"context"
	"log/slog"
	"time"

	"fundops/internal/platform/metrics"
)

// Message is one outbox row.
type Message struct {
	Seq       int64
	Key       string
	EventType string
	Payload   []byte
	CreatedAt time.Time
}

// Source hands out batches of unpublished messages. publish runs while the
// batch is claimed; the batch is marked published only if publish succeeds.
type Source interface {
	Claim(ctx context.Context, limit int, publish func(ctx context.Context, batch []Message) error) (int, error)
}

// Producer delivers a batch to the bus.
type Producer interface {
	Produce(ctx context.Context, batch []Message) error
}

// Relay periodically drains the outbox.
type Relay struct {
	source   Source
	producer Producer
	interval time.Duration
	batch    int
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type Option func(*Relay)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) { r.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Relay) { r.metrics = m }
}

func WithInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batch = n
		}
	}
}

func NewRelay(source Source, producer Producer, opts ...Option) *Relay {
	r := &Relay{
		source:   source,
		producer: producer,
		interval: 2 * time.Second,
		batch:    100,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Flush publishes batches until the outbox is empty or an error occurs.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := r.source.Claim(ctx, r.batch, r.producer.Produce)
		if err != nil {
			r.metrics.IncOutboxFailure()
			return total, err
		}
		total += n
		r.metrics.AddOutboxPublished(n)
		if n < r.batch {
			return total, nil
		}
	}
}

// Run flushes on every tick until ctx is cancelled. Failures are logged and
// retried on the next tick.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := r.Flush(ctx)
			if err != nil {
				r.logger.ErrorContext(ctx, "audit outbox relay failed", "error", err, "published", n)
				continue
			}
			if n > 0 {
				r.logger.DebugContext(ctx, "audit outbox relayed", "published", n)
			}
		}
	}
}
