package natsjs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Martian-dev/inbox-triage/internal/eventstore/sqlite"
	"github.com/Martian-dev/inbox-triage/internal/metrics"
)

// Outbox is the durable queue the dispatcher drains.
type Outbox interface {
	DequeueOutbox(ctx context.Context, limit int) ([]sqlite.OutboxMessage, error)
	MarkPublished(ctx context.Context, id int64) error
	MarkOutboxRetry(ctx context.Context, id int64, backoff time.Duration) error
}

// EventPublisher sends one deduplicated message to the broker.
type EventPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte, msgID string) error
}

// Dispatcher moves outbox rows to the broker.
type Dispatcher struct {
	outbox    Outbox
	publisher EventPublisher
	log       *zap.Logger

	Interval    time.Duration
	BatchSize   int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// NewDispatcher returns a dispatcher with default pacing.
func NewDispatcher(outbox Outbox, publisher EventPublisher, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		outbox:      outbox,
		publisher:   publisher,
		log:         log,
		Interval:    time.Second,
		BatchSize:   100,
		BaseBackoff: 10 * time.Second,
		MaxBackoff:  10 * time.Minute,
	}
}

// Run drains the outbox every Interval until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	d.log.Info("outbox dispatcher started",
		zap.Duration("interval", d.Interval),
		zap.Int("batch_size", d.BatchSize),
	)

	ticker := time.NewTicker(d.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.log.Info("outbox dispatcher stopped")
			return
		case <-ticker.C:
			if _, err := d.DispatchOnce(ctx); err != nil && ctx.Err() == nil {
				d.log.Error("failed to dequeue outbox", zap.Error(err))
			}
		}
	}
}

// DispatchOnce publishes one batch and returns how many rows were published.
// Publish failures are rescheduled with exponential backoff.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	messages, err := d.outbox.DequeueOutbox(ctx, d.BatchSize)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, msg := range messages {
		if err := d.publisher.Publish(ctx, msg.Subject, msg.Payload, msg.MsgID); err != nil {
			metrics.IncrementOutbox("failed")
			backoff := d.backoff(msg.Retries)
			d.log.Warn("failed to publish outbox event",
				zap.Int64("outbox_id", msg.ID),
				zap.String("subject", msg.Subject),
				zap.Duration("retry_in", backoff),
				zap.Error(err),
			)
			if err := d.outbox.MarkOutboxRetry(ctx, msg.ID, backoff); err != nil {
				d.log.Error("failed to schedule outbox retry", zap.Int64("outbox_id", msg.ID), zap.Error(err))
			}
			continue
		}

		metrics.IncrementOutbox("published")
		if err := d.outbox.MarkPublished(ctx, msg.ID); err != nil {
			d.log.Error("failed to mark outbox event published", zap.Int64("outbox_id", msg.ID), zap.Error(err))
			continue
		}
		published++
	}

	return published, nil
}

func (d *Dispatcher) backoff(retries int) time.Duration {
	b := d.BaseBackoff
	for i := 0; i < retries && b < d.MaxBackoff; i++ {
		b *= 2
	}
	if d.MaxBackoff > 0 && b > d.MaxBackoff {
		b = d.MaxBackoff
	}
	return b
}
