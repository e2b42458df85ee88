package natsjs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// Default stream settings for triage events.
const (
	DefaultStream = "TRIAGE_EVENTS"
	DefaultMaxAge = 30 * 24 * time.Hour
)

// StreamConfig names the stream and the subjects it captures.
type StreamConfig struct {
	Name     string
	Subjects []string
	MaxAge   time.Duration
}

// DefaultStreamConfig captures every subject under prefix.
func DefaultStreamConfig(prefix string) StreamConfig {
	return StreamConfig{
		Name:     DefaultStream,
		Subjects: []string{prefix + ".>"},
		MaxAge:   DefaultMaxAge,
	}
}

// Publisher wraps NATS JetStream for publishing events
type Publisher struct {
	nc *nats.Conn
	js nats.JetStreamContext
}

// NewPublisher creates a new NATS JetStream publisher
func NewPublisher(url string, opts ...nats.Option) (*Publisher, error) {
	opts = append([]nats.Option{nats.Name("inbox-triage")}, opts...)
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	return &Publisher{nc: nc, js: js}, nil
}

// EnsureStream ensures the configured stream exists
func (p *Publisher) EnsureStream(ctx context.Context, cfg StreamConfig) error {
	// Check if stream exists
	streamInfo, err := p.js.StreamInfo(cfg.Name, nats.Context(ctx))
	if err == nil && streamInfo != nil {
		return nil
	}

	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}

	_, err = p.js.AddStream(&nats.StreamConfig{
		Name:       cfg.Name,
		Subjects:   cfg.Subjects,
		Storage:    nats.FileStorage,
		Retention:  nats.LimitsPolicy,
		Duplicates: 10 * time.Minute,
		MaxAge:     maxAge,
	}, nats.Context(ctx))
	if err != nil {
		if errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			return nil
		}
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// Publish publishes a message to NATS JetStream with deduplication
func (p *Publisher) Publish(ctx context.Context, subject string, payload []byte, msgID string) error {
	_, err := p.js.Publish(subject, payload, nats.MsgId(msgID), nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// Close closes the NATS connection
func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Close()
	}
}
