// Package bus carries worker messages over NATS: order status changes and
// tick commands fanned out to the worker fleet.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/genetick/genetick/internal/metrics"
)

// WorkerMessage is the envelope for one unit of worker work.
type WorkerMessage struct {
	ID        uuid.UUID       `json:"id"`
	Event     string          `json:"event"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Decode unmarshals the payload into out.
func (m *WorkerMessage) Decode(out any) error {
	if err := json.Unmarshal(m.Payload, out); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", m.Event, err)
	}
	return nil
}

// Handler processes one worker message. A returned error leaves the message
// unacknowledged in spirit only: delivery is at-least-once and the handler
// must be idempotent.
type Handler func(msg *WorkerMessage) error

// Config configures the bus connection.
type Config struct {
	NATSURL string
	Prefix  string
}

// DefaultConfig returns the local development configuration.
func DefaultConfig() Config {
	return Config{
		NATSURL: nats.DefaultURL,
		Prefix:  "genetick.",
	}
}

// Bus is a thin worker-queue layer over a NATS connection. High-priority
// messages land on their own subject space so backtest chatter cannot starve
// live order confirmations.
type Bus struct {
	nc     *nats.Conn
	prefix string
}

// WorkerQueueGroup is the NATS queue group workers subscribe under, so each
// message is delivered to exactly one worker.
const WorkerQueueGroup = "workers"

// New connects to NATS and returns a bus.
func New(cfg Config) (*Bus, error) {
	nc, err := nats.Connect(
		cfg.NATSURL,
		nats.Name("genetick-worker-bus"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	if cfg.Prefix == "" {
		cfg.Prefix = "genetick."
	}

	log.Info().
		Str("nats_url", cfg.NATSURL).
		Str("prefix", cfg.Prefix).
		Msg("Worker bus connected")

	return &Bus{nc: nc, prefix: cfg.Prefix}, nil
}

func (b *Bus) subject(priority, event string) string {
	return fmt.Sprintf("%sworker.%s.%s", b.prefix, priority, event)
}

// AddWorkerMessageHi enqueues a high-priority worker message.
func (b *Bus) AddWorkerMessageHi(ctx context.Context, event string, payload any) error {
	return b.publish(ctx, "hi", event, payload)
}

// AddWorkerMessage enqueues a normal-priority worker message.
func (b *Bus) AddWorkerMessage(ctx context.Context, event string, payload any) error {
	return b.publish(ctx, "lo", event, payload)
}

func (b *Bus) publish(ctx context.Context, priority, event string, payload any) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if !b.nc.IsConnected() {
		return fmt.Errorf("worker bus not connected")
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", event, err)
	}

	msg := WorkerMessage{
		ID:        uuid.New(),
		Event:     event,
		Payload:   raw,
		Timestamp: time.Now(),
	}
	data, err := json.Marshal(&msg)
	if err != nil {
		return fmt.Errorf("failed to marshal worker message: %w", err)
	}

	subject := b.subject(priority, event)
	if err := b.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	metrics.BusMessagesPublished.WithLabelValues(event).Inc()

	log.Debug().
		Str("message_id", msg.ID.String()).
		Str("event", event).
		Str("subject", subject).
		Msg("Worker message enqueued")
	return nil
}

// SubscribeWorkerHi consumes high-priority messages for one event. Messages
// are load-balanced across all subscribers in the worker queue group.
func (b *Bus) SubscribeWorkerHi(event string, handler Handler) (*nats.Subscription, error) {
	return b.subscribe("hi", event, handler)
}

// SubscribeWorker consumes normal-priority messages for one event.
func (b *Bus) SubscribeWorker(event string, handler Handler) (*nats.Subscription, error) {
	return b.subscribe("lo", event, handler)
}

func (b *Bus) subscribe(priority, event string, handler Handler) (*nats.Subscription, error) {
	subject := b.subject(priority, event)
	sub, err := b.nc.QueueSubscribe(subject, WorkerQueueGroup, func(natsMsg *nats.Msg) {
		var msg WorkerMessage
		if err := json.Unmarshal(natsMsg.Data, &msg); err != nil {
			log.Warn().Err(err).Str("subject", subject).Msg("Failed to unmarshal worker message")
			return
		}

		if err := handler(&msg); err != nil {
			metrics.BusMessagesHandled.WithLabelValues(msg.Event, metrics.OutcomeErrored).Inc()
			log.Error().Err(err).
				Str("message_id", msg.ID.String()).
				Str("event", msg.Event).
				Msg("Worker message handler failed")
			return
		}
		metrics.BusMessagesHandled.WithLabelValues(msg.Event, metrics.OutcomeCompleted).Inc()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	log.Info().Str("subject", subject).Msg("Worker subscription established")
	return sub, nil
}

// Flush waits for all published messages to reach the server.
func (b *Bus) Flush() error {
	return b.nc.Flush()
}

// Close drains the connection.
func (b *Bus) Close() {
	if err := b.nc.Drain(); err != nil {
		log.Warn().Err(err).Msg("Failed to drain NATS connection")
	}
}
