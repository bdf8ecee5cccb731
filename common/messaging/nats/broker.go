// Package nats provides the durable NATS JetStream implementation of the
// messaging interfaces. Delivery is at-least-once per subscription: a handler
// may observe the same event more than once, so handlers must be idempotent
// with respect to the envelope's event ID.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/draftline-systems/draftline/common/logging"
	"github.com/draftline-systems/draftline/common/messaging"
)

// Config holds NATS broker configuration.
type Config struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	URL string

	// Name is the client name for connection identification.
	Name string

	// MaxReconnects is the maximum number of reconnection attempts.
	// Use -1 for infinite reconnects.
	MaxReconnects int

	// ReconnectWait is the time to wait between reconnection attempts.
	ReconnectWait time.Duration

	// Timeout is the connection timeout.
	Timeout time.Duration

	// HandlerTimeout bounds a single handler invocation. Zero means 30s.
	HandlerTimeout time.Duration

	// Observer receives delivery notifications. Nil means none.
	Observer messaging.Observer

	// Username for authentication (optional).
	Username string

	// Password for authentication (optional).
	Password string

	// Token for token-based authentication (optional).
	Token string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:            nats.DefaultURL,
		Name:           "draftline-broker",
		MaxReconnects:  -1, // Infinite reconnects
		ReconnectWait:  2 * time.Second,
		Timeout:        5 * time.Second,
		HandlerTimeout: 30 * time.Second,
	}
}

// Broker implements messaging.Broker on NATS JetStream. Publish waits for the
// stream's acknowledgment, so a returned event ID means the event is durably
// enqueued. Each subscribed event type gets a durable consumer named after
// the client name and the event type, so the consumer resumes its stream
// position across restarts. One subscription per event type per broker.
type Broker struct {
	conn *nats.Conn
	js   jetstream.JetStream
	name string

	mu         sync.Mutex
	nextSub    uint64
	stoppers   map[uint64]func()
	subscribed map[string]bool

	timeout  time.Duration
	observer messaging.Observer
	logger   *logging.Logger
}

// New connects to NATS, initializes JetStream and ensures the Draftline
// streams exist.
func New(ctx context.Context, cfg Config, logger *logging.Logger) (*Broker, error) {
	if logger == nil {
		logger = logging.Default()
	}
	log := logger.With("component", "broker", "backend", "nats")

	// The client name seeds durable consumer names, so it must never be
	// empty and must stay stable across restarts.
	if cfg.Name == "" {
		cfg.Name = "draftline-broker"
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Error("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info("NATS reconnected")
		}),
	}

	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	timeout := cfg.HandlerTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	obs := cfg.Observer
	if obs == nil {
		obs = messaging.NopObserver{}
	}

	b := &Broker{
		conn:       conn,
		js:         js,
		name:       cfg.Name,
		stoppers:   make(map[uint64]func()),
		subscribed: make(map[string]bool),
		timeout:    timeout,
		observer:   obs,
		logger:     log,
	}

	if err := b.ensureStreams(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	return b, nil
}

// Publish marshals the payload into an envelope and publishes it to the
// JetStream subject named by the event type, waiting for the stream ack.
func (b *Broker) Publish(ctx context.Context, topic, eventType, source string, data any, metadata map[string]string) (string, error) {
	if topic == "" || eventType == "" || source == "" {
		return "", messaging.ErrInvalidEvent
	}
	if _, err := streamFor(eventType); err != nil {
		return "", err
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshal event data: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate event ID: %w", err)
	}

	env := &messaging.Envelope{
		EventID:   id.String(),
		Topic:     topic,
		EventType: eventType,
		Source:    source,
		Data:      payload,
		Metadata:  metadata,
		Timestamp: time.Now().UTC(),
	}

	bytes, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}

	if _, err := b.js.Publish(ctx, eventType, bytes); err != nil {
		return "", fmt.Errorf("publish %s: %w", eventType, err)
	}

	b.observer.EventPublished(eventType)
	return env.EventID, nil
}

// Subscribe creates a durable consumer filtered to the event type and starts
// consuming. Handler errors trigger a NAK with delay, so JetStream redelivers
// up to the consumer's MaxDeliver.
func (b *Broker) Subscribe(eventType string, handler messaging.Handler) (messaging.Subscription, error) {
	if eventType == "" {
		return nil, fmt.Errorf("subscribe: event type is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("subscribe: handler is required")
	}

	streamCfg, err := streamFor(eventType)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	if b.subscribed[eventType] {
		b.mu.Unlock()
		return nil, fmt.Errorf("subscribe: event type %s already has a consumer on this broker", eventType)
	}
	b.subscribed[eventType] = true
	b.nextSub++
	subID := b.nextSub
	b.mu.Unlock()

	release := func() {
		b.mu.Lock()
		delete(b.subscribed, eventType)
		b.mu.Unlock()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := b.js.Stream(ctx, streamCfg.Name)
	if err != nil {
		release()
		return nil, fmt.Errorf("failed to get stream %s: %w", streamCfg.Name, err)
	}

	consumerName := consumerNameFor(b.name, eventType)
	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		FilterSubject: eventType,
		AckWait:       b.timeout + 5*time.Second,
		MaxDeliver:    3,
		MaxAckPending: 100,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		release()
		return nil, fmt.Errorf("failed to create/update consumer %s: %w", consumerName, err)
	}

	cons, err := consumer.Consume(func(msg jetstream.Msg) {
		b.handleMsg(msg, eventType, handler)
	})
	if err != nil {
		release()
		return nil, fmt.Errorf("failed to start consuming %s: %w", eventType, err)
	}

	stop := func() { cons.Stop() }
	b.mu.Lock()
	b.stoppers[subID] = stop
	b.mu.Unlock()

	return &subscription{broker: b, eventType: eventType, id: subID}, nil
}

func (b *Broker) handleMsg(msg jetstream.Msg, eventType string, handler messaging.Handler) {
	var env messaging.Envelope
	if err := json.Unmarshal(msg.Data(), &env); err != nil {
		b.logger.Error("failed to unmarshal envelope, dropping",
			"event_type", eventType, "error", err)
		_ = msg.Term()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	if err := handler(ctx, &env); err != nil {
		b.observer.DeliveryFailed(eventType)
		b.logger.Error("handler failed, scheduling redelivery",
			"event_type", eventType, "event_id", env.EventID, "error", err)
		_ = msg.NakWithDelay(5 * time.Second)
		return
	}

	b.observer.EventDelivered(eventType)
	_ = msg.Ack()
}

// EventLog is unsupported on the durable backend; JetStream retention is the
// authoritative history.
func (b *Broker) EventLog(int) ([]*messaging.Envelope, error) {
	return nil, messaging.ErrEventLogUnavailable
}

// Reset stops all consumers and purges the Draftline streams. Test use only.
func (b *Broker) Reset() {
	b.mu.Lock()
	for _, stop := range b.stoppers {
		stop()
	}
	b.stoppers = make(map[uint64]func())
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, cfg := range streams {
		stream, err := b.js.Stream(ctx, cfg.Name)
		if err != nil {
			continue
		}
		if err := stream.Purge(ctx); err != nil {
			b.logger.Error("failed to purge stream", "stream", cfg.Name, "error", err)
		}
	}
}

// Close stops all consumers and drains the connection.
func (b *Broker) Close() error {
	b.mu.Lock()
	for _, stop := range b.stoppers {
		stop()
	}
	b.stoppers = make(map[uint64]func())
	b.mu.Unlock()

	return b.conn.Drain()
}

// IsConnected returns true if connected to NATS.
func (b *Broker) IsConnected() bool {
	return b.conn.IsConnected()
}

func (b *Broker) unsubscribe(id uint64, eventType string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if stop, ok := b.stoppers[id]; ok {
		stop()
		delete(b.stoppers, id)
		delete(b.subscribed, eventType)
	}
}

// consumerNameFor derives a durable consumer name from the client name and
// the event type. The name is stable across process restarts regardless of
// subscription order, so an existing durable consumer is never repointed at
// a different filter subject. Dots are not valid in consumer names.
func consumerNameFor(clientName, eventType string) string {
	return strings.ReplaceAll(clientName+"-"+eventType, ".", "-")
}

// subscription wraps a running JetStream consumer.
type subscription struct {
	broker    *Broker
	eventType string
	id        uint64

	mu   sync.Mutex
	done bool
}

func (s *subscription) Unsubscribe() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil
	}
	s.broker.unsubscribe(s.id, s.eventType)
	s.done = true
	return nil
}

func (s *subscription) EventType() string {
	return s.eventType
}

func (s *subscription) IsValid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.done
}
