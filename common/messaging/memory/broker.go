// Package memory provides the single-process in-memory implementation of the
// messaging interfaces. Delivery is synchronous fan-out: Publish returns after
// every handler registered for the event type has run (each bounded by the
// handler timeout). It exists for development and tests; production runs on
// the durable NATS backend.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/draftline-systems/draftline/common/logging"
	"github.com/draftline-systems/draftline/common/messaging"
)

// Config holds in-memory broker configuration.
type Config struct {
	// LogCapacity bounds the retained event log. Oldest entries are evicted
	// once the capacity is exceeded. Zero means 1000.
	LogCapacity int

	// HandlerTimeout bounds a single handler invocation. Zero means 30s.
	HandlerTimeout time.Duration

	// Observer receives delivery notifications. Nil means none.
	Observer messaging.Observer
}

// Broker implements messaging.Broker with synchronous in-process fan-out.
type Broker struct {
	mu       sync.RWMutex
	handlers map[string][]*registration
	nextID   uint64

	log *eventLog

	timeout  time.Duration
	observer messaging.Observer
	logger   *logging.Logger
}

type registration struct {
	id      uint64
	handler messaging.Handler
}

// New creates an in-memory broker.
func New(cfg Config, logger *logging.Logger) *Broker {
	if cfg.LogCapacity <= 0 {
		cfg.LogCapacity = 1000
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = 30 * time.Second
	}
	obs := cfg.Observer
	if obs == nil {
		obs = messaging.NopObserver{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Broker{
		handlers: make(map[string][]*registration),
		log:      newEventLog(cfg.LogCapacity),
		timeout:  cfg.HandlerTimeout,
		observer: obs,
		logger:   logger.With("component", "broker", "backend", "memory"),
	}
}

// Publish assigns an event ID, appends the envelope to the event log and
// fans out to all handlers registered for eventType. Handlers run
// concurrently; Publish waits for all of them, so a handler failure never
// reaches the caller but a slow handler delays only its own slot up to the
// configured timeout.
//
// Zero registered handlers is not an error: the event is logged and dropped.
// Callers that need guaranteed delivery must use the durable backend.
func (b *Broker) Publish(ctx context.Context, topic, eventType, source string, data any, metadata map[string]string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if topic == "" || eventType == "" || source == "" {
		return "", messaging.ErrInvalidEvent
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

	b.log.append(env)
	b.observer.EventPublished(eventType)

	b.mu.RLock()
	regs := make([]*registration, len(b.handlers[eventType]))
	copy(regs, b.handlers[eventType])
	b.mu.RUnlock()

	if len(regs) == 0 {
		b.logger.DebugContext(ctx, "no subscribers for event, dropping",
			"event_type", eventType, "event_id", env.EventID)
		return env.EventID, nil
	}

	var wg sync.WaitGroup
	for _, reg := range regs {
		wg.Add(1)
		go func(reg *registration) {
			defer wg.Done()
			b.dispatch(ctx, reg, env)
		}(reg)
	}
	wg.Wait()

	return env.EventID, nil
}

// dispatch runs a single handler invocation in isolation: its error, panic or
// timeout is logged and counted, never propagated to the publisher or to
// sibling handlers.
func (b *Broker) dispatch(ctx context.Context, reg *registration, env *messaging.Envelope) {
	hctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("handler panic: %v", r)
			}
		}()
		done <- reg.handler(hctx, env.Clone())
	}()

	select {
	case err := <-done:
		if err != nil {
			b.observer.DeliveryFailed(env.EventType)
			b.logger.ErrorContext(ctx, "handler failed",
				"event_type", env.EventType, "event_id", env.EventID, "error", err)
			return
		}
		b.observer.EventDelivered(env.EventType)
	case <-hctx.Done():
		b.observer.DeliveryFailed(env.EventType)
		b.logger.ErrorContext(ctx, "handler timed out",
			"event_type", env.EventType, "event_id", env.EventID, "timeout", b.timeout)
	}
}

// Subscribe registers a handler for the exact eventType string.
func (b *Broker) Subscribe(eventType string, handler messaging.Handler) (messaging.Subscription, error) {
	if eventType == "" {
		return nil, fmt.Errorf("subscribe: event type is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("subscribe: handler is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	reg := &registration{id: b.nextID, handler: handler}
	b.handlers[eventType] = append(b.handlers[eventType], reg)

	return &subscription{broker: b, eventType: eventType, id: reg.id, valid: true}, nil
}

// EventLog returns up to limit retained envelopes, oldest first.
func (b *Broker) EventLog(limit int) ([]*messaging.Envelope, error) {
	return b.log.snapshot(limit), nil
}

// Reset clears all subscriptions and the event log. Test use only.
func (b *Broker) Reset() {
	b.mu.Lock()
	b.handlers = make(map[string][]*registration)
	b.mu.Unlock()
	b.log.reset()
}

// Close releases broker resources. The in-memory broker holds none beyond
// its handler registry, which Close clears.
func (b *Broker) Close() error {
	b.Reset()
	return nil
}

func (b *Broker) unsubscribe(eventType string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	regs := b.handlers[eventType]
	for i, reg := range regs {
		if reg.id == id {
			b.handlers[eventType] = append(regs[:i], regs[i+1:]...)
			break
		}
	}
	if len(b.handlers[eventType]) == 0 {
		delete(b.handlers, eventType)
	}
}

// subscription tracks one handler registration.
type subscription struct {
	broker    *Broker
	eventType string
	id        uint64

	mu    sync.Mutex
	valid bool
}

func (s *subscription) Unsubscribe() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.valid {
		return nil
	}
	s.broker.unsubscribe(s.eventType, s.id)
	s.valid = false
	return nil
}

func (s *subscription) EventType() string {
	return s.eventType
}

func (s *subscription) IsValid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.valid
}
