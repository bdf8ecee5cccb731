// Package messaging provides abstractions for the Draftline event bus.
// It defines the event envelope exchanged between agents and the Broker
// interface that transport implementations satisfy, so services can publish
// and subscribe to proposal lifecycle events without being coupled to a
// specific backend.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrEventLogUnavailable is returned by EventLog on backends that do not
	// retain an introspectable event history (the durable NATS backend).
	ErrEventLogUnavailable = errors.New("event log not available on this backend")

	// ErrInvalidEvent is returned when a publish request is missing a required
	// field (topic, event type, or source).
	ErrInvalidEvent = errors.New("invalid event: topic, event_type and source are required")
)

// Envelope is the immutable message structure exchanged over the broker.
// The event ID is assigned exactly once at publish time and never mutated;
// consumers treat the whole envelope as read-only.
type Envelope struct {
	// EventID is a globally unique identifier assigned at publish time.
	EventID string `json:"event_id"`

	// Topic is the logical channel the event belongs to.
	Topic string `json:"topic"`

	// EventType is the versioned event name, e.g. "proposal.approved.v1".
	EventType string `json:"event_type"`

	// Source identifies the publisher (agent ID or service name).
	Source string `json:"source"`

	// Data is the JSON-encoded event payload.
	Data json.RawMessage `json:"data"`

	// Metadata contains optional key-value annotations.
	Metadata map[string]string `json:"metadata,omitempty"`

	// Timestamp is the publish time in UTC.
	Timestamp time.Time `json:"timestamp"`
}

// DecodeData unmarshals the envelope payload into v.
func (e *Envelope) DecodeData(v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}

// Clone returns a copy of the envelope with its own metadata map. Handlers
// receive clones so one subscriber cannot mutate what another observes.
func (e *Envelope) Clone() *Envelope {
	cp := *e
	if e.Metadata != nil {
		cp.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// Handler processes a delivered envelope.
// Return an error to indicate processing failure. The durable backend
// redelivers on failure, so handlers must be idempotent with respect to
// Envelope.EventID.
type Handler func(ctx context.Context, env *Envelope) error

// Subscription represents an active subscription to an event type.
type Subscription interface {
	// Unsubscribe stops delivery to this subscription's handler.
	Unsubscribe() error

	// EventType returns the event type this subscription is registered for.
	EventType() string

	// IsValid returns true while the subscription is still active.
	IsValid() bool
}

// Broker is the publish/subscribe transport connecting agents.
// Two implementations exist: an in-memory broker for development and tests,
// and a durable at-least-once broker backed by NATS JetStream.
type Broker interface {
	// Publish assigns an event ID, stamps the envelope and delivers it to all
	// handlers subscribed to eventType. It returns once the event has been
	// delivered (in-memory) or durably enqueued (NATS). The payload is
	// JSON-marshaled into the envelope.
	Publish(ctx context.Context, topic, eventType, source string, data any, metadata map[string]string) (string, error)

	// Subscribe registers a handler for the exact eventType string.
	// Every subscribed handler receives every matching event (fan-out).
	Subscribe(eventType string, handler Handler) (Subscription, error)

	// EventLog returns up to limit recent envelopes in publish order
	// (oldest first). limit <= 0 returns the full retained log.
	// Only the in-memory backend supports this; others return
	// ErrEventLogUnavailable.
	EventLog(limit int) ([]*Envelope, error)

	// Reset clears subscriptions and retained state. Test use only.
	Reset()

	// Close releases the broker's resources.
	Close() error
}

// Observer receives delivery lifecycle notifications, letting callers hook
// metrics into a broker without the transport packages importing them.
type Observer interface {
	// EventPublished is called once per successful publish.
	EventPublished(eventType string)

	// EventDelivered is called after a handler processes an event successfully.
	EventDelivered(eventType string)

	// DeliveryFailed is called when a handler returns an error, panics, or
	// exceeds the per-handler timeout.
	DeliveryFailed(eventType string)
}

// NopObserver is an Observer that does nothing.
type NopObserver struct{}

func (NopObserver) EventPublished(string) {}
func (NopObserver) EventDelivered(string) {}
func (NopObserver) DeliveryFailed(string) {}
