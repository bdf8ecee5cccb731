package messaging

import "time"

// BrokerKind selects a broker transport implementation.
type BrokerKind string

const (
	// BrokerMemory is the single-process in-memory broker for dev and tests.
	BrokerMemory BrokerKind = "memory"

	// BrokerNATS is the durable at-least-once JetStream broker for production.
	BrokerNATS BrokerKind = "nats"
)

// BrokerConfig holds transport-neutral broker configuration. The factory
// translates it into the selected implementation's own config; call sites
// never branch on the kind themselves.
type BrokerConfig struct {
	// Kind selects the transport.
	Kind BrokerKind

	// HandlerTimeout bounds a single handler invocation. A handler that
	// exceeds it is treated as a delivery failure. Zero means 30s.
	HandlerTimeout time.Duration

	// LogCapacity is the in-memory backend's event log ring size.
	// Zero means 1000.
	LogCapacity int

	// URL is the NATS server URL (e.g. "nats://localhost:4222").
	URL string

	// Name is the client name for connection identification.
	Name string

	// MaxReconnects is the maximum number of reconnection attempts.
	// Use -1 for infinite reconnects.
	MaxReconnects int

	// ReconnectWait is the time to wait between reconnection attempts.
	ReconnectWait time.Duration
}

// DefaultBrokerConfig returns a BrokerConfig with sensible defaults for the
// in-memory backend.
func DefaultBrokerConfig() BrokerConfig {
	return BrokerConfig{
		Kind:           BrokerMemory,
		HandlerTimeout: 30 * time.Second,
		LogCapacity:    1000,
		URL:            "nats://localhost:4222",
		Name:           "draftline",
		MaxReconnects:  -1,
		ReconnectWait:  2 * time.Second,
	}
}
