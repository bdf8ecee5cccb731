package nats

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/draftline-systems/draftline/common/messaging"
)

// StreamConfig defines a JetStream stream configuration.
type StreamConfig struct {
	// Name is the stream name.
	Name string

	// Subjects are the subjects this stream captures.
	Subjects []string

	// MaxAge is the maximum age of messages in the stream.
	MaxAge time.Duration

	// MaxBytes is the maximum total size of the stream.
	MaxBytes int64

	// MaxMsgs is the maximum number of messages in the stream.
	MaxMsgs int64

	// Retention policy (LimitsPolicy, InterestPolicy, WorkQueuePolicy).
	Retention jetstream.RetentionPolicy

	// Storage type (FileStorage, MemoryStorage).
	Storage jetstream.StorageType
}

// Predefined stream configurations for Draftline. Both streams use interest
// retention so events survive until every durable consumer has acknowledged
// them; subjects are the versioned event type names.
var streams = []StreamConfig{
	{
		Name:      "PROPOSAL_EVENTS",
		Subjects:  []string{"proposal.>"},
		MaxAge:    7 * 24 * time.Hour,
		MaxBytes:  256 * 1024 * 1024, // 256MB
		MaxMsgs:   100000,
		Retention: jetstream.InterestPolicy,
		Storage:   jetstream.FileStorage,
	},
	{
		Name:      "GIT_EVENTS",
		Subjects:  []string{"git.>"},
		MaxAge:    7 * 24 * time.Hour,
		MaxBytes:  256 * 1024 * 1024, // 256MB
		MaxMsgs:   100000,
		Retention: jetstream.InterestPolicy,
		Storage:   jetstream.FileStorage,
	},
}

// streamFor returns the stream configuration owning an event type's subject.
func streamFor(eventType string) (StreamConfig, error) {
	for _, cfg := range streams {
		for _, subj := range cfg.Subjects {
			prefix := strings.TrimSuffix(subj, ">")
			if strings.HasPrefix(eventType, prefix) {
				return cfg, nil
			}
		}
	}
	return StreamConfig{}, fmt.Errorf("no stream captures event type %q: %w", eventType, messaging.ErrInvalidEvent)
}

// ensureStreams creates or updates the Draftline streams.
func (b *Broker) ensureStreams(ctx context.Context) error {
	for _, cfg := range streams {
		_, err := b.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:      cfg.Name,
			Subjects:  cfg.Subjects,
			MaxAge:    cfg.MaxAge,
			MaxBytes:  cfg.MaxBytes,
			MaxMsgs:   cfg.MaxMsgs,
			Retention: cfg.Retention,
			Storage:   cfg.Storage,
		})
		if err != nil {
			return fmt.Errorf("failed to create/update stream %s: %w", cfg.Name, err)
		}
	}
	return nil
}
