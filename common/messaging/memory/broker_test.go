package memory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftline-systems/draftline/common/messaging"
)

type payload struct {
	Name string `json:"name"`
}

func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	b := New(Config{LogCapacity: 100, HandlerTimeout: 2 * time.Second}, nil)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestPublishNoSubscribers(t *testing.T) {
	b := newTestBroker(t)

	id, err := b.Publish(context.Background(), messaging.TopicProposals,
		messaging.EventProposalCreated, "test", payload{Name: "orphan"}, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	// Dropped events are still retained in the log.
	log, err := b.EventLog(10)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, id, log[0].EventID)
}

func TestPublishValidation(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		topic     string
		eventType string
		source    string
	}{
		{"missing topic", "", messaging.EventProposalCreated, "test"},
		{"missing event type", messaging.TopicProposals, "", "test"},
		{"missing source", messaging.TopicProposals, messaging.EventProposalCreated, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.Publish(ctx, tt.topic, tt.eventType, tt.source, payload{}, nil)
			assert.ErrorIs(t, err, messaging.ErrInvalidEvent)
		})
	}
}

func TestPublishFanOut(t *testing.T) {
	b := newTestBroker(t)

	var first, second atomic.Int32
	_, err := b.Subscribe(messaging.EventProposalCreated, func(_ context.Context, env *messaging.Envelope) error {
		var p payload
		if err := env.DecodeData(&p); err != nil {
			return err
		}
		if p.Name == "fan" {
			first.Add(1)
		}
		return nil
	})
	require.NoError(t, err)
	_, err = b.Subscribe(messaging.EventProposalCreated, func(_ context.Context, _ *messaging.Envelope) error {
		second.Add(1)
		return nil
	})
	require.NoError(t, err)

	_, err = b.Publish(context.Background(), messaging.TopicProposals,
		messaging.EventProposalCreated, "test", payload{Name: "fan"}, nil)
	require.NoError(t, err)

	// Publish waits for all handlers, no sleep needed.
	assert.Equal(t, int32(1), first.Load())
	assert.Equal(t, int32(1), second.Load())
}

func TestPublishTypeIsolation(t *testing.T) {
	b := newTestBroker(t)

	var called atomic.Int32
	_, err := b.Subscribe(messaging.EventProposalRejected, func(_ context.Context, _ *messaging.Envelope) error {
		called.Add(1)
		return nil
	})
	require.NoError(t, err)

	_, err = b.Publish(context.Background(), messaging.TopicProposals,
		messaging.EventProposalApproved, "test", payload{}, nil)
	require.NoError(t, err)

	assert.Zero(t, called.Load(), "handler for a different event type must not run")
}

func TestHandlerErrorDoesNotReachPublisher(t *testing.T) {
	b := newTestBroker(t)

	var healthy atomic.Int32
	_, err := b.Subscribe(messaging.EventProposalCreated, func(_ context.Context, _ *messaging.Envelope) error {
		return errors.New("boom")
	})
	require.NoError(t, err)
	_, err = b.Subscribe(messaging.EventProposalCreated, func(_ context.Context, _ *messaging.Envelope) error {
		healthy.Add(1)
		return nil
	})
	require.NoError(t, err)

	_, err = b.Publish(context.Background(), messaging.TopicProposals,
		messaging.EventProposalCreated, "test", payload{}, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), healthy.Load())
}

func TestHandlerPanicIsolated(t *testing.T) {
	b := newTestBroker(t)

	var healthy atomic.Int32
	_, err := b.Subscribe(messaging.EventProposalCreated, func(_ context.Context, _ *messaging.Envelope) error {
		panic("handler bug")
	})
	require.NoError(t, err)
	_, err = b.Subscribe(messaging.EventProposalCreated, func(_ context.Context, _ *messaging.Envelope) error {
		healthy.Add(1)
		return nil
	})
	require.NoError(t, err)

	_, err = b.Publish(context.Background(), messaging.TopicProposals,
		messaging.EventProposalCreated, "test", payload{}, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), healthy.Load())
}

func TestHandlerTimeout(t *testing.T) {
	b := New(Config{HandlerTimeout: 50 * time.Millisecond}, nil)
	defer b.Close()

	release := make(chan struct{})
	defer close(release)
	_, err := b.Subscribe(messaging.EventProposalCreated, func(ctx context.Context, _ *messaging.Envelope) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})
	require.NoError(t, err)

	start := time.Now()
	_, err = b.Publish(context.Background(), messaging.TopicProposals,
		messaging.EventProposalCreated, "test", payload{}, nil)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second, "publish must not block past handler timeout")
}

func TestHandlerSeesClone(t *testing.T) {
	b := newTestBroker(t)

	_, err := b.Subscribe(messaging.EventProposalCreated, func(_ context.Context, env *messaging.Envelope) error {
		env.Metadata["tampered"] = "yes"
		env.Data[0] = 'X'
		return nil
	})
	require.NoError(t, err)

	_, err = b.Publish(context.Background(), messaging.TopicProposals,
		messaging.EventProposalCreated, "test", payload{Name: "sealed"},
		map[string]string{"origin": "test"})
	require.NoError(t, err)

	log, err := b.EventLog(1)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.NotContains(t, log[0].Metadata, "tampered")

	var p payload
	require.NoError(t, log[0].DecodeData(&p))
	assert.Equal(t, "sealed", p.Name)
}

func TestUnsubscribe(t *testing.T) {
	b := newTestBroker(t)

	var called atomic.Int32
	sub, err := b.Subscribe(messaging.EventProposalCreated, func(_ context.Context, _ *messaging.Envelope) error {
		called.Add(1)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, sub.IsValid())
	assert.Equal(t, messaging.EventProposalCreated, sub.EventType())

	require.NoError(t, sub.Unsubscribe())
	assert.False(t, sub.IsValid())
	// Idempotent.
	require.NoError(t, sub.Unsubscribe())

	_, err = b.Publish(context.Background(), messaging.TopicProposals,
		messaging.EventProposalCreated, "test", payload{}, nil)
	require.NoError(t, err)
	assert.Zero(t, called.Load())
}

func TestEventLogOrderAndLimit(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	names := []string{"a", "b", "c", "d"}
	for _, name := range names {
		_, err := b.Publish(ctx, messaging.TopicProposals,
			messaging.EventProposalCreated, "test", payload{Name: name}, nil)
		require.NoError(t, err)
	}

	log, err := b.EventLog(0)
	require.NoError(t, err)
	require.Len(t, log, 4)

	// Oldest first.
	for i, env := range log {
		var p payload
		require.NoError(t, env.DecodeData(&p))
		assert.Equal(t, names[i], p.Name)
	}

	// A limit keeps the most recent entries, still oldest first.
	limited, err := b.EventLog(2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	var p payload
	require.NoError(t, limited[0].DecodeData(&p))
	assert.Equal(t, "c", p.Name)
}

func TestEventLogEviction(t *testing.T) {
	b := New(Config{LogCapacity: 3}, nil)
	defer b.Close()
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c", "d", "e"} {
		_, err := b.Publish(ctx, messaging.TopicProposals,
			messaging.EventProposalCreated, "test", payload{Name: name}, nil)
		require.NoError(t, err)
	}

	log, err := b.EventLog(0)
	require.NoError(t, err)
	require.Len(t, log, 3)

	got := make([]string, 0, 3)
	for _, env := range log {
		var p payload
		require.NoError(t, env.DecodeData(&p))
		got = append(got, p.Name)
	}
	assert.Equal(t, []string{"c", "d", "e"}, got)
}

func TestReset(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	var called atomic.Int32
	_, err := b.Subscribe(messaging.EventProposalCreated, func(_ context.Context, _ *messaging.Envelope) error {
		called.Add(1)
		return nil
	})
	require.NoError(t, err)

	_, err = b.Publish(ctx, messaging.TopicProposals,
		messaging.EventProposalCreated, "test", payload{}, nil)
	require.NoError(t, err)

	b.Reset()

	log, err := b.EventLog(0)
	require.NoError(t, err)
	assert.Empty(t, log)

	_, err = b.Publish(ctx, messaging.TopicProposals,
		messaging.EventProposalCreated, "test", payload{}, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), called.Load(), "handlers cleared by Reset must not fire")
}
