// Package dedup tracks processed event IDs so consumers of the durable
// broker stay idempotent under at-least-once delivery.
package dedup

import (
	"context"
	"sync"
)

// Store records which event IDs a consumer has already processed.
//
// Consumers check Seen before processing and call MarkProcessed only after
// the outcome is settled. Marking up front would turn a crash mid-processing
// into a permanent skip on redelivery.
type Store interface {
	// Seen reports whether the event ID has been recorded, without
	// recording it.
	Seen(ctx context.Context, eventID string) (bool, error)

	// MarkProcessed records the event ID. It returns true when the ID was
	// newly recorded and false when it had been seen before, atomically, so
	// concurrent redeliveries of the same event yield exactly one true.
	MarkProcessed(ctx context.Context, eventID string) (bool, error)

	// Close releases the backing resources.
	Close() error
}

// MemoryStore implements Store in process memory. Suitable alongside the
// in-memory broker; does not survive restarts.
type MemoryStore struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewMemoryStore creates an empty in-memory dedup store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seen: make(map[string]struct{})}
}

// Seen reports whether the event ID has been recorded.
func (s *MemoryStore) Seen(_ context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[eventID]
	return ok, nil
}

// MarkProcessed records the event ID.
func (s *MemoryStore) MarkProcessed(_ context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[eventID]; ok {
		return false, nil
	}
	s.seen[eventID] = struct{}{}
	return true, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}
