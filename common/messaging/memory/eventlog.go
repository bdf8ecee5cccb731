package memory

import (
	"sync"

	"github.com/draftline-systems/draftline/common/messaging"
)

// eventLog is a bounded ring buffer of published envelopes. It supports
// debugging and test assertions without unbounded memory growth: once
// capacity is exceeded the oldest entries are evicted.
type eventLog struct {
	mu       sync.Mutex
	entries  []*messaging.Envelope
	capacity int
	start    int
	count    int
}

func newEventLog(capacity int) *eventLog {
	return &eventLog{
		entries:  make([]*messaging.Envelope, capacity),
		capacity: capacity,
	}
}

func (l *eventLog) append(env *messaging.Envelope) {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := (l.start + l.count) % l.capacity
	l.entries[idx] = env
	if l.count < l.capacity {
		l.count++
	} else {
		// Buffer full: overwrite the oldest entry.
		l.start = (l.start + 1) % l.capacity
	}
}

// snapshot returns up to limit entries in publish order, oldest first.
// limit <= 0 returns everything retained.
func (l *eventLog) snapshot(limit int) []*messaging.Envelope {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := l.count
	if limit > 0 && limit < n {
		n = limit
	}

	// Take the n most recent entries, preserving publish order.
	out := make([]*messaging.Envelope, 0, n)
	offset := l.count - n
	for i := 0; i < n; i++ {
		idx := (l.start + offset + i) % l.capacity
		out = append(out, l.entries[idx])
	}
	return out
}

func (l *eventLog) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make([]*messaging.Envelope, l.capacity)
	l.start = 0
	l.count = 0
}
