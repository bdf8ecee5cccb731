package dedup

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreMarkProcessed(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	fresh, err := s.MarkProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = s.MarkProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, fresh)

	fresh, err = s.MarkProcessed(ctx, "evt-2")
	require.NoError(t, err)
	assert.True(t, fresh)
}

func TestMemoryStoreSeen(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	seen, err := s.Seen(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, seen, "Seen must not record the ID")

	fresh, err := s.MarkProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, fresh)

	seen, err = s.Seen(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestMemoryStoreConcurrentSingleWinner(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	const racers = 16
	var wg sync.WaitGroup
	results := make([]bool, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			fresh, err := s.MarkProcessed(ctx, "evt-race")
			require.NoError(t, err)
			results[i] = fresh
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, fresh := range results {
		if fresh {
			wins++
		}
	}
	assert.Equal(t, 1, wins)
}

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewRedisStore(context.Background(), fmt.Sprintf("redis://%s/0", mr.Addr()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestRedisStoreMarkProcessed(t *testing.T) {
	s, _ := newRedisStore(t)
	ctx := context.Background()

	fresh, err := s.MarkProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = s.MarkProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, fresh)
}

func TestRedisStoreSeen(t *testing.T) {
	s, _ := newRedisStore(t)
	ctx := context.Background()

	seen, err := s.Seen(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, seen, "Seen must not record the ID")

	_, err = s.MarkProcessed(ctx, "evt-1")
	require.NoError(t, err)

	seen, err = s.Seen(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestRedisStoreMarkerExpires(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()

	_, err := s.MarkProcessed(ctx, "evt-ttl")
	require.NoError(t, err)

	ttl := mr.TTL(keyPrefix + "evt-ttl")
	assert.Equal(t, processedTTL, ttl)

	mr.FastForward(processedTTL + time.Minute)
	fresh, err := s.MarkProcessed(ctx, "evt-ttl")
	require.NoError(t, err)
	assert.True(t, fresh, "expired markers free the event ID again")
}

func TestNewRedisStoreBadURL(t *testing.T) {
	_, err := NewRedisStore(context.Background(), "not-a-url")
	require.Error(t, err)
}

func TestNewRedisStoreUnreachable(t *testing.T) {
	_, err := NewRedisStore(context.Background(), "redis://127.0.0.1:1/0")
	require.Error(t, err)
}
