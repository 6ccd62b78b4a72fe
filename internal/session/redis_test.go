package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisStoreFromClient(client, ttl), mr
}

func TestRedisStore_NextCounter(t *testing.T) {
	store, _ := newTestRedisStore(t, time.Minute)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := store.NextCounter(ctx, "10.0.0.1", "PERSON")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	// Independent counter per entity type.
	got, err := store.NextCounter(ctx, "10.0.0.1", "EMAIL_ADDRESS")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)

	// Independent counter per session.
	got, err = store.NextCounter(ctx, "10.0.0.2", "PERSON")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)
}

func TestRedisStore_NextCounter_Concurrent(t *testing.T) {
	store, _ := newTestRedisStore(t, time.Minute)
	ctx := context.Background()

	const workers = 32

	var wg sync.WaitGroup
	results := make(chan int64, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := store.NextCounter(ctx, "sess", "PERSON")
			assert.NoError(t, err)
			results <- n
		}()
	}
	wg.Wait()
	close(results)

	// All values distinct and exactly 1..workers: no collisions, no gaps.
	seen := make(map[int64]bool, workers)
	for n := range results {
		assert.False(t, seen[n], "duplicate counter value %d", n)
		seen[n] = true
	}
	for want := int64(1); want <= workers; want++ {
		assert.True(t, seen[want], "missing counter value %d", want)
	}
}

func TestRedisStore_Mappings(t *testing.T) {
	store, _ := newTestRedisStore(t, time.Minute)
	ctx := context.Background()

	ph := "[CONFIDENTIAL_PERSON_1]"
	require.NoError(t, store.PutMapping(ctx, "sess", ph, "John Doe"))

	val, found, err := store.GetMapping(ctx, "sess", ph)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "John Doe", val)

	// Non-destructive read.
	_, found, err = store.GetMapping(ctx, "sess", ph)
	require.NoError(t, err)
	assert.True(t, found)

	// Absence is a normal outcome, not an error.
	_, found, err = store.GetMapping(ctx, "sess", "[CONFIDENTIAL_PERSON_99]")
	require.NoError(t, err)
	assert.False(t, found)

	// Wrong session does not see the mapping.
	_, found, err = store.GetMapping(ctx, "other", ph)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisStore_TTLExpiry(t *testing.T) {
	store, mr := newTestRedisStore(t, 30*time.Second)
	ctx := context.Background()

	require.NoError(t, store.PutMapping(ctx, "sess", "[CONFIDENTIAL_PERSON_1]", "John Doe"))
	_, err := store.NextCounter(ctx, "sess", "PERSON")
	require.NoError(t, err)

	mr.FastForward(31 * time.Second)

	_, found, err := store.GetMapping(ctx, "sess", "[CONFIDENTIAL_PERSON_1]")
	require.NoError(t, err)
	assert.False(t, found, "mapping must be unrecoverable after TTL")

	// Counter restarts from scratch after expiry.
	n, err := store.NextCounter(ctx, "sess", "PERSON")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRedisStore_TTLRefreshOnWrite(t *testing.T) {
	store, mr := newTestRedisStore(t, 30*time.Second)
	ctx := context.Background()

	require.NoError(t, store.PutMapping(ctx, "sess", "[CONFIDENTIAL_PERSON_1]", "John Doe"))
	mr.FastForward(20 * time.Second)
	require.NoError(t, store.PutMapping(ctx, "sess", "[CONFIDENTIAL_PERSON_1]", "John Doe"))
	mr.FastForward(20 * time.Second)

	// 40s since the first write, 20s since the refresh: still alive.
	_, found, err := store.GetMapping(ctx, "sess", "[CONFIDENTIAL_PERSON_1]")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestRedisStore_ClearSession(t *testing.T) {
	store, _ := newTestRedisStore(t, time.Minute)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		ph := fmt.Sprintf("[CONFIDENTIAL_PERSON_%d]", i)
		require.NoError(t, store.PutMapping(ctx, "sess", ph, "value"))
		_, err := store.NextCounter(ctx, "sess", "PERSON")
		require.NoError(t, err)
	}
	require.NoError(t, store.PutMapping(ctx, "other", "[CONFIDENTIAL_PERSON_1]", "keep"))

	require.NoError(t, store.ClearSession(ctx, "sess"))

	_, found, err := store.GetMapping(ctx, "sess", "[CONFIDENTIAL_PERSON_1]")
	require.NoError(t, err)
	assert.False(t, found)

	// Other sessions are untouched.
	val, found, err := store.GetMapping(ctx, "other", "[CONFIDENTIAL_PERSON_1]")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "keep", val)

	// Clearing an unknown session is a no-op.
	require.NoError(t, store.ClearSession(ctx, "ghost"))
}
