package lock_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wager-core/internal/lock"
)

func newRedisStores(t *testing.T, n int) ([]lock.Store, []*miniredis.Miniredis) {
	t.Helper()
	stores := make([]lock.Store, n)
	servers := make([]*miniredis.Miniredis, n)
	for i := 0; i < n; i++ {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
		t.Cleanup(func() { client.Close() })
		stores[i] = lock.NewRedisStore(client, "")
		servers[i] = mr
	}
	return stores, servers
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	stores, servers := newRedisStores(t, 1)
	store, mr := stores[0], servers[0]

	ok, err := store.Acquire(ctx, "wallet:1:USD", "token-a", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := mr.Get(lock.DefaultKeyPrefix + "wallet:1:USD")
	require.NoError(t, err)
	assert.Equal(t, "token-a", got)
	assert.Equal(t, time.Second, mr.TTL(lock.DefaultKeyPrefix+"wallet:1:USD"))

	ok, err = store.Acquire(ctx, "wallet:1:USD", "token-b", time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.Extend(ctx, "wallet:1:USD", "token-b", 5*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.Extend(ctx, "wallet:1:USD", "token-a", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 5*time.Second, mr.TTL(lock.DefaultKeyPrefix+"wallet:1:USD"))

	ok, err = store.Release(ctx, "wallet:1:USD", "token-b")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, mr.Exists(lock.DefaultKeyPrefix+"wallet:1:USD"))

	ok, err = store.Release(ctx, "wallet:1:USD", "token-a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, mr.Exists(lock.DefaultKeyPrefix+"wallet:1:USD"))
}

func TestRedisStoreExpiry(t *testing.T) {
	ctx := context.Background()
	stores, servers := newRedisStores(t, 1)

	ok, err := stores[0].Acquire(ctx, "r", "token-a", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	servers[0].FastForward(2 * time.Second)

	ok, err = stores[0].Acquire(ctx, "r", "token-b", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisQuorumWithMinorityDown(t *testing.T) {
	ctx := context.Background()
	stores, servers := newRedisStores(t, 3)
	c, err := lock.NewCoordinator(stores, fastRetry(), lock.WithStoreTimeout(time.Second))
	require.NoError(t, err)

	servers[2].Close()

	l, err := c.TryAcquire(ctx, "wallet:9:BTC", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, servers[0].Exists(lock.DefaultKeyPrefix+"wallet:9:BTC"))
	assert.True(t, servers[1].Exists(lock.DefaultKeyPrefix+"wallet:9:BTC"))

	extended, err := c.Extend(ctx, l, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, servers[0].TTL(lock.DefaultKeyPrefix+"wallet:9:BTC"))

	c.Release(ctx, extended)
	assert.False(t, servers[0].Exists(lock.DefaultKeyPrefix+"wallet:9:BTC"))
	assert.False(t, servers[1].Exists(lock.DefaultKeyPrefix+"wallet:9:BTC"))
}

func TestRedisQuorumWithMajorityDown(t *testing.T) {
	stores, servers := newRedisStores(t, 3)
	c, err := lock.NewCoordinator(stores, fastRetry(), lock.WithStoreTimeout(time.Second))
	require.NoError(t, err)

	servers[1].Close()
	servers[2].Close()

	_, err = c.Acquire(context.Background(), "r", 5*time.Second)
	assert.ErrorIs(t, err, lock.ErrNotAcquired)
	assert.False(t, servers[0].Exists(lock.DefaultKeyPrefix+"r"))
}

func TestRedisWithLockMutualExclusion(t *testing.T) {
	stores, _ := newRedisStores(t, 3)
	c, err := lock.NewCoordinator(stores,
		lock.WithRetry(lock.RetryPolicy{Count: 1000, Delay: time.Millisecond, Jitter: 2 * time.Millisecond}),
		lock.WithStoreTimeout(time.Second),
	)
	require.NoError(t, err)

	var (
		mu      sync.Mutex
		holders int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := c.WithLock(context.Background(), "shared", 5*time.Second, func(context.Context) error {
				mu.Lock()
				holders++
				if holders > maxSeen {
					maxSeen = holders
				}
				mu.Unlock()

				time.Sleep(3 * time.Millisecond)

				mu.Lock()
				holders--
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}
