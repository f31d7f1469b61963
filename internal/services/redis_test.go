package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wager-core/internal/config"
	"wager-core/internal/ledger"
	"wager-core/internal/services"
)

func newClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := services.NewRedisClient(context.Background(), mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestNewRedisClientUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := services.NewRedisClient(context.Background(), addr, "", 0)
	assert.Error(t, err)
}

func TestLockStores(t *testing.T) {
	first := miniredis.RunT(t)
	second := miniredis.RunT(t)
	third := miniredis.RunT(t)
	cfg := &config.Config{LockStoreAddrs: []string{first.Addr(), second.Addr(), third.Addr()}}

	stores, closeAll, err := services.LockStores(context.Background(), cfg)
	require.NoError(t, err)
	defer closeAll()
	require.Len(t, stores, 3)

	ok, err := stores[1].Acquire(context.Background(), "wallet:1:USD", "token", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, second.Exists(services.KeyLockPrefix+"wallet:1:USD"))

	third.Close()
	_, _, err = services.LockStores(context.Background(), cfg)
	assert.Error(t, err)
}

func TestActiveGameRegistry(t *testing.T) {
	ctx := context.Background()
	client, mr := newClient(t)
	registry := services.NewActiveGameRegistry(client)

	active, err := registry.HasActiveGames(ctx, 1)
	require.NoError(t, err)
	assert.False(t, active)

	require.NoError(t, registry.Start(ctx, 1, "mines-1"))
	require.NoError(t, registry.Start(ctx, 1, "mines-2"))
	assert.Equal(t, services.TTLActiveGames, mr.TTL("user:1:active_games"))

	active, err = registry.HasActiveGames(ctx, 1)
	require.NoError(t, err)
	assert.True(t, active)

	games, err := registry.Active(ctx, 1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"mines-1", "mines-2"}, games)

	require.NoError(t, registry.Complete(ctx, 1, "mines-1"))
	require.NoError(t, registry.Complete(ctx, 1, "mines-2"))

	active, err = registry.HasActiveGames(ctx, 1)
	require.NoError(t, err)
	assert.False(t, active)

	completed, err := registry.Completed(ctx, 1, 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"mines-1", "mines-2"}, completed)
}

func TestRateLimiter(t *testing.T) {
	ctx := context.Background()
	client, mr := newClient(t)
	limiter := services.NewRateLimiter(client)

	for i := 0; i < 3; i++ {
		allowed, err := limiter.Allow(ctx, 1, "settle", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed)
	}
	allowed, err := limiter.Allow(ctx, 1, "settle", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)

	allowed, err = limiter.Allow(ctx, 2, "settle", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)

	mr.FastForward(2 * time.Minute)
	allowed, err = limiter.Allow(ctx, 1, "settle", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)

	require.NoError(t, limiter.Reset(ctx, 1, "settle"))
	assert.False(t, mr.Exists("ratelimit:1:settle"))
}

func TestEventBus(t *testing.T) {
	client, _ := newClient(t)
	bus := services.NewEventBus(client, nil)

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	received := make(chan ledger.BalanceEvent, 1)
	done := make(chan error, 1)
	go func() {
		done <- bus.Subscribe(ctx, ready, func(ev ledger.BalanceEvent) {
			received <- ev
		})
	}()

	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not ready")
	}

	err := bus.NotifyBalance(context.Background(), ledger.BalanceEvent{
		UserID:       7,
		Asset:        "USD",
		Balance:      decimal.RequireFromString("12.5"),
		OperationIDs: []string{"dep-1"},
	})
	require.NoError(t, err)

	select {
	case ev := <-received:
		assert.Equal(t, int64(7), ev.UserID)
		assert.True(t, decimal.RequireFromString("12.5").Equal(ev.Balance))
		assert.Equal(t, []string{"dep-1"}, ev.OperationIDs)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber did not stop")
	}
}

func TestSessionStore(t *testing.T) {
	ctx := context.Background()
	client, mr := newClient(t)
	sessions := services.NewSessionStore(client)

	revoked, err := sessions.IsRevoked(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, sessions.Revoke(ctx, "s1", time.Now().Add(time.Hour)))
	revoked, err = sessions.IsRevoked(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, revoked)

	// the marker expires with the token
	mr.FastForward(time.Hour)
	revoked, err = sessions.IsRevoked(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, sessions.Revoke(ctx, "s2", time.Now().Add(-time.Minute)))
	revoked, err = sessions.IsRevoked(ctx, "s2")
	require.NoError(t, err)
	assert.False(t, revoked, "already expired tokens need no marker")
}
