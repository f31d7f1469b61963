package services

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"wager-core/internal/config"
	"wager-core/internal/lock"
)

func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return client, nil
}

// LockStores connects one client per configured lock store. The returned
// close function closes every client that was opened.
func LockStores(ctx context.Context, cfg *config.Config) ([]lock.Store, func() error, error) {
	var (
		stores  []lock.Store
		clients []*redis.Client
	)
	closeAll := func() error {
		var firstErr error
		for _, c := range clients {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}

	for _, addr := range cfg.LockStores() {
		client, err := NewRedisClient(ctx, addr, cfg.RedisPass, cfg.RedisDB)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		clients = append(clients, client)
		stores = append(stores, lock.NewRedisStore(client, KeyLockPrefix))
	}
	return stores, closeAll, nil
}
