package services

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ActiveGameRegistry tracks multi-step games a user has in flight. Seed
// rotation is refused while any are open.
type ActiveGameRegistry struct {
	client redis.UniversalClient
}

func NewActiveGameRegistry(client redis.UniversalClient) *ActiveGameRegistry {
	return &ActiveGameRegistry{client: client}
}

func (r *ActiveGameRegistry) Start(ctx context.Context, userID int64, gameID string) error {
	key := fmt.Sprintf(KeyUserActiveGames, userID)
	if err := r.client.SAdd(ctx, key, gameID).Err(); err != nil {
		return fmt.Errorf("failed to add to active games: %w", err)
	}
	r.client.Expire(ctx, key, TTLActiveGames)
	return nil
}

// Complete moves a game from the active set to the capped completed list.
func (r *ActiveGameRegistry) Complete(ctx context.Context, userID int64, gameID string) error {
	activeKey := fmt.Sprintf(KeyUserActiveGames, userID)
	if err := r.client.SRem(ctx, activeKey, gameID).Err(); err != nil {
		return fmt.Errorf("failed to remove from active games: %w", err)
	}

	completedKey := fmt.Sprintf(KeyUserCompletedGames, userID)
	if err := r.client.ZAdd(ctx, completedKey, redis.Z{
		Score:  float64(time.Now().Unix()),
		Member: gameID,
	}).Err(); err != nil {
		return fmt.Errorf("failed to add to completed games: %w", err)
	}

	r.client.ZRemRangeByRank(ctx, completedKey, 0, -MaxCompletedGames-1)
	return nil
}

func (r *ActiveGameRegistry) Active(ctx context.Context, userID int64) ([]string, error) {
	games, err := r.client.SMembers(ctx, fmt.Sprintf(KeyUserActiveGames, userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get active games: %w", err)
	}
	return games, nil
}

// Completed lists finished games, newest first.
func (r *ActiveGameRegistry) Completed(ctx context.Context, userID int64, limit int64) ([]string, error) {
	if limit <= 0 || limit > MaxCompletedGames {
		limit = 50
	}
	games, err := r.client.ZRevRange(ctx, fmt.Sprintf(KeyUserCompletedGames, userID), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get completed games: %w", err)
	}
	return games, nil
}

func (r *ActiveGameRegistry) HasActiveGames(ctx context.Context, userID int64) (bool, error) {
	n, err := r.client.SCard(ctx, fmt.Sprintf(KeyUserActiveGames, userID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to count active games: %w", err)
	}
	return n > 0, nil
}
