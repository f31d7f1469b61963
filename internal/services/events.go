package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"wager-core/internal/ledger"
)

// EventBus fans balance events out to every API instance over Redis
// pub/sub. It implements ledger.Notifier.
type EventBus struct {
	client redis.UniversalClient
	logger *slog.Logger
}

func NewEventBus(client redis.UniversalClient, logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &EventBus{
		client: client,
		logger: logger,
	}
}

func (b *EventBus) NotifyBalance(ctx context.Context, event ledger.BalanceEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal balance event: %w", err)
	}
	if err := b.client.Publish(ctx, ChannelBalanceEvents, data).Err(); err != nil {
		return fmt.Errorf("failed to publish balance event: %w", err)
	}
	return nil
}

// Subscribe delivers balance events to fn until ctx is done. ready, if not
// nil, is closed once the subscription is confirmed.
func (b *EventBus) Subscribe(ctx context.Context, ready chan<- struct{}, fn func(ledger.BalanceEvent)) error {
	sub := b.client.Subscribe(ctx, ChannelBalanceEvents)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to balance events: %w", err)
	}
	if ready != nil {
		close(ready)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var event ledger.BalanceEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				b.logger.Warn("dropping malformed balance event", "error", err)
				continue
			}
			fn(event)
		}
	}
}
