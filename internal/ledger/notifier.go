package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// BalanceEvent is published after a batch commits.
type BalanceEvent struct {
	UserID       int64           `json:"user_id"`
	Asset        string          `json:"asset"`
	Balance      decimal.Decimal `json:"balance"`
	OperationIDs []string        `json:"operation_ids"`
	OccurredAt   time.Time       `json:"occurred_at"`
}

// Notifier delivers balance events. Delivery is fire and forget: it runs
// after the commit and a failure never affects the mutation.
type Notifier interface {
	NotifyBalance(ctx context.Context, event BalanceEvent) error
}

type NotifierFunc func(ctx context.Context, event BalanceEvent) error

func (f NotifierFunc) NotifyBalance(ctx context.Context, event BalanceEvent) error {
	return f(ctx, event)
}

func (e *Engine) notify(event BalanceEvent) {
	if e.notifier == nil {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), e.notifyTimeout)
		defer cancel()
		if err := e.notifier.NotifyBalance(ctx, event); err != nil {
			e.metrics.notifyFailures.Inc()
			e.logger.Warn("balance notification failed",
				"user_id", event.UserID,
				"asset", event.Asset,
				"error", err,
			)
		}
	}()
}

// Wait blocks until in-flight notifications finish.
func (e *Engine) Wait() {
	e.wg.Wait()
}
