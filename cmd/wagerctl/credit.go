package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"wager-core/internal/config"
	"wager-core/internal/ledger"
	"wager-core/internal/lock"
	"wager-core/internal/models"
	"wager-core/internal/services"
	"wager-core/internal/storage"
)

const creditTimeout = 30 * time.Second

type creditOptions struct {
	userID      int64
	asset       string
	amount      string
	operation   string
	operationID string
	note        string
}

func creditCommand() *cobra.Command {
	var opts creditOptions
	cmd := &cobra.Command{
		Use:   "credit",
		Short: "Book an operator credit (deposit, bonus or refund) to a wallet",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), creditTimeout)
			defer cancel()

			result, err := runCredit(ctx, cfg, opts)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}

	cmd.Flags().Int64Var(&opts.userID, "user-id", 0, "wallet owner")
	cmd.Flags().StringVar(&opts.asset, "asset", "", "wallet asset")
	cmd.Flags().StringVar(&opts.amount, "amount", "", "amount to credit")
	cmd.Flags().StringVar(&opts.operation, "operation", string(models.OperationDepositCredit), "credit kind")
	cmd.Flags().StringVar(&opts.operationID, "operation-id", "", "idempotency key, reuse it to retry safely")
	cmd.Flags().StringVar(&opts.note, "note", "", "free-form note stored with the entry")
	_ = cmd.MarkFlagRequired("user-id")
	_ = cmd.MarkFlagRequired("asset")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("operation-id")
	return cmd
}

func (o creditOptions) mutation() (ledger.Mutation, error) {
	kind := models.OperationKind(o.operation)
	if !kind.Valid() || kind.IsDebit() {
		return ledger.Mutation{}, fmt.Errorf("operation must be a credit, got %q", o.operation)
	}
	amount, err := decimal.NewFromString(o.amount)
	if err != nil {
		return ledger.Mutation{}, fmt.Errorf("invalid amount %q: %w", o.amount, err)
	}
	m := ledger.Mutation{
		OperationID: o.operationID,
		Operation:   kind,
		Amount:      amount,
		Metadata:    map[string]any{"source": programName},
	}
	if o.note != "" {
		m.Metadata["note"] = o.note
	}
	return m, nil
}

func runCredit(ctx context.Context, cfg *config.Config, opts creditOptions) (*ledger.Result, error) {
	m, err := opts.mutation()
	if err != nil {
		return nil, err
	}
	logger := commonRun()

	db, err := storage.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseDSN, logger)
	if err != nil {
		return nil, err
	}
	defer storage.Close(db)

	stores, closeStores, err := services.LockStores(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer closeStores()

	coordinator, err := lock.NewCoordinator(stores,
		lock.WithRetry(lock.RetryPolicy{
			Count:  cfg.LockRetryCount,
			Delay:  cfg.LockRetryDelay,
			Jitter: cfg.LockRetryJitter,
		}),
		lock.WithDriftFactor(cfg.LockDriftFactor),
		lock.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	ceiling, err := cfg.Ceiling()
	if err != nil {
		return nil, err
	}
	book := ledger.NewEngine(db, coordinator,
		ledger.WithCeiling(ceiling),
		ledger.WithAssets(cfg.Assets...),
		ledger.WithLockTTL(cfg.LockTTL),
		ledger.WithLogger(logger),
	)
	defer book.Close()

	result, err := book.Apply(ctx, opts.userID, opts.asset, []ledger.Mutation{m})
	if err != nil {
		return nil, err
	}
	return &result, nil
}
