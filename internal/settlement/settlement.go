// Package settlement settles a single-round wager: it draws one outcome,
// asks the game for the payout and books the wager debit and the payout
// credit as one ledger batch.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"wager-core/internal/fairness"
	"wager-core/internal/ledger"
	"wager-core/internal/lock"
	"wager-core/internal/models"
)

var ErrInvalidBet = errors.New("invalid bet")

// roundLockTTL covers one settlement: an outcome draw and one ledger batch.
const roundLockTTL = 10 * time.Second

// PayoutFunc maps an outcome to the amount credited back for wager. Zero
// means the bet lost.
type PayoutFunc func(outcome fairness.Outcome, wager decimal.Decimal) (decimal.Decimal, error)

type Bet struct {
	UserID   int64
	Asset    string
	Wager    decimal.Decimal
	GameKind string
	Mode     fairness.Mode
	// RoundID makes the settlement idempotent per user. The ledger operation
	// ids are derived from it and the user id.
	RoundID  string
	Payout   PayoutFunc
	Metadata map[string]any
}

type Receipt struct {
	RoundID  string           `json:"round_id"`
	Outcome  fairness.Outcome `json:"outcome"`
	Wager    decimal.Decimal  `json:"wager"`
	Payout   decimal.Decimal  `json:"payout"`
	Balance  decimal.Decimal  `json:"balance"`
	Replayed bool             `json:"replayed"`
}

type Service struct {
	outcomes *fairness.Engine
	ledger   *ledger.Engine
	locker   ledger.Locker
	logger   *slog.Logger
}

// NewService settles rounds one at a time per (user, round) through locker,
// so concurrent retries of a round draw a single outcome.
func NewService(outcomes *fairness.Engine, book *ledger.Engine, locker ledger.Locker, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{
		outcomes: outcomes,
		ledger:   book,
		locker:   locker,
		logger:   logger,
	}
}

// RoundLockKey and the operation ids are scoped to the user, since round ids
// are chosen by clients.
func RoundLockKey(userID int64, roundID string) string {
	return fmt.Sprintf("round:%d:%s", userID, roundID)
}

func WagerOperationID(userID int64, roundID string) string {
	return fmt.Sprintf("%d:%s:wager", userID, roundID)
}

func PayoutOperationID(userID int64, roundID string) string {
	return fmt.Sprintf("%d:%s:payout", userID, roundID)
}

func (s *Service) Settle(ctx context.Context, bet Bet) (*Receipt, error) {
	if err := validate(bet); err != nil {
		return nil, err
	}

	var receipt *Receipt
	err := s.locker.WithLock(ctx, RoundLockKey(bet.UserID, bet.RoundID), roundLockTTL, func(ctx context.Context) error {
		var err error
		receipt, err = s.settleLocked(ctx, bet)
		return err
	})
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) && !errors.Is(err, ledger.ErrSystemBusy) {
			return nil, fmt.Errorf("%w: %w", ledger.ErrSystemBusy, err)
		}
		return nil, err
	}
	return receipt, nil
}

func (s *Service) settleLocked(ctx context.Context, bet Bet) (*Receipt, error) {
	if receipt, err := s.replay(ctx, bet); err != nil || receipt != nil {
		return receipt, err
	}

	// cheap pre-check so an obviously unaffordable bet does not spend a nonce
	wallet, err := s.ledger.Balance(ctx, bet.UserID, bet.Asset)
	if err != nil {
		return nil, err
	}
	if wallet.Balance.LessThan(bet.Wager) {
		return nil, fmt.Errorf("%w: balance %s, wager %s", ledger.ErrInsufficientBalance, wallet.Balance, bet.Wager)
	}

	outcome, err := s.outcomes.Generate(ctx, fairness.Request{
		UserID:   bet.UserID,
		GameKind: bet.GameKind,
		Mode:     bet.Mode,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to draw outcome: %w", err)
	}

	payout, err := bet.Payout(outcome, bet.Wager)
	if err != nil {
		return nil, fmt.Errorf("failed to compute payout: %w", err)
	}
	if payout.IsNegative() {
		return nil, fmt.Errorf("%w: negative payout %s", ledger.ErrInvalidAmount, payout)
	}

	metadata := outcomeMetadata(outcome)
	metadata["round_id"] = bet.RoundID
	for k, v := range bet.Metadata {
		metadata[k] = v
	}

	result, err := s.ledger.Apply(ctx, bet.UserID, bet.Asset, []ledger.Mutation{
		{OperationID: WagerOperationID(bet.UserID, bet.RoundID), Operation: models.OperationWagerDebit, Amount: bet.Wager, Metadata: metadata},
		{OperationID: PayoutOperationID(bet.UserID, bet.RoundID), Operation: models.OperationSettlementCredit, Amount: payout, Metadata: metadata},
	})
	if err != nil {
		// the outcome is spent either way; the round can be retried with a new id
		s.logger.Warn("settlement rejected",
			"user_id", bet.UserID,
			"round_id", bet.RoundID,
			"nonce", outcome.Nonce,
			"error", err,
		)
		return nil, err
	}

	return &Receipt{
		RoundID:  bet.RoundID,
		Outcome:  outcome,
		Wager:    bet.Wager,
		Payout:   payout,
		Balance:  result.Balance,
		Replayed: result.Replayed,
	}, nil
}

// replay returns the receipt of an already settled round, or nil if the
// round is new.
func (s *Service) replay(ctx context.Context, bet Bet) (*Receipt, error) {
	wager, err := s.ledger.Entry(ctx, WagerOperationID(bet.UserID, bet.RoundID))
	if errors.Is(err, ledger.ErrEntryNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	payout, err := s.ledger.Entry(ctx, PayoutOperationID(bet.UserID, bet.RoundID))
	if err != nil {
		return nil, fmt.Errorf("round %s has a wager but no payout: %w", bet.RoundID, err)
	}

	result, err := s.ledger.Apply(ctx, bet.UserID, bet.Asset, []ledger.Mutation{
		{OperationID: wager.OperationID, Operation: wager.Operation, Amount: wager.Amount.Decimal},
		{OperationID: payout.OperationID, Operation: payout.Operation, Amount: payout.Amount.Decimal},
	})
	if err != nil {
		return nil, err
	}
	return &Receipt{
		RoundID:  bet.RoundID,
		Outcome:  outcomeFromMetadata(wager.Metadata),
		Wager:    wager.Amount.Decimal,
		Payout:   payout.Amount.Decimal,
		Balance:  result.Balance,
		Replayed: true,
	}, nil
}

func validate(bet Bet) error {
	switch {
	case bet.RoundID == "":
		return fmt.Errorf("%w: missing round id", ErrInvalidBet)
	case bet.Payout == nil:
		return fmt.Errorf("%w: missing payout function", ErrInvalidBet)
	case !bet.Wager.IsPositive():
		return fmt.Errorf("%w: wager must be positive", ErrInvalidBet)
	}
	return nil
}

func outcomeMetadata(o fairness.Outcome) map[string]any {
	return map[string]any{
		"value":            o.Value,
		"hash":             o.Hash,
		"nonce":            o.Nonce,
		"cursor":           o.Cursor,
		"mode":             string(o.Mode),
		"game_kind":        o.GameKind,
		"client_seed":      o.ClientSeed,
		"server_seed_hash": o.ServerSeedHash,
	}
}

// outcomeFromMetadata reads back what outcomeMetadata stored. Numbers come
// back from the JSON column as float64.
func outcomeFromMetadata(m map[string]any) fairness.Outcome {
	str := func(k string) string {
		s, _ := m[k].(string)
		return s
	}
	num := func(k string) float64 {
		f, _ := m[k].(float64)
		return f
	}
	return fairness.Outcome{
		Value:          num("value"),
		Hash:           str("hash"),
		Nonce:          int64(num("nonce")),
		Cursor:         int(num("cursor")),
		Mode:           fairness.Mode(str("mode")),
		GameKind:       str("game_kind"),
		ClientSeed:     str("client_seed"),
		ServerSeedHash: str("server_seed_hash"),
	}
}
