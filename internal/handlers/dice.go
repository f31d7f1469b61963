package handlers

import (
	"context"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"wager-core/internal/fairness"
	"wager-core/internal/ledger"
	"wager-core/internal/settlement"
)

const diceHouseEdge = 1.0 // percent

type DiceRequest struct {
	RoundID string          `json:"round_id" binding:"required,max=100"`
	Asset   string          `json:"asset" binding:"required,max=16"`
	Amount  decimal.Decimal `json:"amount"`
	Target  int             `json:"target" binding:"required,min=1,max=95"`
	Over    bool            `json:"over"` // true = over target, false = under target
}

// RoundTracker marks a round as in flight so seed rotation waits for it.
type RoundTracker interface {
	Start(ctx context.Context, userID int64, roundID string) error
	Complete(ctx context.Context, userID int64, roundID string) error
}

// DiceHandler plays a single dice roll through the settlement service.
type DiceHandler struct {
	settlement *settlement.Service
	rounds     RoundTracker
	logger     *slog.Logger
}

// NewDiceHandler builds the handler. rounds may be nil.
func NewDiceHandler(service *settlement.Service, rounds RoundTracker, logger *slog.Logger) *DiceHandler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &DiceHandler{
		settlement: service,
		rounds:     rounds,
		logger:     logger,
	}
}

// DiceRoll maps an outcome to a roll in [0, 100) with two decimals.
func DiceRoll(o fairness.Outcome) float64 {
	return math.Floor(o.Value*10000) / 100
}

// DicePayout pays wager times (100 - edge) / chance on a win.
func DicePayout(target int, over bool) settlement.PayoutFunc {
	return func(o fairness.Outcome, wager decimal.Decimal) (decimal.Decimal, error) {
		roll := DiceRoll(o)
		chance := float64(target)
		win := roll < chance
		if over {
			chance = 100 - float64(target)
			win = roll > float64(target)
		}
		if !win {
			return decimal.Zero, nil
		}
		multiplier, err := ledger.AmountFromFloat((100 - diceHouseEdge) / chance)
		if err != nil {
			return decimal.Zero, err
		}
		return wager.Mul(multiplier.Round(4)).Round(8), nil
	}
}

func (h *DiceHandler) Play(c *gin.Context) {
	userID := c.GetInt64("user_id")

	var req DiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	ctx := c.Request.Context()
	if h.rounds != nil {
		if err := h.rounds.Start(ctx, userID, req.RoundID); err != nil {
			h.logger.Warn("failed to track round", "user_id", userID, "round_id", req.RoundID, "error", err)
		}
		defer func() {
			if err := h.rounds.Complete(context.WithoutCancel(ctx), userID, req.RoundID); err != nil {
				h.logger.Warn("failed to complete round", "user_id", userID, "round_id", req.RoundID, "error", err)
			}
		}()
	}

	receipt, err := h.settlement.Settle(ctx, settlement.Bet{
		UserID:   userID,
		Asset:    req.Asset,
		Wager:    req.Amount,
		GameKind: "dice",
		RoundID:  req.RoundID,
		Payout:   DicePayout(req.Target, req.Over),
		Metadata: map[string]any{"target": req.Target, "over": req.Over},
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"result": gin.H{
			"round_id":         receipt.RoundID,
			"roll":             DiceRoll(receipt.Outcome),
			"target":           req.Target,
			"over":             req.Over,
			"win":              receipt.Payout.IsPositive(),
			"bet_amount":       receipt.Wager,
			"payout":           receipt.Payout,
			"new_balance":      receipt.Balance,
			"nonce":            receipt.Outcome.Nonce,
			"client_seed":      receipt.Outcome.ClientSeed,
			"server_seed_hash": receipt.Outcome.ServerSeedHash,
			"replayed":         receipt.Replayed,
			"settled_at":       time.Now().Unix(),
		},
	})
}
