package handlers

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"wager-core/internal/ledger"
	"wager-core/internal/models"
)

type WalletHandler struct {
	ledger *ledger.Engine
	logger *slog.Logger
}

func NewWalletHandler(book *ledger.Engine, logger *slog.Logger) *WalletHandler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &WalletHandler{
		ledger: book,
		logger: logger,
	}
}

func (h *WalletHandler) ListWallets(c *gin.Context) {
	userID := c.GetInt64("user_id")

	wallets, err := h.ledger.Wallets(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"wallets": wallets,
	})
}

func (h *WalletHandler) GetBalance(c *gin.Context) {
	userID := c.GetInt64("user_id")
	asset := c.Param("asset")
	ctx := c.Request.Context()

	wallet, err := h.ledger.Balance(ctx, userID, asset)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	stats, err := h.ledger.Statistics(ctx, userID, asset)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"balance": models.BalanceResponse{
			UserID:     userID,
			Asset:      asset,
			Balance:    wallet.Balance.Decimal,
			IsPrimary:  wallet.IsPrimary,
			Statistics: stats,
		},
	})
}

func (h *WalletHandler) GetHistory(c *gin.Context) {
	userID := c.GetInt64("user_id")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	entries, err := h.ledger.History(c.Request.Context(), userID, c.Param("asset"), limit)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"entries": entries,
	})
}
