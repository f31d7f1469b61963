package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"wager-core/internal/fairness"
	"wager-core/internal/ledger"
)

// SessionRevoker is satisfied by services.SessionStore.
type SessionRevoker interface {
	Revoke(ctx context.Context, sessionID string, expiresAt time.Time) error
}

// RoundHistory is satisfied by services.ActiveGameRegistry.
type RoundHistory interface {
	Active(ctx context.Context, userID int64) ([]string, error)
	Completed(ctx context.Context, userID int64, limit int64) ([]string, error)
}

const recentRoundsLimit = 20

type UserHandler struct {
	ledger   *ledger.Engine
	outcomes *fairness.Engine
	sessions SessionRevoker
	rounds   RoundHistory
	logger   *slog.Logger
}

// NewUserHandler builds the handler. rounds may be nil, in which case the
// profile carries no round history.
func NewUserHandler(book *ledger.Engine, outcomes *fairness.Engine, sessions SessionRevoker, rounds RoundHistory, logger *slog.Logger) *UserHandler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &UserHandler{
		ledger:   book,
		outcomes: outcomes,
		sessions: sessions,
		rounds:   rounds,
		logger:   logger,
	}
}

func (h *UserHandler) GetCurrentUser(c *gin.Context) {
	userID := c.GetInt64("user_id")
	ctx := c.Request.Context()

	wallets, err := h.ledger.Wallets(ctx, userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	commitment, err := h.outcomes.Commitment(ctx, userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	resp := gin.H{
		"user_id": userID,
		"session": gin.H{
			"session_id": c.GetString("session_id"),
			"expires_at": c.GetTime("session_expires_at"),
		},
		"wallets":  wallets,
		"fairness": commitment,
	}
	if h.rounds != nil {
		// history is informational; a cache outage leaves it out
		active, activeErr := h.rounds.Active(ctx, userID)
		recent, recentErr := h.rounds.Completed(ctx, userID, recentRoundsLimit)
		if err := errors.Join(activeErr, recentErr); err != nil {
			h.logger.Warn("failed to load round history", "user_id", userID, "error", err)
		} else {
			resp["active_rounds"] = active
			resp["recent_rounds"] = recent
		}
	}

	c.JSON(http.StatusOK, resp)
}

func (h *UserHandler) Logout(c *gin.Context) {
	sessionID := c.GetString("session_id")
	if sessionID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Session not found"})
		return
	}

	if err := h.sessions.Revoke(c.Request.Context(), sessionID, c.GetTime("session_expires_at")); err != nil {
		h.logger.Error("failed to revoke session", "session_id", sessionID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to logout"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Successfully logged out"})
}
