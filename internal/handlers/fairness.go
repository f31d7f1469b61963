package handlers

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"wager-core/internal/fairness"
	"wager-core/internal/models"
)

type FairnessHandler struct {
	outcomes *fairness.Engine
	logger   *slog.Logger
}

func NewFairnessHandler(outcomes *fairness.Engine, logger *slog.Logger) *FairnessHandler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &FairnessHandler{
		outcomes: outcomes,
		logger:   logger,
	}
}

func (h *FairnessHandler) GetCommitment(c *gin.Context) {
	userID := c.GetInt64("user_id")

	commitment, err := h.outcomes.Commitment(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": models.VerificationData{
			ClientSeed:     commitment.ClientSeed,
			ServerHash:     commitment.ServerSeedHash,
			NextServerHash: commitment.NextServerSeedHash,
			CurrentNonce:   commitment.Nonce,
		},
	})
}

func (h *FairnessHandler) RotateSeed(c *gin.Context) {
	userID := c.GetInt64("user_id")

	var req models.RotateSeedRequest
	if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	rotation, err := h.outcomes.Rotate(c.Request.Context(), userID, req.ClientSeed)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"rotation": rotation,
	})
}

func (h *FairnessHandler) GetRevealedSeeds(c *gin.Context) {
	userID := c.GetInt64("user_id")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	seeds, err := h.outcomes.Revealed(c.Request.Context(), userID, limit)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"seeds":   seeds,
	})
}

// GetRevealedSeed is public so anyone holding a commitment hash can audit
// the rounds played under it.
func (h *FairnessHandler) GetRevealedSeed(c *gin.Context) {
	seed, err := h.outcomes.Lookup(c.Request.Context(), c.Param("hash"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"seed":    seed,
	})
}

// ReplayOutcome recomputes a round played under a revealed seed pair from
// the stored seeds, so an auditor needs only the commitment hash.
func (h *FairnessHandler) ReplayOutcome(c *gin.Context) {
	nonce, err := strconv.ParseInt(c.Query("nonce"), 10, 64)
	if err != nil || nonce < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid nonce"})
		return
	}
	cursor, err := strconv.Atoi(c.DefaultQuery("cursor", "0"))
	if err != nil || cursor < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cursor"})
		return
	}
	mode := fairness.Mode(c.Query("mode"))
	gameKind := c.Query("game_kind")
	if mode == fairness.ModeGameKind && gameKind == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid mode"})
		return
	}

	outcome, err := h.outcomes.Replay(c.Request.Context(), c.Param("hash"), nonce, cursor, mode, gameKind)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"outcome": outcome,
	})
}

// Verify recomputes a value from seeds the caller supplies. It touches no
// stored state.
func (h *FairnessHandler) Verify(c *gin.Context) {
	var req models.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	mode := fairness.Mode(req.Mode)
	if mode == "" {
		mode = fairness.ModeCursor
	}
	if !mode.Valid() || (mode == fairness.ModeGameKind && req.GameKind == "") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid mode"})
		return
	}

	value, hash := fairness.Compute(mode, req.ServerSeed, req.ClientSeed, req.Nonce, req.Cursor, req.GameKind)
	resp := models.VerifyResponse{
		Value:          value,
		Hash:           hash,
		ServerSeedHash: fairness.HashServerSeed(req.ServerSeed),
	}
	if req.Expected != nil {
		valid := fairness.VerifyMode(mode, req.ServerSeed, req.ClientSeed, req.Nonce, req.Cursor, req.GameKind, *req.Expected)
		resp.Valid = &valid
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"verification": resp,
	})
}
