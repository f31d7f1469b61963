package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"wager-core/internal/fairness"
	"wager-core/internal/ledger"
	"wager-core/internal/settlement"
)

// respondError writes the user-facing form of err. Internal faults are
// logged and reported without details.
func respondError(c *gin.Context, logger *slog.Logger, err error) {
	status := http.StatusInternalServerError
	message := ledger.Public(err)

	switch {
	case errors.Is(err, ledger.ErrSystemBusy):
		status = http.StatusServiceUnavailable
	case errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrCeilingExceeded),
		errors.Is(err, ledger.ErrBelowMinimum):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrOperationConflict),
		errors.Is(err, fairness.ErrActiveGames),
		errors.Is(err, fairness.ErrRotationConflict):
		status = http.StatusConflict
		if message == ledger.MessageInternal {
			message = err.Error()
		}
	case ledger.IsBusinessError(err),
		errors.Is(err, fairness.ErrInvalidRequest),
		errors.Is(err, settlement.ErrInvalidBet):
		status = http.StatusBadRequest
		if message == ledger.MessageInternal {
			message = "invalid request"
		}
	case errors.Is(err, fairness.ErrSeedPairNotFound):
		status = http.StatusNotFound
		message = "seed not found"
	case errors.Is(err, fairness.ErrSeedNotRevealed):
		status = http.StatusForbidden
		message = "seed not revealed yet"
	}

	if status == http.StatusInternalServerError {
		logger.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": message})
}
