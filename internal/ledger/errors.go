package ledger

import (
	"errors"

	"wager-core/internal/lock"
)

var (
	// ErrSystemBusy wraps lock.ErrNotAcquired. The caller may retry with the
	// same operation ids.
	ErrSystemBusy          = errors.New("system busy")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrCeilingExceeded     = errors.New("balance ceiling exceeded")
	ErrInvalidAsset        = errors.New("invalid asset")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidMutation     = errors.New("invalid mutation")
	ErrBelowMinimum        = errors.New("minimum threshold not met")
	// ErrOperationConflict means an operation id was reused for a different
	// mutation.
	ErrOperationConflict = errors.New("operation id already used for a different mutation")
	// ErrIntegrity marks faults that should never happen, such as a balance
	// update that matched no row although the bounds allow it.
	ErrIntegrity     = errors.New("ledger integrity fault")
	ErrEntryNotFound = errors.New("ledger entry not found")
)

const (
	MessageInsufficientBalance = "insufficient balance"
	MessageSystemBusy          = "system busy, try again"
	MessageBelowMinimum        = "minimum threshold not met"
	MessageInternal            = "internal error"
)

// Public maps err to the message shown to end users. Anything unexpected
// is reported as an internal error.
func Public(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInsufficientBalance):
		return MessageInsufficientBalance
	case errors.Is(err, ErrSystemBusy), errors.Is(err, lock.ErrNotAcquired):
		return MessageSystemBusy
	case errors.Is(err, ErrBelowMinimum):
		return MessageBelowMinimum
	case errors.Is(err, ErrCeilingExceeded):
		return "balance limit exceeded"
	case errors.Is(err, ErrInvalidAsset):
		return "invalid asset"
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidMutation):
		return "invalid request"
	case errors.Is(err, ErrOperationConflict):
		return "duplicate operation"
	default:
		return MessageInternal
	}
}

// IsBusinessError reports whether err is an expected, caller-facing
// rejection rather than a system fault.
func IsBusinessError(err error) bool {
	for _, target := range []error{
		ErrInsufficientBalance, ErrCeilingExceeded, ErrInvalidAsset, ErrInvalidAmount,
		ErrInvalidMutation, ErrBelowMinimum, ErrOperationConflict,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
