package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// UserStatistics is the per (user, asset) rollup maintained in the same
// transaction as the wallet mutation it summarises.
type UserStatistics struct {
	ID             uint64    `gorm:"primaryKey" json:"-"`
	UserID         int64     `gorm:"not null;uniqueIndex:idx_user_statistics_user_asset" json:"user_id"`
	Asset          string    `gorm:"type:varchar(16);not null;uniqueIndex:idx_user_statistics_user_asset" json:"asset"`
	TotalWagered   Amount    `gorm:"not null;default:0" json:"total_wagered"`
	TotalWon       Amount    `gorm:"not null;default:0" json:"total_won"`
	TotalDeposited Amount    `gorm:"not null;default:0" json:"total_deposited"`
	TotalWithdrawn Amount    `gorm:"not null;default:0" json:"total_withdrawn"`
	TotalClaimed   Amount    `gorm:"not null;default:0" json:"total_claimed"`
	TotalBonus     Amount    `gorm:"not null;default:0" json:"total_bonus"`
	TotalRefunded  Amount    `gorm:"not null;default:0" json:"total_refunded"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (UserStatistics) TableName() string {
	return "user_statistics"
}

// StatisticsColumn names the rollup column an operation contributes to.
func StatisticsColumn(kind OperationKind) string {
	switch kind {
	case OperationWagerDebit:
		return "total_wagered"
	case OperationSettlementCredit:
		return "total_won"
	case OperationDepositCredit:
		return "total_deposited"
	case OperationWithdrawalDebit:
		return "total_withdrawn"
	case OperationClaimDebit:
		return "total_claimed"
	case OperationBonusCredit:
		return "total_bonus"
	case OperationRefundCredit:
		return "total_refunded"
	default:
		return ""
	}
}

// Total returns the running total an operation contributes to.
func (s *UserStatistics) Total(kind OperationKind) decimal.Decimal {
	switch kind {
	case OperationWagerDebit:
		return s.TotalWagered.Decimal
	case OperationSettlementCredit:
		return s.TotalWon.Decimal
	case OperationDepositCredit:
		return s.TotalDeposited.Decimal
	case OperationWithdrawalDebit:
		return s.TotalWithdrawn.Decimal
	case OperationClaimDebit:
		return s.TotalClaimed.Decimal
	case OperationBonusCredit:
		return s.TotalBonus.Decimal
	case OperationRefundCredit:
		return s.TotalRefunded.Decimal
	default:
		return decimal.Zero
	}
}
