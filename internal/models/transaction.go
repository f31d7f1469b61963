package models

import "github.com/shopspring/decimal"

type OperationKind string

const (
	OperationWagerDebit       OperationKind = "wager_debit"
	OperationClaimDebit       OperationKind = "claim_debit"
	OperationWithdrawalDebit  OperationKind = "withdrawal_debit"
	OperationSettlementCredit OperationKind = "settlement_credit"
	OperationBonusCredit      OperationKind = "bonus_credit"
	OperationDepositCredit    OperationKind = "deposit_credit"
	OperationRefundCredit     OperationKind = "refund_credit"
)

func (k OperationKind) Valid() bool {
	switch k {
	case OperationWagerDebit, OperationClaimDebit, OperationWithdrawalDebit,
		OperationSettlementCredit, OperationBonusCredit, OperationDepositCredit, OperationRefundCredit:
		return true
	default:
		return false
	}
}

func (k OperationKind) IsDebit() bool {
	switch k {
	case OperationWagerDebit, OperationClaimDebit, OperationWithdrawalDebit:
		return true
	default:
		return false
	}
}

// Signed turns a non-negative magnitude into the balance delta for k.
func (k OperationKind) Signed(amount decimal.Decimal) decimal.Decimal {
	if k.IsDebit() {
		return amount.Neg()
	}
	return amount
}

type EntryStatus string

const (
	StatusConfirmed EntryStatus = "confirmed"
	StatusFailed    EntryStatus = "failed"
)
