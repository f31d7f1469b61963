package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type Wallet struct {
	ID        uint64    `gorm:"primaryKey" json:"-"`
	UserID    int64     `gorm:"not null;uniqueIndex:idx_wallets_user_asset" json:"user_id"`
	Asset     string    `gorm:"type:varchar(16);not null;uniqueIndex:idx_wallets_user_asset" json:"asset"`
	Balance   Amount    `gorm:"not null;default:0" json:"balance"`
	IsPrimary bool      `gorm:"not null;default:false" json:"is_primary"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Wallet) TableName() string {
	return "wallets"
}

// LedgerEntry is the immutable history row written for every applied
// balance mutation. OperationID is the caller's idempotency key.
type LedgerEntry struct {
	ID              string            `gorm:"primaryKey;type:varchar(36)" json:"id"`
	OperationID     string            `gorm:"type:varchar(128);not null;uniqueIndex" json:"operation_id"`
	Operation       OperationKind     `gorm:"type:varchar(32);not null" json:"operation"`
	UserID          int64             `gorm:"not null;index:idx_ledger_entries_user_asset" json:"user_id"`
	Asset           string            `gorm:"type:varchar(16);not null;index:idx_ledger_entries_user_asset" json:"asset"`
	Amount          Amount            `gorm:"not null" json:"amount"`
	PreviousBalance Amount            `gorm:"not null" json:"previous_balance"`
	BalanceAfter    Amount            `gorm:"not null" json:"balance_after"`
	Status          EntryStatus       `gorm:"type:varchar(16);not null" json:"status"`
	Metadata        datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt       time.Time         `gorm:"index" json:"created_at"`
}

func (LedgerEntry) TableName() string {
	return "ledger_entries"
}

type BalanceResponse struct {
	UserID     int64           `json:"user_id"`
	Asset      string          `json:"asset"`
	Balance    decimal.Decimal `json:"balance"`
	IsPrimary  bool            `json:"is_primary"`
	Statistics *UserStatistics `json:"statistics,omitempty"`
}
