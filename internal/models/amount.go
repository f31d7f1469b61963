package models

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// Amount is a decimal column. Postgres stores it as NUMERIC; SQLite has no
// exact decimal type and would coerce NUMERIC to REAL, so there it is kept
// as TEXT and all arithmetic happens in Go.
type Amount struct {
	decimal.Decimal
}

func NewAmount(d decimal.Decimal) Amount {
	return Amount{Decimal: d}
}

func (Amount) GormDataType() string {
	return "decimal"
}

func (Amount) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db.Dialector.Name() == "sqlite" {
		return "text"
	}
	return "numeric(36,18)"
}
