package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TransactionStatusWaiting = "waiting"
	TransactionStatusOpened  = "opened"
	TransactionStatusClosing = "closing"
	TransactionStatusClosed  = "closed"
)

// Transaction is one open-or-closing position per (expert, symbol).
// At most one row may be in {waiting, opened} for a pair at any time;
// the lifecycle manager checks and skips before creating a new one.
type Transaction struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement"`
	ExpertID uint64 `gorm:"not null;index:idx_transactions_expert_symbol_status"`
	Symbol   string `gorm:"type:varchar(40);not null;index:idx_transactions_expert_symbol_status"`

	Side   string `gorm:"type:varchar(10);not null"`
	Status string `gorm:"type:varchar(20);not null;default:'waiting';index:idx_transactions_expert_symbol_status"`

	Quantity   decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	OpenPrice  decimal.Decimal `gorm:"type:numeric(20,10);not null;default:0"`
	ClosePrice decimal.Decimal `gorm:"type:numeric(20,10);not null;default:0"`

	// TargetPrice is the expert target currently in force for the position.
	TargetPrice decimal.Decimal `gorm:"type:numeric(20,10);not null;default:0"`

	OpenedAt *time.Time `gorm:"type:timestamptz"`
	ClosedAt *time.Time `gorm:"type:timestamptz"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Transaction) TableName() string {
	return "transactions"
}

func (t Transaction) Active() bool {
	return t.Status == TransactionStatusWaiting || t.Status == TransactionStatusOpened
}

// CostBasis is the capital committed to the position at open.
func (t Transaction) CostBasis() decimal.Decimal {
	return t.OpenPrice.Mul(t.Quantity)
}
