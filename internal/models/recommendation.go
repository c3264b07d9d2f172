package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	SignalBuy  = "buy"
	SignalSell = "sell"
	SignalHold = "hold"
)

// Recommendation is an advisory signal produced by the external analysis
// process. Rows are write-once: the pipeline only flips ProcessedAt.
type Recommendation struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement"`
	ExpertID uint64 `gorm:"not null;index:idx_recommendations_expert_usecase"`
	UseCase  string `gorm:"type:varchar(50);not null;index:idx_recommendations_expert_usecase"`

	Symbol string `gorm:"type:varchar(40);not null;index"`
	Signal string `gorm:"type:varchar(10);not null"`

	Confidence        float64         `gorm:"not null"`
	ExpectedProfitPct decimal.Decimal `gorm:"type:numeric(20,10);not null;default:0"`
	TargetPrice       decimal.Decimal `gorm:"type:numeric(20,10);not null;default:0"`

	RiskLevel   string `gorm:"type:varchar(20)"`
	TimeHorizon string `gorm:"type:varchar(20)"`

	ProcessedAt *time.Time `gorm:"type:timestamptz;index"`
	CreatedAt   time.Time  `gorm:"type:timestamptz;autoCreateTime;index"`
}

func (Recommendation) TableName() string {
	return "recommendations"
}

func (r Recommendation) Bullish() bool { return r.Signal == SignalBuy }
func (r Recommendation) Bearish() bool { return r.Signal == SignalSell }
