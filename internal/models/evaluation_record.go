package models

import (
	"time"

	"gorm.io/datatypes"
)

// EvaluationRecord archives one full rule evaluation trace (per-rule,
// per-condition pass/fail with operands, and action previews) for audit
// and UI consumption. Records are append-only.
type EvaluationRecord struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement"`
	EvaluationID string `gorm:"type:varchar(40);not null;uniqueIndex"`

	ExpertID         uint64 `gorm:"not null;index"`
	UseCase          string `gorm:"type:varchar(50);index"`
	RecommendationID uint64 `gorm:"index"`
	Symbol           string `gorm:"type:varchar(40);index"`

	ActionCount int            `gorm:"not null;default:0"`
	Trace       datatypes.JSON `gorm:"type:jsonb;not null"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
}

func (EvaluationRecord) TableName() string {
	return "evaluation_records"
}
