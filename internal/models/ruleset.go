package models

import (
	"time"

	"gorm.io/datatypes"
)

// Ruleset is the per-expert, per-use-case rule configuration. Rules are
// stored as JSONB and decoded by the rules package at evaluation time;
// the row is loaded read-only per evaluation.
type Ruleset struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement"`
	ExpertID uint64 `gorm:"not null;uniqueIndex:idx_rulesets_expert_usecase"`
	UseCase  string `gorm:"type:varchar(50);not null;uniqueIndex:idx_rulesets_expert_usecase"`

	Name    string `gorm:"type:varchar(100);not null"`
	Enabled bool   `gorm:"default:true;index"`

	Rules datatypes.JSON `gorm:"type:jsonb;not null"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Ruleset) TableName() string {
	return "rulesets"
}
