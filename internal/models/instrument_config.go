package models

import (
	"time"
)

// NeutralWeight leaves the allocated quantity unchanged. The allocator
// applies weight/100 as the multiplier, so 115 scales up by 15 percent
// and 50 halves the allocation.
const NeutralWeight = 100

// InstrumentConfig holds the per-expert, per-symbol toggles consumed by
// the risk allocator.
type InstrumentConfig struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement"`
	ExpertID uint64 `gorm:"not null;uniqueIndex:idx_instrument_configs_expert_symbol"`
	Symbol   string `gorm:"type:varchar(40);not null;uniqueIndex:idx_instrument_configs_expert_symbol"`

	Enabled bool `gorm:"default:true"`
	Weight  int  `gorm:"not null;default:100"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (InstrumentConfig) TableName() string {
	return "instrument_configs"
}
