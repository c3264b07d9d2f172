package db

import (
	"tradecore/internal/models"
)

// AutoMigrate creates or updates the schema for every persisted model.
func (d *DB) AutoMigrate() error {
	if d == nil || d.Gorm == nil {
		return nil
	}

	return d.Gorm.AutoMigrate(
		&models.Recommendation{},
		&models.Ruleset{},
		&models.InstrumentConfig{},
		&models.Order{},
		&models.Transaction{},
		&models.EvaluationRecord{},
	)
}
