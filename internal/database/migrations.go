package database

import (
	"errors"
	"time"

	"github.com/nutrilog/daybook/internal/meals"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationClampNegativeDayTotals = "2026-05-20_clamp_negative_day_totals"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationClampNegativeDayTotals, apply: clampNegativeDayTotals},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// clampNegativeDayTotals repairs totals driven below zero by unguarded undo
// calls in earlier clients.
func clampNegativeDayTotals(db *gorm.DB) error {
	if err := db.Model(&meals.DayRow{}).
		Where("calories_total < 0").
		Update("calories_total", 0).Error; err != nil {
		return err
	}
	return db.Model(&meals.DayArchiveRow{}).
		Where("calories_total < 0").
		Update("calories_total", 0).Error
}
