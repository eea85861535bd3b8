package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/ehrflow/backend/internal/flowsheet"
	"github.com/MarcoPoloResearchLab/ehrflow/backend/internal/preferences"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationBackfillEditStatus      = "2024-03-12_backfill_flowsheet_edit_status"
	migrationDropBlankStorageEntries = "2024-04-02_drop_blank_local_storage_keys"
)

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
		{name: migrationBackfillEditStatus, apply: backfillEditStatus},
		{name: migrationDropBlankStorageEntries, apply: dropBlankStorageEntries},
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

// backfillEditStatus marks audit rows written before the status column existed as final.
func backfillEditStatus(db *gorm.DB) error {
	return db.Model(&flowsheet.EditRecord{}).
		Where("status = ''").
		Update("status", "final").Error
}

func dropBlankStorageEntries(db *gorm.DB) error {
	return db.Where("trim(item_key) = ''").Delete(&preferences.LocalStorageItem{}).Error
}
