package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/securenotes/internal/notes"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationBackfillNoteVersions = "2026-09-14_backfill_note_versions"
	migrationBackfillNoteHistory  = "2026-09-14_backfill_note_history"
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
		{name: migrationBackfillNoteVersions, apply: backfillNoteVersions},
		{name: migrationBackfillNoteHistory, apply: backfillNoteHistory},
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
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			appliedAt := time.Now().UTC().Unix()
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
		})
		if err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillNoteVersions gives rows written before optimistic versioning a starting version.
func backfillNoteVersions(db *gorm.DB) error {
	return db.Model(&notes.Note{}).
		Where("version IS NULL OR version < ?", 1).
		Update("version", 1).Error
}

// backfillNoteHistory replaces missing history columns with an empty list.
func backfillNoteHistory(db *gorm.DB) error {
	return db.Model(&notes.Note{}).
		Where("history_json IS NULL OR history_json = ''").
		Update("history_json", "[]").Error
}
