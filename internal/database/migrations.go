package database

import (
	"errors"
	"time"

	"github.com/andychuong/ttb-label-verification/internal/submissions"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationBackfillSubmissionVersions = "2024-03-01_backfill_submission_versions"
	migrationReleaseOrphanedValidations = "2024-03-08_release_orphaned_validation_flags"
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
		{name: migrationBackfillSubmissionVersions, apply: backfillSubmissionVersions},
		{name: migrationReleaseOrphanedValidations, apply: releaseOrphanedValidations},
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

// Rows imported before versioning carry a zero version.
func backfillSubmissionVersions(db *gorm.DB) error {
	return db.Model(&submissions.Submission{}).
		Where("version < ?", 1).
		Update("version", 1).Error
}

// A flag set without a start time predates run tracking; route it to review
// instead of waiting for the sweeper.
func releaseOrphanedValidations(db *gorm.DB) error {
	return db.Model(&submissions.Submission{}).
		Where("validation_in_progress = ? AND validation_started_at IS NULL", true).
		Updates(map[string]interface{}{
			"validation_in_progress": false,
			"needs_attention":        true,
		}).Error
}
