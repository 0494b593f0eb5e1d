package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/andychuong/ttb-label-verification/internal/submissions"
	"go.uber.org/zap"
)

func TestOpenAppliesMigrations(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "migration.db")

	database, err := Open(Options{Driver: DriverSQLite, Path: databasePath}, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	legacy := submissions.Submission{
		ID:                   "legacy-1",
		UserID:               "user-1",
		ProductType:          submissions.ProductTypeWine,
		Source:               submissions.SourceDomestic,
		SerialNumber:         "24-0001",
		BrandName:            "Old Vine",
		ClassTypeDesignation: "Red Wine",
		AlcoholContent:       "13.5%",
		NetContents:          "750 mL",
		NameAddressOnLabel:   "Bottled by Old Vine, Napa, CA",
		ApplicationTypesJSON: `["label_approval"]`,
		Status:               submissions.StatusPending,
		ValidationInProgress: true,
		Version:              1,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := database.Create(&legacy).Error; err != nil {
		testContext.Fatalf("failed to insert submission: %v", err)
	}
	if err := database.Model(&submissions.Submission{}).Where("id = ?", legacy.ID).Update("version", 0).Error; err != nil {
		testContext.Fatalf("failed to zero version: %v", err)
	}
	if err := database.Where("name IN ?", []string{migrationBackfillSubmissionVersions, migrationReleaseOrphanedValidations}).
		Delete(&migrationRecord{}).Error; err != nil {
		testContext.Fatalf("failed to reset migration records: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var stored submissions.Submission
	if err := database.Where("id = ?", legacy.ID).Take(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload submission: %v", err)
	}
	if stored.Version != 1 {
		testContext.Fatalf("expected version to be backfilled, got %d", stored.Version)
	}
	if stored.ValidationInProgress || !stored.NeedsAttention {
		testContext.Fatalf("expected orphaned flag to be released for review, got %+v", stored)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationBackfillSubmissionVersions).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}
}

func TestOpenRejectsUnknownDriver(testContext *testing.T) {
	if _, err := Open(Options{Driver: "mysql"}, nil); err == nil {
		testContext.Fatalf("expected unsupported driver error")
	}
	if _, err := Open(Options{Driver: DriverPostgres}, nil); err == nil {
		testContext.Fatalf("expected missing dsn error")
	}
}
