package database

import (
	"path/filepath"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/pairpad/pairpad/internal/rooms"
)

func TestApplyMigrationsBackfillsRoomActivity(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	if err := database.AutoMigrate(&rooms.Room{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	room := rooms.Room{
		Code:             "AbCdEf12",
		CreatedAtSeconds: 1700000000,
	}
	if err := database.Create(&room).Error; err != nil {
		testContext.Fatalf("failed to insert room: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var stored rooms.Room
	if err := database.Where("code = ?", room.Code).Take(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload room: %v", err)
	}
	if stored.LastActiveAtSeconds != room.CreatedAtSeconds {
		testContext.Fatalf("expected last active to match creation time, got %d", stored.LastActiveAtSeconds)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationBackfillRoomActivity).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}
}

func TestApplyMigrationsIsIdempotent(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	if err := database.AutoMigrate(&rooms.Room{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}
	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("expected reapplying migrations to succeed: %v", err)
	}

	var count int64
	if err := database.Model(&migrationRecord{}).Count(&count).Error; err != nil {
		testContext.Fatalf("failed to count migration records: %v", err)
	}
	if count != 1 {
		testContext.Fatalf("expected exactly one migration record, got %d", count)
	}
}
