package testutil

import (
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// SetupTestDB creates an in-memory SQLite database for testing. The pool is pinned to a
// single connection so every statement sees the same in-memory schema.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get database instance: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	return db
}

// CreateTables creates empty placeholder tables with the given names.
func CreateTables(t *testing.T, db *gorm.DB, names ...string) {
	t.Helper()

	for _, name := range names {
		if err := db.Exec("CREATE TABLE `" + name + "` (id INTEGER PRIMARY KEY)").Error; err != nil {
			t.Fatalf("failed to create table %s: %v", name, err)
		}
	}
}
