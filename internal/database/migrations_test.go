package database

import (
	"testing"

	"github.com/marginlab/margin/internal/annotations"
)

func TestOpenSQLiteCreatesSchema(t *testing.T) {
	db, err := OpenSQLite(":memory:", nil)
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}

	if !db.Migrator().HasTable(&annotations.Annotation{}) {
		t.Fatal("expected annotations table to exist")
	}
	if !db.Migrator().HasTable(&migrationRecord{}) {
		t.Fatal("expected migrations table to exist")
	}
}

func TestMigrationsRecordedOnce(t *testing.T) {
	db, err := OpenSQLite(":memory:", nil)
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}

	if err := applyMigrations(db, nil); err != nil {
		t.Fatalf("unexpected re-apply error: %v", err)
	}

	var count int64
	if err := db.Model(&migrationRecord{}).Where("name = ?", migrationBackfillMentionedUser).Count(&count).Error; err != nil {
		t.Fatalf("unexpected count error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected migration recorded exactly once, got %d", count)
	}
}

func TestOpenSQLiteRequiresPath(t *testing.T) {
	if _, err := OpenSQLite("", nil); err == nil {
		t.Fatal("expected error for empty database path")
	}
}
