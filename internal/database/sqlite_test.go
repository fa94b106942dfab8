package database

import (
	"fmt"
	"testing"
	"time"

	"github.com/CoachLogLabs/coachlog/backend/internal/sport"
)

func TestOpenSQLiteMigratesAndSeeds(t *testing.T) {
	dsn := fmt.Sprintf("file:database_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := OpenSQLite(dsn, nil)
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}

	for _, table := range []string{"athletes", "provider_credentials", "sports", "sport_weeks", "sport_days", "sport_sessions", "tracks", "track_splits", "track_files", "month_stats"} {
		if !db.Migrator().HasTable(table) {
			t.Fatalf("expected table %q to exist", table)
		}
	}

	var count int64
	if err := db.Model(&sport.Sport{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count sports: %v", err)
	}
	if count == 0 {
		t.Fatalf("expected seeded sport taxonomy")
	}
}

func TestOpenSQLiteRequiresPath(t *testing.T) {
	if _, err := OpenSQLite("", nil); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
