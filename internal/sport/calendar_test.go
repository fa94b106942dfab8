package sport

import (
	"testing"
	"time"
)

func TestFindOrCreateDayForIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	calendar := NewCalendar(nil)

	date := time.Date(2024, 3, 1, 18, 45, 0, 0, time.UTC)
	first, err := calendar.FindOrCreateDayFor(db, 1, date)
	if err != nil {
		t.Fatalf("unexpected day error: %v", err)
	}
	second, err := calendar.FindOrCreateDayFor(db, 1, date.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("unexpected day error: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected same day row, got %d and %d", first.ID, second.ID)
	}

	var weeks int64
	if err := db.Model(&SportWeek{}).Count(&weeks).Error; err != nil {
		t.Fatalf("failed to count weeks: %v", err)
	}
	if weeks != 1 {
		t.Fatalf("expected a single week row, got %d", weeks)
	}
}

func TestFindOrCreateWeekSeparatesAthletes(t *testing.T) {
	db := openTestDB(t)
	calendar := NewCalendar(nil)

	a, err := calendar.FindOrCreateWeek(db, 1, 2024, 9)
	if err != nil {
		t.Fatalf("unexpected week error: %v", err)
	}
	b, err := calendar.FindOrCreateWeek(db, 2, 2024, 9)
	if err != nil {
		t.Fatalf("unexpected week error: %v", err)
	}
	if a.ID == b.ID {
		t.Fatalf("expected distinct week rows per athlete")
	}
}

func TestSportCategoryResolution(t *testing.T) {
	db := openTestDB(t)

	leaf := mustSport(t, db, "trail_running")
	if leaf.Category().Slug != "running" {
		t.Fatalf("expected trail_running category running, got %q", leaf.Category().Slug)
	}

	top := mustSport(t, db, "running")
	if top.Category().Slug != "running" {
		t.Fatalf("expected running to be its own category, got %q", top.Category().Slug)
	}
}

func TestSeedIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	if err := Seed(db); err != nil {
		t.Fatalf("unexpected reseed error: %v", err)
	}

	var count int64
	if err := db.Model(&Sport{}).Where("slug = ?", "running").Count(&count).Error; err != nil {
		t.Fatalf("failed to count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one running row, got %d", count)
	}
}
