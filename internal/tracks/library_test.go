package tracks

import (
	"context"
	"testing"
	"time"

	"github.com/CoachLogLabs/coachlog/backend/internal/sport"
)

func importActivity(t *testing.T, env *testEnv, provider *fakeProvider, id string, day time.Time) {
	t.Helper()
	provider.identities[id] = sport.Identity{
		Sport:    env.sport(t, "running"),
		Date:     day,
		Duration: 30 * time.Minute,
		Distance: 5.0,
	}
	if _, err := env.reconciler.Reconcile(context.Background(), 1, provider, NewFileCache(), fakeActivity(id, nil)); err != nil {
		t.Fatalf("failed to import %s: %v", id, err)
	}
}

func TestListByAthleteOrdersNewestFirst(t *testing.T) {
	env := newTestEnv(t)
	provider := newFakeProvider()
	importActivity(t, env, provider, "old", time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC))
	importActivity(t, env, provider, "new", time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC))

	library, err := NewLibrary(env.db)
	if err != nil {
		t.Fatalf("failed to build library: %v", err)
	}

	list, err := library.ListByAthlete(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 tracks, got %d", len(list))
	}
	if list[0].ProviderID != "new" || list[1].ProviderID != "old" {
		t.Fatalf("unexpected order: %q, %q", list[0].ProviderID, list[1].ProviderID)
	}
	if list[0].Session == nil || list[0].SplitTotal == nil {
		t.Fatalf("expected session and total split loaded")
	}

	other, err := library.ListByAthlete(context.Background(), 2)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("expected no tracks for another athlete, got %d", len(other))
	}
}

func TestImportedStatsForProvider(t *testing.T) {
	env := newTestEnv(t)
	provider := newFakeProvider()
	first := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	last := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	importActivity(t, env, provider, "a", first)
	importActivity(t, env, provider, "b", last)

	library, err := NewLibrary(env.db)
	if err != nil {
		t.Fatalf("failed to build library: %v", err)
	}

	stats, err := library.ImportedStatsFor(context.Background(), 1, "garmin")
	if err != nil {
		t.Fatalf("unexpected stats error: %v", err)
	}
	if stats.Total != 2 {
		t.Fatalf("expected 2 tracks, got %d", stats.Total)
	}
	if stats.FirstDate == nil || !stats.FirstDate.Equal(sport.DayOf(first)) {
		t.Fatalf("unexpected first date %v", stats.FirstDate)
	}
	if stats.LastDate == nil || !stats.LastDate.Equal(sport.DayOf(last)) {
		t.Fatalf("unexpected last date %v", stats.LastDate)
	}

	empty, err := library.ImportedStatsFor(context.Background(), 1, "strava")
	if err != nil {
		t.Fatalf("unexpected stats error: %v", err)
	}
	if empty.Total != 0 || empty.FirstDate != nil {
		t.Fatalf("expected empty stats for unused provider, got %+v", empty)
	}
}
