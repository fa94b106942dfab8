package garmin

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/CoachLogLabs/coachlog/backend/internal/config"
	"github.com/CoachLogLabs/coachlog/backend/internal/credentials"
	"github.com/CoachLogLabs/coachlog/backend/internal/sport"
	"github.com/CoachLogLabs/coachlog/backend/internal/tracks"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

const testVaultKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func newTestDeps(t *testing.T) (*credentials.Vault, *sport.Catalog) {
	t.Helper()
	dsn := fmt.Sprintf("file:garmin_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&credentials.ProviderCredential{}, &sport.Sport{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	if err := sport.Seed(db); err != nil {
		t.Fatalf("failed to seed catalog: %v", err)
	}

	key, err := hex.DecodeString(testVaultKey)
	if err != nil {
		t.Fatalf("bad test key: %v", err)
	}
	vault, err := credentials.NewVault(db, key)
	if err != nil {
		t.Fatalf("failed to build vault: %v", err)
	}
	catalog, err := sport.NewCatalog(db)
	if err != nil {
		t.Fatalf("failed to build catalog: %v", err)
	}
	return vault, catalog
}

// newCASServer fakes the Garmin SSO endpoints the login flow walks through.
func newCASServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/hostname", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"host": "sso.example.test"}`)
	})
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			fmt.Fprint(w, `<form><input type="hidden" name="lt" value="LT12345" /></form>`)
			return
		}
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		if r.PostForm.Get("lt") != "LT12345" || r.PostForm.Get("_eventId") != "submit" {
			http.Error(w, "missing ticket", http.StatusForbidden)
			return
		}
		if r.PostForm.Get("username") != "coach" || r.PostForm.Get("password") != "secret" {
			http.Error(w, "bad credentials", http.StatusForbidden)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "CASTGC", Value: "granted"})
	})
	mux.HandleFunc("/post-login", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/username", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"username": "coach"}`)
	})
	return httptest.NewServer(mux)
}

func endpointsFor(base string) config.GarminConfig {
	return config.GarminConfig{
		HostnameURL:  base + "/hostname",
		LoginURL:     base + "/login",
		PostLoginURL: base + "/post-login",
		UsernameURL:  base + "/username",
		ActivityURL:  base + "/activities",
		LapsURL:      base + "/laps/%s",
		DetailsURL:   base + "/details/%s",
	}
}

func newTestProvider(t *testing.T, endpoints config.GarminConfig) (*Provider, *credentials.Vault) {
	t.Helper()
	vault, catalog := newTestDeps(t)
	provider, err := New(Config{Athlete: 1, Vault: vault, Catalog: catalog, Endpoint: endpoints})
	if err != nil {
		t.Fatalf("failed to build provider: %v", err)
	}
	return provider, vault
}

func TestAuthenticateWalksTicketFlow(t *testing.T) {
	server := newCASServer(t)
	defer server.Close()

	provider, vault := newTestProvider(t, endpointsFor(server.URL))
	ctx := context.Background()
	if err := vault.Set(ctx, 1, ProviderName, map[string]string{"login": "coach", "password": "secret"}); err != nil {
		t.Fatalf("failed to store credentials: %v", err)
	}

	if err := provider.Authenticate(ctx); err != nil {
		t.Fatalf("unexpected auth error: %v", err)
	}
}

func TestAuthenticateRejectsBadPassword(t *testing.T) {
	server := newCASServer(t)
	defer server.Close()

	provider, vault := newTestProvider(t, endpointsFor(server.URL))
	ctx := context.Background()
	if err := vault.Set(ctx, 1, ProviderName, map[string]string{"login": "coach", "password": "wrong"}); err != nil {
		t.Fatalf("failed to store credentials: %v", err)
	}

	if err := provider.Authenticate(ctx); err == nil {
		t.Fatalf("expected auth failure for bad password")
	}
}

func TestAuthenticateWithoutCredentials(t *testing.T) {
	server := newCASServer(t)
	defer server.Close()

	provider, _ := newTestProvider(t, endpointsFor(server.URL))
	err := provider.Authenticate(context.Background())
	if err == nil {
		t.Fatalf("expected error without stored credentials")
	}
	if !strings.Contains(err.Error(), "not configured") {
		t.Fatalf("expected vault error, got %v", err)
	}
}

func TestFetchPageParsesNestedActivities(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/activities", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("start"); got != "20" {
			t.Errorf("expected start=20, got %q", got)
		}
		if got := r.URL.Query().Get("limit"); got != "10" {
			t.Errorf("expected limit=10, got %q", got)
		}
		fmt.Fprint(w, `{"results": {"activities": [
			{"activity": {"activityId": 123, "activityName": {"value": "Run A"}}},
			{"activity": {"activityId": 456, "activityName": {"value": "Run B"}}}
		]}}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	provider, _ := newTestProvider(t, endpointsFor(server.URL))
	provider.client = server.Client()

	activities, err := provider.FetchPage(context.Background(), 2)
	if err != nil {
		t.Fatalf("unexpected fetch error: %v", err)
	}
	if len(activities) != 2 {
		t.Fatalf("expected 2 activities, got %d", len(activities))
	}
	if activities[0].ID != "123" || activities[1].ID != "456" {
		t.Fatalf("unexpected activity ids %q, %q", activities[0].ID, activities[1].ID)
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(activities[0].Raw, &payload); err != nil {
		t.Fatalf("raw payload is not the inner activity object: %v", err)
	}
	if _, ok := payload["activityType"]; ok {
		t.Fatalf("unexpected payload shape: %v", payload)
	}
}

func garminActivity(t *testing.T, overrides map[string]interface{}) tracks.Activity {
	t.Helper()
	payload := map[string]interface{}{
		"activityId":     987,
		"activityType":   map[string]interface{}{"key": "street_running"},
		"activityName":   map[string]interface{}{"value": "Morning run"},
		"beginTimestamp": map[string]interface{}{"millis": "1709280000000"},
		"sumDuration":    map[string]interface{}{"minutesSeconds": "30:15"},
		"sumDistance":    map[string]interface{}{"value": "5000", "unitAbbr": "m"},
	}
	for key, value := range overrides {
		if value == nil {
			delete(payload, key)
			continue
		}
		payload[key] = value
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to marshal activity: %v", err)
	}
	return tracks.Activity{ID: "987", Raw: raw}
}

func TestBuildIdentityFromActivity(t *testing.T) {
	provider, _ := newTestProvider(t, config.GarminConfig{})
	identity, err := provider.BuildIdentity(context.Background(), garminActivity(t, nil))
	if err != nil {
		t.Fatalf("unexpected identity error: %v", err)
	}

	if identity.Sport == nil || identity.Sport.Slug != "street_running" {
		t.Fatalf("unexpected sport: %+v", identity.Sport)
	}
	if identity.Sport.Category().Slug != "running" {
		t.Fatalf("expected running category, got %q", identity.Sport.Category().Slug)
	}
	expected := time.UnixMilli(1709280000000).UTC()
	if !identity.Date.Equal(expected) {
		t.Fatalf("unexpected date %v", identity.Date)
	}
	if identity.Duration != 30*time.Minute+15*time.Second {
		t.Fatalf("unexpected duration %v", identity.Duration)
	}
	if identity.Distance != 5.0 {
		t.Fatalf("expected meters converted to km, got %f", identity.Distance)
	}
	if identity.Name != "Morning run" {
		t.Fatalf("unexpected name %q", identity.Name)
	}
}

func TestBuildIdentitySkipsPlaceholderTitles(t *testing.T) {
	provider, _ := newTestProvider(t, config.GarminConfig{})
	activity := garminActivity(t, map[string]interface{}{
		"activityName": map[string]interface{}{"value": "Sans titre"},
	})
	identity, err := provider.BuildIdentity(context.Background(), activity)
	if err != nil {
		t.Fatalf("unexpected identity error: %v", err)
	}
	if identity.Name != "" {
		t.Fatalf("expected placeholder title dropped, got %q", identity.Name)
	}
}

func TestBuildIdentityRequiresDuration(t *testing.T) {
	provider, _ := newTestProvider(t, config.GarminConfig{})
	activity := garminActivity(t, map[string]interface{}{"sumDuration": nil})
	if _, err := provider.BuildIdentity(context.Background(), activity); err == nil {
		t.Fatalf("expected error without duration")
	}
}

func TestBuildIdentityUnknownSport(t *testing.T) {
	provider, _ := newTestProvider(t, config.GarminConfig{})
	activity := garminActivity(t, map[string]interface{}{
		"activityType": map[string]interface{}{"key": "underwater_hockey"},
	})
	if _, err := provider.BuildIdentity(context.Background(), activity); err == nil {
		t.Fatalf("expected error for unknown sport")
	}
}

func TestBuildSplitsConvertsUnits(t *testing.T) {
	provider, _ := newTestProvider(t, config.GarminConfig{})
	laps := `{"activity": {"totalLaps": {"lapSummaryList": [
		{
			"SumDistance": {"value": "1.0", "uom": "kilometer"},
			"SumDuration": {"value": "300"},
			"MaxSpeed": {"value": "14.4", "uom": "kph"},
			"WeightedMeanSpeed": {"value": "108", "uom": "hmph"},
			"GainElevation": {"value": "12.5"},
			"BeginTimestamp": {"value": "1709280000000", "uom": "Europe/Paris"},
			"BeginLatitude": {"value": "48.85"},
			"BeginLongitude": {"value": "2.35"}
		},
		{
			"SumDistance": {"value": "950", "uom": "meter"},
			"SumDuration": {"value": "290"}
		}
	]}}}`

	cache := tracks.NewFileCache()
	cache.Store("987", "laps", []byte(laps))

	splits, err := provider.BuildSplits(cache, tracks.Activity{ID: "987"})
	if err != nil {
		t.Fatalf("unexpected splits error: %v", err)
	}
	if len(splits) != 2 {
		t.Fatalf("expected 2 splits, got %d", len(splits))
	}

	first := splits[0]
	if first.Position != 1 {
		t.Fatalf("expected positions to start at 1, got %d", first.Position)
	}
	if first.DistanceMeters != 1000.0 {
		t.Fatalf("expected kilometers converted, got %f", first.DistanceMeters)
	}
	if first.SpeedMax != 4.0 {
		t.Fatalf("expected kph converted to m/s, got %f", first.SpeedMax)
	}
	if first.Speed != 3.0 {
		t.Fatalf("expected hmph converted to m/s, got %f", first.Speed)
	}
	if first.DateStart == nil || !first.DateStart.Equal(time.UnixMilli(1709280000000).UTC()) {
		t.Fatalf("unexpected lap start %v", first.DateStart)
	}
	if first.StartLat == nil || *first.StartLat != 48.85 || *first.StartLng != 2.35 {
		t.Fatalf("unexpected lap start position")
	}
	if splits[1].DistanceMeters != 950.0 || splits[1].StartLat != nil {
		t.Fatalf("unexpected second split: %+v", splits[1])
	}
}

func TestBuildSplitsWithoutLapsFile(t *testing.T) {
	provider, _ := newTestProvider(t, config.GarminConfig{})
	splits, err := provider.BuildSplits(tracks.NewFileCache(), tracks.Activity{ID: "987"})
	if err != nil {
		t.Fatalf("unexpected splits error: %v", err)
	}
	if len(splits) != 0 {
		t.Fatalf("expected no splits without a laps file, got %d", len(splits))
	}
}

func TestBuildLineCoordinates(t *testing.T) {
	provider, _ := newTestProvider(t, config.GarminConfig{})
	details := fmt.Sprintf(`{%q: {
		"measurements": [
			{"key": "directLatitude", "metricsIndex": 0},
			{"key": "directLongitude", "metricsIndex": 1}
		],
		"metrics": [
			{"metrics": [48.85, 2.35]},
			{"metrics": [0.0, 0.0]},
			{"metrics": [48.86, 2.36]}
		]
	}}`, detailsRootKey)

	cache := tracks.NewFileCache()
	cache.Store("987", "details", []byte(details))

	line, err := provider.BuildLineCoordinates(context.Background(), cache, tracks.Activity{ID: "987"})
	if err != nil {
		t.Fatalf("unexpected coordinates error: %v", err)
	}
	if len(line) != 2 {
		t.Fatalf("expected null island filtered, got %d points", len(line))
	}
	// Stored (lng, lat).
	if line[0][0] != 2.35 || line[0][1] != 48.85 {
		t.Fatalf("unexpected first point %v", line[0])
	}
}

func TestLoadFilesCachesDocuments(t *testing.T) {
	requests := map[string]int{}
	mux := http.NewServeMux()
	mux.HandleFunc("/laps/987", func(w http.ResponseWriter, _ *http.Request) {
		requests["laps"]++
		fmt.Fprint(w, `{"activity": {}}`)
	})
	mux.HandleFunc("/details/987", func(w http.ResponseWriter, _ *http.Request) {
		requests["details"]++
		fmt.Fprint(w, `{}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	provider, _ := newTestProvider(t, endpointsFor(server.URL))
	provider.client = server.Client()

	cache := tracks.NewFileCache()
	activity := tracks.Activity{ID: "987"}
	ctx := context.Background()
	if err := provider.LoadFiles(ctx, cache, activity); err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if err := provider.LoadFiles(ctx, cache, activity); err != nil {
		t.Fatalf("unexpected second load error: %v", err)
	}
	if requests["laps"] != 1 || requests["details"] != 1 {
		t.Fatalf("expected each document fetched once, got %v", requests)
	}
	if _, ok := cache.Get("987", "laps"); !ok {
		t.Fatalf("expected laps cached")
	}
}
