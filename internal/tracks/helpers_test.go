package tracks

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/CoachLogLabs/coachlog/backend/internal/blobstore"
	"github.com/CoachLogLabs/coachlog/backend/internal/sport"
	sqlite "github.com/glebarez/sqlite"
	"github.com/paulmach/orb"
	"github.com/spf13/afero"
	"gorm.io/gorm"
)

type testEnv struct {
	db         *gorm.DB
	blobs      *blobstore.Store
	calendar   *sport.Calendar
	reconciler *Reconciler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dsn := fmt.Sprintf("file:tracks_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	models := []interface{}{
		&sport.Sport{}, &sport.SportWeek{}, &sport.SportDay{}, &sport.SportSession{},
		&Track{}, &TrackSplit{}, &TrackFile{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	if err := sport.Seed(db); err != nil {
		t.Fatalf("failed to seed catalog: %v", err)
	}

	blobs, err := blobstore.NewStore(afero.NewMemMapFs(), "blobs")
	if err != nil {
		t.Fatalf("failed to build blob store: %v", err)
	}
	calendar := sport.NewCalendar(nil)
	reconciler, err := NewReconciler(ReconcilerConfig{Database: db, Blobs: blobs, Calendar: calendar})
	if err != nil {
		t.Fatalf("failed to build reconciler: %v", err)
	}
	return &testEnv{db: db, blobs: blobs, calendar: calendar, reconciler: reconciler}
}

func (e *testEnv) sport(t *testing.T, slug string) *sport.Sport {
	t.Helper()
	var s sport.Sport
	if err := e.db.Preload("Parent").Where("slug = ?", slug).Take(&s).Error; err != nil {
		t.Fatalf("sport %q not seeded: %v", slug, err)
	}
	return &s
}

func (e *testEnv) count(t *testing.T, model interface{}) int64 {
	t.Helper()
	var count int64
	if err := e.db.Model(model).Count(&count).Error; err != nil {
		t.Fatalf("failed to count: %v", err)
	}
	return count
}

// fakeProvider is a scriptable adapter for reconciler and importer tests.
type fakeProvider struct {
	name        string
	pages       [][]Activity
	identities  map[string]sport.Identity
	splits      map[string][]TrackSplit
	lines       map[string]orb.LineString
	files       map[string]map[string][]byte
	authErr     error
	fetchErrs   map[int]error
	identityErr map[string]error
	splitsErr   map[string]error
	fetchCalls  int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		name:        "garmin",
		identities:  map[string]sport.Identity{},
		splits:      map[string][]TrackSplit{},
		lines:       map[string]orb.LineString{},
		files:       map[string]map[string][]byte{},
		fetchErrs:   map[int]error{},
		identityErr: map[string]error{},
		splitsErr:   map[string]error{},
	}
}

func (f *fakeProvider) Name() string                              { return f.name }
func (f *fakeProvider) IsConnected(context.Context) (bool, error) { return true, nil }
func (f *fakeProvider) Disconnect(context.Context) error          { return nil }

func (f *fakeProvider) Authenticate(context.Context) error {
	return f.authErr
}

func (f *fakeProvider) FetchPage(_ context.Context, page int) ([]Activity, error) {
	f.fetchCalls++
	if err, ok := f.fetchErrs[page]; ok {
		return nil, err
	}
	if page >= len(f.pages) {
		return nil, nil
	}
	return f.pages[page], nil
}

func (f *fakeProvider) LoadFiles(_ context.Context, cache *FileCache, activity Activity) error {
	for name, data := range f.files[activity.ID] {
		if _, ok := cache.Get(activity.ID, name); !ok {
			cache.Store(activity.ID, name, data)
		}
	}
	return nil
}

func (f *fakeProvider) BuildLineCoordinates(_ context.Context, _ *FileCache, activity Activity) (orb.LineString, error) {
	line, ok := f.lines[activity.ID]
	if !ok {
		return nil, fmt.Errorf("no coordinates")
	}
	return line, nil
}

func (f *fakeProvider) BuildIdentity(_ context.Context, activity Activity) (sport.Identity, error) {
	if err, ok := f.identityErr[activity.ID]; ok {
		return sport.Identity{}, err
	}
	identity, ok := f.identities[activity.ID]
	if !ok {
		return sport.Identity{}, fmt.Errorf("unknown activity %s", activity.ID)
	}
	return identity, nil
}

func (f *fakeProvider) BuildSplits(_ *FileCache, activity Activity) ([]TrackSplit, error) {
	if err, ok := f.splitsErr[activity.ID]; ok {
		return nil, err
	}
	splits := f.splits[activity.ID]
	out := make([]TrackSplit, len(splits))
	copy(out, splits)
	return out, nil
}

func fakeActivity(id string, payload map[string]interface{}) Activity {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	payload["activityId"] = id
	raw, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	return Activity{ID: id, Raw: raw}
}

// monthRecorder captures aggregate cache rebuild requests.
type monthRecorder struct {
	calls []string
}

func (m *monthRecorder) Rebuild(_ context.Context, athleteID uint, year, month int) error {
	m.calls = append(m.calls, fmt.Sprintf("%d/%d-%02d", athleteID, year, month))
	return nil
}
