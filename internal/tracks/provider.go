package tracks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/CoachLogLabs/coachlog/backend/internal/sport"
	"github.com/paulmach/orb"
)

// PageSize is the number of activities one provider page carries. A shorter
// page signals the end of the provider's history.
const PageSize = 10

// Activity is one raw exercise record in the provider's native format. Raw is
// the canonical byte form used for fingerprinting; only the originating
// adapter knows how to interpret it.
type Activity struct {
	ID  string
	Raw json.RawMessage
}

// Provider is the capability set an external tracking service must implement.
// Instances are bound to one athlete and used by at most one import run at a
// time; the per-run file cache is threaded through explicitly so adapters stay
// free of run-scoped mutable state.
type Provider interface {
	// Name returns the provider slug used in track rows and URLs.
	Name() string

	// IsConnected reports whether credentials are configured for the athlete.
	// It does not imply they are valid.
	IsConnected(ctx context.Context) (bool, error)

	// Disconnect clears the athlete's stored credentials.
	Disconnect(ctx context.Context) error

	// Authenticate establishes a usable session against the external service.
	// Safe to call repeatedly within one run.
	Authenticate(ctx context.Context) error

	// FetchPage returns up to PageSize raw activities for a zero-based page
	// index. Pagination must be stable within one run.
	FetchPage(ctx context.Context, page int) ([]Activity, error)

	// LoadFiles fetches and caches any per-activity documents (laps, details)
	// the remaining operations need. Idempotent fetch-or-reuse.
	LoadFiles(ctx context.Context, cache *FileCache, activity Activity) error

	// BuildLineCoordinates extracts the GPS trace in (lng, lat) order. Failing
	// here is non-fatal to the activity's import.
	BuildLineCoordinates(ctx context.Context, cache *FileCache, activity Activity) (orb.LineString, error)

	// BuildIdentity derives the normalized identity. It fails when the sport
	// mapping or duration is absent; a missing distance defaults to zero.
	BuildIdentity(ctx context.Context, activity Activity) (sport.Identity, error)

	// BuildSplits extracts per-segment statistics, empty when the provider has
	// no segment data for the activity.
	BuildSplits(cache *FileCache, activity Activity) ([]TrackSplit, error)
}

// AuthError is fatal for a whole import run.
type AuthError struct {
	Provider string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s authentication failed: %v", e.Provider, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// FetchError terminates the page loop early but keeps prior reconciliations.
type FetchError struct {
	Provider string
	Page     int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s page %d fetch failed: %v", e.Provider, e.Page, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IdentityError skips one activity; the rest of the page continues.
type IdentityError struct {
	Err error
}

func (e *IdentityError) Error() string {
	return fmt.Sprintf("activity identity incomplete: %v", e.Err)
}

func (e *IdentityError) Unwrap() error { return e.Err }

// FileCache holds per-activity auxiliary documents for the duration of one
// import run. It is owned by the run, not the adapter, so concurrent runs for
// different athletes never share state. Not safe for concurrent use; one run
// is strictly sequential.
type FileCache struct {
	files map[string]map[string][]byte
}

// NewFileCache returns an empty run-scoped cache.
func NewFileCache() *FileCache {
	return &FileCache{files: map[string]map[string][]byte{}}
}

// Store keeps a named document for an activity.
func (c *FileCache) Store(activityID, name string, data []byte) {
	byName, ok := c.files[activityID]
	if !ok {
		byName = map[string][]byte{}
		c.files[activityID] = byName
	}
	byName[name] = data
}

// Get returns a previously stored document.
func (c *FileCache) Get(activityID, name string) ([]byte, bool) {
	data, ok := c.files[activityID][name]
	return data, ok
}

// Files returns all documents cached for an activity.
func (c *FileCache) Files(activityID string) map[string][]byte {
	return c.files[activityID]
}
