package sport

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// ErrUnknownSport indicates no catalog entry matches the requested slug or
// provider name.
var ErrUnknownSport = errors.New("sport: unknown sport")

// Catalog resolves sports by slug or provider-specific name.
type Catalog struct {
	db *gorm.DB
}

// NewCatalog constructs the sport catalog.
func NewCatalog(db *gorm.DB) (*Catalog, error) {
	if db == nil {
		return nil, fmt.Errorf("sport: database connection required")
	}
	return &Catalog{db: db}, nil
}

// BySlug returns the sport for a slug with its parent loaded.
func (c *Catalog) BySlug(ctx context.Context, slug string) (*Sport, error) {
	var s Sport
	err := c.db.WithContext(ctx).Preload("Parent").Where("slug = ?", slug).Take(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSport, slug)
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ByStravaName returns the sport mapped to a Strava activity type.
func (c *Catalog) ByStravaName(ctx context.Context, name string) (*Sport, error) {
	var s Sport
	err := c.db.WithContext(ctx).Preload("Parent").Where("strava_name = ?", name).Take(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: strava type %q", ErrUnknownSport, name)
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// seedEntry describes one default catalog row.
type seedEntry struct {
	name       string
	slug       string
	parentSlug string
	stravaName string
}

var defaultCatalog = []seedEntry{
	{name: "All", slug: "all"},
	{name: "Running", slug: "running", parentSlug: "all", stravaName: "Run"},
	{name: "Cycling", slug: "cycling", parentSlug: "all", stravaName: "Ride"},
	{name: "Swimming", slug: "swimming", parentSlug: "all", stravaName: "Swim"},
	{name: "Walking", slug: "walking", parentSlug: "all", stravaName: "Walk"},
	{name: "Hiking", slug: "hiking", parentSlug: "all", stravaName: "Hike"},
	{name: "Street Running", slug: "street_running", parentSlug: "running"},
	{name: "Trail Running", slug: "trail_running", parentSlug: "running", stravaName: "TrailRun"},
	{name: "Treadmill Running", slug: "treadmill_running", parentSlug: "running"},
	{name: "Road Biking", slug: "road_biking", parentSlug: "cycling"},
	{name: "Mountain Biking", slug: "mountain_biking", parentSlug: "cycling", stravaName: "MountainBikeRide"},
	{name: "Open Water Swimming", slug: "open_water_swimming", parentSlug: "swimming"},
	{name: "Lap Swimming", slug: "lap_swimming", parentSlug: "swimming"},
}

// Seed inserts the default sport taxonomy. Existing slugs are left untouched so
// the seed is safe to run on every startup.
func Seed(db *gorm.DB) error {
	depths := map[string]int{}
	ids := map[string]uint{}

	for _, entry := range defaultCatalog {
		depth := 0
		var parentID *uint
		if entry.parentSlug != "" {
			parent, ok := ids[entry.parentSlug]
			if !ok {
				return fmt.Errorf("sport: seed parent %q missing for %q", entry.parentSlug, entry.slug)
			}
			parentID = &parent
			depth = depths[entry.parentSlug] + 1
		}

		var existing Sport
		err := db.Where("slug = ?", entry.slug).Take(&existing).Error
		if err == nil {
			ids[entry.slug] = existing.ID
			depths[entry.slug] = existing.Depth
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		row := Sport{
			Name:       entry.name,
			Slug:       entry.slug,
			ParentID:   parentID,
			Depth:      depth,
			StravaName: entry.stravaName,
		}
		if err := db.Create(&row).Error; err != nil {
			return err
		}
		ids[entry.slug] = row.ID
		depths[entry.slug] = depth
	}
	return nil
}
