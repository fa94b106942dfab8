package tracks

import (
	"fmt"
	"time"

	"github.com/CoachLogLabs/coachlog/backend/internal/sport"
)

// Track is the internal record of one imported activity. The
// (provider, provider_id) pair is the sole external dedup key; a track is
// created once and only ever updated in place afterwards.
type Track struct {
	ID           uint                `gorm:"column:id;primaryKey"`
	SessionID    uint                `gorm:"column:session_id;uniqueIndex;not null"`
	Session      *sport.SportSession `gorm:"foreignKey:SessionID"`
	Provider     string              `gorm:"column:provider;size:50;not null;uniqueIndex:idx_tracks_provider,priority:1"`
	ProviderID   string              `gorm:"column:provider_id;size:50;not null;uniqueIndex:idx_tracks_provider,priority:2"`
	SimpleLine   string              `gorm:"column:simple_line;type:text;not null;default:''"`
	SplitTotalID *uint               `gorm:"column:split_total_id"`
	SplitTotal   *TrackSplit         `gorm:"foreignKey:SplitTotalID"`
	CreatedAt    time.Time           `gorm:"column:created_at"`
	UpdatedAt    time.Time           `gorm:"column:updated_at"`
}

// TableName provides the explicit table binding for GORM.
func (Track) TableName() string {
	return "tracks"
}

// ExternalURL returns the provider permalink for the activity, or empty when
// the provider has no public page.
func (t *Track) ExternalURL() string {
	switch t.Provider {
	case "garmin":
		return fmt.Sprintf("https://connect.garmin.com/modern/activity/%s", t.ProviderID)
	case "strava":
		return fmt.Sprintf("https://www.strava.com/activities/%s", t.ProviderID)
	}
	return ""
}

// TrackSplit is one segment's statistics. Position 0 is the synthesized
// whole-activity total; real segments start at 1. Running totals are only
// populated on real segments.
type TrackSplit struct {
	ID       uint `gorm:"column:id;primaryKey"`
	TrackID  uint `gorm:"column:track_id;not null;index"`
	Position int  `gorm:"column:position;not null"`

	DistanceMeters  float64 `gorm:"column:distance_m;not null;default:0"`
	DurationSeconds float64 `gorm:"column:duration_s;not null;default:0"`
	Energy          float64 `gorm:"column:energy;not null;default:0"`
	ElevationMin    float64 `gorm:"column:elevation_min;not null;default:0"`
	ElevationMax    float64 `gorm:"column:elevation_max;not null;default:0"`
	ElevationGain   float64 `gorm:"column:elevation_gain;not null;default:0"`
	ElevationLoss   float64 `gorm:"column:elevation_loss;not null;default:0"`
	Speed           float64 `gorm:"column:speed;not null;default:0"`
	SpeedMax        float64 `gorm:"column:speed_max;not null;default:0"`

	DateStart *time.Time `gorm:"column:date_start"`
	DateEnd   *time.Time `gorm:"column:date_end"`
	StartLat  *float64   `gorm:"column:start_lat"`
	StartLng  *float64   `gorm:"column:start_lng"`
	EndLat    *float64   `gorm:"column:end_lat"`
	EndLng    *float64   `gorm:"column:end_lng"`

	TotalDistanceMeters  float64 `gorm:"column:total_distance_m;not null;default:0"`
	TotalDurationSeconds float64 `gorm:"column:total_duration_s;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (TrackSplit) TableName() string {
	return "track_splits"
}

// TrackFile is one named attachment owned by a track. Bytes live in the blob
// store under the MD5 digest; the digest doubles as the idempotence
// fingerprint for the "raw" attachment.
type TrackFile struct {
	ID        uint      `gorm:"column:id;primaryKey"`
	TrackID   uint      `gorm:"column:track_id;not null;uniqueIndex:idx_track_files_name,priority:1"`
	Name      string    `gorm:"column:name;size:190;not null;uniqueIndex:idx_track_files_name,priority:2"`
	MD5       string    `gorm:"column:md5;size:32;not null"`
	Size      int64     `gorm:"column:size;not null;default:0"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

// TableName provides the explicit table binding for GORM.
func (TrackFile) TableName() string {
	return "track_files"
}
