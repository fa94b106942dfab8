package tracks

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Library answers read queries over imported tracks.
type Library struct {
	db *gorm.DB
}

// NewLibrary constructs the track library.
func NewLibrary(db *gorm.DB) (*Library, error) {
	if db == nil {
		return nil, fmt.Errorf("tracks: database connection required")
	}
	return &Library{db: db}, nil
}

// ListByAthlete returns the athlete's tracks, newest day first, with session
// and total split loaded.
func (l *Library) ListByAthlete(ctx context.Context, athleteID uint) ([]Track, error) {
	var out []Track
	err := l.db.WithContext(ctx).
		Preload("Session").
		Preload("Session.Day").
		Preload("Session.Sport").
		Preload("SplitTotal").
		Joins("JOIN sport_sessions ON sport_sessions.id = tracks.session_id").
		Joins("JOIN sport_days ON sport_days.id = sport_sessions.day_id").
		Joins("JOIN sport_weeks ON sport_weeks.id = sport_days.week_id").
		Where("sport_weeks.athlete_id = ?", athleteID).
		Order("sport_days.date DESC, tracks.id DESC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ImportedStats summarizes what one provider has brought in for an athlete.
type ImportedStats struct {
	Total     int64
	FirstDate *time.Time
	LastDate  *time.Time
}

// ImportedStatsFor aggregates track count and first/last session day for one
// provider.
func (l *Library) ImportedStatsFor(ctx context.Context, athleteID uint, provider string) (ImportedStats, error) {
	var row struct {
		Total   int64
		MinDate *time.Time
		MaxDate *time.Time
	}
	err := l.db.WithContext(ctx).
		Table("tracks").
		Select("COUNT(tracks.id) AS total, MIN(sport_days.date) AS min_date, MAX(sport_days.date) AS max_date").
		Joins("JOIN sport_sessions ON sport_sessions.id = tracks.session_id").
		Joins("JOIN sport_days ON sport_days.id = sport_sessions.day_id").
		Joins("JOIN sport_weeks ON sport_weeks.id = sport_days.week_id").
		Where("tracks.provider = ?", provider).
		Where("sport_weeks.athlete_id = ?", athleteID).
		Scan(&row).Error
	if err != nil {
		return ImportedStats{}, err
	}
	return ImportedStats{Total: row.Total, FirstDate: row.MinDate, LastDate: row.MaxDate}, nil
}
