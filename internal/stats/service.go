package stats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MonthStats caches the aggregate figures for one athlete month. The payload
// is recomputed from scratch on every rebuild, so repeating a rebuild is safe.
type MonthStats struct {
	ID        uint      `gorm:"column:id;primaryKey"`
	AthleteID uint      `gorm:"column:athlete_id;not null;uniqueIndex:idx_month_stats_owner,priority:1"`
	Year      int       `gorm:"column:year;not null;uniqueIndex:idx_month_stats_owner,priority:2"`
	Month     int       `gorm:"column:month;not null;uniqueIndex:idx_month_stats_owner,priority:3"`
	Payload   string    `gorm:"column:payload;type:text;not null"`
	BuiltAt   time.Time `gorm:"column:built_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (MonthStats) TableName() string {
	return "month_stats"
}

// SportTotals summarizes one sport inside a month.
type SportTotals struct {
	Sessions        int     `json:"sessions"`
	DurationSeconds int64   `json:"duration_s"`
	DistanceKm      float64 `json:"distance_km"`
}

// MonthPayload is the JSON document cached per month.
type MonthPayload struct {
	Sessions        int                    `json:"sessions"`
	Tracks          int                    `json:"tracks"`
	DurationSeconds int64                  `json:"duration_s"`
	DistanceKm      float64                `json:"distance_km"`
	BySport         map[string]SportTotals `json:"by_sport"`
}

// Service rebuilds the monthly aggregate cache.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
	clock  func() time.Time
}

// NewService constructs the stats service.
func NewService(db *gorm.DB, logger *zap.Logger) (*Service, error) {
	if db == nil {
		return nil, fmt.Errorf("stats: database connection required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: db, logger: logger, clock: time.Now}, nil
}

type sessionRow struct {
	Slug            string
	DurationSeconds *int64
	DistanceKm      *float64
	TrackCount      int
}

// Rebuild recomputes and stores the aggregate cache for one athlete month.
// It is idempotent and not coupled to any import transaction.
func (s *Service) Rebuild(ctx context.Context, athleteID uint, year, month int) error {
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	var rows []sessionRow
	err := s.db.WithContext(ctx).
		Table("sport_sessions").
		Select(`sports.slug AS slug,
			sport_sessions.duration_s AS duration_seconds,
			sport_sessions.distance_km AS distance_km,
			(SELECT COUNT(1) FROM tracks WHERE tracks.session_id = sport_sessions.id) AS track_count`).
		Joins("JOIN sport_days ON sport_days.id = sport_sessions.day_id").
		Joins("JOIN sport_weeks ON sport_weeks.id = sport_days.week_id").
		Joins("JOIN sports ON sports.id = sport_sessions.sport_id").
		Where("sport_weeks.athlete_id = ?", athleteID).
		Where("sport_days.date >= ? AND sport_days.date < ?", start, end).
		Scan(&rows).Error
	if err != nil {
		return err
	}

	payload := MonthPayload{BySport: map[string]SportTotals{}}
	for _, row := range rows {
		totals := payload.BySport[row.Slug]
		totals.Sessions++
		payload.Sessions++
		payload.Tracks += row.TrackCount
		if row.DurationSeconds != nil {
			totals.DurationSeconds += *row.DurationSeconds
			payload.DurationSeconds += *row.DurationSeconds
		}
		if row.DistanceKm != nil {
			totals.DistanceKm += *row.DistanceKm
			payload.DistanceKm += *row.DistanceKm
		}
		payload.BySport[row.Slug] = totals
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	record := MonthStats{
		AthleteID: athleteID,
		Year:      year,
		Month:     month,
		Payload:   string(encoded),
		BuiltAt:   s.clock().UTC(),
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "athlete_id"}, {Name: "year"}, {Name: "month"}},
			DoUpdates: clause.AssignmentColumns([]string{"payload", "built_at"}),
		}).
		Create(&record).Error
	if err != nil {
		return err
	}

	s.logger.Info("month stats rebuilt",
		zap.Uint("athlete_id", athleteID),
		zap.Int("year", year),
		zap.Int("month", month),
		zap.Int("sessions", payload.Sessions))
	return nil
}

// Get returns the cached payload for one athlete month, or nil when absent.
func (s *Service) Get(ctx context.Context, athleteID uint, year, month int) (*MonthPayload, error) {
	var record MonthStats
	err := s.db.WithContext(ctx).
		Where("athlete_id = ? AND year = ? AND month = ?", athleteID, year, month).
		Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var payload MonthPayload
	if err := json.Unmarshal([]byte(record.Payload), &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}
