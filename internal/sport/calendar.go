package sport

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Calendar manages the athlete week/day/session hierarchy. Methods take the
// database handle explicitly so callers can run them inside an enclosing
// transaction.
type Calendar struct {
	logger *zap.Logger
}

// NewCalendar constructs the calendar service.
func NewCalendar(logger *zap.Logger) *Calendar {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Calendar{logger: logger}
}

// FindOrCreateWeek returns the athlete's week row for an ISO (year, week) pair,
// creating it when absent.
func (c *Calendar) FindOrCreateWeek(tx *gorm.DB, athleteID uint, year, week int) (*SportWeek, error) {
	var row SportWeek
	err := tx.Where("athlete_id = ? AND year = ? AND week = ?", athleteID, year, week).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		row = SportWeek{AthleteID: athleteID, Year: year, Week: week}
		if err := tx.Create(&row).Error; err != nil {
			return nil, err
		}
		return &row, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// FindOrCreateDay returns the day row inside a week, creating it when absent.
// The date is truncated to midnight UTC.
func (c *Calendar) FindOrCreateDay(tx *gorm.DB, date time.Time, week *SportWeek) (*SportDay, error) {
	if week == nil {
		return nil, fmt.Errorf("sport: week required")
	}
	day := DayOf(date)

	var row SportDay
	err := tx.Where("date = ? AND week_id = ?", day, week.ID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		row = SportDay{Date: day, WeekID: week.ID}
		if err := tx.Create(&row).Error; err != nil {
			return nil, err
		}
		return &row, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// FindOrCreateDayFor resolves the full week+day pair for a timestamp.
func (c *Calendar) FindOrCreateDayFor(tx *gorm.DB, athleteID uint, date time.Time) (*SportDay, error) {
	year, week := date.UTC().ISOWeek()
	weekRow, err := c.FindOrCreateWeek(tx, athleteID, year, week)
	if err != nil {
		return nil, err
	}
	return c.FindOrCreateDay(tx, date, weekRow)
}

// UnmatchedSessions returns the sessions on a day for a top-level sport that
// have no track attached yet, in primary-key order so matching stays
// deterministic.
func (c *Calendar) UnmatchedSessions(tx *gorm.DB, day *SportDay, category *Sport) ([]SportSession, error) {
	var sessions []SportSession
	err := tx.
		Where("day_id = ? AND sport_id = ?", day.ID, category.ID).
		Where("NOT EXISTS (SELECT 1 FROM tracks WHERE tracks.session_id = sport_sessions.id)").
		Order("id ASC").
		Find(&sessions).Error
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

// CreateSession inserts a new calendar slot seeded from an activity identity.
func (c *Calendar) CreateSession(tx *gorm.DB, day *SportDay, category *Sport, identity Identity) (*SportSession, error) {
	session := SportSession{
		DayID:   day.ID,
		SportID: category.ID,
		Name:    identity.Name,
	}
	if identity.Duration > 0 {
		seconds := int64(identity.Duration.Seconds())
		session.DurationSeconds = &seconds
	}
	if identity.Distance > 0 {
		distance := identity.Distance
		session.DistanceKm = &distance
	}
	if err := tx.Create(&session).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

// DayOf truncates a timestamp to its UTC day.
func DayOf(date time.Time) time.Time {
	d := date.UTC()
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
}
