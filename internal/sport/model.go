package sport

import "time"

// Sport is one node of the sport taxonomy. Depth 0 is the synthetic root,
// depth 1 nodes are the top-level categories sessions are filed under, deeper
// nodes are provider-specific refinements (e.g. trail_running under running).
type Sport struct {
	ID         uint   `gorm:"column:id;primaryKey"`
	Name       string `gorm:"column:name;size:250;not null"`
	Slug       string `gorm:"column:slug;size:250;uniqueIndex;not null"`
	ParentID   *uint  `gorm:"column:parent_id"`
	Parent     *Sport `gorm:"foreignKey:ParentID"`
	Depth      int    `gorm:"column:depth;not null;default:0"`
	StravaName string `gorm:"column:strava_name;size:250;not null;default:''"`
}

// TableName provides the explicit table binding for GORM.
func (Sport) TableName() string {
	return "sports"
}

// Category resolves the top-level sport a session must be filed under.
// Requires Parent to be loaded for deep nodes.
func (s *Sport) Category() *Sport {
	if s.Depth <= 1 || s.Parent == nil {
		return s
	}
	return s.Parent
}

// SportWeek groups days per athlete and ISO week.
type SportWeek struct {
	ID        uint `gorm:"column:id;primaryKey"`
	AthleteID uint `gorm:"column:athlete_id;not null;uniqueIndex:idx_weeks_owner,priority:1"`
	Year      int  `gorm:"column:year;not null;uniqueIndex:idx_weeks_owner,priority:2"`
	Week      int  `gorm:"column:week;not null;uniqueIndex:idx_weeks_owner,priority:3"`
}

// TableName provides the explicit table binding for GORM.
func (SportWeek) TableName() string {
	return "sport_weeks"
}

// SportDay is one calendar day inside a week.
type SportDay struct {
	ID     uint       `gorm:"column:id;primaryKey"`
	Date   time.Time  `gorm:"column:date;not null;uniqueIndex:idx_days_week,priority:1"`
	WeekID uint       `gorm:"column:week_id;not null;uniqueIndex:idx_days_week,priority:2"`
	Week   *SportWeek `gorm:"foreignKey:WeekID"`
}

// TableName provides the explicit table binding for GORM.
func (SportDay) TableName() string {
	return "sport_days"
}

// SportSession is one calendar slot: a planned or logged exercise occurrence.
// Duration and distance stay nil for empty planned slots. A session may exist
// without any track (manual entry) or gain one through import.
type SportSession struct {
	ID              uint      `gorm:"column:id;primaryKey"`
	DayID           uint      `gorm:"column:day_id;not null;index"`
	Day             *SportDay `gorm:"foreignKey:DayID"`
	SportID         uint      `gorm:"column:sport_id;not null"`
	Sport           *Sport    `gorm:"foreignKey:SportID"`
	Name            string    `gorm:"column:name;size:255;not null;default:''"`
	DurationSeconds *int64    `gorm:"column:duration_s"`
	DistanceKm      *float64  `gorm:"column:distance_km"`
	CreatedAt       time.Time `gorm:"column:created_at"`
	UpdatedAt       time.Time `gorm:"column:updated_at"`
}

// TableName provides the explicit table binding for GORM.
func (SportSession) TableName() string {
	return "sport_sessions"
}

// Identity is the normalized shape of one external activity, derived fresh on
// every import and used only for session matching and labeling.
type Identity struct {
	Sport    *Sport
	Date     time.Time
	Duration time.Duration
	Distance float64 // km, zero when the provider reports none
	Name     string
	Pace     time.Duration // time per km, zero when unknown
}
