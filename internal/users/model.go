package users

import "time"

// Athlete is the account owning calendar weeks, sessions and imported tracks.
// Account management lives elsewhere; the importer only needs identity and the
// premium flag gating scheduled imports.
type Athlete struct {
	ID        uint      `gorm:"column:id;primaryKey"`
	Username  string    `gorm:"column:username;size:190;uniqueIndex;not null"`
	Email     string    `gorm:"column:email;size:190;not null;default:''"`
	Premium   bool      `gorm:"column:premium;not null;default:false"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

// TableName provides the explicit table binding for GORM.
func (Athlete) TableName() string {
	return "athletes"
}
