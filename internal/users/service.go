package users

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// ErrAthleteNotFound indicates the requested athlete does not exist.
var ErrAthleteNotFound = errors.New("users: athlete not found")

// Service exposes athlete lookups for the importer and the API.
type Service struct {
	db *gorm.DB
}

// NewService constructs the athlete service.
func NewService(db *gorm.DB) (*Service, error) {
	if db == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	return &Service{db: db}, nil
}

// Get returns one athlete by id.
func (s *Service) Get(ctx context.Context, athleteID uint) (*Athlete, error) {
	var athlete Athlete
	err := s.db.WithContext(ctx).Take(&athlete, athleteID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAthleteNotFound
	}
	if err != nil {
		return nil, err
	}
	return &athlete, nil
}

// ListPremium returns all premium athletes ordered by primary key. Scheduled
// imports walk this list.
func (s *Service) ListPremium(ctx context.Context) ([]Athlete, error) {
	var athletes []Athlete
	err := s.db.WithContext(ctx).
		Where("premium = ?", true).
		Order("id ASC").
		Find(&athletes).Error
	if err != nil {
		return nil, err
	}
	return athletes, nil
}
