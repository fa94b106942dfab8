package database

import (
	"fmt"

	"github.com/CoachLogLabs/coachlog/backend/internal/credentials"
	"github.com/CoachLogLabs/coachlog/backend/internal/sport"
	"github.com/CoachLogLabs/coachlog/backend/internal/stats"
	"github.com/CoachLogLabs/coachlog/backend/internal/tracks"
	"github.com/CoachLogLabs/coachlog/backend/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OpenSQLite establishes a SQLite connection, performs schema migrations and
// seeds the sport taxonomy.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	models := []interface{}{
		&users.Athlete{},
		&credentials.ProviderCredential{},
		&sport.Sport{},
		&sport.SportWeek{},
		&sport.SportDay{},
		&sport.SportSession{},
		&tracks.Track{},
		&tracks.TrackSplit{},
		&tracks.TrackFile{},
		&stats.MonthStats{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		return nil, err
	}

	if err := sport.Seed(db); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}
