package providers

import (
	"errors"
	"fmt"
	"time"

	"github.com/CoachLogLabs/coachlog/backend/internal/config"
	"github.com/CoachLogLabs/coachlog/backend/internal/credentials"
	"github.com/CoachLogLabs/coachlog/backend/internal/providers/garmin"
	"github.com/CoachLogLabs/coachlog/backend/internal/providers/strava"
	"github.com/CoachLogLabs/coachlog/backend/internal/sport"
	"github.com/CoachLogLabs/coachlog/backend/internal/tracks"
	"github.com/CoachLogLabs/coachlog/backend/internal/users"
	"go.uber.org/zap"
)

// ErrUnknownProvider indicates a provider slug with no registered adapter.
var ErrUnknownProvider = errors.New("providers: unknown provider")

// RegistryConfig describes the shared dependencies handed to every adapter.
type RegistryConfig struct {
	Vault   *credentials.Vault
	Catalog *sport.Catalog
	Garmin  config.GarminConfig
	Strava  config.StravaConfig
	Timeout time.Duration
	Logger  *zap.Logger
}

// Registry builds athlete-bound adapters for the known providers. Adapters are
// cheap to construct, so one is built per athlete per request instead of being
// cached.
type Registry struct {
	vault   *credentials.Vault
	catalog *sport.Catalog
	garmin  config.GarminConfig
	strava  config.StravaConfig
	timeout time.Duration
	logger  *zap.Logger
}

// NewRegistry constructs the registry.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Vault == nil {
		return nil, fmt.Errorf("providers: credential vault required")
	}
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("providers: sport catalog required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		vault:   cfg.Vault,
		catalog: cfg.Catalog,
		garmin:  cfg.Garmin,
		strava:  cfg.Strava,
		timeout: cfg.Timeout,
		logger:  logger,
	}, nil
}

// Names lists the registered provider slugs in display order.
func (r *Registry) Names() []string {
	return []string{garmin.ProviderName, strava.ProviderName}
}

// Get builds the adapter for one provider slug bound to one athlete.
func (r *Registry) Get(name string, athleteID uint) (tracks.Provider, error) {
	switch name {
	case garmin.ProviderName:
		return garmin.New(garmin.Config{
			Athlete:  athleteID,
			Vault:    r.vault,
			Catalog:  r.catalog,
			Endpoint: r.garmin,
			Timeout:  r.timeout,
			Logger:   r.logger,
		})
	case strava.ProviderName:
		return strava.New(strava.Config{
			Athlete:  athleteID,
			Vault:    r.vault,
			Catalog:  r.catalog,
			Endpoint: r.strava,
			Timeout:  r.timeout,
			Logger:   r.logger,
		})
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
}

// ForAthlete builds every registered adapter for an athlete, for use as the
// import fan-out's provider lookup.
func (r *Registry) ForAthlete(athlete users.Athlete) []tracks.Provider {
	out := make([]tracks.Provider, 0, 2)
	for _, name := range r.Names() {
		provider, err := r.Get(name, athlete.ID)
		if err != nil {
			r.logger.Error("provider construction failed",
				zap.String("provider", name),
				zap.Uint("athlete_id", athlete.ID),
				zap.Error(err))
			continue
		}
		out = append(out, provider)
	}
	return out
}
