package strava

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/CoachLogLabs/coachlog/backend/internal/config"
	"github.com/CoachLogLabs/coachlog/backend/internal/credentials"
	"github.com/CoachLogLabs/coachlog/backend/internal/sport"
	"github.com/CoachLogLabs/coachlog/backend/internal/tracks"
	"github.com/paulmach/orb"
	polyline "github.com/twpayne/go-polyline"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// ProviderName is the slug stored on tracks imported from Strava.
const ProviderName = "strava"

const lapsFileName = "laps"

// Config describes the dependencies of one athlete-bound Strava adapter.
type Config struct {
	Athlete  uint
	Vault    *credentials.Vault
	Catalog  *sport.Catalog
	Endpoint config.StravaConfig
	Timeout  time.Duration
	Logger   *zap.Logger
}

// Provider imports activities from the Strava v3 API. Access tokens are
// minted from the athlete's stored refresh token through the standard OAuth
// token endpoint; x/oauth2 handles caching and renewal within a run.
type Provider struct {
	athleteID uint
	vault     *credentials.Vault
	catalog   *sport.Catalog
	endpoint  config.StravaConfig
	timeout   time.Duration
	logger    *zap.Logger

	client *http.Client
}

// New constructs the adapter for one athlete.
func New(cfg Config) (*Provider, error) {
	if cfg.Athlete == 0 {
		return nil, fmt.Errorf("strava: athlete id required")
	}
	if cfg.Vault == nil {
		return nil, fmt.Errorf("strava: credential vault required")
	}
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("strava: sport catalog required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		athleteID: cfg.Athlete,
		vault:     cfg.Vault,
		catalog:   cfg.Catalog,
		endpoint:  cfg.Endpoint,
		timeout:   timeout,
		logger:    logger,
	}, nil
}

// Name implements tracks.Provider.
func (p *Provider) Name() string { return ProviderName }

// IsConnected implements tracks.Provider.
func (p *Provider) IsConnected(ctx context.Context) (bool, error) {
	return p.vault.IsSet(ctx, p.athleteID, ProviderName)
}

// Disconnect implements tracks.Provider.
func (p *Provider) Disconnect(ctx context.Context) error {
	return p.vault.Delete(ctx, p.athleteID, ProviderName)
}

// Authenticate implements tracks.Provider. The exchange happens lazily on the
// first API call; here we only verify a refresh token is stored and build the
// authorized client.
func (p *Provider) Authenticate(ctx context.Context) error {
	fields, err := p.vault.Get(ctx, p.athleteID, ProviderName)
	if err != nil {
		return err
	}
	refreshToken := fields["refresh_token"]
	if refreshToken == "" {
		return fmt.Errorf("strava: refresh token required")
	}

	oauthConfig := &oauth2.Config{
		ClientID:     p.endpoint.ClientID,
		ClientSecret: p.endpoint.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: p.endpoint.TokenURL},
	}
	baseClient := &http.Client{Timeout: p.timeout}
	clientCtx := context.WithValue(ctx, oauth2.HTTPClient, baseClient)
	source := oauthConfig.TokenSource(clientCtx, &oauth2.Token{RefreshToken: refreshToken})

	p.client = oauth2.NewClient(clientCtx, source)
	return nil
}

// activityPayload is the subset of a Strava activity the importer reads.
type activityPayload struct {
	ID             json.Number `json:"id"`
	Name           string      `json:"name"`
	Type           string      `json:"type"`
	SportType      string      `json:"sport_type"`
	StartDate      time.Time   `json:"start_date"`
	MovingTime     float64     `json:"moving_time"`
	DistanceMeters float64     `json:"distance"`
	AverageSpeed   float64     `json:"average_speed"`
	Map            struct {
		SummaryPolyline string `json:"summary_polyline"`
	} `json:"map"`
}

// FetchPage implements tracks.Provider. Strava pages are one-based.
func (p *Provider) FetchPage(ctx context.Context, page int) ([]tracks.Activity, error) {
	if p.client == nil {
		if err := p.Authenticate(ctx); err != nil {
			return nil, err
		}
	}

	params := url.Values{
		"page":     {fmt.Sprintf("%d", page+1)},
		"per_page": {fmt.Sprintf("%d", tracks.PageSize)},
	}
	body, err := p.get(ctx, p.endpoint.BaseURL+"/athlete/activities", params)
	if err != nil {
		return nil, err
	}

	var payloads []json.RawMessage
	if err := json.Unmarshal(body, &payloads); err != nil {
		return nil, fmt.Errorf("strava: malformed activity page: %w", err)
	}

	out := make([]tracks.Activity, 0, len(payloads))
	for _, raw := range payloads {
		var header struct {
			ID json.Number `json:"id"`
		}
		if err := json.Unmarshal(raw, &header); err != nil {
			return nil, fmt.Errorf("strava: activity without id: %w", err)
		}
		out = append(out, tracks.Activity{ID: header.ID.String(), Raw: raw})
	}
	return out, nil
}

// LoadFiles implements tracks.Provider.
func (p *Provider) LoadFiles(ctx context.Context, cache *tracks.FileCache, activity tracks.Activity) error {
	_, err := p.loadLaps(ctx, cache, activity)
	return err
}

func (p *Provider) loadLaps(ctx context.Context, cache *tracks.FileCache, activity tracks.Activity) ([]byte, error) {
	if data, ok := cache.Get(activity.ID, lapsFileName); ok {
		return data, nil
	}
	if p.client == nil {
		if err := p.Authenticate(ctx); err != nil {
			return nil, err
		}
	}
	data, err := p.get(ctx, fmt.Sprintf("%s/activities/%s/laps", p.endpoint.BaseURL, activity.ID), nil)
	if err != nil {
		return nil, err
	}
	cache.Store(activity.ID, lapsFileName, data)
	return data, nil
}

// BuildLineCoordinates implements tracks.Provider. The trace comes from the
// summary polyline embedded in the activity, decoded from Google's encoded
// format. Polylines carry (lat, lng) pairs; points are stored (lng, lat).
func (p *Provider) BuildLineCoordinates(_ context.Context, _ *tracks.FileCache, activity tracks.Activity) (orb.LineString, error) {
	var payload activityPayload
	if err := json.Unmarshal(activity.Raw, &payload); err != nil {
		return nil, fmt.Errorf("strava: malformed activity: %w", err)
	}
	if payload.Map.SummaryPolyline == "" {
		return nil, fmt.Errorf("strava: no summary polyline")
	}

	coords, _, err := polyline.DecodeCoords([]byte(payload.Map.SummaryPolyline))
	if err != nil {
		return nil, fmt.Errorf("strava: bad polyline: %w", err)
	}
	line := make(orb.LineString, 0, len(coords))
	for _, pair := range coords {
		line = append(line, orb.Point{pair[1], pair[0]})
	}
	if len(line) == 0 {
		return nil, fmt.Errorf("strava: empty polyline")
	}
	return line, nil
}

// BuildIdentity implements tracks.Provider.
func (p *Provider) BuildIdentity(ctx context.Context, activity tracks.Activity) (sport.Identity, error) {
	var payload activityPayload
	if err := json.Unmarshal(activity.Raw, &payload); err != nil {
		return sport.Identity{}, fmt.Errorf("strava: malformed activity: %w", err)
	}

	typeName := payload.SportType
	if typeName == "" {
		typeName = payload.Type
	}
	identitySport, err := p.catalog.ByStravaName(ctx, typeName)
	if err != nil {
		return sport.Identity{}, err
	}

	if payload.MovingTime <= 0 {
		return sport.Identity{}, fmt.Errorf("strava: no duration found")
	}
	duration := time.Duration(payload.MovingTime * float64(time.Second))

	distance := payload.DistanceMeters / 1000.0
	identity := sport.Identity{
		Sport:    identitySport,
		Date:     payload.StartDate.UTC(),
		Duration: duration,
		Distance: distance,
		Name:     payload.Name,
	}
	if payload.AverageSpeed > 0 {
		identity.Pace = time.Duration(1000.0 / payload.AverageSpeed * float64(time.Second))
	}
	return identity, nil
}

// lapPayload is one entry of the activity laps listing.
type lapPayload struct {
	LapIndex           int       `json:"lap_index"`
	DistanceMeters     float64   `json:"distance"`
	MovingTime         float64   `json:"moving_time"`
	AverageSpeed       float64   `json:"average_speed"`
	MaxSpeed           float64   `json:"max_speed"`
	TotalElevationGain float64   `json:"total_elevation_gain"`
	StartDate          time.Time `json:"start_date"`
	ElapsedTime        float64   `json:"elapsed_time"`
}

// BuildSplits implements tracks.Provider.
func (p *Provider) BuildSplits(cache *tracks.FileCache, activity tracks.Activity) ([]tracks.TrackSplit, error) {
	data, ok := cache.Get(activity.ID, lapsFileName)
	if !ok {
		return nil, nil
	}

	var laps []lapPayload
	if err := json.Unmarshal(data, &laps); err != nil {
		return nil, fmt.Errorf("strava: malformed laps document: %w", err)
	}

	out := make([]tracks.TrackSplit, 0, len(laps))
	for i, lap := range laps {
		position := lap.LapIndex
		if position == 0 {
			position = i + 1
		}
		split := tracks.TrackSplit{
			Position:        position,
			DistanceMeters:  lap.DistanceMeters,
			DurationSeconds: lap.MovingTime,
			Speed:           lap.AverageSpeed,
			SpeedMax:        lap.MaxSpeed,
			ElevationGain:   lap.TotalElevationGain,
		}
		if !lap.StartDate.IsZero() {
			start := lap.StartDate.UTC()
			split.DateStart = &start
			if lap.ElapsedTime > 0 {
				end := start.Add(time.Duration(lap.ElapsedTime * float64(time.Second)))
				split.DateEnd = &end
			}
		}
		out = append(out, split)
	}
	return out, nil
}

// get performs an authorized GET against the API.
func (p *Provider) get(ctx context.Context, target string, params url.Values) ([]byte, error) {
	if len(params) > 0 {
		target = target + "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	res, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("strava: unexpected status %d from %s", res.StatusCode, target)
	}
	return io.ReadAll(res.Body)
}
