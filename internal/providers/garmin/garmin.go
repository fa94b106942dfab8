package garmin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/CoachLogLabs/coachlog/backend/internal/config"
	"github.com/CoachLogLabs/coachlog/backend/internal/credentials"
	"github.com/CoachLogLabs/coachlog/backend/internal/sport"
	"github.com/CoachLogLabs/coachlog/backend/internal/tracks"
	"github.com/paulmach/orb"
	"go.uber.org/zap"
)

// ProviderName is the slug stored on tracks imported from Garmin Connect.
const ProviderName = "garmin"

const (
	lapsFileName    = "laps"
	detailsFileName = "details"

	detailsRootKey = "com.garmin.activity.details.json.ActivityDetails"
)

// loginTicketPattern extracts the CAS login ticket hidden in the login form.
var loginTicketPattern = regexp.MustCompile(`<input\s+type="hidden"\s+name="lt"\s+value="(\w+)"\s+/>`)

// skippedTitles are Garmin's placeholder activity names, dropped so the
// matcher can fill real names in later.
var skippedTitles = map[string]struct{}{
	"Sans titre": {},
	"No title":   {},
}

// Config describes the dependencies of one athlete-bound Garmin adapter.
type Config struct {
	Athlete  uint
	Vault    *credentials.Vault
	Catalog  *sport.Catalog
	Endpoint config.GarminConfig
	Timeout  time.Duration
	Logger   *zap.Logger
}

// Provider imports activities from Garmin Connect. Authentication follows the
// CAS ticket protocol: resolve the SSO host, scrape a login ticket from the
// login form, post credentials, then confirm the session with a username
// lookup.
type Provider struct {
	athleteID uint
	vault     *credentials.Vault
	catalog   *sport.Catalog
	endpoint  config.GarminConfig
	timeout   time.Duration
	logger    *zap.Logger

	client *http.Client
}

// New constructs the adapter for one athlete.
func New(cfg Config) (*Provider, error) {
	if cfg.Athlete == 0 {
		return nil, fmt.Errorf("garmin: athlete id required")
	}
	if cfg.Vault == nil {
		return nil, fmt.Errorf("garmin: credential vault required")
	}
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("garmin: sport catalog required")
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

// Authenticate implements tracks.Provider. It builds a fresh cookie session;
// calling it again discards the previous session.
func (p *Provider) Authenticate(ctx context.Context) error {
	fields, err := p.vault.Get(ctx, p.athleteID, ProviderName)
	if err != nil {
		return err
	}
	login, password := fields["login"], fields["password"]
	if login == "" || password == "" {
		return fmt.Errorf("garmin: login and password required")
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return err
	}
	client := &http.Client{Jar: jar, Timeout: p.timeout}

	body, err := getBody(ctx, client, p.endpoint.HostnameURL, nil)
	if err != nil {
		return fmt.Errorf("garmin: sso hostname lookup: %w", err)
	}
	var hostname struct {
		Host string `json:"host"`
	}
	if err := json.Unmarshal(body, &hostname); err != nil || hostname.Host == "" {
		return fmt.Errorf("garmin: no sso server available")
	}

	loginParams := url.Values{
		"clientId": {"GarminConnect"},
		"webhost":  {hostname.Host},
	}
	form, err := getBody(ctx, client, p.endpoint.LoginURL, loginParams)
	if err != nil {
		return fmt.Errorf("garmin: no login form: %w", err)
	}
	match := loginTicketPattern.FindSubmatch(form)
	if match == nil {
		return fmt.Errorf("garmin: no login ticket in form")
	}

	// The _eventId field is undocumented but required by the CAS endpoint.
	payload := url.Values{
		"_eventId": {"submit"},
		"lt":       {string(match[1])},
		"username": {login},
		"password": {password},
	}
	loginURL := p.endpoint.LoginURL + "?" + loginParams.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, loginURL, strings.NewReader(payload.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, res.Body)
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("garmin: authentication failed with status %d", res.StatusCode)
	}

	// Second auth step, required before the session cookies are usable.
	if _, err := getBody(ctx, client, p.endpoint.PostLoginURL, nil); err != nil {
		return fmt.Errorf("garmin: second auth step: %w", err)
	}

	body, err = getBody(ctx, client, p.endpoint.UsernameURL, nil)
	if err != nil {
		return fmt.Errorf("garmin: login check: %w", err)
	}
	var user struct {
		Username string `json:"username"`
	}
	if err := json.Unmarshal(body, &user); err != nil || user.Username == "" {
		return fmt.Errorf("garmin: login check failed")
	}
	p.logger.Info("garmin session established", zap.String("garmin_user", user.Username))

	p.client = client
	return nil
}

// FetchPage implements tracks.Provider.
func (p *Provider) FetchPage(ctx context.Context, page int) ([]tracks.Activity, error) {
	if p.client == nil {
		if err := p.Authenticate(ctx); err != nil {
			return nil, err
		}
	}

	params := url.Values{
		"start": {fmt.Sprintf("%d", page*tracks.PageSize)},
		"limit": {fmt.Sprintf("%d", tracks.PageSize)},
	}
	body, err := getBody(ctx, p.client, p.endpoint.ActivityURL, params)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Results struct {
			Activities []struct {
				Activity json.RawMessage `json:"activity"`
			} `json:"activities"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("garmin: malformed activity page: %w", err)
	}

	out := make([]tracks.Activity, 0, len(envelope.Results.Activities))
	for _, wrapper := range envelope.Results.Activities {
		var header struct {
			ActivityID json.Number `json:"activityId"`
		}
		if err := json.Unmarshal(wrapper.Activity, &header); err != nil {
			return nil, fmt.Errorf("garmin: activity without id: %w", err)
		}
		out = append(out, tracks.Activity{ID: header.ActivityID.String(), Raw: wrapper.Activity})
	}
	return out, nil
}

// LoadFiles implements tracks.Provider.
func (p *Provider) LoadFiles(ctx context.Context, cache *tracks.FileCache, activity tracks.Activity) error {
	if _, err := p.loadExtra(ctx, cache, activity, lapsFileName); err != nil {
		return err
	}
	_, err := p.loadExtra(ctx, cache, activity, detailsFileName)
	return err
}

// loadExtra returns a per-activity document, fetching and caching it on first
// use so re-imports within one run never hit the network twice.
func (p *Provider) loadExtra(ctx context.Context, cache *tracks.FileCache, activity tracks.Activity, name string) ([]byte, error) {
	if data, ok := cache.Get(activity.ID, name); ok {
		return data, nil
	}

	var target string
	switch name {
	case lapsFileName:
		target = fmt.Sprintf(p.endpoint.LapsURL, activity.ID)
	case detailsFileName:
		target = fmt.Sprintf(p.endpoint.DetailsURL, activity.ID)
	default:
		return nil, fmt.Errorf("garmin: unknown document type %q", name)
	}

	if p.client == nil {
		if err := p.Authenticate(ctx); err != nil {
			return nil, err
		}
	}
	data, err := getBody(ctx, p.client, target, nil)
	if err != nil {
		return nil, err
	}
	cache.Store(activity.ID, name, data)
	return data, nil
}

// flexValue tolerates Garmin's habit of sending numbers both quoted and bare.
type flexValue string

// UnmarshalJSON implements json.Unmarshaler.
func (v *flexValue) UnmarshalJSON(data []byte) error {
	*v = flexValue(strings.Trim(string(data), `"`))
	return nil
}

func (v flexValue) float() float64 {
	f, err := strconv.ParseFloat(string(v), 64)
	if err != nil {
		return 0
	}
	return f
}

// measure is Garmin's ubiquitous value-with-unit JSON shape.
type measure struct {
	Value          flexValue `json:"value"`
	UOM            string    `json:"uom"`
	UnitAbbr       string    `json:"unitAbbr"`
	Display        string    `json:"display"`
	Millis         flexValue `json:"millis"`
	MinutesSeconds string    `json:"minutesSeconds"`
}

func (m *measure) float() float64 {
	if m == nil {
		return 0
	}
	return m.Value.float()
}

// BuildLineCoordinates implements tracks.Provider. Coordinates come from the
// details document's metrics table, addressed through the measurement index.
func (p *Provider) BuildLineCoordinates(ctx context.Context, cache *tracks.FileCache, activity tracks.Activity) (orb.LineString, error) {
	data, err := p.loadExtra(ctx, cache, activity, detailsFileName)
	if err != nil {
		return nil, err
	}

	var details map[string]struct {
		Measurements []struct {
			Key          string `json:"key"`
			MetricsIndex int    `json:"metricsIndex"`
		} `json:"measurements"`
		Metrics []struct {
			Metrics []float64 `json:"metrics"`
		} `json:"metrics"`
	}
	if err := json.Unmarshal(data, &details); err != nil {
		return nil, fmt.Errorf("garmin: malformed details document: %w", err)
	}
	base, ok := details[detailsRootKey]
	if !ok {
		return nil, fmt.Errorf("garmin: unsupported details format")
	}

	indexes := map[string]int{}
	for _, m := range base.Measurements {
		indexes[m.Key] = m.MetricsIndex
	}
	latIdx, latOK := indexes["directLatitude"]
	lngIdx, lngOK := indexes["directLongitude"]
	if !latOK || !lngOK {
		return nil, fmt.Errorf("garmin: missing position measurements")
	}

	line := orb.LineString{}
	for _, row := range base.Metrics {
		if latIdx >= len(row.Metrics) || lngIdx >= len(row.Metrics) {
			continue
		}
		lat, lng := row.Metrics[latIdx], row.Metrics[lngIdx]
		if lat == 0.0 && lng == 0.0 {
			continue
		}
		line = append(line, orb.Point{lng, lat})
	}
	if len(line) == 0 {
		return nil, fmt.Errorf("garmin: no positions recorded")
	}
	return line, nil
}

// BuildIdentity implements tracks.Provider.
func (p *Provider) BuildIdentity(ctx context.Context, activity tracks.Activity) (sport.Identity, error) {
	var raw struct {
		ActivityType struct {
			Key string `json:"key"`
		} `json:"activityType"`
		ActivityName *struct {
			Value string `json:"value"`
		} `json:"activityName"`
		BeginTimestamp          *measure `json:"beginTimestamp"`
		SumDuration             *measure `json:"sumDuration"`
		SumDistance             *measure `json:"sumDistance"`
		WeightedMeanMovingSpeed *measure `json:"weightedMeanMovingSpeed"`
	}
	if err := json.Unmarshal(activity.Raw, &raw); err != nil {
		return sport.Identity{}, fmt.Errorf("garmin: malformed activity: %w", err)
	}

	identitySport, err := p.catalog.BySlug(ctx, raw.ActivityType.Key)
	if err != nil {
		return sport.Identity{}, err
	}

	if raw.BeginTimestamp == nil {
		return sport.Identity{}, fmt.Errorf("garmin: no begin timestamp")
	}
	millis, err := strconv.ParseInt(string(raw.BeginTimestamp.Millis), 10, 64)
	if err != nil {
		return sport.Identity{}, fmt.Errorf("garmin: bad begin timestamp: %w", err)
	}
	date := time.UnixMilli(millis).UTC()

	if raw.SumDuration == nil || raw.SumDuration.MinutesSeconds == "" {
		return sport.Identity{}, fmt.Errorf("garmin: no duration found")
	}
	duration, err := parseMinutesSeconds(raw.SumDuration.MinutesSeconds)
	if err != nil {
		return sport.Identity{}, err
	}

	distance := 0.0
	if raw.SumDistance != nil {
		distance = raw.SumDistance.float()
		if raw.SumDistance.UnitAbbr == "m" {
			distance /= 1000.0
		}
	}

	identity := sport.Identity{
		Sport:    identitySport,
		Date:     date,
		Duration: duration,
		Distance: distance,
		Pace:     buildPace(raw.WeightedMeanMovingSpeed, identitySport),
	}

	if raw.ActivityName != nil {
		if _, skip := skippedTitles[raw.ActivityName.Value]; !skip {
			identity.Name = raw.ActivityName.Value
		}
	}
	return identity, nil
}

// buildPace converts Garmin's weighted mean speed to time per km. Running
// activities reported in kph keep their native pace display instead.
func buildPace(speed *measure, s *sport.Sport) time.Duration {
	if speed == nil {
		return 0
	}
	switch {
	case speed.UnitAbbr == "km/h" || (speed.UOM == "kph" && s.Category().Slug != "running"):
		kph := speed.float()
		if kph == 0 {
			return 0
		}
		return time.Duration(60.0 / kph * float64(time.Minute))
	case speed.UnitAbbr == "min/km":
		if pace, err := parseMinutesSeconds(speed.Display); err == nil {
			return pace
		}
		minutes := speed.float()
		return time.Duration(minutes * float64(time.Minute))
	}
	return 0
}

// parseMinutesSeconds parses Garmin's "MM:SS" duration display.
func parseMinutesSeconds(value string) (time.Duration, error) {
	parts := strings.SplitN(value, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("garmin: bad duration %q", value)
	}
	var minutes, seconds float64
	if _, err := fmt.Sscanf(parts[0], "%f", &minutes); err != nil {
		return 0, fmt.Errorf("garmin: bad duration %q", value)
	}
	if _, err := fmt.Sscanf(parts[1], "%f", &seconds); err != nil {
		return 0, fmt.Errorf("garmin: bad duration %q", value)
	}
	return time.Duration((minutes*60 + seconds) * float64(time.Second)), nil
}

// BuildSplits implements tracks.Provider. Splits come from the laps document
// loaded by LoadFiles; activities without laps yield an empty list.
func (p *Provider) BuildSplits(cache *tracks.FileCache, activity tracks.Activity) ([]tracks.TrackSplit, error) {
	data, ok := cache.Get(activity.ID, lapsFileName)
	if !ok {
		return nil, nil
	}

	var laps struct {
		Activity struct {
			TotalLaps struct {
				LapSummaryList []map[string]measure `json:"lapSummaryList"`
			} `json:"totalLaps"`
		} `json:"activity"`
	}
	if err := json.Unmarshal(data, &laps); err != nil {
		return nil, fmt.Errorf("garmin: malformed laps document: %w", err)
	}

	out := make([]tracks.TrackSplit, 0, len(laps.Activity.TotalLaps.LapSummaryList))
	for i, lap := range laps.Activity.TotalLaps.LapSummaryList {
		split := tracks.TrackSplit{Position: i + 1}
		split.ElevationMin = lapFloat(lap, "MinElevation")
		split.ElevationMax = lapFloat(lap, "MaxElevation")
		split.ElevationGain = lapFloat(lap, "GainElevation")
		split.ElevationLoss = lapFloat(lap, "LossElevation")
		split.SpeedMax = lapSpeed(lap, "MaxSpeed")
		split.Speed = lapSpeed(lap, "WeightedMeanSpeed")
		split.DistanceMeters = lapDistance(lap, "SumDistance")
		split.DurationSeconds = lapFloat(lap, "SumDuration")
		split.Energy = lapFloat(lap, "SumEnergy")
		split.DateStart = lapTime(lap, "BeginTimestamp")
		split.DateEnd = lapTime(lap, "EndTimestamp")
		split.StartLat, split.StartLng = lapPoint(lap, "BeginLatitude", "BeginLongitude")
		split.EndLat, split.EndLng = lapPoint(lap, "EndLatitude", "EndLongitude")
		out = append(out, split)
	}
	return out, nil
}

func lapFloat(lap map[string]measure, name string) float64 {
	m, ok := lap[name]
	if !ok {
		return 0
	}
	return m.float()
}

// lapSpeed normalizes a lap speed to m/s.
func lapSpeed(lap map[string]measure, name string) float64 {
	m, ok := lap[name]
	if !ok {
		return 0
	}
	switch m.UOM {
	case "kph":
		return m.float() / 3.6
	case "hmph": // hectometers per hour
		return m.float() / 36
	}
	return m.float()
}

// lapDistance normalizes a lap distance to meters.
func lapDistance(lap map[string]measure, name string) float64 {
	m, ok := lap[name]
	if !ok {
		return 0
	}
	if m.UOM == "kilometer" {
		return m.float() * 1000.0
	}
	return m.float()
}

func lapTime(lap map[string]measure, name string) *time.Time {
	m, ok := lap[name]
	if !ok {
		return nil
	}
	millis := m.float()
	if millis == 0 {
		return nil
	}
	t := time.UnixMilli(int64(millis)).UTC()
	return &t
}

func lapPoint(lap map[string]measure, latName, lngName string) (*float64, *float64) {
	latMeasure, latOK := lap[latName]
	lngMeasure, lngOK := lap[lngName]
	if !latOK || !lngOK {
		return nil, nil
	}
	lat, lng := latMeasure.float(), lngMeasure.float()
	return &lat, &lng
}

// getBody performs a GET and returns the response body, failing on any
// non-200 status.
func getBody(ctx context.Context, client *http.Client, target string, params url.Values) ([]byte, error) {
	if len(params) > 0 {
		target = target + "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	res, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", res.StatusCode, target)
	}
	return io.ReadAll(res.Body)
}
