package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix           = "COACHLOG"
	defaultHTTPAddress  = "0.0.0.0:8080"
	defaultDatabasePath = "coachlog.db"
	defaultBlobRoot     = "blobs"
	defaultLogLevel     = "info"
	defaultHTTPTimeout  = 30 * time.Second
	defaultImportLimit  = 4

	defaultGarminHostnameURL  = "https://connect.garmin.com/gauth/hostname"
	defaultGarminLoginURL     = "https://sso.garmin.com/sso/login"
	defaultGarminPostLoginURL = "https://connect.garmin.com/post-auth/login"
	defaultGarminUsernameURL  = "https://connect.garmin.com/user/username"
	defaultGarminActivityURL  = "https://connect.garmin.com/proxy/activity-search-service-1.0/json/activities"
	defaultGarminLapsURL      = "https://connect.garmin.com/proxy/activity-service-1.3/json/activity/%s"
	defaultGarminDetailsURL   = "https://connect.garmin.com/proxy/activity-service-1.3/json/activityDetails/%s"

	defaultStravaBaseURL  = "https://www.strava.com/api/v3"
	defaultStravaTokenURL = "https://www.strava.com/oauth/token"
)

// GarminConfig carries the endpoint set for the Garmin Connect adapter.
// Endpoints are overridable so tests can point the adapter at a local server.
type GarminConfig struct {
	HostnameURL  string
	LoginURL     string
	PostLoginURL string
	UsernameURL  string
	ActivityURL  string
	LapsURL      string
	DetailsURL   string
}

// StravaConfig carries the OAuth application identity and endpoints for the
// Strava adapter.
type StravaConfig struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	TokenURL     string
}

// AppConfig captures runtime configuration for the API server and importer.
type AppConfig struct {
	HTTPAddress   string
	DatabasePath  string
	BlobRoot      string
	LogLevel      string
	SigningSecret string
	VaultKeyHex   string
	HTTPTimeout   time.Duration
	ImportWorkers int
	Garmin        GarminConfig
	Strava        StravaConfig
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("blob.root", defaultBlobRoot)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("http.timeout", defaultHTTPTimeout)
	configViper.SetDefault("import.workers", defaultImportLimit)

	configViper.SetDefault("garmin.hostname_url", defaultGarminHostnameURL)
	configViper.SetDefault("garmin.login_url", defaultGarminLoginURL)
	configViper.SetDefault("garmin.post_login_url", defaultGarminPostLoginURL)
	configViper.SetDefault("garmin.username_url", defaultGarminUsernameURL)
	configViper.SetDefault("garmin.activity_url", defaultGarminActivityURL)
	configViper.SetDefault("garmin.laps_url", defaultGarminLapsURL)
	configViper.SetDefault("garmin.details_url", defaultGarminDetailsURL)

	configViper.SetDefault("strava.base_url", defaultStravaBaseURL)
	configViper.SetDefault("strava.token_url", defaultStravaTokenURL)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:   configViper.GetString("http.address"),
		DatabasePath:  configViper.GetString("database.path"),
		BlobRoot:      configViper.GetString("blob.root"),
		LogLevel:      configViper.GetString("log.level"),
		SigningSecret: configViper.GetString("auth.signing_secret"),
		VaultKeyHex:   configViper.GetString("vault.key"),
		HTTPTimeout:   configViper.GetDuration("http.timeout"),
		ImportWorkers: configViper.GetInt("import.workers"),
		Garmin: GarminConfig{
			HostnameURL:  configViper.GetString("garmin.hostname_url"),
			LoginURL:     configViper.GetString("garmin.login_url"),
			PostLoginURL: configViper.GetString("garmin.post_login_url"),
			UsernameURL:  configViper.GetString("garmin.username_url"),
			ActivityURL:  configViper.GetString("garmin.activity_url"),
			LapsURL:      configViper.GetString("garmin.laps_url"),
			DetailsURL:   configViper.GetString("garmin.details_url"),
		},
		Strava: StravaConfig{
			ClientID:     configViper.GetString("strava.client_id"),
			ClientSecret: configViper.GetString("strava.client_secret"),
			BaseURL:      configViper.GetString("strava.base_url"),
			TokenURL:     configViper.GetString("strava.token_url"),
		},
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.VaultKeyHex) == "" {
		return fmt.Errorf("vault.key is required")
	}
	if decoded, err := hex.DecodeString(c.VaultKeyHex); err != nil || len(decoded) != 32 {
		return fmt.Errorf("vault.key must be 64 hex characters (32 bytes)")
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("http.timeout must be positive")
	}
	if c.ImportWorkers <= 0 {
		return fmt.Errorf("import.workers must be positive")
	}
	return nil
}
