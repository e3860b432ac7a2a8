package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Source kinds understood by the provider factory.
const (
	SourceLastFM  = "lastfm"
	SourceFeed    = "feed"
	SourceICS     = "ics"
	SourceFixture = "fixture"
)

// Environment variables that override file values.
const (
	EnvUsername  = "GIGCLOCK_USERNAME"
	EnvListen    = "GIGCLOCK_LISTEN"
	EnvSourceURL = "GIGCLOCK_SOURCE_URL"
	EnvLogLevel  = "GIGCLOCK_LOG_LEVEL"
)

// SourceConfig selects and parameterizes the event provider.
type SourceConfig struct {
	// Kind is one of lastfm, feed, ics, fixture.
	Kind string `yaml:"kind" json:"kind"`

	// URL is a template for feed/ics sources and the site root for lastfm.
	// "{username}" is replaced with the path-escaped username.
	URL string `yaml:"url,omitempty" json:"url,omitempty"`

	// Path is the YAML file read by the fixture source.
	Path string `yaml:"path,omitempty" json:"path,omitempty"`

	// MaxEvents caps how many list rows the lastfm scraper parses.
	// Two is enough to see past an event happening today.
	MaxEvents int `yaml:"max_events,omitempty" json:"max_events,omitempty"`

	// TimeoutSeconds bounds a single fetch.
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the Web UI/API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the countdown page and API.
	Listen string `yaml:"listen" json:"listen"`

	// Username is the music-tracking account whose events are shown when a
	// request does not name one.
	Username string `yaml:"username" json:"username"`

	// Timezone is the IANA zone used for zoneless feed dates and for the
	// refresh schedule.
	Timezone string `yaml:"timezone" json:"timezone"`

	// RefreshCron is a cron-style schedule for refetching events.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// CacheTTLSeconds is how long a fetched batch is reused by the API
	// before the provider is asked again.
	CacheTTLSeconds int `yaml:"cache_ttl_seconds" json:"cache_ttl_seconds"`

	// HorizonDays bounds recurring-event expansion for ics sources.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	// CacheDir holds conditional-GET caches for HTTP sources.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// SnapshotPath, if set, receives a PNG of the countdown page after
	// every scheduled refresh.
	SnapshotPath string `yaml:"snapshot_path,omitempty" json:"snapshot_path,omitempty"`

	// CountdownPeriodMillis is the tick cadence of live countdown streams.
	CountdownPeriodMillis int `yaml:"countdown_period_ms" json:"countdown_period_ms"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	Source SourceConfig `yaml:"source" json:"source"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:                "127.0.0.1:8080",
		Timezone:              "UTC",
		RefreshCron:           "*/30 * * * *",
		CacheTTLSeconds:       300,
		HorizonDays:           365,
		CacheDir:              "/var/lib/gigclock/cache",
		LogLevel:              "INFO",
		CountdownPeriodMillis: 1000,
		Source: SourceConfig{
			Kind:           SourceLastFM,
			URL:            "https://www.last.fm",
			MaxEvents:      2,
			TimeoutSeconds: 60,
		},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()

	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.RefreshCron == "" {
		c.RefreshCron = def.RefreshCron
	}
	if c.CacheTTLSeconds <= 0 {
		c.CacheTTLSeconds = def.CacheTTLSeconds
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = def.HorizonDays
	}
	if c.CacheDir == "" {
		c.CacheDir = def.CacheDir
	}
	if c.CountdownPeriodMillis <= 0 {
		c.CountdownPeriodMillis = def.CountdownPeriodMillis
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	c.Username = strings.TrimSpace(c.Username)

	c.Source.Kind = strings.ToLower(strings.TrimSpace(c.Source.Kind))
	switch c.Source.Kind {
	case SourceLastFM, SourceFeed, SourceICS, SourceFixture:
		// ok
	case "":
		c.Source.Kind = def.Source.Kind
	default:
		// Left as-is; the provider factory reports unknown kinds.
	}
	if c.Source.Kind == SourceLastFM && c.Source.URL == "" {
		c.Source.URL = def.Source.URL
	}
	if c.Source.MaxEvents <= 0 {
		c.Source.MaxEvents = def.Source.MaxEvents
	}
	if c.Source.TimeoutSeconds <= 0 {
		c.Source.TimeoutSeconds = def.Source.TimeoutSeconds
	}
}

// ApplyEnv overrides file values with GIGCLOCK_* environment variables.
// A .env file in the working directory is loaded first when present;
// variables already set in the process environment win over it.
func (c *Config) ApplyEnv() {
	_ = godotenv.Load()

	if v := envValue(EnvUsername); v != "" {
		c.Username = v
	}
	if v := envValue(EnvListen); v != "" {
		c.Listen = v
	}
	if v := envValue(EnvSourceURL); v != "" {
		c.Source.URL = v
	}
	if v := envValue(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
}

func envValue(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
//
// Environment overrides are not applied here; see ApplyEnv.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".gigclock-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}
