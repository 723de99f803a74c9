package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"gopkg.in/yaml.v3"

	"tradein/internal/auth"
	"tradein/internal/availability"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions.

const (
	ProviderGoogle = "google"
	ProviderICS    = "ics"
)

// Environment variables consulted when gemini.api_key is empty, in order.
var apiKeyEnv = []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"}

// ICSConfig describes a single ICS subscription source.
type ICSConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// ID is an internal identifier used for de-dup and logging.
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
}

// BusinessHours bounds the bookable part of each business day.
type BusinessHours struct {
	OpenHour    int `yaml:"open_hour" json:"open_hour"`
	CloseHour   int `yaml:"close_hour" json:"close_hour"`
	SlotMinutes int `yaml:"slot_minutes" json:"slot_minutes"`
}

// ZoneConfig assigns window days FirstDay..LastDay to a NEAR/MID/FAR zone.
type ZoneConfig struct {
	Name     string `yaml:"name" json:"name"`
	FirstDay int    `yaml:"first_day" json:"first_day"`
	LastDay  int    `yaml:"last_day" json:"last_day"`
}

// CalendarConfig selects and tunes the calendar provider.
type CalendarConfig struct {
	// Provider is "google" or "ics".
	Provider   string `yaml:"provider" json:"provider"`
	CalendarID string `yaml:"calendar_id" json:"calendar_id"`

	// CredentialsDir holds credentials.json and token.json for google.
	CredentialsDir string `yaml:"credentials_dir" json:"credentials_dir"`
	CallbackPort   int    `yaml:"callback_port,omitempty" json:"callback_port,omitempty"`

	// ICS feeds are read-only; bookings go to StorePath.
	ICS       []ICSConfig `yaml:"ics" json:"ics"`
	CacheDir  string      `yaml:"cache_dir" json:"cache_dir"`
	StorePath string      `yaml:"store_path" json:"store_path"`
	// CacheMaxStaleHours bounds how long a cached feed body may stand in
	// for a feed that cannot be fetched.
	CacheMaxStaleHours int `yaml:"cache_max_stale_hours" json:"cache_max_stale_hours"`

	// RefreshCron is a cron-style schedule string (e.g. "*/15 * * * *")
	// for re-fetching ICS feeds.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	ReadTimeoutSeconds  int  `yaml:"read_timeout_seconds" json:"read_timeout_seconds"`
	WriteTimeoutSeconds int  `yaml:"write_timeout_seconds" json:"write_timeout_seconds"`
	VerifyBeforeWrite   bool `yaml:"verify_before_write" json:"verify_before_write"`
}

func (c CalendarConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutSeconds) * time.Second
}

func (c CalendarConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutSeconds) * time.Second
}

func (c CalendarConfig) CacheMaxStale() time.Duration {
	return time.Duration(c.CacheMaxStaleHours) * time.Hour
}

type GeminiConfig struct {
	APIKey         string `yaml:"api_key" json:"-"`
	Model          string `yaml:"model" json:"model"`
	TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API. The
// password is stored as an argon2id hash (see `tradein hash-password`).
type BasicAuthConfig struct {
	Username     string `yaml:"username" json:"username"`
	PasswordHash string `yaml:"password_hash" json:"-"`
}

type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second" json:"per_second"`
	Burst     int     `yaml:"burst" json:"burst"`
}

type LogConfig struct {
	Level       string `yaml:"level" json:"level"`
	Development bool   `yaml:"development" json:"development"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the business timezone: an IANA name such as
	// "America/New_York" or a fixed offset such as "UTC-5".
	Timezone string `yaml:"timezone" json:"timezone"`

	HorizonDays     int           `yaml:"horizon_days" json:"horizon_days"`
	StartOffsetDays int           `yaml:"start_offset_days" json:"start_offset_days"`
	BusinessHours   BusinessHours `yaml:"business_hours" json:"business_hours"`

	// ExcludedWeekdays are closed every week ("sunday", "sat", ...).
	ExcludedWeekdays []string `yaml:"excluded_weekdays" json:"excluded_weekdays"`
	// Holidays are closed dates, "YYYY-MM-DD" optionally followed by a label.
	Holidays []string `yaml:"holidays" json:"holidays"`

	// Zones partition the window; empty means the default 2/3/2 split.
	Zones []ZoneConfig `yaml:"zones" json:"zones"`

	ContactPhone string `yaml:"contact_phone" json:"contact_phone"`

	Calendar CalendarConfig `yaml:"calendar" json:"calendar"`
	Gemini   GeminiConfig   `yaml:"gemini" json:"gemini"`

	SessionTTLMinutes int `yaml:"session_ttl_minutes" json:"session_ttl_minutes"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	CORSOrigins []string        `yaml:"cors_origins" json:"cors_origins"`
	RateLimit   RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
	Log         LogConfig       `yaml:"log" json:"log"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{
		ExcludedWeekdays: []string{"sunday"},
		Calendar: CalendarConfig{
			Provider:          ProviderGoogle,
			VerifyBeforeWrite: true,
		},
	}
	c.Normalize()
	return c
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.Timezone == "" {
		c.Timezone = "America/New_York"
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = 7
	}
	if c.StartOffsetDays <= 0 {
		c.StartOffsetDays = 1
	}
	if c.BusinessHours == (BusinessHours{}) {
		c.BusinessHours = BusinessHours{OpenHour: 9, CloseHour: 17}
	}
	if c.BusinessHours.SlotMinutes <= 0 {
		c.BusinessHours.SlotMinutes = 60
	}
	if c.ExcludedWeekdays == nil {
		c.ExcludedWeekdays = []string{"sunday"}
	}
	if c.ContactPhone == "" {
		c.ContactPhone = "303-269-1421"
	}

	cal := &c.Calendar
	cal.Provider = strings.ToLower(strings.TrimSpace(cal.Provider))
	if cal.Provider == "" {
		cal.Provider = ProviderGoogle
	}
	if cal.CalendarID == "" {
		cal.CalendarID = "primary"
	}
	if cal.ICS == nil {
		cal.ICS = []ICSConfig{}
	}
	for i := range cal.ICS {
		if cal.ICS[i].ID == "" {
			cal.ICS[i].ID = fmt.Sprintf("feed%d", i+1)
		}
	}
	if cal.RefreshCron == "" {
		cal.RefreshCron = "*/15 * * * *"
	}
	if cal.CacheMaxStaleHours <= 0 {
		cal.CacheMaxStaleHours = 24
	}
	if cal.ReadTimeoutSeconds <= 0 {
		cal.ReadTimeoutSeconds = 10
	}
	if cal.WriteTimeoutSeconds <= 0 {
		cal.WriteTimeoutSeconds = 15
	}

	if c.Gemini.Model == "" {
		c.Gemini.Model = "gemini-2.0-flash"
	}
	if c.Gemini.TimeoutSeconds <= 0 {
		c.Gemini.TimeoutSeconds = 20
	}
	if c.SessionTTLMinutes <= 0 {
		c.SessionTTLMinutes = 30
	}
	if c.RateLimit.PerSecond <= 0 {
		c.RateLimit.PerSecond = 5
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 10
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Dirs fills directory defaults relative to the config file location.
func (c *Config) Dirs(configPath string) {
	base := filepath.Dir(configPath)
	if c.Calendar.CredentialsDir == "" {
		c.Calendar.CredentialsDir = base
	}
	if c.Calendar.CacheDir == "" {
		c.Calendar.CacheDir = filepath.Join(base, "cache")
	}
	if c.Calendar.StorePath == "" {
		c.Calendar.StorePath = filepath.Join(base, "bookings.ics")
	}
}

// Validate rejects settings the scheduler cannot run with. It expects a
// normalized config.
func (c *Config) Validate() error {
	rules, err := c.Rules()
	if err != nil {
		return err
	}
	if err := rules.Validate(); err != nil {
		return err
	}
	zones, err := c.ZoneRanges()
	if err != nil {
		return err
	}
	if err := availability.ValidateZones(zones, c.HorizonDays); err != nil {
		return err
	}
	switch c.Calendar.Provider {
	case ProviderGoogle:
	case ProviderICS:
		for _, src := range c.Calendar.ICS {
			if src.URL == "" {
				return fmt.Errorf("config: ics source %q has no url", src.ID)
			}
		}
	default:
		return fmt.Errorf("config: unknown calendar provider %q (want google or ics)", c.Calendar.Provider)
	}
	if c.BasicAuth != nil {
		if c.BasicAuth.Username == "" {
			return errors.New("config: basic_auth.username is empty")
		}
		if err := auth.ValidateHash(c.BasicAuth.PasswordHash); err != nil {
			return fmt.Errorf("config: basic_auth.password_hash: %w", err)
		}
	}
	return nil
}

// Rules builds the business-hour rules. The result is not validated.
func (c *Config) Rules() (availability.Rules, error) {
	loc, err := availability.LoadLocation(c.Timezone)
	if err != nil {
		return availability.Rules{}, err
	}
	excluded, err := availability.ParseWeekdays(c.ExcludedWeekdays)
	if err != nil {
		return availability.Rules{}, err
	}
	holidays, err := parseHolidays(c.Holidays)
	if err != nil {
		return availability.Rules{}, err
	}
	return availability.Rules{
		Location:         loc,
		OpenHour:         c.BusinessHours.OpenHour,
		CloseHour:        c.BusinessHours.CloseHour,
		SlotDuration:     time.Duration(c.BusinessHours.SlotMinutes) * time.Minute,
		ExcludedWeekdays: excluded,
		Holidays:         holidays,
	}, nil
}

func parseHolidays(entries []string) (map[civil.Date]string, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	out := make(map[civil.Date]string, len(entries))
	for _, e := range entries {
		raw, label, _ := strings.Cut(strings.TrimSpace(e), " ")
		d, err := civil.ParseDate(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: holiday %q", availability.ErrInvalidRules, e)
		}
		label = strings.TrimSpace(label)
		if label == "" {
			label = "holiday"
		}
		out[d] = label
	}
	return out, nil
}

// ZoneRanges converts the configured zones, or returns the default split
// of the horizon when none are configured.
func (c *Config) ZoneRanges() ([]availability.ZoneRange, error) {
	if len(c.Zones) == 0 {
		return availability.DefaultZones(c.HorizonDays), nil
	}
	out := make([]availability.ZoneRange, 0, len(c.Zones))
	for _, z := range c.Zones {
		zone, err := availability.ParseZone(z.Name)
		if err != nil {
			return nil, err
		}
		out = append(out, availability.ZoneRange{Zone: zone, FirstDay: z.FirstDay, LastDay: z.LastDay})
	}
	return out, nil
}

// Credentials returns the basic auth credentials; the zero value disables
// auth.
func (c *Config) Credentials() auth.Credentials {
	if c.BasicAuth == nil {
		return auth.Credentials{}
	}
	return auth.Credentials{Username: c.BasicAuth.Username, PasswordHash: c.BasicAuth.PasswordHash}
}

// applyEnv fills secrets that are commonly provided through the
// environment rather than the file.
func (c *Config) applyEnv(getenv func(string) string) {
	if c.Gemini.APIKey != "" {
		return
	}
	for _, name := range apiKeyEnv {
		if v := strings.TrimSpace(getenv(name)); v != "" {
			c.Gemini.APIKey = v
			return
		}
	}
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
//   - normalize defaults and validate
//
// Environment API keys are applied after the default file is written, so
// they never end up on disk.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		// First run: create default config file.
		cfg := DefaultConfig()
		if err := Save(path, cfg); err != nil {
			// Even if save fails, return cfg with error so caller can decide.
			return cfg, err
		}
		cfg.Dirs(path)
		cfg.applyEnv(os.Getenv)
		return cfg, nil
	}

	cfg := Config{Calendar: CalendarConfig{VerifyBeforeWrite: true}}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()
	cfg.Dirs(path)
	cfg.applyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes cfg to path atomically.
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

	tmp, err := os.CreateTemp(dir, ".tradein-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
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

func (c *Config) Save(path string) error {
	return Save(path, c)
}
