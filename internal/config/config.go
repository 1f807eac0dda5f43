package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/custodia-labs/keapsync/internal/adapters/driven/config/file"
)

// Config is the resolved runtime configuration.
type Config struct {
	// File is the settings file that was read, if any.
	File      string
	Keap      KeapConfig
	Database  DatabaseConfig
	Log       LogConfig
	Telemetry TelemetryConfig
	Sync      SyncConfig
	Scheduler SchedulerConfig
}

type KeapConfig struct {
	BaseURL      string
	APIKey       string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	TokenFile    string
	// RequestsPerSecond paces outgoing requests. Zero disables pacing.
	RequestsPerSecond float64
	Timeout           time.Duration
}

type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string
	Path   string
	URL    string
}

type LogConfig struct {
	Level  string
	Format string
}

type TelemetryConfig struct {
	Enabled bool
}

type SyncConfig struct {
	PageSize   int
	BatchSize  int
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

type SchedulerConfig struct {
	Interval      time.Duration
	RetentionDays int
}

// Database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const (
	defaultBaseURL     = "https://api.infusionsoft.com"
	defaultRedirectURI = "http://localhost:5000/keap/oauth/callback"
	maxPageSize        = 1000
	maxBatchSize       = 1000
)

// Loader reads configuration from a .env file, the TOML settings file and
// the environment, in increasing order of precedence.
type Loader struct {
	dir     string
	envFile string

	mu sync.Mutex
	v  *viper.Viper
}

// NewLoader creates a loader for the settings directory.
// An empty dir uses ~/.keapsync.
func NewLoader(dir string) (*Loader, error) {
	if dir == "" {
		d, err := file.DefaultDir()
		if err != nil {
			return nil, err
		}
		dir = d
	}
	return &Loader{dir: dir, envFile: ".env", v: newViper(filepath.Join(dir, file.FileName))}, nil
}

// Load is shorthand for NewLoader("") followed by Load.
func Load() (Config, error) {
	l, err := NewLoader("")
	if err != nil {
		return Config{}, err
	}
	return l.Load()
}

// Dir returns the settings directory.
func (l *Loader) Dir() string {
	return l.dir
}

// Load reads every source and returns the resolved configuration.
func (l *Loader) Load() (Config, error) {
	if err := godotenv.Load(l.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("loading %s: %w", l.envFile, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.v.ReadInConfig(); err != nil && !isMissingConfig(err) {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	return l.build()
}

// Watch calls onChange with the reloaded configuration every time the
// settings file is written. Reload errors are passed to onError.
func (l *Loader) Watch(onChange func(Config), onError func(error)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		l.mu.Lock()
		cfg, err := l.build()
		l.mu.Unlock()
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(cfg)
	})
	l.v.WatchConfig()
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("keap.base_url", defaultBaseURL)
	v.SetDefault("keap.api_key", "")
	v.SetDefault("keap.client_id", "")
	v.SetDefault("keap.client_secret", "")
	v.SetDefault("keap.redirect_uri", defaultRedirectURI)
	v.SetDefault("keap.token_file", "")
	v.SetDefault("keap.requests_per_second", 10.0)
	v.SetDefault("keap.timeout", "60s")
	v.SetDefault("db.driver", DriverSQLite)
	v.SetDefault("db.path", "")
	v.SetDefault("db.url", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("telemetry.enabled", "on")
	v.SetDefault("sync.page_size", maxPageSize)
	v.SetDefault("sync.batch_size", 500)
	v.SetDefault("sync.max_retries", 5)
	v.SetDefault("sync.base_delay", "1s")
	v.SetDefault("sync.max_delay", "30s")
	v.SetDefault("scheduler.interval", "1h")
	v.SetDefault("scheduler.retention_days", 30)

	// Names that do not follow the section_key pattern.
	_ = v.BindEnv("db.url", "DB_URL", "DATABASE_URL")
	_ = v.BindEnv("telemetry.enabled", "TELEMETRY_ENABLED", "ETL_META")
	return v
}

func (l *Loader) build() (Config, error) {
	v := l.v
	cfg := Config{
		Keap: KeapConfig{
			BaseURL:           strings.TrimRight(strings.TrimSpace(v.GetString("keap.base_url")), "/"),
			APIKey:            strings.TrimSpace(v.GetString("keap.api_key")),
			ClientID:          strings.TrimSpace(v.GetString("keap.client_id")),
			ClientSecret:      strings.TrimSpace(v.GetString("keap.client_secret")),
			RedirectURI:       strings.TrimSpace(v.GetString("keap.redirect_uri")),
			TokenFile:         strings.TrimSpace(v.GetString("keap.token_file")),
			RequestsPerSecond: v.GetFloat64("keap.requests_per_second"),
			Timeout:           v.GetDuration("keap.timeout"),
		},
		Database: DatabaseConfig{
			Driver: strings.ToLower(strings.TrimSpace(v.GetString("db.driver"))),
			Path:   strings.TrimSpace(v.GetString("db.path")),
			URL:    strings.TrimSpace(v.GetString("db.url")),
		},
		Log: LogConfig{
			Level:  strings.ToLower(strings.TrimSpace(v.GetString("log.level"))),
			Format: strings.ToLower(strings.TrimSpace(v.GetString("log.format"))),
		},
		Telemetry: TelemetryConfig{
			Enabled: switchedOn(v.GetString("telemetry.enabled")),
		},
		Sync: SyncConfig{
			PageSize:   clamp(v.GetInt("sync.page_size"), 1, maxPageSize),
			BatchSize:  clamp(v.GetInt("sync.batch_size"), 1, maxBatchSize),
			MaxRetries: v.GetInt("sync.max_retries"),
			BaseDelay:  v.GetDuration("sync.base_delay"),
			MaxDelay:   v.GetDuration("sync.max_delay"),
		},
		Scheduler: SchedulerConfig{
			Interval:      v.GetDuration("scheduler.interval"),
			RetentionDays: v.GetInt("scheduler.retention_days"),
		},
	}
	if used := v.ConfigFileUsed(); used != "" {
		cfg.File = used
	}

	if cfg.Keap.BaseURL == "" {
		cfg.Keap.BaseURL = defaultBaseURL
	}
	if cfg.Keap.TokenFile == "" {
		cfg.Keap.TokenFile = filepath.Join(l.dir, "tokens.json")
	}
	if cfg.Keap.RequestsPerSecond < 0 {
		cfg.Keap.RequestsPerSecond = 0
	}
	if cfg.Keap.Timeout <= 0 {
		cfg.Keap.Timeout = 60 * time.Second
	}
	if cfg.Sync.MaxRetries < 0 {
		cfg.Sync.MaxRetries = 0
	}
	if cfg.Scheduler.Interval < time.Minute {
		cfg.Scheduler.Interval = time.Minute
	}
	if cfg.Scheduler.RetentionDays <= 0 {
		cfg.Scheduler.RetentionDays = 30
	}

	switch cfg.Database.Driver {
	case DriverSQLite:
		if cfg.Database.Path == "" {
			cfg.Database.Path = filepath.Join(l.dir, "data", "keapsync.db")
		}
	case DriverPostgres:
		if cfg.Database.URL == "" {
			return Config{}, errors.New("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	default:
		return Config{}, fmt.Errorf("invalid DB_DRIVER: %q", cfg.Database.Driver)
	}

	switch cfg.Log.Format {
	case "json", "text":
	default:
		return Config{}, fmt.Errorf("invalid LOG_FORMAT: %q", cfg.Log.Format)
	}
	return cfg, nil
}

// secretKeys are masked when settings are printed.
var secretKeys = map[string]bool{
	"keap.api_key":       true,
	"keap.client_secret": true,
	"db.url":             true,
}

// Keys returns every setting key the loader understands, sorted.
func Keys() []string {
	keys := newViper("").AllKeys()
	slices.Sort(keys)
	return keys
}

// IsKnownKey reports whether key is a recognised setting.
func IsKnownKey(key string) bool {
	return slices.Contains(Keys(), key)
}

// IsSecret reports whether the value of key should be masked.
func IsSecret(key string) bool {
	return secretKeys[key]
}

// HasOAuthClient reports whether the OAuth2 client credentials are set.
func (c KeapConfig) HasOAuthClient() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// Retention is the scheduler's run retention as a duration.
func (c SchedulerConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// switchedOn treats everything except 0, false and off as enabled.
func switchedOn(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "0", "false", "off":
		return false
	default:
		return true
	}
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

func isMissingConfig(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
}
