// Package config loads and validates medlearn-core's YAML configuration.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Port        string `yaml:"port"`
	MetricsPort string `yaml:"metrics_port"`
}

type DatabaseConfig struct {
	DSN           string `yaml:"dsn"`
	MaxOpenConns  int    `yaml:"max_open_conns"`
	MaxIdleConns  int    `yaml:"max_idle_conns"`
}

type RedisConfig struct {
	Addr string `yaml:"addr"`
	DB   int    `yaml:"db"`
}

type RuntimeConfig struct {
	SafeModeDefault bool `yaml:"safe_mode_default"`
}

type SelectionConfig struct {
	DefaultChallengeLow  float64 `yaml:"default_challenge_low"`
	DefaultChallengeHigh float64 `yaml:"default_challenge_high"`
	MinThemeCount        int     `yaml:"min_theme_count"`
	MaxThemeCount         int     `yaml:"max_theme_count"`
}

type FSRSConfig struct {
	DesiredRetention           float64 `yaml:"desired_retention"`
	PersonalizationMinReviews int     `yaml:"personalization_min_reviews"`
}

type EloConfig struct {
	InitialLearnerRating float64 `yaml:"initial_learner_rating"`
	InitialItemRating    float64 `yaml:"initial_item_rating"`
	KFactor              float64 `yaml:"k_factor"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// RateLimitConfig holds the per-endpoint-class request limits (per minute)
// that pkg/ratelimit Policy values are built from, in the same
// hot-reloadable file as the rest of the ambient stack. The window and the
// fail-open decision are not configured here: the call site in
// internal/httpapi sets them.
type RateLimitConfig struct {
	AuthenticatedRPM int `yaml:"authenticated_rpm"`
	AdminRPM         int `yaml:"admin_rpm"`
}

type Config struct {
	Environment string          `yaml:"environment"`
	Server      ServerConfig    `yaml:"server"`
	Database    DatabaseConfig  `yaml:"database"`
	Redis       RedisConfig     `yaml:"redis"`
	Runtime     RuntimeConfig   `yaml:"runtime"`
	Selection   SelectionConfig `yaml:"selection"`
	FSRS        FSRSConfig      `yaml:"fsrs"`
	Elo         EloConfig       `yaml:"elo"`
	Logging     LoggingConfig   `yaml:"logging"`
	CORS        CORSConfig      `yaml:"cors"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
}

// IsProduction reports whether this process is running against a production
// deployment. It gates two-person-approval enforcement in pkg/runtimectl and
// must only ever be read from this server-side config, never from a request.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Load reads, parses, defaults and validates a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := loadFromEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if cfg.Server.MetricsPort == "" {
		cfg.Server.MetricsPort = "9090"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Selection.DefaultChallengeLow == 0 {
		cfg.Selection.DefaultChallengeLow = 0.55
	}
	if cfg.Selection.DefaultChallengeHigh == 0 {
		cfg.Selection.DefaultChallengeHigh = 0.80
	}
	if cfg.Selection.MinThemeCount == 0 {
		cfg.Selection.MinThemeCount = 2
	}
	if cfg.Selection.MaxThemeCount == 0 {
		cfg.Selection.MaxThemeCount = 6
	}
	if cfg.FSRS.DesiredRetention == 0 {
		cfg.FSRS.DesiredRetention = 0.90
	}
	if cfg.FSRS.PersonalizationMinReviews == 0 {
		cfg.FSRS.PersonalizationMinReviews = 50
	}
	if cfg.Elo.InitialLearnerRating == 0 {
		cfg.Elo.InitialLearnerRating = 1200
	}
	if cfg.Elo.InitialItemRating == 0 {
		cfg.Elo.InitialItemRating = 1200
	}
	if cfg.Elo.KFactor == 0 {
		cfg.Elo.KFactor = 24
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		cfg.CORS.AllowedOrigins = []string{"*"}
	}
	if cfg.RateLimit.AuthenticatedRPM == 0 {
		cfg.RateLimit.AuthenticatedRPM = 120
	}
	if cfg.RateLimit.AdminRPM == 0 {
		cfg.RateLimit.AdminRPM = 30
	}
}

func loadFromEnv(cfg *Config) error {
	if v := os.Getenv("ENVIRONMENT"); v != "" {
		cfg.Environment = v
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("METRICS_PORT"); v != "" {
		cfg.Server.MetricsPort = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SAFE_MODE_DEFAULT"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid SAFE_MODE_DEFAULT value %q: %w", v, err)
		}
		cfg.Runtime.SafeModeDefault = b
	}
	return nil
}

func validate(cfg *Config) error {
	if cfg.Database.DSN == "" {
		return fmt.Errorf("database DSN is required")
	}
	if cfg.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database max_open_conns must be greater than 0")
	}
	if cfg.Selection.DefaultChallengeLow < 0 || cfg.Selection.DefaultChallengeLow > 1 {
		return fmt.Errorf("selection default_challenge_low must be between 0.0 and 1.0")
	}
	if cfg.Selection.DefaultChallengeHigh < 0 || cfg.Selection.DefaultChallengeHigh > 1 {
		return fmt.Errorf("selection default_challenge_high must be between 0.0 and 1.0")
	}
	if cfg.Selection.DefaultChallengeLow >= cfg.Selection.DefaultChallengeHigh {
		return fmt.Errorf("selection default_challenge_low must be less than default_challenge_high")
	}
	if cfg.Selection.MinThemeCount <= 0 {
		return fmt.Errorf("selection min_theme_count must be greater than 0")
	}
	if cfg.Selection.MaxThemeCount < cfg.Selection.MinThemeCount {
		return fmt.Errorf("selection max_theme_count must be >= min_theme_count")
	}
	if cfg.FSRS.DesiredRetention <= 0 || cfg.FSRS.DesiredRetention >= 1 {
		return fmt.Errorf("fsrs desired_retention must be between 0.0 and 1.0")
	}
	switch cfg.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("unsupported logging format %q", cfg.Logging.Format)
	}
	return nil
}

// Duration is a helper used by callers that parse durations out of free-form
// string config values (e.g. hot-reloaded override files written by the
// admin tooling outside this struct).
func Duration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// Watch starts an fsnotify watch on path's directory and calls onChange with
// a freshly reloaded Config each time the file is written. It never touches
// the Runtime Config (profile/freeze/overrides) stored in Postgres: that
// lives behind pkg/runtimectl's own cache-invalidation path. This covers
// only the ambient settings a deployer edits on disk; which of them take
// effect without a process restart is decided by what onChange applies.
//
// A reload that fails validation is logged and the previous Config is kept;
// onChange is only invoked with a Config that already passed validate.
func Watch(ctx context.Context, path string, log logr.Logger, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to start config watcher: %w", err)
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch config directory %s: %w", dir, err)
	}

	target := filepath.Clean(path)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					log.Error(err, "config reload failed, keeping previous config")
					continue
				}
				log.Info("configuration reloaded", "path", path)
				onChange(cfg)
			case watchErr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Error(watchErr, "config watcher error")
			}
		}
	}()
	return nil
}
