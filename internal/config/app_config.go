package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/shaharia-lab/dealnotify/internal/logger"
)

// AppConfig holds all application-level configuration loaded from environment variables.
type AppConfig struct {
	// Port is the HTTP server port. Defaults to 8990.
	Port int `envconfig:"PORT" default:"8990"`

	// DataDir is the root data directory. Defaults to ~/.dealnotify.
	DataDir string `envconfig:"DATA_DIR"`

	// LogLevel sets the minimum log level (debug, info, warn, error). Defaults to info.
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// DBPath overrides the SQLite database location. Defaults to <DataDir>/dealnotify.db.
	DBPath string `envconfig:"DB_PATH"`

	// NotifyEnabled is the global switch for publish handling.
	NotifyEnabled bool `envconfig:"NOTIFY_ENABLED" default:"true"`

	// ProcessImmediately runs a batch inline after a publish queued tasks.
	ProcessImmediately bool `envconfig:"PROCESS_IMMEDIATELY" default:"false"`

	BatchSize int `envconfig:"BATCH_SIZE" default:"50"`

	// ProcessInterval is the period of the scheduled batch tick.
	ProcessInterval time.Duration `envconfig:"PROCESS_INTERVAL" default:"5m"`

	// CleanupAt is the daily retention run, as HH:MM in Timezone.
	CleanupAt string `envconfig:"CLEANUP_AT" default:"03:00"`

	LogRetentionDays   int `envconfig:"LOG_RETENTION_DAYS" default:"30"`
	QueueRetentionDays int `envconfig:"QUEUE_RETENTION_DAYS" default:"7"`

	// DealsCategory is the category slug that marks content as a deal.
	DealsCategory string `envconfig:"DEALS_CATEGORY" default:"deals"`

	// DealFlagMeta is an optional metadata key whose truthy value marks content as a deal.
	DealFlagMeta string `envconfig:"DEAL_FLAG_META"`

	// Timezone is the host's zone, used for the cleanup schedule and for
	// legacy queue rows written in local time. Empty means the process zone.
	Timezone string `envconfig:"TIMEZONE"`

	// RedisURL enables the distributed batch lock when set.
	RedisURL string `envconfig:"REDIS_URL"`

	// AdminToken is the bearer token for host-only routes.
	AdminToken string `envconfig:"ADMIN_TOKEN"`

	// ChannelsFile overrides the provider configuration path. Defaults to <DataDir>/channels.yaml.
	ChannelsFile string `envconfig:"CHANNELS_FILE"`

	// SiteName prefixes subjects and push headings.
	SiteName string `envconfig:"SITE_NAME" default:"Deals"`

	// CORSOrigins lists the origins allowed to call the API from a browser.
	CORSOrigins []string `envconfig:"CORS_ORIGINS"`
}

// Load reads AppConfig from environment variables using envconfig.
// DataDir defaults to ~/.dealnotify if not set.
func Load() (*AppConfig, error) {
	var c AppConfig
	if err := envconfig.Process("", &c); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving home directory: %w", err)
		}
		c.DataDir = filepath.Join(home, ".dealnotify")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks values envconfig cannot check on its own.
func (c *AppConfig) Validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("BATCH_SIZE must be positive, got %d", c.BatchSize)
	}
	if c.ProcessInterval <= 0 {
		return fmt.Errorf("PROCESS_INTERVAL must be positive, got %s", c.ProcessInterval)
	}
	if c.LogRetentionDays <= 0 || c.QueueRetentionDays <= 0 {
		return fmt.Errorf("retention days must be positive")
	}
	if _, _, err := c.CleanupTime(); err != nil {
		return err
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// SlogLevel converts the LogLevel string to a slog.Level.
// Unknown values default to slog.LevelInfo.
func (c *AppConfig) SlogLevel() slog.Level {
	return logger.ParseLevel(c.LogLevel)
}

// LogDir returns the path to the log directory (~/.dealnotify/logs).
func (c *AppConfig) LogDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// DatabasePath returns the SQLite database file.
func (c *AppConfig) DatabasePath() string {
	if c.DBPath != "" {
		return c.DBPath
	}
	return filepath.Join(c.DataDir, "dealnotify.db")
}

// ChannelsPath returns the provider configuration YAML file.
func (c *AppConfig) ChannelsPath() string {
	if c.ChannelsFile != "" {
		return c.ChannelsFile
	}
	return filepath.Join(c.DataDir, "channels.yaml")
}

// Location resolves Timezone.
func (c *AppConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// CleanupTime parses CleanupAt into hour and minute.
func (c *AppConfig) CleanupTime() (hour, minute uint, err error) {
	t, err := time.Parse("15:04", c.CleanupAt)
	if err != nil {
		return 0, 0, fmt.Errorf("CLEANUP_AT must be HH:MM, got %q", c.CleanupAt)
	}
	return uint(t.Hour()), uint(t.Minute()), nil //nolint:gosec // bounded by the layout
}
