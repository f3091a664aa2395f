package planbase

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Configuration constants for store operations
const (
	// Query monitor defaults
	DefaultMonitorCapacity    = 1000
	DefaultSlowQueryThreshold = 100 * time.Millisecond
	DefaultRecentQueries      = 10

	// Health check thresholds
	DefaultHealthAvgQueryTime = 50 * time.Millisecond
	DefaultHealthSlowRatio    = 0.10

	// Listing configuration
	DefaultListPaginatedSize = 100

	// File backend configuration
	DefaultFilePermissions = 0644
	DefaultDirPermissions  = 0755
)

// Config holds runtime settings loaded from PLANBASE_* environment variables.
type Config struct {
	// DataDir selects the filesystem backend; empty keeps everything in memory.
	DataDir                string        `envconfig:"DATA_DIR" default:""`
	LogLevel               string        `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat              string        `envconfig:"LOG_FORMAT" default:"json"`
	SlowQueryThreshold     time.Duration `envconfig:"SLOW_QUERY_THRESHOLD" default:"100ms"`
	MonitorCapacity        int           `envconfig:"MONITOR_CAPACITY" default:"1000"`
	ListPageSize           int           `envconfig:"LIST_PAGE_SIZE" default:"100"`
	MetricsRefreshInterval time.Duration `envconfig:"METRICS_REFRESH_INTERVAL" default:"0s"`
}

// DefaultConfig returns the configuration used when no environment is set.
func DefaultConfig() Config {
	return Config{
		LogLevel:           "info",
		LogFormat:          "json",
		SlowQueryThreshold: DefaultSlowQueryThreshold,
		MonitorCapacity:    DefaultMonitorCapacity,
		ListPageSize:       DefaultListPaginatedSize,
	}
}

// LoadConfig reads configuration from the environment and validates it.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process("planbase", &cfg); err != nil {
		return Config{}, WithContext(ErrInvalidConfig, map[string]interface{}{
			"reason": err.Error(),
		})
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks if the Config is valid
func (c Config) Validate() error {
	if c.SlowQueryThreshold <= 0 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "SlowQueryThreshold",
			"value":  c.SlowQueryThreshold,
			"reason": "must be positive",
		})
	}
	if c.MonitorCapacity <= 0 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "MonitorCapacity",
			"value":  c.MonitorCapacity,
			"reason": "must be positive",
		})
	}
	if c.ListPageSize <= 0 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "ListPageSize",
			"value":  c.ListPageSize,
			"reason": "must be positive",
		})
	}
	if c.MetricsRefreshInterval < 0 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "MetricsRefreshInterval",
			"value":  c.MetricsRefreshInterval,
			"reason": "must be zero (disabled) or positive",
		})
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "LogFormat",
			"value":  c.LogFormat,
			"reason": "must be json or console",
		})
	}
	return nil
}

// NewBackend returns the backend selected by DataDir.
func (c Config) NewBackend() Backend {
	if c.DataDir == "" {
		return NewMemoryBackend()
	}
	return NewFilesystemBackend(c.DataDir)
}
