package config

import "context"

// Package config provides configuration management for the sentinel core.
//
// Responsibilities:
//   - Load configuration from a YAML file and environment variables (the
//     file path is supplied by the caller; cmd/server takes it from -config)
//   - Validate configuration on startup
//   - Provide runtime access to all configuration
//   - Support configuration reloading for the action catalog directory and
//     policy tunables, without requiring a process restart
//   - Establish reasonable defaults for every tunable named in the process
//     control surface
//
// Configuration Sources (priority order, high to low):
//   1. Environment variables (SENTINEL_* prefix, highest priority)
//   2. YAML config file (default: /etc/sentinel/config.yaml)
//   3. Built-in defaults (lowest priority)
//   There is no CLI-flag override layer.
//
// Main Configuration Sections:
//
//   1. Server
//      - port: health/metrics HTTP listen port (default 8088)
//
//   2. Executor
//      - default_timeout_seconds: subprocess timeout when an action omits one
//      - rate_limit_per_minute: sliding-window cap on subprocess starts
//
//   3. Policy
//      - max_executions_per_hour: per-action hourly execution cap
//      - circuit_breaker_threshold: failures within the window that open the breaker
//      - circuit_breaker_window_minutes: failure-pruning window
//
//   4. Catalog
//      - action_dir: directory of declarative action definitions, hot-reloaded
//
//   5. Loops
//      - monitor_interval_seconds, optimizer_interval_seconds, security_interval_seconds
//
//   6. Audit
//      - log_path, app_log_path, rotation settings
//
//   7. Database
//      - sqlite_path: Incident & Learning Store backing file
//
//   8. Fleet
//      - address: gRPC address of the host-fleet collaborator
//      - timeout_seconds, tls settings
//
// Config struct contains all configuration fields.
type Config struct {
	Server struct {
		Port int
	}

	Executor struct {
		DefaultTimeoutSeconds int
		RateLimitPerMinute    int
	}

	Policy struct {
		MaxExecutionsPerHour        int
		CircuitBreakerThreshold     int
		CircuitBreakerWindowMinutes int
	}

	Catalog struct {
		ActionDir string
	}

	Loops struct {
		MonitorIntervalSeconds   int
		OptimizerIntervalSeconds int
		SecurityIntervalSeconds  int
	}

	Audit struct {
		LogPath    string
		AppLogPath string
		MaxSizeMB  int
		MaxBackups int
		MaxAgeDays int
		Compress   bool
		LogLevel   string
	}

	Database struct {
		SQLitePath string
	}

	Fleet struct {
		Address       string
		TimeoutSeconds int
		TLSEnabled    bool
		TLSCertPath   string
		TLSKeyPath    string
		TLSCAPath     string
	}
}

// ConfigManager defines the interface for configuration access.
type ConfigManager interface {
	// Load loads configuration from all sources.
	Load(ctx context.Context) error

	// Get returns the current configuration.
	Get(ctx context.Context) *Config

	// Validate validates configuration is correct and complete.
	Validate(ctx context.Context) error

	// Watch watches for configuration changes and reloads (if supported).
	Watch(ctx context.Context) <-chan Config

	// Reload reloads configuration from sources (selective settings).
	Reload(ctx context.Context) error
}

// NewConfigManager creates a new configuration manager.
func NewConfigManager(configPath string) (ConfigManager, error) {
	mgr := &viperConfigManager{
		configPath: configPath,
		config:     DefaultConfig(),
		watchChan:  make(chan Config, 1),
	}
	return mgr, nil
}

// NewConfigManagerWithDefaults creates a config manager with default config path.
func NewConfigManagerWithDefaults() (ConfigManager, error) {
	return NewConfigManager("/etc/sentinel/config.yaml")
}
