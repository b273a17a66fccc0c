package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// viperConfigManager implements ConfigManager using Viper.
type viperConfigManager struct {
	configPath string
	config     *Config
	viper      *viper.Viper
	watchChan  chan Config
}

// Load loads configuration from all sources.
func (m *viperConfigManager) Load(ctx context.Context) error {
	m.viper = viper.New()

	m.viper.SetConfigFile(m.configPath)
	m.viper.SetConfigType("yaml")

	m.viper.SetEnvPrefix("SENTINEL")
	m.viper.AutomaticEnv()
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	m.setDefaults()

	if err := m.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found is OK, we'll use defaults + env vars.
		} else if os.IsNotExist(err) {
			// Same as above via the os error path.
		} else {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.applyEnvOverrides()

	return nil
}

// Get returns the current configuration.
func (m *viperConfigManager) Get(ctx context.Context) *Config {
	return m.config
}

// Validate validates configuration is correct and complete.
func (m *viperConfigManager) Validate(ctx context.Context) error {
	errs := m.config.Validate()
	if len(errs) > 0 {
		var errMsgs []string
		for _, err := range errs {
			errMsgs = append(errMsgs, err.Error())
		}
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errMsgs, "\n  - "))
	}
	return nil
}

// Watch watches for configuration changes and reloads. Hot-reload applies to
// the action catalog directory and the policy tunables; the core picks up
// the new values on the next evaluation without a restart.
func (m *viperConfigManager) Watch(ctx context.Context) <-chan Config {
	m.viper.WatchConfig()
	m.viper.OnConfigChange(func(e fsnotify.Event) {
		if err := m.unmarshalConfig(); err != nil {
			return
		}
		select {
		case m.watchChan <- *m.config:
		default:
		}
	})

	return m.watchChan
}

// Reload reloads configuration from sources.
func (m *viperConfigManager) Reload(ctx context.Context) error {
	if err := m.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.applyEnvOverrides()

	return nil
}

// setDefaults sets default values in viper.
func (m *viperConfigManager) setDefaults() {
	defaults := DefaultConfig()

	m.viper.SetDefault("server.port", defaults.Server.Port)

	m.viper.SetDefault("executor.default_timeout_seconds", defaults.Executor.DefaultTimeoutSeconds)
	m.viper.SetDefault("executor.rate_limit_per_minute", defaults.Executor.RateLimitPerMinute)

	m.viper.SetDefault("policy.max_executions_per_hour", defaults.Policy.MaxExecutionsPerHour)
	m.viper.SetDefault("policy.circuit_breaker_threshold", defaults.Policy.CircuitBreakerThreshold)
	m.viper.SetDefault("policy.circuit_breaker_window_minutes", defaults.Policy.CircuitBreakerWindowMinutes)

	m.viper.SetDefault("catalog.action_dir", defaults.Catalog.ActionDir)

	m.viper.SetDefault("loops.monitor_interval_seconds", defaults.Loops.MonitorIntervalSeconds)
	m.viper.SetDefault("loops.optimizer_interval_seconds", defaults.Loops.OptimizerIntervalSeconds)
	m.viper.SetDefault("loops.security_interval_seconds", defaults.Loops.SecurityIntervalSeconds)

	m.viper.SetDefault("audit.log_path", defaults.Audit.LogPath)
	m.viper.SetDefault("audit.app_log_path", defaults.Audit.AppLogPath)
	m.viper.SetDefault("audit.max_size_mb", defaults.Audit.MaxSizeMB)
	m.viper.SetDefault("audit.max_backups", defaults.Audit.MaxBackups)
	m.viper.SetDefault("audit.max_age_days", defaults.Audit.MaxAgeDays)
	m.viper.SetDefault("audit.compress", defaults.Audit.Compress)
	m.viper.SetDefault("audit.log_level", defaults.Audit.LogLevel)

	m.viper.SetDefault("database.sqlite_path", defaults.Database.SQLitePath)

	m.viper.SetDefault("fleet.address", defaults.Fleet.Address)
	m.viper.SetDefault("fleet.timeout_seconds", defaults.Fleet.TimeoutSeconds)
	m.viper.SetDefault("fleet.tls_enabled", defaults.Fleet.TLSEnabled)
}

// unmarshalConfig unmarshals viper config into Config struct.
func (m *viperConfigManager) unmarshalConfig() error {
	cfg := &Config{}

	cfg.Server.Port = m.viper.GetInt("server.port")

	cfg.Executor.DefaultTimeoutSeconds = m.viper.GetInt("executor.default_timeout_seconds")
	cfg.Executor.RateLimitPerMinute = m.viper.GetInt("executor.rate_limit_per_minute")

	cfg.Policy.MaxExecutionsPerHour = m.viper.GetInt("policy.max_executions_per_hour")
	cfg.Policy.CircuitBreakerThreshold = m.viper.GetInt("policy.circuit_breaker_threshold")
	cfg.Policy.CircuitBreakerWindowMinutes = m.viper.GetInt("policy.circuit_breaker_window_minutes")

	cfg.Catalog.ActionDir = m.viper.GetString("catalog.action_dir")

	cfg.Loops.MonitorIntervalSeconds = m.viper.GetInt("loops.monitor_interval_seconds")
	cfg.Loops.OptimizerIntervalSeconds = m.viper.GetInt("loops.optimizer_interval_seconds")
	cfg.Loops.SecurityIntervalSeconds = m.viper.GetInt("loops.security_interval_seconds")

	cfg.Audit.LogPath = m.viper.GetString("audit.log_path")
	cfg.Audit.AppLogPath = m.viper.GetString("audit.app_log_path")
	cfg.Audit.MaxSizeMB = m.viper.GetInt("audit.max_size_mb")
	cfg.Audit.MaxBackups = m.viper.GetInt("audit.max_backups")
	cfg.Audit.MaxAgeDays = m.viper.GetInt("audit.max_age_days")
	cfg.Audit.Compress = m.viper.GetBool("audit.compress")
	cfg.Audit.LogLevel = m.viper.GetString("audit.log_level")

	cfg.Database.SQLitePath = m.viper.GetString("database.sqlite_path")

	cfg.Fleet.Address = m.viper.GetString("fleet.address")
	cfg.Fleet.TimeoutSeconds = m.viper.GetInt("fleet.timeout_seconds")
	cfg.Fleet.TLSEnabled = m.viper.GetBool("fleet.tls_enabled")
	cfg.Fleet.TLSCertPath = m.viper.GetString("fleet.tls_cert_path")
	cfg.Fleet.TLSKeyPath = m.viper.GetString("fleet.tls_key_path")
	cfg.Fleet.TLSCAPath = m.viper.GetString("fleet.tls_ca_path")

	m.config = cfg
	return nil
}

// applyEnvOverrides applies environment variable overrides for settings that
// operators commonly set without touching the YAML file.
func (m *viperConfigManager) applyEnvOverrides() {
	if addr := os.Getenv("SENTINEL_FLEET_ADDRESS"); addr != "" {
		m.config.Fleet.Address = addr
	}

	if portEnv := os.Getenv("SENTINEL_PORT"); portEnv != "" {
		if port, err := strconv.Atoi(portEnv); err == nil {
			m.config.Server.Port = port
		}
	}

	if dirEnv := os.Getenv("SENTINEL_ACTION_DIR"); dirEnv != "" {
		m.config.Catalog.ActionDir = dirEnv
	}
}
