package config

// DefaultConfig returns a configuration with all default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Port = 8088

	cfg.Executor.DefaultTimeoutSeconds = 60
	cfg.Executor.RateLimitPerMinute = 10

	cfg.Policy.MaxExecutionsPerHour = 20
	cfg.Policy.CircuitBreakerThreshold = 3
	cfg.Policy.CircuitBreakerWindowMinutes = 15

	cfg.Catalog.ActionDir = "/etc/sentinel/actions"

	cfg.Loops.MonitorIntervalSeconds = 120
	cfg.Loops.OptimizerIntervalSeconds = 1800
	cfg.Loops.SecurityIntervalSeconds = 3600

	cfg.Audit.LogPath = "logs/audit.log"
	cfg.Audit.AppLogPath = "logs/app.log"
	cfg.Audit.MaxSizeMB = 100
	cfg.Audit.MaxBackups = 10
	cfg.Audit.MaxAgeDays = 30
	cfg.Audit.Compress = true
	cfg.Audit.LogLevel = "info"

	cfg.Database.SQLitePath = "/var/lib/sentinel/sentinel.db"

	cfg.Fleet.Address = "localhost:50061"
	cfg.Fleet.TimeoutSeconds = 30
	cfg.Fleet.TLSEnabled = false

	return cfg
}
