package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validate validates the configuration and returns validation errors.
func (c *Config) Validate() []error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", c.Server.Port),
		})
	}

	if c.Executor.DefaultTimeoutSeconds < 1 {
		errs = append(errs, &ValidationError{
			Field:   "executor.default_timeout_seconds",
			Message: fmt.Sprintf("default_timeout_seconds must be at least 1, got %d", c.Executor.DefaultTimeoutSeconds),
		})
	}

	if c.Executor.RateLimitPerMinute < 1 {
		errs = append(errs, &ValidationError{
			Field:   "executor.rate_limit_per_minute",
			Message: fmt.Sprintf("rate_limit_per_minute must be at least 1, got %d", c.Executor.RateLimitPerMinute),
		})
	}

	if c.Policy.MaxExecutionsPerHour < 1 {
		errs = append(errs, &ValidationError{
			Field:   "policy.max_executions_per_hour",
			Message: fmt.Sprintf("max_executions_per_hour must be at least 1, got %d", c.Policy.MaxExecutionsPerHour),
		})
	}

	if c.Policy.CircuitBreakerThreshold < 1 {
		errs = append(errs, &ValidationError{
			Field:   "policy.circuit_breaker_threshold",
			Message: fmt.Sprintf("circuit_breaker_threshold must be at least 1, got %d", c.Policy.CircuitBreakerThreshold),
		})
	}

	if c.Policy.CircuitBreakerWindowMinutes < 1 {
		errs = append(errs, &ValidationError{
			Field:   "policy.circuit_breaker_window_minutes",
			Message: fmt.Sprintf("circuit_breaker_window_minutes must be at least 1, got %d", c.Policy.CircuitBreakerWindowMinutes),
		})
	}

	if strings.TrimSpace(c.Catalog.ActionDir) == "" {
		errs = append(errs, &ValidationError{
			Field:   "catalog.action_dir",
			Message: "action_dir is required",
		})
	}

	if c.Loops.MonitorIntervalSeconds < 1 {
		errs = append(errs, &ValidationError{
			Field:   "loops.monitor_interval_seconds",
			Message: fmt.Sprintf("monitor_interval_seconds must be at least 1, got %d", c.Loops.MonitorIntervalSeconds),
		})
	}
	if c.Loops.OptimizerIntervalSeconds < 1 {
		errs = append(errs, &ValidationError{
			Field:   "loops.optimizer_interval_seconds",
			Message: fmt.Sprintf("optimizer_interval_seconds must be at least 1, got %d", c.Loops.OptimizerIntervalSeconds),
		})
	}
	if c.Loops.SecurityIntervalSeconds < 1 {
		errs = append(errs, &ValidationError{
			Field:   "loops.security_interval_seconds",
			Message: fmt.Sprintf("security_interval_seconds must be at least 1, got %d", c.Loops.SecurityIntervalSeconds),
		})
	}

	if strings.TrimSpace(c.Database.SQLitePath) == "" {
		errs = append(errs, &ValidationError{
			Field:   "database.sqlite_path",
			Message: "sqlite_path is required",
		})
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(c.Audit.LogLevel)] {
		errs = append(errs, &ValidationError{
			Field:   "audit.log_level",
			Message: fmt.Sprintf("invalid log level '%s', must be one of: debug, info, warn, error", c.Audit.LogLevel),
		})
	}

	if c.Fleet.Address != "" {
		if _, _, err := net.SplitHostPort(c.Fleet.Address); err != nil {
			errs = append(errs, &ValidationError{
				Field:   "fleet.address",
				Message: fmt.Sprintf("invalid address format (expected host:port): %v", err),
			})
		}
	}

	if c.Fleet.TimeoutSeconds < 1 {
		errs = append(errs, &ValidationError{
			Field:   "fleet.timeout_seconds",
			Message: fmt.Sprintf("timeout_seconds must be at least 1, got %d", c.Fleet.TimeoutSeconds),
		})
	}

	return errs
}
