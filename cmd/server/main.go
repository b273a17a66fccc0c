// Command server is the entry point for the sentinel core: the autonomous
// operations engine that validates, executes, and learns from remediation
// actions against a container-based homelab.
//
// Startup wires the collaborators bottom-up: validator, executor, policy
// engine, action catalog, incident store, autonomous agent, remediation
// orchestrator, periodic loops, then the process control surface that
// exposes all of it over HTTP. Graceful shutdown cancels the root context,
// stops every periodic loop, drains the HTTP server, and flushes the audit
// log.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/homelab/sentinel/internal/agent"
	"github.com/homelab/sentinel/internal/audit"
	"github.com/homelab/sentinel/internal/catalog"
	"github.com/homelab/sentinel/internal/config"
	"github.com/homelab/sentinel/internal/db"
	"github.com/homelab/sentinel/internal/eventbus"
	"github.com/homelab/sentinel/internal/executor"
	"github.com/homelab/sentinel/internal/fleet"
	"github.com/homelab/sentinel/internal/incident"
	"github.com/homelab/sentinel/internal/loops"
	"github.com/homelab/sentinel/internal/policy"
	"github.com/homelab/sentinel/internal/remediation"
	"github.com/homelab/sentinel/internal/server"
	"github.com/homelab/sentinel/internal/validator"
	"github.com/homelab/sentinel/pkg/contracts"
)

func main() {
	configPath := flag.String("config", "/etc/sentinel/config.yaml", "path to config.yaml")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "sentinel: fatal:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfgMgr, err := config.NewConfigManager(configPath)
	if err != nil {
		return fmt.Errorf("construct config manager: %w", err)
	}
	if err := cfgMgr.Load(ctx); err != nil {
		logger.Warn("failed to load config, continuing with defaults", zap.Error(err))
	}
	if err := cfgMgr.Validate(ctx); err != nil {
		return err
	}
	cfg := cfgMgr.Get(ctx)

	auditLogger, err := audit.NewLogger(&audit.Config{
		AuditLogPath: cfg.Audit.LogPath,
		AppLogPath:   cfg.Audit.AppLogPath,
		MaxSize:      cfg.Audit.MaxSizeMB,
		MaxBackups:   cfg.Audit.MaxBackups,
		MaxAge:       cfg.Audit.MaxAgeDays,
	})
	if err != nil {
		return fmt.Errorf("construct audit logger: %w", err)
	}
	defer auditLogger.Close()

	store, err := db.NewSQLiteStore(cfg.Database.SQLitePath)
	if err != nil {
		return fmt.Errorf("open incident store: %w", err)
	}
	defer store.Close()

	v, err := validator.New()
	if err != nil {
		return fmt.Errorf("construct validator: %w", err)
	}

	exec := executor.New(
		v,
		auditLogger,
		time.Duration(cfg.Executor.DefaultTimeoutSeconds)*time.Second,
		cfg.Executor.RateLimitPerMinute,
	)

	pol := policy.New(
		cfg.Policy.MaxExecutionsPerHour,
		cfg.Policy.CircuitBreakerThreshold,
		cfg.Policy.CircuitBreakerWindowMinutes,
	)

	cat, err := catalog.Load(cfg.Catalog.ActionDir, v)
	if err != nil {
		return fmt.Errorf("load action catalog: %w", err)
	}

	// Hot-reload: on a config file change, re-apply the policy tunables and
	// re-read the action catalog directory in place. A catalog directory with
	// an invalid definition keeps the previously loaded set.
	watchCh := cfgMgr.Watch(ctx)
	go func() {
		for newCfg := range watchCh {
			pol.UpdateLimits(
				newCfg.Policy.MaxExecutionsPerHour,
				newCfg.Policy.CircuitBreakerThreshold,
				newCfg.Policy.CircuitBreakerWindowMinutes,
			)
			if rc, ok := cat.(catalog.Reloader); ok {
				if err := rc.Reload(newCfg.Catalog.ActionDir, v); err != nil {
					logger.Error("action catalog reload rejected, keeping previous catalog", zap.Error(err))
				}
			}
			logger.Info("configuration reloaded")
		}
	}()

	incidents := incident.New(store, auditLogger)
	ag := agent.New(cat, pol, exec, store, logger)
	analyzer := remediation.NewRulesAnalyzer(incidents)
	transport := buildFleetTransport(cfg, logger)

	orchestrator := remediation.New(incidents, analyzer, exec, transport, logger)

	events := eventbus.New()

	monitor := loops.NewMonitorLoop(
		loops.MonitorConfig{TickInterval: time.Duration(cfg.Loops.MonitorIntervalSeconds) * time.Second},
		nil, nil, nil, nil,
		incidents, orchestrator, exec, logger,
	)
	optimizer := loops.NewOptimizerLoop(
		loops.OptimizerConfig{TickInterval: time.Duration(cfg.Loops.OptimizerIntervalSeconds) * time.Second},
		nil, nil, nil, logger,
	)
	security := loops.NewSecurityLoop(
		loops.SecurityConfig{TickInterval: time.Duration(cfg.Loops.SecurityIntervalSeconds) * time.Second},
		nil, nil, nil, nil, nil, logger,
	)

	monitor.Start(ctx)
	optimizer.Start(ctx)
	security.Start(ctx)
	defer monitor.Stop()
	defer optimizer.Stop()
	defer security.Stop()

	srv := server.NewServer(server.Config{
		Host:              "0.0.0.0",
		Port:              cfg.Server.Port,
		RequestsPerMinute: cfg.Executor.RateLimitPerMinute,
	}, server.Deps{
		Validator:    v,
		Catalog:      cat,
		Policy:       pol,
		Agent:        ag,
		Incidents:    incidents,
		Orchestrator: orchestrator,
		Monitor:      monitor,
		Optimizer:    optimizer,
		Security:     security,
		Events:       events,
		Logger:       logger,
	})

	if err := srv.Start(); err != nil {
		return fmt.Errorf("start process control surface: %w", err)
	}
	logger.Info("sentinel core started", zap.Int("port", cfg.Server.Port))
	_ = auditLogger.LogServerStarted(ctx, fmt.Sprintf("0.0.0.0:%d", cfg.Server.Port))

	<-ctx.Done()
	logger.Info("shutdown signal received, draining")
	_ = auditLogger.LogServerShutdown(context.Background())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Warn("process control surface did not shut down cleanly", zap.Error(err))
	}

	logger.Info("sentinel core stopped")
	return nil
}

// buildFleetTransport wires a gRPC-backed fleet registry when an address is
// configured; remediation treats a nil transport as "no remote hosts": it
// runs playbooks on the local machine, and a run aimed at a remote host
// fails. The periodic loops take no transport.
func buildFleetTransport(cfg *config.Config, logger *zap.Logger) contracts.FleetTransport {
	if cfg.Fleet.Address == "" {
		return nil
	}
	return fleet.NewRegistry(fleet.Config{
		Address:        cfg.Fleet.Address,
		TimeoutSeconds: cfg.Fleet.TimeoutSeconds,
		TLSEnabled:     cfg.Fleet.TLSEnabled,
	}, map[string]string{"default": cfg.Fleet.Address}, logger)
}
