package loops

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/homelab/sentinel/internal/executor"
	"github.com/homelab/sentinel/internal/incident"
	"github.com/homelab/sentinel/internal/remediation"
	"github.com/homelab/sentinel/pkg/contracts"
	"github.com/homelab/sentinel/pkg/types"
)

// MonitorConfig configures the Health Monitor loop.
type MonitorConfig struct {
	TickInterval   time.Duration // quick tick; defaults to 2 minutes
	DeepInterval   time.Duration // deep tick (database diagnostics); defaults to 5 minutes
	NetworkAddress string        // a known external address to ping
	NetworkHost    string        // a known hostname to resolve
	DiskMountPoint string        // a known root mount to check
	HistorySize    int           // bounded snapshot history; defaults to 100
}

// ContainerReading pairs a container's status with the issue (if any) the
// monitor derived from it, for trend reporting.
type ContainerReading struct {
	Status       contracts.ContainerStatus
	DerivedIssue string
}

// Snapshot is one Health Monitor tick's complete reading.
type Snapshot struct {
	Timestamp  time.Time
	Containers []ContainerReading
	Database   *contracts.DatabaseHealth
	Network    *contracts.NetworkHealth
	Disk       *contracts.DiskUsage
}

// MonitorLoop is the Health Monitor: collects container/database/network/disk
// readings on a tick and derives incidents from them.
type MonitorLoop struct {
	cfg MonitorConfig

	containers contracts.ContainerProbe // optional
	database   contracts.DatabaseProbe  // optional
	network    contracts.NetworkProbe   // optional
	disk       contracts.DiskProbe      // optional

	incidents    incident.Manager
	orchestrator remediation.Orchestrator
	exec         executor.Executor // optional; nil disables unattended clean-exit restarts
	logger       *zap.Logger

	sched    *scheduler
	history  *history[Snapshot]
	lastDeep time.Time // guarded by the scheduler's single-flight tick
}

// NewMonitorLoop constructs a Health Monitor. Any collaborator may be nil,
// in which case that reading is simply skipped on each tick.
func NewMonitorLoop(
	cfg MonitorConfig,
	containers contracts.ContainerProbe,
	database contracts.DatabaseProbe,
	network contracts.NetworkProbe,
	disk contracts.DiskProbe,
	incidents incident.Manager,
	orchestrator remediation.Orchestrator,
	exec executor.Executor,
	logger *zap.Logger,
) *MonitorLoop {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 2 * time.Minute
	}
	if cfg.DeepInterval <= 0 {
		cfg.DeepInterval = 5 * time.Minute
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MonitorLoop{
		cfg: cfg, containers: containers, database: database, network: network, disk: disk,
		incidents: incidents, orchestrator: orchestrator, exec: exec, logger: logger,
		sched:   newScheduler("monitor", cfg.TickInterval),
		history: newHistory[Snapshot](cfg.HistorySize),
	}
}

// Start begins ticking in the background. Call Stop to halt it.
func (m *MonitorLoop) Start(ctx context.Context) {
	m.sched.start(ctx, m.tick)
}

// Stop halts the loop and waits for any in-flight tick to finish.
func (m *MonitorLoop) Stop() {
	m.sched.stop()
}

// Tick runs one monitor pass synchronously; exported for on-demand/API-
// triggered invocation alongside the scheduled ticks.
func (m *MonitorLoop) Tick(ctx context.Context) {
	m.tick(ctx)
}

func (m *MonitorLoop) tick(ctx context.Context) {
	snap := Snapshot{Timestamp: time.Now().UTC()}

	if m.containers != nil {
		statuses, err := m.containers.ListContainers(ctx)
		if err != nil {
			m.logger.Error("container probe failed", zap.Error(err))
		}
		for _, st := range statuses {
			issue := m.deriveContainerIssue(ctx, st)
			snap.Containers = append(snap.Containers, ContainerReading{Status: st, DerivedIssue: issue})
		}
	}

	// Database diagnostics only run on the slower deep cadence; a quick tick
	// that lands between deep ticks carries the previous database reading
	// forward as absent.
	if m.database != nil && snap.Timestamp.Sub(m.lastDeep) >= m.cfg.DeepInterval {
		m.lastDeep = snap.Timestamp
		health, err := m.database.Health(ctx)
		if err != nil {
			m.logger.Warn("database probe failed", zap.Error(err))
		} else {
			snap.Database = &health
			if !health.Reachable {
				m.deriveServiceIssue(ctx, "database", "database unreachable")
			}
		}
	}

	if m.network != nil {
		net, err := m.network.Check(ctx, m.cfg.NetworkAddress, m.cfg.NetworkHost)
		if err != nil {
			m.logger.Warn("network probe failed", zap.Error(err))
		} else {
			snap.Network = &net
			if !net.Reachable || !net.ResolvesHostname {
				m.deriveNetworkIssue(ctx, net)
			}
		}
	}

	if m.disk != nil {
		usage, err := m.disk.Usage(ctx, m.cfg.DiskMountPoint)
		if err != nil {
			m.logger.Warn("disk probe failed", zap.Error(err))
		} else {
			snap.Disk = &usage
			if usage.UsedPercent >= 90 {
				m.deriveDiskIssue(ctx, usage)
			}
		}
	}

	m.history.push(snap)
}

// deriveContainerIssue applies the per-container derivation rules and
// returns a short label for trend reporting ("" when healthy).
func (m *MonitorLoop) deriveContainerIssue(ctx context.Context, st contracts.ContainerStatus) string {
	exited := st.State == "exited" || st.State == "dead"

	switch {
	case exited && st.ExitCode != nil && *st.ExitCode == 0:
		// Clean exit: attempt an unattended restart straight through the
		// executor, no approval and no incident. Only a failed restart opens
		// an incident, and that incident needs no human approval to act on.
		if m.exec != nil {
			rec := m.exec.Execute(ctx, "docker restart "+st.Name, "autonomous_monitor", executor.Options{
				Approval: executor.ApprovalToken{Granted: true, GrantedBy: "clean-exit-restart-rule"},
			})
			if rec.Success {
				m.logger.Info("auto-restarted cleanly exited container", zap.String("container", st.Name))
				return "container_down_auto_restarted"
			}
			m.logger.Warn("auto-restart of cleanly exited container failed",
				zap.String("container", st.Name), zap.String("stderr", rec.Stderr))
		}
		if _, err := m.incidents.CreateIncident(ctx, incident.CreateParams{
			Type: types.IncidentContainerDown, ServiceName: st.ServiceName, ContainerName: st.Name,
			Title: fmt.Sprintf("%s exited cleanly and could not be auto-restarted", st.Name),
			Severity: types.SeverityMedium, TriggerSource: "autonomous_monitor",
			TriggerDetails: map[string]interface{}{"state": st.State, "exit_code": 0, "auto_restart_failed": m.exec != nil},
		}); err != nil {
			m.logger.Error("failed to create incident for clean exit", zap.String("container", st.Name), zap.Error(err))
		}
		return "container_down_restart_failed"

	case exited && st.ExitCode != nil && *st.ExitCode != 0:
		// Non-zero exit requires a human to approve remediation.
		if _, err := m.incidents.CreateIncident(ctx, incident.CreateParams{
			Type: types.IncidentContainerDown, ServiceName: st.ServiceName, ContainerName: st.Name,
			Title: fmt.Sprintf("%s exited with code %d", st.Name, *st.ExitCode),
			Severity: types.SeverityMedium, TriggerSource: "autonomous_monitor",
			TriggerDetails: map[string]interface{}{"state": st.State, "exit_code": *st.ExitCode, "requires_approval": true},
		}); err != nil {
			m.logger.Error("failed to create incident for non-zero exit", zap.String("container", st.Name), zap.Error(err))
		}
		return "container_down_requires_approval"

	case st.State == "unhealthy" || st.CPUPercent > 90 || st.MemoryPercent > 90:
		if _, err := m.incidents.CreateIncident(ctx, incident.CreateParams{
			Type: types.IncidentContainerUnhealthy, ServiceName: st.ServiceName, ContainerName: st.Name,
			Title: fmt.Sprintf("%s is unhealthy or over resource budget", st.Name),
			Severity: types.SeverityHigh, TriggerSource: "autonomous_monitor",
			TriggerDetails: map[string]interface{}{
				"state": st.State, "cpu_percent": st.CPUPercent, "memory_percent": st.MemoryPercent,
			},
		}); err != nil {
			m.logger.Error("failed to create incident for unhealthy container", zap.String("container", st.Name), zap.Error(err))
		}
		return "unhealthy_requires_approval"
	}
	return ""
}

func (m *MonitorLoop) deriveServiceIssue(ctx context.Context, serviceName, title string) {
	inc, err := m.incidents.CreateIncident(ctx, incident.CreateParams{
		Type: types.IncidentServiceDegraded, ServiceName: serviceName, Title: title,
		Severity: types.SeverityCritical, TriggerSource: "autonomous_monitor",
	})
	if err != nil {
		m.logger.Error("failed to create service-degraded incident", zap.String("service", serviceName), zap.Error(err))
		return
	}
	if m.orchestrator != nil {
		if _, err := m.orchestrator.Remediate(ctx, inc, remediation.Options{AutoExecute: true}); err != nil {
			m.logger.Error("auto-remediation of service issue failed", zap.String("service", serviceName), zap.Error(err))
		}
	}
}

func (m *MonitorLoop) deriveNetworkIssue(ctx context.Context, net contracts.NetworkHealth) {
	inc, err := m.incidents.CreateIncident(ctx, incident.CreateParams{
		Type: types.IncidentNetworkIssue, ServiceName: "network", Title: "network reachability degraded",
		Severity: types.SeverityCritical, TriggerSource: "autonomous_monitor",
		TriggerDetails: map[string]interface{}{"reachable": net.Reachable, "resolves_hostname": net.ResolvesHostname},
	})
	if err != nil {
		m.logger.Error("failed to create network incident", zap.Error(err))
		return
	}
	if m.orchestrator != nil {
		if _, err := m.orchestrator.Remediate(ctx, inc, remediation.Options{AutoExecute: true}); err != nil {
			m.logger.Error("auto-remediation of network issue failed", zap.Error(err))
		}
	}
}

// deriveDiskIssue creates a critical incident but does NOT auto-remediate —
// disk-critical issues additionally require human approval.
func (m *MonitorLoop) deriveDiskIssue(ctx context.Context, usage contracts.DiskUsage) {
	if _, err := m.incidents.CreateIncident(ctx, incident.CreateParams{
		Type: types.IncidentDiskFull, ServiceName: usage.MountPoint,
		Title: fmt.Sprintf("disk usage on %s is critical (%.1f%%)", usage.MountPoint, usage.UsedPercent),
		Severity: types.SeverityCritical, TriggerSource: "autonomous_monitor",
		TriggerDetails: map[string]interface{}{"used_percent": usage.UsedPercent},
	}); err != nil {
		m.logger.Error("failed to create disk incident", zap.String("mount", usage.MountPoint), zap.Error(err))
	}
}

// History returns the bounded snapshot history, oldest first.
func (m *MonitorLoop) History() []Snapshot {
	return m.history.snapshot()
}

// GetSystemSummary reports the most recent snapshot alongside a coarse
// rollup of derived issues across the retained history.
func (m *MonitorLoop) GetSystemSummary() map[string]interface{} {
	latest, ok := m.history.latest()
	summary := map[string]interface{}{
		"has_data": ok,
	}
	if !ok {
		return summary
	}

	issueCounts := map[string]int{}
	for _, snap := range m.history.snapshot() {
		for _, c := range snap.Containers {
			if c.DerivedIssue != "" {
				issueCounts[c.DerivedIssue]++
			}
		}
	}

	summary["timestamp"] = latest.Timestamp
	summary["container_count"] = len(latest.Containers)
	summary["database_reachable"] = latest.Database != nil && latest.Database.Reachable
	summary["network_reachable"] = latest.Network != nil && latest.Network.Reachable
	if latest.Disk != nil {
		summary["disk_used_percent"] = latest.Disk.UsedPercent
	}
	summary["issue_counts"] = issueCounts
	return summary
}
