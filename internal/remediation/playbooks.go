package remediation

import (
	"strconv"
	"strings"

	"github.com/homelab/sentinel/pkg/types"
)

// Playbook is one named remediation recipe in the closed catalog.
type Playbook struct {
	ID                       string
	Name                     string
	Description              string
	ApplicableIssues         []types.IncidentType
	AutoExecute              bool
	RequiresConfirmation     bool
	Severity                 types.Severity
	RiskLevel                types.RiskLevel
	EstimatedDurationSeconds int
	CommandTemplate          string
	Rollback                 string
}

// render substitutes {service}, {container}, and {host} placeholders in the
// playbook's command template with values drawn from the incident. Every
// substituted value is reduced to the name character set the command
// whitelist accepts, so an incident field carrying shell metacharacters
// cannot inject into the rendered command.
func (p Playbook) render(inc *types.Incident, params map[string]interface{}) string {
	cmd := p.CommandTemplate
	cmd = strings.ReplaceAll(cmd, "{service}", sanitizeArg(inc.ServiceName))
	cmd = strings.ReplaceAll(cmd, "{container}", sanitizeArg(inc.ContainerName))
	if host, ok := params["host"].(string); ok {
		cmd = strings.ReplaceAll(cmd, "{host}", sanitizeArg(host))
	}
	if replicas, ok := params["replicas"]; ok {
		cmd = strings.ReplaceAll(cmd, "{replicas}", fmtReplicas(replicas))
	}
	if vm, ok := params["vm"].(string); ok {
		cmd = strings.ReplaceAll(cmd, "{vm}", sanitizeArg(vm))
	}
	return cmd
}

// sanitizeArg keeps only [A-Za-z0-9._-]; everything else is dropped. A value
// that loses characters here either renders into a still-valid name or into
// a string the anchored command whitelist will refuse downstream.
func sanitizeArg(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	return b.String()
}

func fmtReplicas(v interface{}) string {
	switch n := v.(type) {
	case int:
		return strconv.Itoa(n)
	case float64:
		return strconv.Itoa(int(n))
	case string:
		return sanitizeArg(n)
	default:
		return "1"
	}
}

// defaultPlaybooks is the closed catalog of remediation procedures the
// orchestrator may select from.
func defaultPlaybooks() map[string]Playbook {
	list := []Playbook{
		{
			ID:                       "container_restart",
			Name:                     "Restart Container",
			Description:              "Restart an unresponsive or unhealthy container",
			ApplicableIssues:         []types.IncidentType{types.IncidentContainerDown, types.IncidentContainerUnhealthy},
			AutoExecute:              true,
			RequiresConfirmation:     false,
			Severity:                 types.SeverityMedium,
			RiskLevel:                types.RiskLow,
			EstimatedDurationSeconds: 30,
			CommandTemplate:          "docker restart {container}",
			Rollback:                 "docker stop {container}; investigate manually if restarts keep failing",
		},
		{
			ID:                       "container_recreate",
			Name:                     "Recreate Container",
			Description:              "Recreate a container stuck in a crash loop",
			ApplicableIssues:         []types.IncidentType{types.IncidentContainerCrashLoop},
			AutoExecute:              false,
			RequiresConfirmation:     true,
			Severity:                 types.SeverityHigh,
			RiskLevel:                types.RiskMedium,
			EstimatedDurationSeconds: 60,
			CommandTemplate:          "docker compose up -d --force-recreate {container}",
			Rollback:                 "docker compose down {container}",
		},
		{
			ID:                       "nas_remount",
			Name:                     "Remount NAS Share",
			Description:              "Remount a stale network filesystem mount",
			ApplicableIssues:         []types.IncidentType{types.IncidentNASStale},
			AutoExecute:              true,
			RequiresConfirmation:     false,
			Severity:                 types.SeverityMedium,
			RiskLevel:                types.RiskLow,
			EstimatedDurationSeconds: 15,
			CommandTemplate:          "mount -a && systemctl restart nas-mount.service",
			Rollback:                 "umount the affected share and mount manually",
		},
		{
			ID:                       "clear_docker_cache",
			Name:                     "Clear Docker Build Cache",
			Description:              "Reclaim disk space by pruning unused Docker data",
			ApplicableIssues:         []types.IncidentType{types.IncidentDiskFull},
			AutoExecute:              false,
			RequiresConfirmation:     true,
			Severity:                 types.SeverityMedium,
			RiskLevel:                types.RiskMedium,
			EstimatedDurationSeconds: 300,
			CommandTemplate:          "docker system prune -f",
			Rollback:                 "none; prune is destructive and has no rollback",
		},
		{
			ID:                       "restart_systemd_service",
			Name:                     "Restart Systemd Service",
			Description:              "Restart a degraded host-level service",
			ApplicableIssues:         []types.IncidentType{types.IncidentServiceDegraded},
			AutoExecute:              true,
			RequiresConfirmation:     false,
			Severity:                 types.SeverityMedium,
			RiskLevel:                types.RiskLow,
			EstimatedDurationSeconds: 20,
			CommandTemplate:          "systemctl restart {service}",
			Rollback:                 "systemctl stop {service}",
		},
		{
			ID:                       "scale_container",
			Name:                     "Scale Container",
			Description:              "Scale a service out to absorb a resource spike",
			ApplicableIssues:         []types.IncidentType{types.IncidentHighCPU, types.IncidentHighMemory},
			AutoExecute:              false,
			RequiresConfirmation:     false,
			Severity:                 types.SeverityMedium,
			RiskLevel:                types.RiskMedium,
			EstimatedDurationSeconds: 45,
			CommandTemplate:          "docker compose up -d --scale {service}={replicas}",
			Rollback:                 "docker compose up -d --scale {service}=1",
		},
		{
			ID:                       "check_network",
			Name:                     "Check Network Path",
			Description:              "Diagnose a reported network issue",
			ApplicableIssues:         []types.IncidentType{types.IncidentNetworkIssue},
			AutoExecute:              true,
			RequiresConfirmation:     false,
			Severity:                 types.SeverityLow,
			RiskLevel:                types.RiskSafe,
			EstimatedDurationSeconds: 10,
			CommandTemplate:          "ping -c 4 {host} && traceroute {host}",
			Rollback:                 "none; diagnostic only",
		},
		{
			ID:                       "renew_ssl",
			Name:                     "Renew SSL Certificate",
			Description:              "Force-renew an expiring TLS certificate",
			ApplicableIssues:         []types.IncidentType{types.IncidentSSLExpiring},
			AutoExecute:              false,
			RequiresConfirmation:     true,
			Severity:                 types.SeverityHigh,
			RiskLevel:                types.RiskHigh,
			EstimatedDurationSeconds: 120,
			CommandTemplate:          "certbot renew --force-renewal",
			Rollback:                 "restore the previous certificate from backup",
		},
		{
			ID:                       "kvm_reset_gpu",
			Name:                     "Reset GPU Passthrough",
			Description:              "Detach and reattach a passthrough GPU stuck in a bad state",
			ApplicableIssues:         []types.IncidentType{types.IncidentCustom},
			AutoExecute:              false,
			RequiresConfirmation:     true,
			Severity:                 types.SeverityCritical,
			RiskLevel:                types.RiskHigh,
			EstimatedDurationSeconds: 90,
			CommandTemplate:          "virsh detach-device {vm} gpu.xml && virsh attach-device {vm} gpu.xml",
			Rollback:                 "manual GPU passthrough reattachment required",
		},
	}

	byID := make(map[string]Playbook, len(list))
	for _, p := range list {
		byID[p.ID] = p
	}
	return byID
}
