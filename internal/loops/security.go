package loops

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/homelab/sentinel/internal/metrics"
	"github.com/homelab/sentinel/pkg/contracts"
)

// SecurityConfig configures the Security scanner loop.
type SecurityConfig struct {
	TickInterval   time.Duration // defaults to 1 hour
	HistorySize    int           // defaults to 100
	ImageMaxAgeDays int          // image-age fallback threshold; defaults to 180
}

// SecurityBand classifies a security score into a human-facing label.
type SecurityBand string

const (
	BandCritical  SecurityBand = "critical"
	BandWarning   SecurityBand = "warning"
	BandGood      SecurityBand = "good"
	BandExcellent SecurityBand = "excellent"
)

// bandFor maps a 0-100 score to its label:
// critical<40, warning<70, good<90, excellent>=90.
func bandFor(score float64) SecurityBand {
	switch {
	case score < 40:
		return BandCritical
	case score < 70:
		return BandWarning
	case score < 90:
		return BandGood
	default:
		return BandExcellent
	}
}

// SecurityFinding is one issue surfaced by a security tick.
type SecurityFinding struct {
	Category string // "vulnerability" | "ssl" | "auth" | "exposed_port"
	Severity string // "warn" | "critical"
	Detail   string
}

// SecuritySnapshot is one Security scanner tick's complete reading.
type SecuritySnapshot struct {
	Timestamp time.Time
	Findings  []SecurityFinding
	Score     float64
	Band      SecurityBand
}

// SecurityLoop scans images, certificates, auth logs, and exposed ports on
// a tick and derives a 0-100 security score and findings from them.
type SecurityLoop struct {
	cfg SecurityConfig

	containers contracts.ContainerProbe        // optional
	scanner    contracts.VulnerabilityScanner   // optional
	ssl        contracts.SSLInspector           // optional
	auth       contracts.AuthAuditInspector     // optional
	ports      contracts.PortScanner            // optional
	logger     *zap.Logger

	sched   *scheduler
	history *history[SecuritySnapshot]
}

// NewSecurityLoop constructs a Security scanner loop. Any collaborator may
// be nil, in which case that category of finding is simply skipped.
func NewSecurityLoop(
	cfg SecurityConfig,
	containers contracts.ContainerProbe,
	scanner contracts.VulnerabilityScanner,
	ssl contracts.SSLInspector,
	auth contracts.AuthAuditInspector,
	ports contracts.PortScanner,
	logger *zap.Logger,
) *SecurityLoop {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Hour
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}
	if cfg.ImageMaxAgeDays <= 0 {
		cfg.ImageMaxAgeDays = 180
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SecurityLoop{
		cfg: cfg, containers: containers, scanner: scanner, ssl: ssl, auth: auth, ports: ports, logger: logger,
		sched:   newScheduler("security", cfg.TickInterval),
		history: newHistory[SecuritySnapshot](cfg.HistorySize),
	}
}

func (s *SecurityLoop) Start(ctx context.Context) { s.sched.start(ctx, s.tick) }
func (s *SecurityLoop) Stop()                     { s.sched.stop() }
func (s *SecurityLoop) Tick(ctx context.Context)  { s.tick(ctx) }

func (s *SecurityLoop) tick(ctx context.Context) {
	snap := SecuritySnapshot{Timestamp: time.Now().UTC()}

	vulnDeduct := s.scanImages(ctx, &snap)
	sslDeduct := s.inspectCertificates(ctx, &snap)
	authDeduct, failedLoginDeduct := s.inspectAuth(ctx, &snap)
	portDeduct := s.listExposedPorts(ctx, &snap)

	score := 100.0 - vulnDeduct - sslDeduct - authDeduct - failedLoginDeduct - portDeduct
	if score < 0 {
		score = 0
	}
	snap.Score = score
	snap.Band = bandFor(score)
	metrics.SecurityScoreGauge.Set(score)

	s.history.push(snap)
}

// scanImages returns the vulnerability deduction: 2 points per counted
// vulnerability (critical or high), capped at 40.
func (s *SecurityLoop) scanImages(ctx context.Context, snap *SecuritySnapshot) float64 {
	if s.containers == nil {
		return 0
	}
	statuses, err := s.containers.ListContainers(ctx)
	if err != nil {
		s.logger.Warn("container probe failed during security scan", zap.Error(err))
		return 0
	}

	var totalVulnerabilities int
	for _, st := range statuses {
		if s.scanner != nil {
			report, err := s.scanner.Scan(ctx, st.ImageName)
			if err == nil && report.Available {
				if report.CriticalCount > 0 {
					totalVulnerabilities += report.CriticalCount
					snap.Findings = append(snap.Findings, SecurityFinding{
						Category: "vulnerability", Severity: "critical",
						Detail: fmt.Sprintf("%s has %d critical CVEs", st.ImageName, report.CriticalCount),
					})
				}
				if report.HighCount > 0 {
					totalVulnerabilities += report.HighCount
					snap.Findings = append(snap.Findings, SecurityFinding{
						Category: "vulnerability", Severity: "warn",
						Detail: fmt.Sprintf("%s has %d high-severity CVEs", st.ImageName, report.HighCount),
					})
				}
				continue
			}
		}
		// Fall back to image age when no scanner is available (or it errored).
		if st.ImageAgeDays > s.cfg.ImageMaxAgeDays {
			totalVulnerabilities++
			snap.Findings = append(snap.Findings, SecurityFinding{
				Category: "vulnerability", Severity: "warn",
				Detail: fmt.Sprintf("%s has not been rebuilt in %d days", st.ImageName, st.ImageAgeDays),
			})
		}
	}
	deduct := float64(totalVulnerabilities) * 2
	if deduct > 40 {
		deduct = 40
	}
	return deduct
}

// inspectCertificates returns the SSL deduction: 5 points per issue, where
// an expiring-soon certificate counts as 1 issue and an expired certificate
// counts as 2, capped at 20.
func (s *SecurityLoop) inspectCertificates(ctx context.Context, snap *SecuritySnapshot) float64 {
	if s.ssl == nil {
		return 0
	}
	certs, err := s.ssl.ListCertificates(ctx)
	if err != nil {
		s.logger.Warn("ssl inspector failed", zap.Error(err))
		return 0
	}

	now := time.Now().UTC()
	var expiringCount, expiredCount int
	for _, cert := range certs {
		until := cert.ExpiresAt.Sub(now)
		switch {
		case until <= 0:
			expiredCount++
			snap.Findings = append(snap.Findings, SecurityFinding{
				Category: "ssl", Severity: "critical",
				Detail: cert.Domain + " certificate has expired",
			})
		case until < 30*24*time.Hour:
			expiringCount++
			snap.Findings = append(snap.Findings, SecurityFinding{
				Category: "ssl", Severity: "warn",
				Detail: fmt.Sprintf("%s certificate expires in %.0f days", cert.Domain, until.Hours()/24),
			})
		}
	}
	sslIssues := expiringCount + expiredCount*2
	deduct := float64(sslIssues) * 5
	if deduct > 20 {
		deduct = 20
	}
	return deduct
}

// inspectAuth returns (suspicious-auth deduction, failed-login deduction).
// Events are grouped by source; a group with more than 3 failures in the
// window counts toward the failed-login deduction (1 point per group,
// capped at 10), and a group with more than 10 failures additionally
// counts toward the suspicious-auth deduction (10 points per group,
// capped at 20).
func (s *SecurityLoop) inspectAuth(ctx context.Context, snap *SecuritySnapshot) (float64, float64) {
	if s.auth == nil {
		return 0, 0
	}
	events, err := s.auth.RecentEvents(ctx, time.Now().UTC().Add(-time.Hour))
	if err != nil {
		s.logger.Warn("auth audit inspector failed", zap.Error(err))
		return 0, 0
	}

	failsBySource := map[string]int{}
	for _, e := range events {
		if !e.Success {
			failsBySource[e.Source]++
		}
	}

	var failedLoginGroups, suspiciousGroups int
	for source, fails := range failsBySource {
		if fails <= 3 {
			continue
		}
		failedLoginGroups++
		snap.Findings = append(snap.Findings, SecurityFinding{
			Category: "auth", Severity: "warn",
			Detail: fmt.Sprintf("%s: %d failed logins in the last hour", source, fails),
		})
		if fails > 10 {
			suspiciousGroups++
			snap.Findings = append(snap.Findings, SecurityFinding{
				Category: "auth", Severity: "critical",
				Detail: fmt.Sprintf("%s: %d failed logins in the last hour (brute force suspected)", source, fails),
			})
		}
	}

	authDeduct := float64(suspiciousGroups) * 10
	if authDeduct > 20 {
		authDeduct = 20
	}

	failedLoginDeduct := float64(failedLoginGroups)
	if failedLoginDeduct > 10 {
		failedLoginDeduct = 10
	}

	return authDeduct, failedLoginDeduct
}

// listExposedPorts returns the exposed-port deduction, capped at 10.
func (s *SecurityLoop) listExposedPorts(ctx context.Context, snap *SecuritySnapshot) float64 {
	if s.ports == nil {
		return 0
	}
	exposed, err := s.ports.ExposedPorts(ctx)
	if err != nil {
		s.logger.Warn("port scanner failed", zap.Error(err))
		return 0
	}

	var deduct float64
	for _, p := range exposed {
		if p.BindAddress == "0.0.0.0" {
			deduct += 2
			snap.Findings = append(snap.Findings, SecurityFinding{
				Category: "exposed_port", Severity: "warn",
				Detail: fmt.Sprintf("%s exposes port %d on 0.0.0.0", p.ContainerName, p.Port),
			})
		}
	}
	if deduct > 10 {
		deduct = 10
	}
	return deduct
}

// History returns the bounded snapshot history, oldest first.
func (s *SecurityLoop) History() []SecuritySnapshot {
	return s.history.snapshot()
}

// LatestScore returns the most recent tick's score and band.
func (s *SecurityLoop) LatestScore() (float64, SecurityBand, bool) {
	latest, ok := s.history.latest()
	if !ok {
		return 0, "", false
	}
	return latest.Score, latest.Band, true
}
