package loops

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homelab/sentinel/internal/db"
	"github.com/homelab/sentinel/internal/executor"
	"github.com/homelab/sentinel/internal/incident"
	"github.com/homelab/sentinel/internal/remediation"
	"github.com/homelab/sentinel/internal/validator"
	"github.com/homelab/sentinel/pkg/contracts"
	"github.com/homelab/sentinel/pkg/types"
)

type fakeContainerProbe struct {
	statuses []contracts.ContainerStatus
}

func (f *fakeContainerProbe) ListContainers(ctx context.Context) ([]contracts.ContainerStatus, error) {
	return f.statuses, nil
}

func exitCode(n int) *int { return &n }

// fakeExecutor satisfies executor.Executor without starting processes, so
// monitor auto-restart behavior can be tested deterministically.
type fakeExecutor struct {
	succeed  bool
	executed []string
}

func (f *fakeExecutor) Validate(command string) types.ValidatorVerdict {
	return types.ValidatorVerdict{Allowed: true, RiskLevel: types.RiskMedium}
}

func (f *fakeExecutor) DryRun(ctx context.Context, command, initiator string) types.ExecutionRecord {
	return types.ExecutionRecord{Command: command, Initiator: initiator, Mode: types.ModeDryRun, Success: true}
}

func (f *fakeExecutor) Execute(ctx context.Context, command, initiator string, opts executor.Options) types.ExecutionRecord {
	f.executed = append(f.executed, command)
	rec := types.ExecutionRecord{Command: command, Initiator: initiator, Mode: types.ModeExecute, Success: f.succeed}
	if !f.succeed {
		rec.Stderr = "restart failed"
	}
	return rec
}

func newTestIncidentsAndOrchestrator(t *testing.T) (incident.Manager, remediation.Orchestrator) {
	t.Helper()
	store, err := db.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	mgr := incident.New(store, nil)
	v, err := validator.New()
	require.NoError(t, err)
	exec := executor.New(v, nil, 5*time.Second, 20)
	orch := remediation.New(mgr, nil, exec, nil, nil)
	return mgr, orch
}

func TestMonitorTickCleanExitAutoRestartsWithoutIncident(t *testing.T) {
	mgr, orch := newTestIncidentsAndOrchestrator(t)
	probe := &fakeContainerProbe{statuses: []contracts.ContainerStatus{
		{Name: "web-1", ServiceName: "web", State: "exited", ExitCode: exitCode(0)},
	}}
	exec := &fakeExecutor{succeed: true}

	loop := NewMonitorLoop(MonitorConfig{}, probe, nil, nil, nil, mgr, orch, exec, nil)
	loop.Tick(context.Background())

	hist := loop.History()
	require.Len(t, hist, 1)
	require.Len(t, hist[0].Containers, 1)
	assert.Equal(t, "container_down_auto_restarted", hist[0].Containers[0].DerivedIssue)
	require.Len(t, exec.executed, 1)
	assert.Equal(t, "docker restart web-1", exec.executed[0])

	// A successful unattended restart leaves no incident behind.
	incs, err := mgr.ListIncidents(context.Background(), db.IncidentQuery{ServiceName: "web"})
	require.NoError(t, err)
	assert.Empty(t, incs)
}

func TestMonitorTickCleanExitRestartFailureCreatesIncident(t *testing.T) {
	mgr, orch := newTestIncidentsAndOrchestrator(t)
	probe := &fakeContainerProbe{statuses: []contracts.ContainerStatus{
		{Name: "plex", ServiceName: "plex", State: "exited", ExitCode: exitCode(0)},
	}}
	exec := &fakeExecutor{succeed: false}

	loop := NewMonitorLoop(MonitorConfig{}, probe, nil, nil, nil, mgr, orch, exec, nil)
	loop.Tick(context.Background())

	hist := loop.History()
	assert.Equal(t, "container_down_restart_failed", hist[0].Containers[0].DerivedIssue)

	incs, err := mgr.ListIncidents(context.Background(), db.IncidentQuery{ServiceName: "plex"})
	require.NoError(t, err)
	require.Len(t, incs, 1)
	assert.False(t, incs[0].AutoRemediated)
}

func TestMonitorTickNonZeroExitCreatesIncidentRequiringApproval(t *testing.T) {
	mgr, orch := newTestIncidentsAndOrchestrator(t)
	probe := &fakeContainerProbe{statuses: []contracts.ContainerStatus{
		{Name: "jellyfin", ServiceName: "jellyfin", State: "exited", ExitCode: exitCode(137)},
	}}

	loop := NewMonitorLoop(MonitorConfig{}, probe, nil, nil, nil, mgr, orch, nil, nil)
	loop.Tick(context.Background())

	hist := loop.History()
	assert.Equal(t, "container_down_requires_approval", hist[0].Containers[0].DerivedIssue)

	incs, err := mgr.ListIncidents(context.Background(), db.IncidentQuery{ServiceName: "jellyfin"})
	require.NoError(t, err)
	require.Len(t, incs, 1)
	assert.Equal(t, types.SeverityMedium, incs[0].Severity)
	assert.False(t, incs[0].AutoRemediated)
	assert.Equal(t, types.IncidentDetected, incs[0].Status)
}

func TestMonitorTickHealthyContainerDerivesNoIssue(t *testing.T) {
	mgr, orch := newTestIncidentsAndOrchestrator(t)
	probe := &fakeContainerProbe{statuses: []contracts.ContainerStatus{
		{Name: "nas", ServiceName: "nas", State: "running", CPUPercent: 20, MemoryPercent: 30},
	}}

	loop := NewMonitorLoop(MonitorConfig{}, probe, nil, nil, nil, mgr, orch, nil, nil)
	loop.Tick(context.Background())

	assert.Equal(t, "", loop.History()[0].Containers[0].DerivedIssue)
}

func TestMonitorGetSystemSummaryReportsLatestSnapshot(t *testing.T) {
	mgr, orch := newTestIncidentsAndOrchestrator(t)
	probe := &fakeContainerProbe{statuses: []contracts.ContainerStatus{
		{Name: "nas", ServiceName: "nas", State: "running"},
	}}

	loop := NewMonitorLoop(MonitorConfig{}, probe, nil, nil, nil, mgr, orch, nil, nil)
	summary := loop.GetSystemSummary()
	assert.Equal(t, false, summary["has_data"])

	loop.Tick(context.Background())
	summary = loop.GetSystemSummary()
	assert.Equal(t, true, summary["has_data"])
	assert.Equal(t, 1, summary["container_count"])
}

func TestOptimizerTickClassifiesOverAndUnderProvisioned(t *testing.T) {
	probe := &fakeContainerProbe{statuses: []contracts.ContainerStatus{
		{Name: "idle", CPUPercent: 1, MemoryPercent: 2, MemoryLimitMiB: 1024},
		{Name: "hungry", CPUPercent: 50, MemoryPercent: 90, MemoryLimitMiB: 1024},
	}}

	loop := NewOptimizerLoop(OptimizerConfig{}, probe, nil, nil, nil)
	loop.Tick(context.Background())

	recs := loop.LatestRecommendations()
	require.Len(t, recs, 2)

	var kinds []RecommendationKind
	for _, r := range recs {
		kinds = append(kinds, r.Kind)
	}
	assert.Contains(t, kinds, RecOverProvisioned)
	assert.Contains(t, kinds, RecUnderProvisioned)
}

func TestSecurityTickWithNoCollaboratorsScoresExcellent(t *testing.T) {
	loop := NewSecurityLoop(SecurityConfig{}, nil, nil, nil, nil, nil, nil)
	loop.Tick(context.Background())

	score, band, ok := loop.LatestScore()
	require.True(t, ok)
	assert.Equal(t, 100.0, score)
	assert.Equal(t, BandExcellent, band)
}

type fakeSSLInspector struct {
	certs []contracts.SSLCertificate
}

func (f *fakeSSLInspector) ListCertificates(ctx context.Context) ([]contracts.SSLCertificate, error) {
	return f.certs, nil
}

func TestSecurityTickExpiredCertificateDeductsScoreAndReportsCriticalFinding(t *testing.T) {
	ssl := &fakeSSLInspector{certs: []contracts.SSLCertificate{
		{Domain: "home.example.com", ExpiresAt: time.Now().UTC().Add(-24 * time.Hour)},
	}}
	loop := NewSecurityLoop(SecurityConfig{}, nil, nil, ssl, nil, nil, nil)
	loop.Tick(context.Background())

	score, _, ok := loop.LatestScore()
	require.True(t, ok)
	assert.Equal(t, 90.0, score)

	hist := loop.History()
	require.Len(t, hist[0].Findings, 1)
	assert.Equal(t, "critical", hist[0].Findings[0].Severity)
}
