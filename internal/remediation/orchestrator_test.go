package remediation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homelab/sentinel/internal/db"
	"github.com/homelab/sentinel/internal/executor"
	"github.com/homelab/sentinel/internal/incident"
	"github.com/homelab/sentinel/internal/validator"
	"github.com/homelab/sentinel/pkg/types"
)

func newTestOrchestrator(t *testing.T) (Orchestrator, incident.Manager) {
	t.Helper()
	store, err := db.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	mgr := incident.New(store, nil)
	v, err := validator.New()
	require.NoError(t, err)
	exec := executor.New(v, nil, 5*time.Second, 20)

	return New(mgr, nil, exec, nil, nil), mgr
}

func TestRemediateUnknownIncidentTypeEscalates(t *testing.T) {
	orch, mgr := newTestOrchestrator(t)
	ctx := context.Background()

	inc, err := mgr.CreateIncident(ctx, incident.CreateParams{
		Type: types.IncidentSecurityAlert, ServiceName: "vault", Title: "unexpected auth attempt",
	})
	require.NoError(t, err)

	res, err := orch.Remediate(ctx, inc, Options{})
	require.NoError(t, err)
	assert.Equal(t, DecisionEscalated, res.Decision)
	assert.Equal(t, types.IncidentEscalated, res.Incident.Status)
}

func TestRemediateAutoExecuteDisallowedRequiresApproval(t *testing.T) {
	orch, mgr := newTestOrchestrator(t)
	ctx := context.Background()

	inc, err := mgr.CreateIncident(ctx, incident.CreateParams{
		Type: types.IncidentDiskFull, ServiceName: "nas", Title: "disk almost full",
	})
	require.NoError(t, err)

	res, err := orch.Remediate(ctx, inc, Options{AutoExecute: true})
	require.NoError(t, err)
	assert.Equal(t, DecisionRequiresApproval, res.Decision)
	assert.Equal(t, "clear_docker_cache", res.PlaybookID)
}

func TestRemediateRequiresConfirmationWithoutToken(t *testing.T) {
	orch, mgr := newTestOrchestrator(t)
	ctx := context.Background()

	inc, err := mgr.CreateIncident(ctx, incident.CreateParams{
		Type: types.IncidentDiskFull, ServiceName: "nas", Title: "disk almost full",
	})
	require.NoError(t, err)

	res, err := orch.Remediate(ctx, inc, Options{})
	require.NoError(t, err)
	assert.Equal(t, DecisionRequiresConfirmation, res.Decision)
}

func TestRemediateExecutesAndResolvesOnSuccess(t *testing.T) {
	orch, mgr := newTestOrchestrator(t)
	ctx := context.Background()

	inc, err := mgr.CreateIncident(ctx, incident.CreateParams{
		Type: types.IncidentContainerDown, ServiceName: "plex", ContainerName: "plex-media-server",
		Title: "plex container is down", TriggerSource: "autonomous_monitor",
	})
	require.NoError(t, err)

	res, err := orch.Remediate(ctx, inc, Options{AutoExecute: true, DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, DecisionExecuted, res.Decision)
	assert.Equal(t, "container_restart", res.PlaybookID)
	assert.Equal(t, types.IncidentResolved, res.Incident.Status)

	stats, err := mgr.GetLearningStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.SuccessCount)
}

func TestEscalateToHumanSetsFields(t *testing.T) {
	orch, mgr := newTestOrchestrator(t)
	ctx := context.Background()

	inc, err := mgr.CreateIncident(ctx, incident.CreateParams{
		Type: types.IncidentHighCPU, ServiceName: "jellyfin", Title: "sustained high cpu",
	})
	require.NoError(t, err)

	updated, err := orch.EscalateToHuman(ctx, inc.IncidentID, "repeated remediation failures", "oncall")
	require.NoError(t, err)
	assert.Equal(t, types.IncidentEscalated, updated.Status)
	assert.Equal(t, "oncall", updated.EscalatedTo)
}

func TestDetectAndCreateIncidentsMapsByRestartCountAndHealth(t *testing.T) {
	orch, _ := newTestOrchestrator(t)
	ctx := context.Background()

	created, err := orch.DetectAndCreateIncidents(ctx, []Observation{
		{ServiceName: "plex", ContainerName: "plex", HealthStatus: "healthy", RestartCount: 0},
		{ServiceName: "nas", ContainerName: "nas-agent", HealthStatus: "down", RestartCount: 1},
		{ServiceName: "jellyfin", ContainerName: "jellyfin", HealthStatus: "unhealthy", RestartCount: 6},
	})
	require.NoError(t, err)
	require.Len(t, created, 2)

	assert.Equal(t, types.IncidentContainerDown, created[0].Type)
	assert.Equal(t, types.IncidentContainerCrashLoop, created[1].Type)
}

func TestListAndGetPlaybooks(t *testing.T) {
	orch, _ := newTestOrchestrator(t)

	all := orch.ListPlaybooks()
	assert.Len(t, all, 9)

	pb, ok := orch.GetPlaybook("renew_ssl")
	require.True(t, ok)
	assert.True(t, pb.RequiresConfirmation)
}
