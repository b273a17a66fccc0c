package incident

import (
	"context"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homelab/sentinel/internal/db"
	"github.com/homelab/sentinel/pkg/types"
)

func newTestManager(t *testing.T) Manager {
	t.Helper()
	store, err := db.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return New(store, nil)
}

var incidentIDPattern = regexp.MustCompile(`^INC-[0-9]{8}-[0-9A-F]{8}$`)

func TestGenerateIncidentIDMatchesExternalFormat(t *testing.T) {
	id := GenerateIncidentID()
	assert.Regexp(t, incidentIDPattern, id)
}

func TestCreateIncidentDefaultsSeverityAndTriggerSource(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	inc, err := m.CreateIncident(ctx, CreateParams{
		Type:        types.IncidentContainerDown,
		ServiceName: "plex",
		Title:       "plex is down",
	})
	require.NoError(t, err)
	assert.Equal(t, types.SeverityMedium, inc.Severity)
	assert.Equal(t, "manual", inc.TriggerSource)
	assert.Equal(t, types.IncidentDetected, inc.Status)
	assert.Regexp(t, incidentIDPattern, inc.IncidentID)
}

func TestUpdateStatusResolvedSetsResolvedAt(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	inc, err := m.CreateIncident(ctx, CreateParams{Type: types.IncidentHighCPU, ServiceName: "nas", Title: "high cpu"})
	require.NoError(t, err)

	updated, err := m.UpdateStatus(ctx, inc.IncidentID, types.IncidentResolved, "restarted container", nil)
	require.NoError(t, err)
	assert.Equal(t, types.IncidentResolved, updated.Status)
	require.NotNil(t, updated.ResolvedAt)
	assert.Equal(t, "restarted container", updated.ResolutionNotes)
}

func TestUpdateStatusRejectsTransitionFromTerminalState(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	inc, err := m.CreateIncident(ctx, CreateParams{Type: types.IncidentHighCPU, ServiceName: "nas", Title: "high cpu"})
	require.NoError(t, err)

	_, err = m.UpdateStatus(ctx, inc.IncidentID, types.IncidentFailed, "", nil)
	require.NoError(t, err)

	_, err = m.UpdateStatus(ctx, inc.IncidentID, types.IncidentRemediating, "retry", nil)
	assert.Error(t, err)
}

func TestEscalateSetsEscalationFields(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	inc, err := m.CreateIncident(ctx, CreateParams{Type: types.IncidentServiceDegraded, ServiceName: "kvm", Title: "gpu passthrough flaky"})
	require.NoError(t, err)

	escalated, err := m.Escalate(ctx, inc.IncidentID, "no safe auto playbook", "")
	require.NoError(t, err)
	assert.Equal(t, types.IncidentEscalated, escalated.Status)
	assert.Equal(t, "human_operator", escalated.EscalatedTo)
	assert.Equal(t, "no safe auto playbook", escalated.EscalationReason)
}

func TestRecordLearningCreatesRecordOnFirstOccurrence(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	inc, err := m.CreateIncident(ctx, CreateParams{
		Type: types.IncidentContainerDown, ServiceName: "plex", Title: "down",
		TriggerSource: "autonomous_monitor",
	})
	require.NoError(t, err)

	duration := 30.0
	require.NoError(t, m.RecordLearning(ctx, inc, "container_restart", true, &duration))

	stats, err := m.GetLearningStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalPatterns)
	assert.Equal(t, 1, stats.SuccessCount)
	assert.Contains(t, stats.PlaybookEffectiveness, "container_restart")
}

func TestRecordLearningTracksRunningAverageDuration(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	inc, err := m.CreateIncident(ctx, CreateParams{
		Type: types.IncidentContainerDown, ServiceName: "plex", Title: "down",
		TriggerSource: "autonomous_monitor",
	})
	require.NoError(t, err)

	first := 42.0
	require.NoError(t, m.RecordLearning(ctx, inc, "container_restart", true, &first))

	second := 58.0
	require.NoError(t, m.RecordLearning(ctx, inc, "container_restart", true, &second))

	hash := PatternHash(inc.Type, inc.ServiceName, inc.TriggerSource)
	rec, err := newManagerStore(t, m).GetLearningRecord(ctx, hash)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 2, rec.SuccessCount)
	require.NotNil(t, rec.AvgResolutionTimeSeconds)
	assert.InDelta(t, 50.0, *rec.AvgResolutionTimeSeconds, 0.001)
}

func TestRecordLearningFailureIncrementsFailureCountOnly(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	inc, err := m.CreateIncident(ctx, CreateParams{
		Type: types.IncidentNASStale, ServiceName: "nas", Title: "stale mount",
		TriggerSource: "autonomous_monitor",
	})
	require.NoError(t, err)

	require.NoError(t, m.RecordLearning(ctx, inc, "nas_remount", false, nil))

	stats, err := m.GetLearningStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FailureCount)
	assert.Equal(t, 0, stats.SuccessCount)
	assert.NotContains(t, stats.PlaybookEffectiveness, "nas_remount")
}

func TestPatternHashIsStableAndDistinguishesServices(t *testing.T) {
	a := PatternHash(types.IncidentContainerDown, "plex", "autonomous_monitor")
	b := PatternHash(types.IncidentContainerDown, "plex", "autonomous_monitor")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	c := PatternHash(types.IncidentContainerDown, "nas", "autonomous_monitor")
	assert.NotEqual(t, a, c)
}

// newManagerStore is a test-only helper that reaches into the manager to
// get its underlying db.Store, since Manager doesn't expose one — every
// other test goes through Manager methods exclusively, but verifying the
// exact persisted running average is easiest directly against the store.
func newManagerStore(t *testing.T, m Manager) db.Store {
	t.Helper()
	mgr, ok := m.(*manager)
	require.True(t, ok)
	return mgr.store
}
