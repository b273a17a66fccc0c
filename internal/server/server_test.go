package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homelab/sentinel/internal/db"
	"github.com/homelab/sentinel/internal/incident"
	"github.com/homelab/sentinel/internal/policy"
	"github.com/homelab/sentinel/pkg/types"
)

// fakeCatalog is a minimal in-memory catalog.Catalog for handler tests.
type fakeCatalog struct {
	defs map[string]*types.ActionDefinition
}

func (f *fakeCatalog) Get(name string) (*types.ActionDefinition, bool) {
	d, ok := f.defs[name]
	return d, ok
}

func (f *fakeCatalog) ListAll() []*types.ActionDefinition {
	out := make([]*types.ActionDefinition, 0, len(f.defs))
	for _, d := range f.defs {
		out = append(out, d)
	}
	return out
}

func (f *fakeCatalog) ListByTier(tier types.Tier) []*types.ActionDefinition {
	var out []*types.ActionDefinition
	for _, d := range f.defs {
		if d.Tier == tier {
			out = append(out, d)
		}
	}
	return out
}

// fakePolicy is a minimal policy.Engine for handler tests.
type fakePolicy struct {
	resetCalls  []string
	recordCalls []bool
}

func (f *fakePolicy) EvaluateAction(actionName string, def *types.ActionDefinition, command string) types.PolicyDecision {
	return types.PolicyDecision{Decision: types.DecisionApprove, Tier: def.Tier, RiskLevel: def.RiskLevel}
}

func (f *fakePolicy) RecordExecutionResult(actionName string, success bool) {
	f.recordCalls = append(f.recordCalls, success)
}

func (f *fakePolicy) ResetCircuitBreaker(actionName string) {
	f.resetCalls = append(f.resetCalls, actionName)
}

func (f *fakePolicy) UpdateLimits(maxExecutionsPerHour, circuitBreakerThreshold, circuitBreakerWindowMinutes int) {
}

func (f *fakePolicy) GetPolicyStats() policy.Stats {
	return policy.Stats{MaxExecutionsPerHour: 10}
}

// fakeIncidents is a minimal incident.Manager for handler tests.
type fakeIncidents struct {
	byID map[string]*types.Incident
}

func (f *fakeIncidents) CreateIncident(ctx context.Context, p incident.CreateParams) (*types.Incident, error) {
	inc := &types.Incident{IncidentID: "INC-TEST", ServiceName: p.ServiceName, Status: types.IncidentDetected}
	if f.byID == nil {
		f.byID = make(map[string]*types.Incident)
	}
	f.byID[inc.IncidentID] = inc
	return inc, nil
}

func (f *fakeIncidents) GetIncident(ctx context.Context, id string) (*types.Incident, error) {
	inc, ok := f.byID[id]
	if !ok {
		return nil, errIncidentNotFound(id)
	}
	return inc, nil
}

func (f *fakeIncidents) ListIncidents(ctx context.Context, q db.IncidentQuery) ([]*types.Incident, error) {
	var out []*types.Incident
	for _, inc := range f.byID {
		out = append(out, inc)
	}
	return out, nil
}

func (f *fakeIncidents) UpdateStatus(ctx context.Context, id string, status types.IncidentStatus, notes string, extras *incident.StatusExtras) (*types.Incident, error) {
	inc, ok := f.byID[id]
	if !ok {
		return nil, errIncidentNotFound(id)
	}
	inc.Status = status
	return inc, nil
}

func (f *fakeIncidents) Escalate(ctx context.Context, id, reason, escalatedTo string) (*types.Incident, error) {
	inc, ok := f.byID[id]
	if !ok {
		return nil, errIncidentNotFound(id)
	}
	inc.Status = types.IncidentEscalated
	return inc, nil
}

func (f *fakeIncidents) DeleteIncident(ctx context.Context, id string) error {
	delete(f.byID, id)
	return nil
}

func (f *fakeIncidents) RecordLearning(ctx context.Context, inc *types.Incident, playbookID string, success bool, durationSeconds *float64) error {
	return nil
}

func (f *fakeIncidents) GetLearningStats(ctx context.Context) (incident.Stats, error) {
	return incident.Stats{}, nil
}

type notFoundErr struct{ id string }

func (e notFoundErr) Error() string { return "incident not found: " + e.id }

func errIncidentNotFound(id string) error { return notFoundErr{id: id} }

func newTestServer() (*Server, *fakeCatalog, *fakePolicy, *fakeIncidents) {
	cat := &fakeCatalog{defs: map[string]*types.ActionDefinition{
		"restart_container": {Name: "restart_container", Tier: types.TierRemediate, Command: "docker restart web", RiskLevel: types.RiskMedium},
	}}
	pol := &fakePolicy{}
	inc := &fakeIncidents{byID: map[string]*types.Incident{}}
	s := NewServer(Config{Host: "localhost", Port: 0}, Deps{Catalog: cat, Policy: pol, Incidents: inc})
	return s, cat, pol, inc
}

func TestHandleHealth(t *testing.T) {
	s, _, _, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.handleHealth(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleListActions(t *testing.T) {
	s, _, _, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/actions", nil)
	w := httptest.NewRecorder()
	s.handleListActions(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	actions, ok := body["actions"].([]interface{})
	require.True(t, ok)
	assert.Len(t, actions, 1)
}

func TestHandleEvaluateActionUnknown(t *testing.T) {
	s, _, _, _ := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/actions/nonexistent/evaluate", nil)
	w := httptest.NewRecorder()
	s.handleActionByName(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleEvaluateActionKnown(t *testing.T) {
	s, _, _, _ := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/actions/restart_container/evaluate", nil)
	w := httptest.NewRecorder()
	s.handleActionByName(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var decision types.PolicyDecision
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decision))
	assert.Equal(t, types.DecisionApprove, decision.Decision)
}

func TestHandleResetCircuitBreaker(t *testing.T) {
	s, _, pol, _ := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/actions/restart_container/reset-breaker", nil)
	w := httptest.NewRecorder()
	s.handleActionByName(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"restart_container"}, pol.resetCalls)
}

func TestHandleIncidentsCreateAndGet(t *testing.T) {
	s, _, _, _ := newTestServer()

	body, err := json.Marshal(incident.CreateParams{ServiceName: "web"})
	require.NoError(t, err)
	createReq := httptest.NewRequest(http.MethodPost, "/api/v1/incidents", bytes.NewReader(body))
	createW := httptest.NewRecorder()
	s.handleIncidents(createW, createReq)
	require.Equal(t, http.StatusCreated, createW.Code)

	getReq := httptest.NewRequest(http.MethodGet, "/api/v1/incidents/INC-TEST", nil)
	getW := httptest.NewRecorder()
	s.handleIncidentByID(getW, getReq)
	assert.Equal(t, http.StatusOK, getW.Code)
}

func TestHandleIncidentByIDNotFound(t *testing.T) {
	s, _, _, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/incidents/INC-MISSING", nil)
	w := httptest.NewRecorder()
	s.handleIncidentByID(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRequestLimiterThrottlesBurstPerClient(t *testing.T) {
	rl := newRequestLimiter(2, nil)
	t.Cleanup(rl.stop)

	assert.True(t, rl.allow("10.0.0.1:4242"))
	assert.True(t, rl.allow("10.0.0.1:4242"))
	assert.False(t, rl.allow("10.0.0.1:4242"))

	// Other clients keep their own allowance.
	assert.True(t, rl.allow("10.0.0.2:4242"))
}

func TestServerStartStopLifecycle(t *testing.T) {
	s, _, _, _ := newTestServer()
	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())
	assert.Error(t, s.Start())

	require.NoError(t, s.Stop(context.Background()))
	assert.False(t, s.IsRunning())
}
