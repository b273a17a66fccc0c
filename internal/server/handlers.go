package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/homelab/sentinel/internal/db"
	"github.com/homelab/sentinel/internal/eventbus"
	"github.com/homelab/sentinel/internal/incident"
	"github.com/homelab/sentinel/pkg/types"
)

// ─── command validator surface ─────────────────────────────────────────────

func (s *Server) handleListSafeCommands(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.deps.Validator == nil {
		writeError(w, http.StatusServiceUnavailable, "validator is not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"commands": s.deps.Validator.ListSafeCommands(),
	})
}

func (s *Server) handleListAllowedCommands(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.deps.Validator == nil {
		writeError(w, http.StatusServiceUnavailable, "validator is not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"commands_by_tier": s.deps.Validator.ListAllowedCommands(),
	})
}

// ─── action catalog + evaluate/execute ─────────────────────────────────────

func (s *Server) handleListActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.deps.Catalog == nil {
		writeError(w, http.StatusServiceUnavailable, "catalog is not configured")
		return
	}
	defs := s.deps.Catalog.ListAll()
	out := make([]map[string]interface{}, 0, len(defs))
	for _, d := range defs {
		out = append(out, map[string]interface{}{
			"name":       d.Name,
			"tier":       d.Tier,
			"risk_level": d.RiskLevel,
			"category":   d.Category,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"actions": out})
}

// handleActionByName dispatches every /api/v1/actions/{name}/{verb} route
// via manual TrimPrefix + SplitN sub-routing — no router library is used
// anywhere in this package.
func (s *Server) handleActionByName(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/actions/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		writeError(w, http.StatusNotFound, "expected /api/v1/actions/{name}/{operation}")
		return
	}
	name, op := parts[0], parts[1]

	switch op {
	case "evaluate":
		s.handleEvaluateAction(w, r, name)
	case "execute":
		s.handleExecuteAction(w, r, name)
	case "record-result":
		s.handleRecordExecutionResult(w, r, name)
	case "reset-breaker":
		s.handleResetCircuitBreaker(w, r, name)
	default:
		writeError(w, http.StatusNotFound, "unknown action operation %q", op)
	}
}

func (s *Server) handleEvaluateAction(w http.ResponseWriter, r *http.Request, name string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.deps.Catalog == nil || s.deps.Policy == nil {
		writeError(w, http.StatusServiceUnavailable, "catalog or policy engine is not configured")
		return
	}
	def, ok := s.deps.Catalog.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown action %q", name)
		return
	}
	decision := s.deps.Policy.EvaluateAction(name, def, def.Command)
	writeJSON(w, http.StatusOK, decision)
}

type executeRequest struct {
	DryRun bool `json:"dry_run"`
}

func (s *Server) handleExecuteAction(w http.ResponseWriter, r *http.Request, name string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.deps.Agent == nil {
		writeError(w, http.StatusServiceUnavailable, "agent is not configured")
		return
	}
	var req executeRequest
	req.DryRun = true
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}
	}

	result := s.deps.Agent.ExecuteAction(r.Context(), name, req.DryRun)
	if s.deps.Events != nil {
		s.deps.Events.Publish(eventbus.TopicActionExecuted, result)
	}
	writeJSON(w, http.StatusOK, result)
}

type recordResultRequest struct {
	Success bool `json:"success"`
}

func (s *Server) handleRecordExecutionResult(w http.ResponseWriter, r *http.Request, name string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.deps.Policy == nil {
		writeError(w, http.StatusServiceUnavailable, "policy engine is not configured")
		return
	}
	var req recordResultRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	s.deps.Policy.RecordExecutionResult(name, req.Success)
	if !req.Success && s.deps.Events != nil {
		s.deps.Events.Publish(eventbus.TopicCircuitBreaker, map[string]string{"action": name})
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

func (s *Server) handleResetCircuitBreaker(w http.ResponseWriter, r *http.Request, name string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.deps.Policy == nil {
		writeError(w, http.StatusServiceUnavailable, "policy engine is not configured")
		return
	}
	s.deps.Policy.ResetCircuitBreaker(name)
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// ─── incidents ──────────────────────────────────────────────────────────────

func (s *Server) handleIncidents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Incidents == nil {
		writeError(w, http.StatusServiceUnavailable, "incident manager is not configured")
		return
	}
	switch r.Method {
	case http.MethodGet:
		q := db.IncidentQuery{
			Status:      types.IncidentStatus(r.URL.Query().Get("status")),
			ServiceName: r.URL.Query().Get("service_name"),
			Type:        types.IncidentType(r.URL.Query().Get("type")),
			Limit:       queryInt(r, "limit", 50),
			Offset:      queryInt(r, "offset", 0),
		}
		incidents, err := s.deps.Incidents.ListIncidents(r.Context(), q)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "list incidents: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"incidents": incidents})
	case http.MethodPost:
		var params incident.CreateParams
		if err := decodeJSON(r, &params); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}
		inc, err := s.deps.Incidents.CreateIncident(r.Context(), params)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "create incident: %v", err)
			return
		}
		if s.deps.Events != nil {
			s.deps.Events.Publish(eventbus.TopicIncidentCreated, inc)
		}
		writeJSON(w, http.StatusCreated, inc)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleIncidentByID dispatches /api/v1/incidents/{id}[/status|/escalate].
func (s *Server) handleIncidentByID(w http.ResponseWriter, r *http.Request) {
	if s.deps.Incidents == nil {
		writeError(w, http.StatusServiceUnavailable, "incident manager is not configured")
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/incidents/")
	parts := strings.SplitN(rest, "/", 2)
	id := parts[0]
	if id == "" {
		writeError(w, http.StatusNotFound, "expected /api/v1/incidents/{id}")
		return
	}

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			inc, err := s.deps.Incidents.GetIncident(r.Context(), id)
			if err != nil {
				writeError(w, http.StatusNotFound, "incident %q: %v", id, err)
				return
			}
			writeJSON(w, http.StatusOK, inc)
		case http.MethodDelete:
			if err := s.deps.Incidents.DeleteIncident(r.Context(), id); err != nil {
				writeError(w, http.StatusInternalServerError, "delete incident: %v", err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
		return
	}

	switch parts[1] {
	case "status":
		s.handleUpdateIncidentStatus(w, r, id)
	case "escalate":
		s.handleEscalateIncident(w, r, id)
	default:
		writeError(w, http.StatusNotFound, "unknown incident operation %q", parts[1])
	}
}

type updateStatusRequest struct {
	Status types.IncidentStatus `json:"status"`
	Notes  string                `json:"notes"`
}

func (s *Server) handleUpdateIncidentStatus(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost && r.Method != http.MethodPatch {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req updateStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	inc, err := s.deps.Incidents.UpdateStatus(r.Context(), id, req.Status, req.Notes, nil)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "update status: %v", err)
		return
	}
	if s.deps.Events != nil {
		s.deps.Events.Publish(eventbus.TopicIncidentUpdated, inc)
	}
	writeJSON(w, http.StatusOK, inc)
}

type escalateRequest struct {
	Reason      string `json:"reason"`
	EscalatedTo string `json:"escalated_to"`
}

func (s *Server) handleEscalateIncident(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.deps.Orchestrator == nil {
		writeError(w, http.StatusServiceUnavailable, "remediation orchestrator is not configured")
		return
	}
	var req escalateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	inc, err := s.deps.Orchestrator.EscalateToHuman(r.Context(), id, req.Reason, req.EscalatedTo)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "escalate incident: %v", err)
		return
	}
	if s.deps.Events != nil {
		s.deps.Events.Publish(eventbus.TopicIncidentUpdated, inc)
	}
	writeJSON(w, http.StatusOK, inc)
}

// ─── agent + policy metrics ─────────────────────────────────────────────────

func (s *Server) handleAgentMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.deps.Agent == nil {
		writeError(w, http.StatusServiceUnavailable, "agent is not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Agent.GetMetrics())
}

func (s *Server) handleAgentMetricsReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.deps.Agent == nil {
		writeError(w, http.StatusServiceUnavailable, "agent is not configured")
		return
	}
	s.deps.Agent.ResetMetrics()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) handlePolicyStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.deps.Policy == nil {
		writeError(w, http.StatusServiceUnavailable, "policy engine is not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Policy.GetPolicyStats())
}

// ─── periodic loop summaries ─────────────────────────────────────────────────

func (s *Server) handleMonitorSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.deps.Monitor == nil {
		writeError(w, http.StatusServiceUnavailable, "monitor loop is not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Monitor.GetSystemSummary())
}

func (s *Server) handleOptimizerRecommendations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.deps.Optimizer == nil {
		writeError(w, http.StatusServiceUnavailable, "optimizer loop is not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"recommendations": s.deps.Optimizer.LatestRecommendations(),
	})
}

func (s *Server) handleSecurityScore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.deps.Security == nil {
		writeError(w, http.StatusServiceUnavailable, "security loop is not configured")
		return
	}
	score, band, ok := s.deps.Security.LatestScore()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]interface{}{"available": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"available": true,
		"score":     score,
		"band":      band,
	})
}

// ─── small helpers ──────────────────────────────────────────────────────────

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
