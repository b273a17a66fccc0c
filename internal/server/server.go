// Package server exposes the core's process control surface over host-local
// HTTP: action evaluation/execution, circuit breaker reset, the action
// catalog listing, and incident query/update. It is deliberately thin — no
// web session state, no templates, no websocket handling; a wrapping
// collaborator subscribes to internal/eventbus for anything real-time.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/homelab/sentinel/internal/agent"
	"github.com/homelab/sentinel/internal/catalog"
	"github.com/homelab/sentinel/internal/eventbus"
	"github.com/homelab/sentinel/internal/incident"
	"github.com/homelab/sentinel/internal/loops"
	"github.com/homelab/sentinel/internal/policy"
	"github.com/homelab/sentinel/internal/remediation"
	"github.com/homelab/sentinel/internal/validator"
)

// Config configures the host-local HTTP surface.
type Config struct {
	Host              string
	Port              int
	RequestsPerMinute int // 0 disables rate limiting
}

// Deps are the collaborators the process control surface dispatches into.
// Any field may be left nil; the corresponding routes respond
// ServiceUnavailable rather than panicking.
type Deps struct {
	Validator    validator.Validator
	Catalog      catalog.Catalog
	Policy       policy.Engine
	Agent        agent.Agent
	Incidents    incident.Manager
	Orchestrator remediation.Orchestrator
	Monitor      *loops.MonitorLoop
	Optimizer    *loops.OptimizerLoop
	Security     *loops.SecurityLoop
	Events       *eventbus.Bus
	Logger       *zap.Logger
}

// Server is the host-local HTTP surface wrapping the core's collaborators.
type Server struct {
	cfg  Config
	deps Deps

	rateLimiter *requestLimiter
	httpServer  *http.Server

	mu      sync.RWMutex
	running bool
}

// NewServer constructs a Server. It does not start listening; call Start.
func NewServer(cfg Config, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	s := &Server{cfg: cfg, deps: deps}
	if cfg.RequestsPerMinute > 0 {
		s.rateLimiter = newRequestLimiter(cfg.RequestsPerMinute, deps.Logger)
	}
	return s
}

// Start begins serving in a background goroutine.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.running = true
	s.mu.Unlock()

	mux := http.NewServeMux()
	s.registerHandlers(mux)

	var handler http.Handler = mux
	if s.rateLimiter != nil {
		handler = s.rateLimiter.wrap(mux)
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		s.deps.Logger.Info("starting process control surface", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.deps.Logger.Error("http server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts the server down, waiting up to 10s for in-flight
// requests to finish.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is not running")
	}
	s.running = false
	s.mu.Unlock()

	if s.rateLimiter != nil {
		s.rateLimiter.stop()
	}

	if s.httpServer == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// IsRunning reports whether the server is currently accepting connections.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Server) registerHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/info", s.handleInfo)
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/api/v1/commands/safe", s.handleListSafeCommands)
	mux.HandleFunc("/api/v1/commands/allowed", s.handleListAllowedCommands)

	mux.HandleFunc("/api/v1/actions", s.handleListActions)
	mux.HandleFunc("/api/v1/actions/", s.handleActionByName)

	mux.HandleFunc("/api/v1/incidents", s.handleIncidents)
	mux.HandleFunc("/api/v1/incidents/", s.handleIncidentByID)

	mux.HandleFunc("/api/v1/agent/metrics", s.handleAgentMetrics)
	mux.HandleFunc("/api/v1/agent/metrics/reset", s.handleAgentMetricsReset)
	mux.HandleFunc("/api/v1/policy/stats", s.handlePolicyStats)

	mux.HandleFunc("/api/v1/loops/monitor/summary", s.handleMonitorSummary)
	mux.HandleFunc("/api/v1/loops/optimizer/recommendations", s.handleOptimizerRecommendations)
	mux.HandleFunc("/api/v1/loops/security/score", s.handleSecurityScore)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	s.mu.RLock()
	ready := s.running && s.deps.Catalog != nil && s.deps.Policy != nil
	s.mu.RUnlock()

	if !ready {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"status": "not_ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ready",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	var subscribers int
	if s.deps.Events != nil {
		subscribers = s.deps.Events.SubscriberCount()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":                 "sentinel",
		"eventbus_subscribers": subscribers,
		"timestamp":            time.Now().UTC().Format(time.RFC3339),
	})
}

// writeJSON writes a structured JSON success response:
// Content-Type set explicitly, status written before the body is encoded.
func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, status int, format string, args ...interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": fmt.Sprintf(format, args...)})
}

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
