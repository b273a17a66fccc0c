// Package metrics exposes the core's Prometheus gauges and counters: policy
// decisions, executions, circuit breaker trips, and periodic loop durations.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Command Validator / Safe Executor

	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_executions_total",
			Help: "Total number of commands run through the safe executor",
		},
		[]string{"risk_level", "mode", "success"},
	)

	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sentinel_execution_duration_seconds",
			Help:    "Command execution duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		},
		[]string{"risk_level"},
	)

	ExecutionsRateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_executions_rate_limited_total",
			Help: "Total number of executions rejected by the executor's rate limit",
		},
	)

	// Policy Engine

	PolicyDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_policy_decisions_total",
			Help: "Total number of policy engine evaluations",
		},
		[]string{"action", "decision"},
	)

	CircuitBreakerTrips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_circuit_breaker_trips_total",
			Help: "Total number of times an action's circuit breaker opened",
		},
		[]string{"action"},
	)

	CircuitBreakerOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sentinel_circuit_breaker_open",
			Help: "Whether an action's circuit breaker is currently open (1=open, 0=closed)",
		},
		[]string{"action"},
	)

	// Autonomous Agent

	AgentActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_agent_actions_total",
			Help: "Total number of actions run by the autonomous agent",
		},
		[]string{"tier", "result"},
	)

	// Incident & Learning Store

	IncidentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_incidents_total",
			Help: "Total number of incidents created",
		},
		[]string{"type", "severity"},
	)

	IncidentsOpenGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_incidents_open",
			Help: "Current number of incidents not yet resolved, escalated, or failed",
		},
	)

	IncidentResolutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sentinel_incident_resolution_duration_seconds",
			Help:    "Time from incident detection to resolution",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~4.5h
		},
		[]string{"type"},
	)

	// Remediation Orchestrator

	PlaybooksExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_playbooks_executed_total",
			Help: "Total number of remediation playbooks executed",
		},
		[]string{"playbook", "outcome"},
	)

	Escalations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_escalations_total",
			Help: "Total number of incidents escalated to a human",
		},
		[]string{"reason"},
	)

	// Periodic loops (monitor / optimizer / security)

	LoopTickDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sentinel_loop_tick_duration_seconds",
			Help:    "Duration of one periodic loop tick",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"loop"},
	)

	LoopTicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_loop_ticks_total",
			Help: "Total number of periodic loop ticks, by status (completed or skipped)",
		},
		[]string{"loop", "status"},
	)

	SecurityScoreGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_security_score",
			Help: "Current aggregate security score (0-100)",
		},
	)

	EfficiencyScoreGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_efficiency_score",
			Help: "Current aggregate resource efficiency score (0-100)",
		},
	)

	// Fleet transport (gRPC)

	FleetConnectionActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sentinel_fleet_connection_active",
			Help: "Whether the gRPC connection to a fleet host is active (1=active, 0=inactive)",
		},
		[]string{"host_id"},
	)

	FleetReconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_fleet_reconnects_total",
			Help: "Total number of fleet gRPC reconnection attempts",
		},
		[]string{"host_id"},
	)

	// Process control surface

	RequestsThrottled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_requests_throttled_total",
			Help: "Total number of control-surface requests rejected by the per-client rate limit",
		},
	)

	// Event bus (WebSocket relay)

	EventBusSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_eventbus_subscribers",
			Help: "Current number of active event bus subscribers",
		},
	)

	EventBusMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_eventbus_messages_total",
			Help: "Total number of events published to the event bus",
		},
		[]string{"topic"},
	)
)
