// Package policy implements the Policy Engine: the strictly-ordered
// evaluation pipeline that decides whether one already-looked-up action
// definition may run, given a command string and its historical track
// record.
package policy

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/homelab/sentinel/internal/metrics"
	"github.com/homelab/sentinel/pkg/types"
)

// Engine evaluates actions against the risk-based approval matrix: rate
// limits, circuit breakers, preconditions, and safety checks, in that order,
// short-circuiting on the first failure.
type Engine interface {
	// EvaluateAction runs the full decision pipeline for one action.
	EvaluateAction(actionName string, def *types.ActionDefinition, command string) types.PolicyDecision

	// RecordExecutionResult feeds an execution outcome back into the
	// circuit breaker's failure history.
	RecordExecutionResult(actionName string, success bool)

	// ResetCircuitBreaker clears a breaker and its failure history atomically.
	ResetCircuitBreaker(actionName string)

	// UpdateLimits replaces the rate and breaker tunables at runtime, for
	// configuration hot-reload. Existing histories and breaker flags are kept.
	UpdateLimits(maxExecutionsPerHour, circuitBreakerThreshold, circuitBreakerWindowMinutes int)

	// GetPolicyStats reports the engine's current bookkeeping state.
	GetPolicyStats() Stats
}

// Stats is a snapshot of engine-wide bookkeeping, not of any single action.
type Stats struct {
	ExecutionHistorySize  int
	OpenCircuitBreakers   []string
	ActionsWithFailures   []string
	MaxExecutionsPerHour  int
	CircuitBreakerThresh  int
}

// forbiddenOperations seeds the substring scan layered on top of the command
// validator's own FORBIDDEN regex catalog.
var forbiddenOperations = []string{
	"rm -rf /",
	"drop database",
	"delete from users",
	"chmod 777",
	"mkfs.",
	"dd if=",
	"kill -9 1",
	"> /dev/sda",
	"iptables -f",
	"userdel",
	"passwd",
}

// forbiddenPaths are off-limits for autonomous operations regardless of tier.
var forbiddenPaths = []string{
	"/boot",
	"/etc/passwd",
	"/etc/shadow",
	"/root/.ssh",
	"~/.ssh",
	"/var/lib/docker",
	"/sys",
	"/proc",
}

type engine struct {
	maxExecutionsPerHour       int
	circuitBreakerThreshold    int
	circuitBreakerWindow       time.Duration

	mu               sync.RWMutex
	executionHistory map[string][]time.Time
	failureHistory   map[string][]time.Time
	circuitOpen      map[string]bool
}

// New constructs a Policy Engine instance. Each actionName's execution,
// failure, and breaker state is local to this engine.
func New(maxExecutionsPerHour, circuitBreakerThreshold, circuitBreakerWindowMinutes int) Engine {
	return &engine{
		maxExecutionsPerHour:    maxExecutionsPerHour,
		circuitBreakerThreshold: circuitBreakerThreshold,
		circuitBreakerWindow:    time.Duration(circuitBreakerWindowMinutes) * time.Minute,
		executionHistory:        make(map[string][]time.Time),
		failureHistory:          make(map[string][]time.Time),
		circuitOpen:             make(map[string]bool),
	}
}

func (e *engine) EvaluateAction(actionName string, def *types.ActionDefinition, command string) types.PolicyDecision {
	if def == nil {
		metrics.PolicyDecisionsTotal.WithLabelValues(actionName, string(types.DecisionReject)).Inc()
		return types.PolicyDecision{
			Decision:  types.DecisionReject,
			Tier:      0,
			RiskLevel: types.RiskUnknown,
			Reason:    "action not found in registry",
		}
	}

	if command == "" {
		command = def.Command
	}

	if def.RequiresApproval {
		return e.decide(actionName, types.DecisionRequireApproval, def, "action explicitly requires human approval", false, false)
	}

	if reason, forbidden := checkForbiddenOperations(command); forbidden {
		d := e.decide(actionName, types.DecisionReject, def, reason, false, false)
		d.RiskLevel = types.RiskCritical
		return d
	}

	if reason, ok := e.checkRateLimit(actionName); !ok {
		return e.decide(actionName, types.DecisionDefer, def, reason, false, false)
	}

	if reason, ok := e.checkCircuitBreaker(actionName); !ok {
		return e.decide(actionName, types.DecisionReject, def, reason, false, false)
	}

	preOK, preReason := validatePreconditions(def)
	if !preOK {
		return e.decide(actionName, types.DecisionDefer, def, "preconditions not met: "+preReason, false, false)
	}

	safetyOK, safetyReason := validateSafetyChecks(def, command)
	if !safetyOK {
		d := e.decide(actionName, types.DecisionReject, def, "safety check failed: "+safetyReason, preOK, false)
		d.RiskLevel = types.RiskCritical
		return d
	}

	if def.AutoExecute && def.Tier <= types.TierProactive {
		e.mu.Lock()
		e.executionHistory[actionName] = append(e.executionHistory[actionName], time.Now())
		e.mu.Unlock()

		metrics.PolicyDecisionsTotal.WithLabelValues(actionName, string(types.DecisionApprove)).Inc()
		return types.PolicyDecision{
			Decision:           types.DecisionApprove,
			Tier:               def.Tier,
			RiskLevel:          def.RiskLevel,
			Reason:             "tier approved for autonomous execution",
			PreconditionsMet:   true,
			SafetyChecksPassed: true,
		}
	}

	return e.decide(actionName, types.DecisionRequireApproval, def, "action requires manual review", preOK, safetyOK)
}

func (e *engine) decide(actionName string, kind types.PolicyDecisionKind, def *types.ActionDefinition, reason string, preMet, safetyPassed bool) types.PolicyDecision {
	metrics.PolicyDecisionsTotal.WithLabelValues(actionName, string(kind)).Inc()
	return types.PolicyDecision{
		Decision:           kind,
		Tier:               def.Tier,
		RiskLevel:          def.RiskLevel,
		Reason:             reason,
		PreconditionsMet:   preMet,
		SafetyChecksPassed: safetyPassed,
	}
}

func checkForbiddenOperations(command string) (string, bool) {
	lower := strings.ToLower(command)
	for _, f := range forbiddenOperations {
		if strings.Contains(lower, f) {
			return "forbidden operation detected: " + f, true
		}
	}
	for _, p := range forbiddenPaths {
		if strings.Contains(command, p) {
			return "forbidden path detected: " + p, true
		}
	}
	return "", false
}

func (e *engine) checkRateLimit(actionName string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	hourAgo := now.Add(-time.Hour)

	pruned := e.executionHistory[actionName][:0]
	for _, ts := range e.executionHistory[actionName] {
		if ts.After(hourAgo) {
			pruned = append(pruned, ts)
		}
	}
	e.executionHistory[actionName] = pruned

	if len(e.executionHistory[actionName]) >= e.maxExecutionsPerHour {
		return "rate limit exceeded: too many executions in the past hour", false
	}
	return "", true
}

func (e *engine) checkCircuitBreaker(actionName string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.circuitOpen[actionName] {
		return "circuit breaker is open: too many recent failures", false
	}

	windowStart := time.Now().Add(-e.circuitBreakerWindow)
	pruned := e.failureHistory[actionName][:0]
	for _, ts := range e.failureHistory[actionName] {
		if ts.After(windowStart) {
			pruned = append(pruned, ts)
		}
	}
	e.failureHistory[actionName] = pruned

	if len(e.failureHistory[actionName]) >= e.circuitBreakerThreshold {
		e.circuitOpen[actionName] = true
		metrics.CircuitBreakerTrips.WithLabelValues(actionName).Inc()
		metrics.CircuitBreakerOpen.WithLabelValues(actionName).Set(1)
		return "circuit breaker opened: too many recent failures", false
	}
	return "", true
}

func validatePreconditions(def *types.ActionDefinition) (bool, string) {
	if len(def.Preconditions) == 0 {
		return true, "no preconditions defined"
	}
	// Preconditions are not checked against live state, here or anywhere
	// else: the first recognized precondition type is reported as met, and
	// unrecognized types fall through to "all preconditions met", so this
	// step never defers an action.
	for _, p := range def.Preconditions {
		switch p.Type {
		case types.PreconditionDiskUsage, types.PreconditionServiceHealth,
			types.PreconditionScheduled, types.PreconditionMemory:
			return true, string(p.Type)
		}
	}
	return true, "all preconditions met"
}

func validateSafetyChecks(def *types.ActionDefinition, command string) (bool, string) {
	if len(def.SafetyChecks) == 0 {
		return true, "no safety checks defined"
	}

	lower := strings.ToLower(command)
	for _, check := range def.SafetyChecks {
		switch check.Type {
		case types.SafetyReadOnly:
			for _, op := range []string{"rm", "delete", "drop", "truncate", "update", "insert"} {
				if strings.Contains(lower, op) {
					return false, "write operation '" + op + "' detected in read-only action"
				}
			}
		case types.SafetyPathWhitelist:
			if len(check.Paths) == 0 {
				continue
			}
			found := false
			for _, path := range check.Paths {
				if strings.Contains(command, path) {
					found = true
					break
				}
			}
			if !found {
				return false, "command operates outside whitelisted paths"
			}
		case types.SafetyRestartLimit:
			// restart_limit is not enforced here; the per-action hourly
			// rate limit checked earlier is the only cap on how often an
			// action runs.
		default:
			return false, fmt.Sprintf("unknown safety check type %q", check.Type)
		}
	}
	return true, "all safety checks passed"
}

func (e *engine) RecordExecutionResult(actionName string, success bool) {
	if success {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failureHistory[actionName] = append(e.failureHistory[actionName], time.Now())
}

func (e *engine) ResetCircuitBreaker(actionName string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.circuitOpen[actionName]; ok {
		e.circuitOpen[actionName] = false
	}
	e.failureHistory[actionName] = nil
	metrics.CircuitBreakerOpen.WithLabelValues(actionName).Set(0)
}

func (e *engine) UpdateLimits(maxExecutionsPerHour, circuitBreakerThreshold, circuitBreakerWindowMinutes int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if maxExecutionsPerHour > 0 {
		e.maxExecutionsPerHour = maxExecutionsPerHour
	}
	if circuitBreakerThreshold > 0 {
		e.circuitBreakerThreshold = circuitBreakerThreshold
	}
	if circuitBreakerWindowMinutes > 0 {
		e.circuitBreakerWindow = time.Duration(circuitBreakerWindowMinutes) * time.Minute
	}
}

func (e *engine) GetPolicyStats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	total := 0
	for _, v := range e.executionHistory {
		total += len(v)
	}

	var open []string
	for k, v := range e.circuitOpen {
		if v {
			open = append(open, k)
		}
	}

	var withFailures []string
	for k, v := range e.failureHistory {
		if len(v) > 0 {
			withFailures = append(withFailures, k)
		}
	}

	return Stats{
		ExecutionHistorySize: total,
		OpenCircuitBreakers:  open,
		ActionsWithFailures:  withFailures,
		MaxExecutionsPerHour: e.maxExecutionsPerHour,
		CircuitBreakerThresh: e.circuitBreakerThreshold,
	}
}
