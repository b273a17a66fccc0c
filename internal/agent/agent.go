// Package agent implements the Autonomous Agent: the component that binds
// "run action X now, optionally dry" to a complete cycle — policy check,
// execute, record result, persist an action record.
package agent

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/homelab/sentinel/internal/catalog"
	"github.com/homelab/sentinel/internal/db"
	"github.com/homelab/sentinel/internal/executor"
	"github.com/homelab/sentinel/internal/metrics"
	"github.com/homelab/sentinel/internal/policy"
	"github.com/homelab/sentinel/pkg/types"
)

// autonomousInitiator is the fixed identity every autonomous execution is
// attributed to in the audit trail.
const autonomousInitiator = "autonomous"

// Result is one action execution's outcome.
type Result struct {
	ActionName      string
	Tier            types.Tier
	Success         bool
	Decision        types.PolicyDecisionKind
	Execution       *types.ExecutionRecord
	Policy          types.PolicyDecision
	Timestamp       time.Time
	ExecutionTimeMs float64
	Error           string
}

// Metrics is the agent's running execution tally.
type Metrics struct {
	TotalExecutions      int
	SuccessfulExecutions int
	FailedExecutions     int
	Tier1Executions      int
	Tier2Executions      int
	Tier3Executions      int
	PolicyRejections     int
	PolicyDeferrals      int
}

// MetricsSnapshot is the shape returned by get_metrics: the agent's own
// counters plus the policy engine's own stats, taken together.
type MetricsSnapshot struct {
	Execution   Metrics
	SuccessRate float64
	PolicyStats policy.Stats
	Timestamp   time.Time
}

// Agent executes catalog actions through the policy → executor pipeline.
type Agent interface {
	// ExecuteAction runs (or dry-runs) one named action end to end.
	ExecuteAction(ctx context.Context, actionName string, dryRun bool) *Result

	// ExecuteTierActions runs every action of the given tier, sequentially.
	ExecuteTierActions(ctx context.Context, tier types.Tier, dryRun bool) []*Result

	// RunDiagnostics runs every Tier 1 (DIAGNOSE) action.
	RunDiagnostics(ctx context.Context, dryRun bool) []*Result

	// RunRemediation runs every Tier 2 (REMEDIATE) action.
	RunRemediation(ctx context.Context, dryRun bool) []*Result

	// RunProactiveMaintenance runs every Tier 3 (PROACTIVE) action.
	RunProactiveMaintenance(ctx context.Context, dryRun bool) []*Result

	// GetMetrics reports the agent's execution counters plus policy stats.
	GetMetrics() MetricsSnapshot

	// ResetMetrics zeroes the agent's own execution counters.
	ResetMetrics()
}

type agent struct {
	catalog  catalog.Catalog
	policy   policy.Engine
	executor executor.Executor
	actions  db.ActionStore // optional; nil disables action-record persistence
	logger   *zap.Logger

	mu      sync.Mutex
	metrics Metrics
}

// New constructs an Autonomous Agent. actions may be nil, in which case
// execute-mode action records are simply not persisted (dry runs never
// persist regardless).
func New(cat catalog.Catalog, pol policy.Engine, exec executor.Executor, actions db.ActionStore, logger *zap.Logger) Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &agent{catalog: cat, policy: pol, executor: exec, actions: actions, logger: logger}
}

func (a *agent) ExecuteAction(ctx context.Context, actionName string, dryRun bool) *Result {
	start := time.Now()
	timestamp := start.UTC()

	a.logger.Info("executing autonomous action", zap.String("action", actionName), zap.Bool("dry_run", dryRun))

	def, ok := a.catalog.Get(actionName)
	var command string
	if ok {
		command = def.Command
	}

	var lookup *types.ActionDefinition
	if ok {
		lookup = def
	}
	decision := a.policy.EvaluateAction(actionName, lookup, command)

	if decision.Tier >= types.TierDiagnose && decision.Tier <= types.TierProactive {
		a.bumpTier(decision.Tier)
	}

	tierLabel := strconv.Itoa(int(decision.Tier))

	switch decision.Decision {
	case types.DecisionReject:
		a.mu.Lock()
		a.metrics.PolicyRejections++
		a.mu.Unlock()
		metrics.AgentActionsTotal.WithLabelValues(tierLabel, "rejected").Inc()
		a.logger.Warn("action rejected by policy", zap.String("action", actionName), zap.String("reason", decision.Reason))
		return &Result{
			ActionName: actionName, Tier: decision.Tier, Success: false,
			Decision: decision.Decision, Policy: decision, Timestamp: timestamp,
			ExecutionTimeMs: elapsedMs(start), Error: decision.Reason,
		}

	case types.DecisionDefer:
		a.mu.Lock()
		a.metrics.PolicyDeferrals++
		a.mu.Unlock()
		metrics.AgentActionsTotal.WithLabelValues(tierLabel, "deferred").Inc()
		a.logger.Info("action deferred", zap.String("action", actionName), zap.String("reason", decision.Reason))
		return &Result{
			ActionName: actionName, Tier: decision.Tier, Success: false,
			Decision: decision.Decision, Policy: decision, Timestamp: timestamp,
			ExecutionTimeMs: elapsedMs(start), Error: "deferred: " + decision.Reason,
		}

	case types.DecisionRequireApproval:
		metrics.AgentActionsTotal.WithLabelValues(tierLabel, "approval_required").Inc()
		a.logger.Info("action requires human approval", zap.String("action", actionName))
		return &Result{
			ActionName: actionName, Tier: decision.Tier, Success: false,
			Decision: decision.Decision, Policy: decision, Timestamp: timestamp,
			ExecutionTimeMs: elapsedMs(start), Error: "requires human approval",
		}
	}

	if !ok || def == nil {
		return &Result{
			ActionName: actionName, Tier: 0, Success: false,
			Decision: "error", Timestamp: timestamp,
			ExecutionTimeMs: elapsedMs(start),
			Error:           fmt.Sprintf("action definition not found: %s", actionName),
		}
	}

	var execRec types.ExecutionRecord
	if dryRun {
		execRec = a.executor.DryRun(ctx, command, autonomousInitiator)
	} else {
		// A policy approval is the authorization for this run; carry it so
		// medium-risk commands on auto-execute actions don't bounce off the
		// executor's own approval gate.
		execRec = a.executor.Execute(ctx, command, autonomousInitiator, executor.Options{
			Timeout: time.Duration(def.TimeoutSeconds) * time.Second,
			Approval: executor.ApprovalToken{
				Granted:   true,
				GrantedBy: "policy-engine",
			},
		})
	}

	a.mu.Lock()
	a.metrics.TotalExecutions++
	if execRec.Success {
		a.metrics.SuccessfulExecutions++
	} else {
		a.metrics.FailedExecutions++
	}
	a.mu.Unlock()

	if execRec.Success {
		metrics.AgentActionsTotal.WithLabelValues(tierLabel, "success").Inc()
	} else {
		metrics.AgentActionsTotal.WithLabelValues(tierLabel, "failure").Inc()
	}

	// A cancelled execution is not a failure of the remote operation — don't
	// let it trip the circuit breaker.
	if ctx.Err() != context.Canceled {
		a.policy.RecordExecutionResult(actionName, execRec.Success)
	}

	result := &Result{
		ActionName: actionName, Tier: decision.Tier, Success: execRec.Success,
		Decision: decision.Decision, Execution: &execRec, Policy: decision,
		Timestamp: timestamp, ExecutionTimeMs: elapsedMs(start),
	}
	if !execRec.Success {
		result.Error = execRec.Stderr
	}

	if !dryRun {
		a.persistActionRecord(ctx, actionName, def, result, decision)
	}

	a.logger.Info("autonomous action completed",
		zap.String("action", actionName),
		zap.Bool("success", execRec.Success),
		zap.Int("tier", int(decision.Tier)),
		zap.Float64("duration_ms", result.ExecutionTimeMs),
	)

	return result
}

func (a *agent) persistActionRecord(ctx context.Context, actionName string, def *types.ActionDefinition, result *Result, decision types.PolicyDecision) {
	if a.actions == nil {
		return
	}

	status := "executed"
	if !result.Success {
		status = "failed"
	}

	rec := &db.ActionRecord{
		ActionName:      actionName,
		Command:         def.Command,
		Status:          status,
		RiskLevel:       string(decision.RiskLevel),
		RequestedBy:     autonomousInitiator,
		ApprovedBy:      "policy-engine",
		ApprovedAt:      result.Timestamp,
		ExecutedAt:      result.Timestamp,
		ExecutionTimeMs: int64(result.ExecutionTimeMs),
		Success:         result.Success,
		Metadata: map[string]interface{}{
			"autonomous":      true,
			"tier":            int(decision.Tier),
			"tier_name":       decision.Tier.Name(),
			"category":        def.Category,
			"policy_decision": string(decision.Decision),
		},
	}

	if _, err := a.actions.InsertAction(ctx, rec); err != nil {
		a.logger.Error("failed to persist autonomous action record",
			zap.String("action", actionName), zap.Error(err))
	}
}

func (a *agent) bumpTier(tier types.Tier) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch tier {
	case types.TierDiagnose:
		a.metrics.Tier1Executions++
	case types.TierRemediate:
		a.metrics.Tier2Executions++
	case types.TierProactive:
		a.metrics.Tier3Executions++
	}
}

func (a *agent) ExecuteTierActions(ctx context.Context, tier types.Tier, dryRun bool) []*Result {
	defs := a.catalog.ListByTier(tier)
	a.logger.Info("executing tier actions", zap.Int("tier", int(tier)), zap.Int("count", len(defs)))

	results := make([]*Result, 0, len(defs))
	for _, def := range defs {
		results = append(results, a.ExecuteAction(ctx, def.Name, dryRun))
	}
	return results
}

func (a *agent) RunDiagnostics(ctx context.Context, dryRun bool) []*Result {
	return a.ExecuteTierActions(ctx, types.TierDiagnose, dryRun)
}

func (a *agent) RunRemediation(ctx context.Context, dryRun bool) []*Result {
	return a.ExecuteTierActions(ctx, types.TierRemediate, dryRun)
}

func (a *agent) RunProactiveMaintenance(ctx context.Context, dryRun bool) []*Result {
	return a.ExecuteTierActions(ctx, types.TierProactive, dryRun)
}

func (a *agent) GetMetrics() MetricsSnapshot {
	a.mu.Lock()
	m := a.metrics
	a.mu.Unlock()

	var rate float64
	if m.TotalExecutions > 0 {
		rate = float64(m.SuccessfulExecutions) / float64(m.TotalExecutions) * 100
	}

	return MetricsSnapshot{
		Execution:   m,
		SuccessRate: roundTo2(rate),
		PolicyStats: a.policy.GetPolicyStats(),
		Timestamp:   time.Now().UTC(),
	}
}

func (a *agent) ResetMetrics() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.metrics = Metrics{}
}

func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}

func roundTo2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}
