package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/homelab/sentinel/pkg/types"
)

func restartDef() *types.ActionDefinition {
	return &types.ActionDefinition{
		Name:        "restart_plex",
		Tier:        types.TierRemediate,
		Command:     "docker restart plex",
		AutoExecute: true,
		RiskLevel:   types.RiskMedium,
	}
}

func TestEvaluateActionNotFoundRejects(t *testing.T) {
	e := New(20, 3, 15)
	dec := e.EvaluateAction("ghost", nil, "")
	assert.Equal(t, types.DecisionReject, dec.Decision)
}

func TestEvaluateActionExplicitApprovalRequired(t *testing.T) {
	e := New(20, 3, 15)
	def := restartDef()
	def.RequiresApproval = true

	dec := e.EvaluateAction(def.Name, def, def.Command)
	assert.Equal(t, types.DecisionRequireApproval, dec.Decision)
}

func TestEvaluateActionForbiddenOperationRejects(t *testing.T) {
	e := New(20, 3, 15)
	def := restartDef()

	dec := e.EvaluateAction(def.Name, def, "rm -rf /")
	assert.Equal(t, types.DecisionReject, dec.Decision)
}

func TestEvaluateActionAutoExecuteApproves(t *testing.T) {
	e := New(20, 3, 15)
	def := restartDef()

	dec := e.EvaluateAction(def.Name, def, def.Command)
	assert.Equal(t, types.DecisionApprove, dec.Decision)
	assert.True(t, dec.PreconditionsMet)
	assert.True(t, dec.SafetyChecksPassed)
}

func TestEvaluateActionRateLimitDefers(t *testing.T) {
	e := New(1, 3, 15)
	def := restartDef()

	first := e.EvaluateAction(def.Name, def, def.Command)
	assert.Equal(t, types.DecisionApprove, first.Decision)

	second := e.EvaluateAction(def.Name, def, def.Command)
	assert.Equal(t, types.DecisionDefer, second.Decision)
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	e := New(100, 2, 15)
	def := restartDef()

	e.RecordExecutionResult(def.Name, false)
	e.RecordExecutionResult(def.Name, false)

	dec := e.EvaluateAction(def.Name, def, def.Command)
	assert.Equal(t, types.DecisionReject, dec.Decision)

	stats := e.GetPolicyStats()
	assert.Contains(t, stats.OpenCircuitBreakers, def.Name)
}

func TestResetCircuitBreakerClearsStateAtomically(t *testing.T) {
	e := New(100, 1, 15)
	def := restartDef()

	e.RecordExecutionResult(def.Name, false)
	rejected := e.EvaluateAction(def.Name, def, def.Command)
	assert.Equal(t, types.DecisionReject, rejected.Decision)

	e.ResetCircuitBreaker(def.Name)

	approved := e.EvaluateAction(def.Name, def, def.Command)
	assert.Equal(t, types.DecisionApprove, approved.Decision)

	stats := e.GetPolicyStats()
	assert.NotContains(t, stats.OpenCircuitBreakers, def.Name)
	assert.NotContains(t, stats.ActionsWithFailures, def.Name)
}

func TestSuccessDoesNotClearFailureHistory(t *testing.T) {
	e := New(100, 5, 15)
	def := restartDef()

	e.RecordExecutionResult(def.Name, false)
	e.RecordExecutionResult(def.Name, true)

	stats := e.GetPolicyStats()
	assert.Contains(t, stats.ActionsWithFailures, def.Name)
}

func TestReadOnlySafetyCheckRejectsWriteOperation(t *testing.T) {
	e := New(20, 3, 15)
	def := restartDef()
	def.AutoExecute = false
	def.SafetyChecks = []types.SafetyCheck{{Type: types.SafetyReadOnly}}

	dec := e.EvaluateAction(def.Name, def, "rm /var/log/plex.log")
	assert.Equal(t, types.DecisionReject, dec.Decision)
}

func TestPathWhitelistRejectsOutsideCommand(t *testing.T) {
	e := New(20, 3, 15)
	def := restartDef()
	def.SafetyChecks = []types.SafetyCheck{{Type: types.SafetyPathWhitelist, Paths: []string{"/srv/media"}}}

	dec := e.EvaluateAction(def.Name, def, "cp /etc/hosts /tmp")
	assert.Equal(t, types.DecisionReject, dec.Decision)
}

func TestUpdateLimitsTakesEffectOnNextEvaluation(t *testing.T) {
	e := New(1, 3, 15)
	def := restartDef()

	first := e.EvaluateAction(def.Name, def, def.Command)
	assert.Equal(t, types.DecisionApprove, first.Decision)

	second := e.EvaluateAction(def.Name, def, def.Command)
	assert.Equal(t, types.DecisionDefer, second.Decision)

	e.UpdateLimits(10, 0, 0)

	third := e.EvaluateAction(def.Name, def, def.Command)
	assert.Equal(t, types.DecisionApprove, third.Decision)
}

func TestNonAutoExecuteRequiresApproval(t *testing.T) {
	e := New(20, 3, 15)
	def := restartDef()
	def.AutoExecute = false

	dec := e.EvaluateAction(def.Name, def, def.Command)
	assert.Equal(t, types.DecisionRequireApproval, dec.Decision)
}
