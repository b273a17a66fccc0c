// Package executor implements the Safe Executor: the subprocess runner that
// serializes all live execution through one validate + rate-limit + audit
// pipeline. It is the only component in the core permitted to start a
// process.
package executor

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/homelab/sentinel/internal/audit"
	"github.com/homelab/sentinel/internal/metrics"
	"github.com/homelab/sentinel/internal/validator"
	"github.com/homelab/sentinel/pkg/types"
)

// ApprovalToken marks that a caller has already obtained the approval a
// command's verdict requires; its zero value means "no approval carried".
type ApprovalToken struct {
	Granted bool
	GrantedBy string
}

// Options configure one execute call.
type Options struct {
	Timeout    time.Duration
	WorkingDir string
	Env        []string
	Approval   ApprovalToken
}

// Executor runs approved commands locally with a bounded lifetime, a
// per-minute rate limit, and an audit trail.
type Executor interface {
	// Validate delegates to the Command Validator.
	Validate(command string) types.ValidatorVerdict

	// DryRun performs validation only; no process is started.
	DryRun(ctx context.Context, command, initiator string) types.ExecutionRecord

	// Execute runs command, enforcing the rate limit and approval gate.
	Execute(ctx context.Context, command, initiator string, opts Options) types.ExecutionRecord
}

type executor struct {
	validator validator.Validator
	audit     audit.Logger

	defaultTimeout time.Duration
	rateLimit      int // max subprocess starts per 60s sliding window

	mu         sync.Mutex
	startTimes []time.Time
}

// New constructs a Safe Executor backed by the given validator and audit
// sink. rateLimitPerMinute bounds subprocess starts within any trailing
// 60-second window, local to this executor instance.
func New(v validator.Validator, auditLog audit.Logger, defaultTimeout time.Duration, rateLimitPerMinute int) Executor {
	return &executor{
		validator:      v,
		audit:          auditLog,
		defaultTimeout: defaultTimeout,
		rateLimit:      rateLimitPerMinute,
	}
}

func (e *executor) Validate(command string) types.ValidatorVerdict {
	return e.validator.Validate(command)
}

func (e *executor) DryRun(ctx context.Context, command, initiator string) types.ExecutionRecord {
	verdict := e.validator.Validate(command)
	rec := types.ExecutionRecord{
		Command:          command,
		Initiator:        initiator,
		Mode:             types.ModeDryRun,
		Success:          verdict.Allowed,
		StartedAt:        time.Now().UTC(),
		RiskLevel:        verdict.RiskLevel,
		ValidatorMessage: verdict.MatchedRule,
	}
	e.emitAudit(ctx, rec, verdict.RequiresApproval)
	return rec
}

func (e *executor) Execute(ctx context.Context, command, initiator string, opts Options) types.ExecutionRecord {
	startedAt := time.Now().UTC()

	verdict := e.validator.Validate(command)
	if !verdict.Allowed {
		rec := types.ExecutionRecord{
			Command:          command,
			Initiator:        initiator,
			Mode:             types.ModeExecute,
			Success:          false,
			StartedAt:        startedAt,
			RiskLevel:        verdict.RiskLevel,
			ValidatorMessage: verdict.MatchedRule,
		}
		e.emitAudit(ctx, rec, verdict.RequiresApproval)
		return rec
	}

	if e.rateLimitExceeded() {
		metrics.ExecutionsRateLimited.Inc()
		rec := types.ExecutionRecord{
			Command:          command,
			Initiator:        initiator,
			Mode:             types.ModeExecute,
			Success:          false,
			StartedAt:        startedAt,
			RiskLevel:        verdict.RiskLevel,
			ValidatorMessage: "rate limit exceeded",
		}
		e.emitAudit(ctx, rec, verdict.RequiresApproval)
		return rec
	}

	if verdict.RequiresApproval && !opts.Approval.Granted {
		rec := types.ExecutionRecord{
			Command:          command,
			Initiator:        initiator,
			Mode:             types.ModeApprovalRequired,
			Success:          false,
			StartedAt:        startedAt,
			RiskLevel:        verdict.RiskLevel,
			ValidatorMessage: verdict.MatchedRule,
		}
		e.emitAudit(ctx, rec, true)
		return rec
	}

	// Only a run that actually starts a subprocess consumes a rate slot; the
	// re-check under the same lock closes the gap left by the earlier read.
	if !e.admitToRateWindow() {
		metrics.ExecutionsRateLimited.Inc()
		rec := types.ExecutionRecord{
			Command:          command,
			Initiator:        initiator,
			Mode:             types.ModeExecute,
			Success:          false,
			StartedAt:        startedAt,
			RiskLevel:        verdict.RiskLevel,
			ValidatorMessage: "rate limit exceeded",
		}
		e.emitAudit(ctx, rec, verdict.RequiresApproval)
		return rec
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	if opts.WorkingDir != "" {
		cmd.Dir = opts.WorkingDir
	}
	if len(opts.Env) > 0 {
		cmd.Env = opts.Env
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runStart := time.Now()
	err := cmd.Run()
	duration := time.Since(runStart)
	metrics.ExecutionDuration.WithLabelValues(string(verdict.RiskLevel)).Observe(duration.Seconds())

	rec := types.ExecutionRecord{
		Command:          command,
		Initiator:        initiator,
		Mode:             types.ModeExecute,
		StartedAt:        startedAt,
		DurationMs:       duration.Milliseconds(),
		RiskLevel:        verdict.RiskLevel,
		ValidatorMessage: verdict.MatchedRule,
		Stdout:           stdout.String(),
		Stderr:           stderr.String(),
	}

	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		code := 124
		rec.ExitCode = &code
		rec.Success = false
		rec.Stderr = fmt.Sprintf("Timed out after %d seconds", int(timeout.Seconds()))
	case ctx.Err() == context.Canceled:
		rec.Success = false
		rec.Stderr = "cancelled"
	case err != nil:
		code := 1
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		}
		rec.ExitCode = &code
		rec.Success = false
	default:
		code := 0
		rec.ExitCode = &code
		rec.Success = true
	}

	e.emitAudit(ctx, rec, verdict.RequiresApproval)
	return rec
}

// rateLimitExceeded prunes the sliding window to the last 60 seconds and
// reports whether it is already full, without consuming a slot.
func (e *executor) rateLimitExceeded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pruneLocked(time.Now())
	return len(e.startTimes) >= e.rateLimit
}

// admitToRateWindow prunes the sliding window to the last 60 seconds and, if
// there is room, appends "now" and returns true.
func (e *executor) admitToRateWindow() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	e.pruneLocked(now)

	if len(e.startTimes) >= e.rateLimit {
		return false
	}

	e.startTimes = append(e.startTimes, now)
	return true
}

func (e *executor) pruneLocked(now time.Time) {
	cutoff := now.Add(-60 * time.Second)
	pruned := e.startTimes[:0]
	for _, t := range e.startTimes {
		if t.After(cutoff) {
			pruned = append(pruned, t)
		}
	}
	e.startTimes = pruned
}

func (e *executor) emitAudit(ctx context.Context, rec types.ExecutionRecord, requiresApproval bool) {
	metrics.ExecutionsTotal.WithLabelValues(string(rec.RiskLevel), string(rec.Mode), strconv.FormatBool(rec.Success)).Inc()
	if e.audit == nil {
		return
	}
	_ = e.audit.LogExecution(ctx, &audit.ExecutionEntry{
		Timestamp:        rec.StartedAt,
		Initiator:        rec.Initiator,
		Command:          rec.Command,
		RiskLevel:        string(rec.RiskLevel),
		Mode:             string(rec.Mode),
		Success:          rec.Success,
		ExitCode:         rec.ExitCode,
		DurationMs:       rec.DurationMs,
		RequiresApproval: requiresApproval,
		Message:          rec.ValidatorMessage,
	})
}
