// Package remediation implements the Remediation Orchestrator: the
// component that turns a detected incident into an executed playbook and
// closes the loop back into learning and breaker state.
package remediation

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/homelab/sentinel/internal/executor"
	"github.com/homelab/sentinel/internal/incident"
	"github.com/homelab/sentinel/internal/metrics"
	"github.com/homelab/sentinel/pkg/contracts"
	"github.com/homelab/sentinel/pkg/types"
)

// Decision enumerates the outcomes Remediate may return.
type Decision string

const (
	DecisionExecuted            Decision = "executed"
	DecisionRequiresApproval    Decision = "requires_approval"
	DecisionRequiresConfirmation Decision = "requires_confirmation"
	DecisionEscalated           Decision = "escalated"
)

// Options configure one Remediate call.
type Options struct {
	// AutoExecute, when true, asserts the caller wants the playbook to run
	// unattended; playbooks that disallow auto-execute still require approval.
	AutoExecute bool

	// ConfirmationToken satisfies a playbook's RequiresConfirmation gate when
	// non-empty.
	ConfirmationToken string

	// HostID, when non-empty, routes execution through the fleet collaborator
	// instead of the local executor.
	HostID string

	// DryRun validates and records the attempt without starting a process.
	DryRun bool
}

// Result is the outcome of one Remediate call.
type Result struct {
	Incident       *types.Incident
	PlaybookID     string
	Decision       Decision
	Success        bool
	Output         string
	Reason         string
	Recommendation *Recommendation
}

// Observation is one monitor-loop reading about a single container/service,
// the input to DetectAndCreateIncidents.
type Observation struct {
	ServiceName   string
	ContainerName string
	HealthStatus  string // "healthy" | "unhealthy" | "down"
	RestartCount  int
	TriggerSource string
}

// Orchestrator translates incidents into executions via the playbook catalog.
type Orchestrator interface {
	// Remediate runs the selection protocol for inc and, if approved,
	// executes the chosen playbook.
	Remediate(ctx context.Context, inc *types.Incident, opts Options) (*Result, error)

	// EscalateToHuman hands an incident to a human operator.
	EscalateToHuman(ctx context.Context, incidentID, reason, escalatedTo string) (*types.Incident, error)

	// DetectAndCreateIncidents maps a batch of monitor-loop observations into
	// newly opened incidents, one per observation that indicates trouble.
	DetectAndCreateIncidents(ctx context.Context, observations []Observation) ([]*types.Incident, error)

	// ListPlaybooks returns the full catalog.
	ListPlaybooks() []Playbook

	// GetPlaybook looks up one playbook by ID.
	GetPlaybook(id string) (Playbook, bool)
}

type orchestrator struct {
	incidents incident.Manager
	analyzer  Analyzer
	executor  executor.Executor
	fleet     contracts.FleetTransport // optional; nil disables remote routing
	playbooks map[string]Playbook
	logger    *zap.Logger
}

// New constructs a Remediation Orchestrator. fleet may be nil, in which case
// a non-dry run with Options.HostID set does not fall back to running
// locally: the attempt counts as failed with a "fleet collaborator not
// configured" output and the incident is marked failed.
func New(incidents incident.Manager, analyzer Analyzer, exec executor.Executor, fleet contracts.FleetTransport, logger *zap.Logger) Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if analyzer == nil {
		analyzer = NewRulesAnalyzer(incidents)
	}
	return &orchestrator{
		incidents: incidents,
		analyzer:  analyzer,
		executor:  exec,
		fleet:     fleet,
		playbooks: defaultPlaybooks(),
		logger:    logger,
	}
}

func (o *orchestrator) ListPlaybooks() []Playbook {
	out := make([]Playbook, 0, len(o.playbooks))
	for _, pb := range o.playbooks {
		out = append(out, pb)
	}
	return out
}

func (o *orchestrator) GetPlaybook(id string) (Playbook, bool) {
	pb, ok := o.playbooks[id]
	return pb, ok
}

func (o *orchestrator) Remediate(ctx context.Context, inc *types.Incident, opts Options) (*Result, error) {
	rec, err := o.analyzer.Recommend(ctx, inc, o.playbooks)
	if err != nil {
		return nil, fmt.Errorf("remediate %q: analyze: %w", inc.IncidentID, err)
	}

	inc.AIRecommendations = rec.Reasoning
	inc.PlaybookID = rec.PlaybookID
	inc.PlaybookParams = rec.Params

	// Step 2: unknown or manual playbook escalates.
	pb, ok := o.playbooks[rec.PlaybookID]
	if !ok || rec.PlaybookID == "manual" {
		metrics.Escalations.WithLabelValues("no_playbook").Inc()
		esc, err := o.incidents.Escalate(ctx, inc.IncidentID, "no applicable automated playbook: "+rec.Reasoning, "")
		if err != nil {
			return nil, err
		}
		return &Result{Incident: esc, Decision: DecisionEscalated, Reason: rec.Reasoning, Recommendation: rec}, nil
	}

	// Step 3: auto-execute requested but the playbook disallows it.
	if opts.AutoExecute && !pb.AutoExecute {
		return &Result{
			Incident: inc, PlaybookID: pb.ID, Decision: DecisionRequiresApproval,
			Reason: fmt.Sprintf("playbook %q does not allow unattended execution", pb.ID),
			Recommendation: rec,
		}, nil
	}

	// Step 4: playbook requires confirmation and none was supplied.
	if pb.RequiresConfirmation && opts.ConfirmationToken == "" {
		return &Result{
			Incident: inc, PlaybookID: pb.ID, Decision: DecisionRequiresConfirmation,
			Reason: fmt.Sprintf("playbook %q requires explicit confirmation", pb.ID),
			Recommendation: rec,
		}, nil
	}

	// Step 5: mark remediating — persisting the recommendation and attempt
	// count alongside the transition — and run.
	inc.RemediationAttempts++
	attempts := inc.RemediationAttempts
	auto := opts.AutoExecute
	if _, err := o.incidents.UpdateStatus(ctx, inc.IncidentID, types.IncidentRemediating, "", &incident.StatusExtras{
		PlaybookID:          pb.ID,
		PlaybookParams:      rec.Params,
		AIRecommendations:   rec.Reasoning,
		RemediationAttempts: &attempts,
		AutoRemediated:      &auto,
	}); err != nil {
		return nil, fmt.Errorf("remediate %q: mark remediating: %w", inc.IncidentID, err)
	}

	command := pb.render(inc, rec.Params)
	start := time.Now()
	success, output := o.run(ctx, command, inc, pb, opts)
	duration := time.Since(start).Seconds()

	if err := o.incidents.RecordLearning(ctx, inc, pb.ID, success, &duration); err != nil {
		o.logger.Error("failed to record remediation learning",
			zap.String("incident_id", inc.IncidentID), zap.Error(err))
	}

	var updated *types.Incident
	inc.PlaybookResult = output
	if success {
		metrics.PlaybooksExecuted.WithLabelValues(pb.ID, "success").Inc()
		updated, err = o.incidents.UpdateStatus(ctx, inc.IncidentID, types.IncidentResolved,
			"playbook "+pb.ID+" succeeded", &incident.StatusExtras{PlaybookResult: output})
	} else {
		metrics.PlaybooksExecuted.WithLabelValues(pb.ID, "failure").Inc()
		updated, err = o.incidents.UpdateStatus(ctx, inc.IncidentID, types.IncidentFailed,
			"playbook "+pb.ID+" failed: "+output, &incident.StatusExtras{PlaybookResult: output})
	}
	if err != nil {
		return nil, fmt.Errorf("remediate %q: record outcome: %w", inc.IncidentID, err)
	}

	o.logger.Info("remediation attempt completed",
		zap.String("incident_id", inc.IncidentID),
		zap.String("playbook", pb.ID),
		zap.Bool("success", success),
		zap.Float64("duration_seconds", duration),
	)

	return &Result{
		Incident: updated, PlaybookID: pb.ID, Success: success, Output: output,
		Decision: DecisionExecuted, Recommendation: rec,
	}, nil
}

func (o *orchestrator) run(ctx context.Context, command string, inc *types.Incident, pb Playbook, opts Options) (bool, string) {
	if opts.DryRun {
		rec := o.executor.DryRun(ctx, command, "remediation-orchestrator")
		return rec.Success, rec.ValidatorMessage
	}

	if opts.HostID != "" {
		if o.fleet == nil {
			return false, "fleet collaborator not configured for remote host " + opts.HostID
		}
		res, err := o.fleet.RunCommand(ctx, contracts.RemoteCommandRequest{
			HostID:  opts.HostID,
			Command: command,
			Timeout: time.Duration(pb.EstimatedDurationSeconds*2) * time.Second,
		})
		if err != nil {
			return false, err.Error()
		}
		if !res.Success {
			return false, res.Stderr
		}
		return true, res.Stdout
	}

	// The orchestrator's own gates already authorized this run: either the
	// playbook allows unattended execution or the caller carried a
	// confirmation token. Carry that authorization into the executor so a
	// requires-approval verdict doesn't bounce an approved playbook.
	rec := o.executor.Execute(ctx, command, "remediation-orchestrator", executor.Options{
		Timeout: time.Duration(pb.EstimatedDurationSeconds*2) * time.Second,
		Approval: executor.ApprovalToken{
			Granted:   true,
			GrantedBy: "remediation-orchestrator",
		},
	})
	if !rec.Success {
		return false, rec.Stderr
	}
	return true, rec.Stdout
}

func (o *orchestrator) EscalateToHuman(ctx context.Context, incidentID, reason, escalatedTo string) (*types.Incident, error) {
	metrics.Escalations.WithLabelValues("manual").Inc()
	return o.incidents.Escalate(ctx, incidentID, reason, escalatedTo)
}

// incidentTypeFor classifies one observation the way detect_and_create_incidents
// does: a crash loop (repeated restarts) outranks a flat-out down container,
// which outranks a merely unhealthy one.
func incidentTypeFor(obs Observation) (types.IncidentType, types.Severity, string) {
	switch {
	case obs.RestartCount >= 5:
		return types.IncidentContainerCrashLoop, types.SeverityHigh,
			fmt.Sprintf("%s restarted %d times", obs.ContainerName, obs.RestartCount)
	case obs.HealthStatus == "down":
		return types.IncidentContainerDown, types.SeverityHigh,
			fmt.Sprintf("%s is down", obs.ContainerName)
	case obs.HealthStatus == "unhealthy":
		return types.IncidentContainerUnhealthy, types.SeverityMedium,
			fmt.Sprintf("%s reports unhealthy", obs.ContainerName)
	default:
		return "", "", ""
	}
}

func (o *orchestrator) DetectAndCreateIncidents(ctx context.Context, observations []Observation) ([]*types.Incident, error) {
	var created []*types.Incident
	for _, obs := range observations {
		incType, severity, title := incidentTypeFor(obs)
		if incType == "" {
			continue
		}

		trigger := obs.TriggerSource
		if trigger == "" {
			trigger = "autonomous_monitor"
		}

		inc, err := o.incidents.CreateIncident(ctx, incident.CreateParams{
			Type:          incType,
			ServiceName:   obs.ServiceName,
			ContainerName: obs.ContainerName,
			Title:         title,
			Severity:      severity,
			TriggerSource: trigger,
			TriggerDetails: map[string]interface{}{
				"health_status": obs.HealthStatus,
				"restart_count": obs.RestartCount,
			},
		})
		if err != nil {
			return created, fmt.Errorf("detect incidents: create for %q: %w", obs.ContainerName, err)
		}
		created = append(created, inc)
	}
	return created, nil
}
