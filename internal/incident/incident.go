// Package incident implements the Incident & Learning Store's business
// logic: incident lifecycle management on top of the persistence
// collaborator (internal/db), pattern-hash computation, and the rolling
// success/failure statistics the Remediation Orchestrator consults before
// trusting a playbook again.
package incident

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/homelab/sentinel/internal/audit"
	"github.com/homelab/sentinel/internal/db"
	"github.com/homelab/sentinel/internal/metrics"
	"github.com/homelab/sentinel/pkg/types"
)

// CreateParams is the set of fields a caller supplies when opening a new
// incident; DetectedAt, IncidentID, and Status are assigned by CreateIncident.
type CreateParams struct {
	Type           types.IncidentType     `json:"type"`
	ServiceName    string                 `json:"service_name"`
	Title          string                 `json:"title"`
	HostID         string                 `json:"host_id,omitempty"`
	ContainerName  string                 `json:"container_name,omitempty"`
	Description    string                 `json:"description,omitempty"`
	Severity       types.Severity         `json:"severity,omitempty"`
	TriggerSource  string                 `json:"trigger_source,omitempty"`
	TriggerDetails map[string]interface{} `json:"trigger_details,omitempty"`
}

// Stats summarizes learning records across every known symptom pattern.
type Stats struct {
	TotalPatterns         int
	TotalResolutions      int
	SuccessCount          int
	FailureCount          int
	SuccessRate           float64
	PlaybookEffectiveness map[string]PlaybookEffectiveness
}

// PlaybookEffectiveness reports one playbook's track record across every
// pattern where it was the recorded successful remedy.
type PlaybookEffectiveness struct {
	SuccessRate float64
	TotalUses   int
}

// Manager owns incident lifecycle transitions and the learning feedback loop.
type Manager interface {
	// CreateIncident opens a new incident in the "detected" state.
	CreateIncident(ctx context.Context, p CreateParams) (*types.Incident, error)

	// GetIncident retrieves one incident by ID.
	GetIncident(ctx context.Context, id string) (*types.Incident, error)

	// ListIncidents returns incidents matching the query.
	ListIncidents(ctx context.Context, q db.IncidentQuery) ([]*types.Incident, error)

	// UpdateStatus transitions an incident to a new status, optionally
	// persisting playbook fields alongside it. Incidents already in a
	// terminal status (resolved, escalated, failed) reject any further
	// transition, and an open incident cannot move back to an earlier open
	// status (detected, analyzing, remediating) — a failed incident is retried via a brand new incident,
	// never by reopening the old one.
	UpdateStatus(ctx context.Context, id string, status types.IncidentStatus, notes string, extras *StatusExtras) (*types.Incident, error)

	// Escalate moves an incident to "escalated", recording who it was handed
	// to and why.
	Escalate(ctx context.Context, id, reason, escalatedTo string) (*types.Incident, error)

	// DeleteIncident removes an incident record outright.
	DeleteIncident(ctx context.Context, id string) error

	// RecordLearning folds one playbook outcome into the learning record for
	// the incident's symptom pattern, creating the record on first occurrence.
	RecordLearning(ctx context.Context, inc *types.Incident, playbookID string, success bool, durationSeconds *float64) error

	// GetLearningStats aggregates every learning record into summary counts.
	GetLearningStats(ctx context.Context) (Stats, error)
}

// StatusExtras carries the optional playbook and remediation fields a status
// transition may persist alongside the new status. Zero-valued fields are
// left untouched on the stored incident.
type StatusExtras struct {
	PlaybookID          string
	PlaybookParams      map[string]interface{}
	PlaybookResult      string
	AIRecommendations   string
	RemediationAttempts *int
	AutoRemediated      *bool
}

type manager struct {
	store db.Store
	audit audit.Logger // optional; nil disables lifecycle audit events
}

// New constructs an incident Manager backed by store. auditLog may be nil,
// in which case lifecycle events are not mirrored to the audit sink.
func New(store db.Store, auditLog audit.Logger) Manager {
	return &manager{store: store, audit: auditLog}
}

// GenerateIncidentID produces an incident ID of the form INC-YYYYMMDD-XXXXXXXX,
// matching the external interface's `^INC-[0-9]{8}-[0-9A-F]{8}$` format.
func GenerateIncidentID() string {
	now := time.Now().UTC()
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:8]
	return fmt.Sprintf("INC-%s-%s", now.Format("20060102"), suffix)
}

// PatternHash computes the stable symptom-pattern key a learning record is
// keyed by: SHA-256 over the {type, service, trigger_source} tuple,
// truncated to the first 64 hex characters (a no-op for SHA-256, kept
// explicit as the documented identity contract).
func PatternHash(incidentType types.IncidentType, serviceName, triggerSource string) string {
	symptoms := map[string]string{
		"type":           string(incidentType),
		"service":        serviceName,
		"trigger_source": triggerSource,
	}
	raw, _ := json.Marshal(symptoms)
	sum := sha256.Sum256(raw)
	hash := hex.EncodeToString(sum[:])
	if len(hash) > 64 {
		hash = hash[:64]
	}
	return hash
}

func (m *manager) CreateIncident(ctx context.Context, p CreateParams) (*types.Incident, error) {
	if p.Severity == "" {
		p.Severity = types.SeverityMedium
	}
	if p.TriggerSource == "" {
		p.TriggerSource = "manual"
	}

	inc := &types.Incident{
		IncidentID:     GenerateIncidentID(),
		Type:           p.Type,
		Severity:       p.Severity,
		Status:         types.IncidentDetected,
		HostID:         p.HostID,
		ServiceName:    p.ServiceName,
		ContainerName:  p.ContainerName,
		Title:          p.Title,
		Description:    p.Description,
		DetectedAt:     time.Now().UTC(),
		TriggerSource:  p.TriggerSource,
		TriggerDetails: p.TriggerDetails,
	}

	if err := m.store.SaveIncident(ctx, inc); err != nil {
		return nil, fmt.Errorf("create incident: %w", err)
	}

	metrics.IncidentsTotal.WithLabelValues(string(inc.Type), string(inc.Severity)).Inc()
	metrics.IncidentsOpenGauge.Inc()
	if m.audit != nil {
		_ = m.audit.LogIncidentCreated(ctx, inc.IncidentID, string(inc.Type), string(inc.Severity))
	}
	return inc, nil
}

func (m *manager) GetIncident(ctx context.Context, id string) (*types.Incident, error) {
	inc, err := m.store.GetIncident(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get incident %q: %w", id, err)
	}
	return inc, nil
}

func (m *manager) ListIncidents(ctx context.Context, q db.IncidentQuery) ([]*types.Incident, error) {
	incs, err := m.store.ListIncidents(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	return incs, nil
}

// isTerminal reports whether status is one of the lifecycle's end states.
func isTerminal(status types.IncidentStatus) bool {
	switch status {
	case types.IncidentResolved, types.IncidentEscalated, types.IncidentFailed:
		return true
	}
	return false
}

func (m *manager) UpdateStatus(ctx context.Context, id string, status types.IncidentStatus, notes string, extras *StatusExtras) (*types.Incident, error) {
	inc, err := m.store.GetIncident(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("update incident %q status: %w", id, err)
	}
	if isTerminal(inc.Status) {
		return nil, fmt.Errorf("incident %q is already %s and cannot transition further", id, inc.Status)
	}
	rank := map[types.IncidentStatus]int{
		types.IncidentDetected: 1, types.IncidentAnalyzing: 2, types.IncidentRemediating: 3,
	}
	if rank[status] > 0 && rank[status] < rank[inc.Status] {
		return nil, fmt.Errorf("incident %q cannot move back from %s to %s", id, inc.Status, status)
	}

	inc.Status = status
	if status == types.IncidentResolved && inc.ResolvedAt == nil {
		now := time.Now().UTC()
		inc.ResolvedAt = &now
	}
	if notes != "" {
		inc.ResolutionNotes = notes
	}
	if extras != nil {
		if extras.PlaybookID != "" {
			inc.PlaybookID = extras.PlaybookID
		}
		if extras.PlaybookParams != nil {
			inc.PlaybookParams = extras.PlaybookParams
		}
		if extras.PlaybookResult != "" {
			inc.PlaybookResult = extras.PlaybookResult
		}
		if extras.AIRecommendations != "" {
			inc.AIRecommendations = extras.AIRecommendations
		}
		if extras.RemediationAttempts != nil {
			inc.RemediationAttempts = *extras.RemediationAttempts
		}
		if extras.AutoRemediated != nil {
			inc.AutoRemediated = *extras.AutoRemediated
		}
	}

	if err := m.store.SaveIncident(ctx, inc); err != nil {
		return nil, fmt.Errorf("update incident %q status: %w", id, err)
	}

	if isTerminal(status) {
		metrics.IncidentsOpenGauge.Dec()
	}
	if status == types.IncidentResolved && inc.ResolvedAt != nil {
		metrics.IncidentResolutionDuration.WithLabelValues(string(inc.Type)).
			Observe(inc.ResolvedAt.Sub(inc.DetectedAt).Seconds())
	}
	if m.audit != nil {
		_ = m.audit.LogIncidentStatusChanged(ctx, inc.IncidentID, string(status), notes)
	}
	return inc, nil
}

func (m *manager) Escalate(ctx context.Context, id, reason, escalatedTo string) (*types.Incident, error) {
	inc, err := m.store.GetIncident(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("escalate incident %q: %w", id, err)
	}
	if isTerminal(inc.Status) {
		return nil, fmt.Errorf("incident %q is already %s and cannot be escalated", id, inc.Status)
	}
	if escalatedTo == "" {
		escalatedTo = "human_operator"
	}

	inc.Status = types.IncidentEscalated
	inc.EscalatedTo = escalatedTo
	inc.EscalationReason = reason
	inc.ResolutionNotes = "Escalated: " + reason

	if err := m.store.SaveIncident(ctx, inc); err != nil {
		return nil, fmt.Errorf("escalate incident %q: %w", id, err)
	}

	metrics.IncidentsOpenGauge.Dec()
	if m.audit != nil {
		_ = m.audit.LogIncidentEscalated(ctx, inc.IncidentID, reason, escalatedTo)
	}
	return inc, nil
}

func (m *manager) DeleteIncident(ctx context.Context, id string) error {
	if err := m.store.DeleteIncident(ctx, id); err != nil {
		return fmt.Errorf("delete incident %q: %w", id, err)
	}
	return nil
}

func (m *manager) RecordLearning(ctx context.Context, inc *types.Incident, playbookID string, success bool, durationSeconds *float64) error {
	hash := PatternHash(inc.Type, inc.ServiceName, inc.TriggerSource)

	rec, err := m.store.GetLearningRecord(ctx, hash)
	if err != nil {
		return fmt.Errorf("record learning for %q: load: %w", hash, err)
	}

	now := time.Now().UTC()
	if rec == nil {
		rec = &types.LearningRecord{
			PatternHash:  hash,
			IncidentType: inc.Type,
			ServiceName:  inc.ServiceName,
			Symptoms: map[string]interface{}{
				"type":           string(inc.Type),
				"service":        inc.ServiceName,
				"trigger_source": inc.TriggerSource,
			},
			FirstOccurrence: now,
		}
	}

	if success {
		rec.SuccessCount++
		rec.SuccessfulPlaybook = playbookID
		// The running mean covers resolution durations, which are only
		// observed on successful remediations; weight by the success count
		// so it stays the arithmetic mean of what was actually measured.
		if durationSeconds != nil {
			n := float64(rec.SuccessCount)
			if rec.AvgResolutionTimeSeconds != nil {
				newAvg := (*rec.AvgResolutionTimeSeconds*(n-1) + *durationSeconds) / n
				rec.AvgResolutionTimeSeconds = &newAvg
			} else {
				d := *durationSeconds
				rec.AvgResolutionTimeSeconds = &d
			}
		}
	} else {
		rec.FailureCount++
	}
	rec.LastOccurrence = now

	if err := m.store.UpsertLearningRecord(ctx, rec); err != nil {
		return fmt.Errorf("record learning for %q: upsert: %w", hash, err)
	}
	return nil
}

func (m *manager) GetLearningStats(ctx context.Context) (Stats, error) {
	recs, err := m.store.ListLearningRecords(ctx, 10000)
	if err != nil {
		return Stats{}, fmt.Errorf("learning stats: %w", err)
	}

	stats := Stats{PlaybookEffectiveness: make(map[string]PlaybookEffectiveness)}
	stats.TotalPatterns = len(recs)
	playbookSuccesses := make(map[string]int)

	for _, r := range recs {
		stats.SuccessCount += r.SuccessCount
		stats.FailureCount += r.FailureCount

		if r.SuccessfulPlaybook != "" {
			eff := stats.PlaybookEffectiveness[r.SuccessfulPlaybook]
			eff.TotalUses += r.SuccessCount + r.FailureCount
			playbookSuccesses[r.SuccessfulPlaybook] += r.SuccessCount
			if eff.TotalUses > 0 {
				eff.SuccessRate = float64(playbookSuccesses[r.SuccessfulPlaybook]) / float64(eff.TotalUses)
			}
			stats.PlaybookEffectiveness[r.SuccessfulPlaybook] = eff
		}
	}

	stats.TotalResolutions = stats.SuccessCount + stats.FailureCount
	if stats.TotalResolutions > 0 {
		stats.SuccessRate = float64(stats.SuccessCount) / float64(stats.TotalResolutions)
	}
	return stats, nil
}
