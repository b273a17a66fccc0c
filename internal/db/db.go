package db

import (
	"context"
	"time"

	"github.com/homelab/sentinel/pkg/types"
)

// Store is the persistence interface backing the Incident & Learning Store.
type Store interface {
	IncidentStore
	LearningStore
	AuditStore
	AutoRemediationStore
	ActionStore

	// Close releases database resources.
	Close() error

	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error
}

// ─── Action record store ──────────────────────────────────────────────────────

// ActionRecord is one persisted autonomous-agent action execution: what ran,
// under whose approval, and with what outcome.
type ActionRecord struct {
	ID              int64                  `json:"id"`
	ActionName      string                 `json:"action_name"`
	Command         string                 `json:"command"`
	Status          string                 `json:"status"` // "executed" | "failed"
	RiskLevel       string                 `json:"risk_level"`
	RequestedBy     string                 `json:"requested_by"`
	ApprovedBy      string                 `json:"approved_by"`
	ApprovedAt      time.Time              `json:"approved_at"`
	ExecutedAt      time.Time              `json:"executed_at"`
	ExecutionTimeMs int64                  `json:"execution_time_ms"`
	Success         bool                   `json:"success"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// ActionStore persists the `insert_action` side of the §4.7 store contract:
// one row per autonomous-agent execute-mode invocation.
type ActionStore interface {
	// InsertAction records one completed action execution and returns its ID.
	InsertAction(ctx context.Context, rec *ActionRecord) (int64, error)

	// ListActions returns the most recent action records, newest first.
	ListActions(ctx context.Context, limit int) ([]*ActionRecord, error)
}

// ─── Incident store ───────────────────────────────────────────────────────────

// IncidentStore persists the full incident lifecycle.
type IncidentStore interface {
	// SaveIncident creates or updates an incident record.
	SaveIncident(ctx context.Context, inc *types.Incident) error

	// GetIncident retrieves an incident by ID.
	GetIncident(ctx context.Context, id string) (*types.Incident, error)

	// ListIncidents returns incidents matching the query, newest first.
	ListIncidents(ctx context.Context, q IncidentQuery) ([]*types.Incident, error)

	// DeleteIncident removes an incident.
	DeleteIncident(ctx context.Context, id string) error
}

// IncidentQuery filters incident listings.
type IncidentQuery struct {
	Status      types.IncidentStatus
	ServiceName string
	Type        types.IncidentType
	Limit       int
	Offset      int
}

// ─── Learning store ───────────────────────────────────────────────────────────

// LearningStore persists cross-incident pattern outcomes.
type LearningStore interface {
	// GetLearningRecord retrieves the record for a pattern hash, if any.
	GetLearningRecord(ctx context.Context, patternHash string) (*types.LearningRecord, error)

	// UpsertLearningRecord creates or updates a learning record in place.
	UpsertLearningRecord(ctx context.Context, rec *types.LearningRecord) error

	// ListLearningRecords returns every known pattern, most recently seen first.
	ListLearningRecords(ctx context.Context, limit int) ([]*types.LearningRecord, error)
}

// ─── Audit store ─────────────────────────────────────────────────────────────

// AuditRecord is the DB representation of an audit event, mirrored to SQLite
// for queryable retention alongside the rotated log files.
type AuditRecord struct {
	ID            int64     `json:"id"`
	CorrelationID string    `json:"correlation_id"`
	EventType     string    `json:"event_type"`
	Description   string    `json:"description"`
	Resource      string    `json:"resource"`
	Action        string    `json:"action"`
	Result        string    `json:"result"`
	UserID        string    `json:"user_id"`
	Metadata      string    `json:"metadata"` // JSON blob
	Timestamp     time.Time `json:"timestamp"`
}

// AuditStore persists audit log entries for queries the rotated log files
// don't serve well (filter by resource, action, or time window).
type AuditStore interface {
	// AppendAuditEvent appends an immutable audit event.
	AppendAuditEvent(ctx context.Context, rec *AuditRecord) error

	// QueryAuditEvents retrieves audit events with optional filters.
	QueryAuditEvents(ctx context.Context, q AuditQuery) ([]*AuditRecord, error)
}

// AuditQuery filters audit event queries.
type AuditQuery struct {
	Resource string
	Action   string
	UserID   string
	From     time.Time
	To       time.Time
	Limit    int
	Offset   int
}

// ─── Auto-remediation settings store ──────────────────────────────────────────

// AutoRemediationStore persists per-playbook, per-service auto-remediation
// policy: whether it may run unattended, how many attempts, and how often.
type AutoRemediationStore interface {
	// GetAutoRemediationSetting returns the setting for (playbookID, serviceName),
	// falling back to a playbook-wide or global default if no exact row exists.
	GetAutoRemediationSetting(ctx context.Context, playbookID, serviceName string) (*types.AutoRemediationSetting, error)

	// SaveAutoRemediationSetting creates or updates a setting.
	SaveAutoRemediationSetting(ctx context.Context, setting *types.AutoRemediationSetting) error

	// ListAutoRemediationSettings returns every configured setting.
	ListAutoRemediationSettings(ctx context.Context) ([]*types.AutoRemediationSetting, error)
}
