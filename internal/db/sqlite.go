package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)

	"github.com/homelab/sentinel/pkg/types"
)

// migrations defines the Incident & Learning Store schema. Version is
// tracked in the schema_versions table.
var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_versions (
    version     INTEGER PRIMARY KEY,
    applied_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS incidents (
    incident_id           TEXT PRIMARY KEY,
    type                  TEXT NOT NULL,
    severity              TEXT NOT NULL,
    status                TEXT NOT NULL,
    host_id               TEXT NOT NULL DEFAULT '',
    service_name          TEXT NOT NULL DEFAULT '',
    container_name        TEXT NOT NULL DEFAULT '',
    title                 TEXT NOT NULL,
    description           TEXT NOT NULL DEFAULT '',
    detected_at           DATETIME NOT NULL,
    acknowledged_at       DATETIME,
    resolved_at           DATETIME,
    playbook_id           TEXT NOT NULL DEFAULT '',
    playbook_params       TEXT NOT NULL DEFAULT '{}',
    playbook_result       TEXT NOT NULL DEFAULT '',
    auto_remediated       BOOLEAN NOT NULL DEFAULT 0,
    remediation_attempts  INTEGER NOT NULL DEFAULT 0,
    trigger_source        TEXT NOT NULL DEFAULT '',
    trigger_details       TEXT NOT NULL DEFAULT '{}',
    ai_analysis           TEXT NOT NULL DEFAULT '',
    ai_recommendations    TEXT NOT NULL DEFAULT '',
    resolution_notes      TEXT NOT NULL DEFAULT '',
    escalated_to          TEXT NOT NULL DEFAULT '',
    escalation_reason     TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_incidents_status ON incidents(status);
CREATE INDEX IF NOT EXISTS idx_incidents_service ON incidents(service_name);
CREATE INDEX IF NOT EXISTS idx_incidents_type ON incidents(type);
CREATE INDEX IF NOT EXISTS idx_incidents_detected_at ON incidents(detected_at DESC);

CREATE TABLE IF NOT EXISTS learning_records (
    pattern_hash               TEXT PRIMARY KEY,
    incident_type              TEXT NOT NULL,
    service_name               TEXT NOT NULL DEFAULT '',
    symptoms                   TEXT NOT NULL DEFAULT '{}',
    successful_playbook        TEXT NOT NULL DEFAULT '',
    success_count              INTEGER NOT NULL DEFAULT 0,
    failure_count              INTEGER NOT NULL DEFAULT 0,
    avg_resolution_time_seconds REAL,
    first_occurrence           DATETIME NOT NULL,
    last_occurrence            DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_learning_service ON learning_records(service_name);
CREATE INDEX IF NOT EXISTS idx_learning_last_occurrence ON learning_records(last_occurrence DESC);

CREATE TABLE IF NOT EXISTS audit_events (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    correlation_id  TEXT NOT NULL DEFAULT '',
    event_type      TEXT NOT NULL,
    description     TEXT NOT NULL DEFAULT '',
    resource        TEXT NOT NULL DEFAULT '',
    action          TEXT NOT NULL DEFAULT '',
    result          TEXT NOT NULL DEFAULT '',
    user_id         TEXT NOT NULL DEFAULT '',
    metadata        TEXT NOT NULL DEFAULT '{}',
    timestamp       DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_events(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_audit_resource ON audit_events(resource);
CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_events(action);

CREATE TABLE IF NOT EXISTS action_records (
    id                  INTEGER PRIMARY KEY AUTOINCREMENT,
    action_name         TEXT NOT NULL,
    command             TEXT NOT NULL,
    status              TEXT NOT NULL,
    risk_level          TEXT NOT NULL DEFAULT 'unknown',
    requested_by        TEXT NOT NULL DEFAULT '',
    approved_by         TEXT NOT NULL DEFAULT '',
    approved_at         DATETIME,
    executed_at         DATETIME NOT NULL,
    execution_time_ms   INTEGER NOT NULL DEFAULT 0,
    success             BOOLEAN NOT NULL DEFAULT 0,
    metadata            TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_action_records_executed_at ON action_records(executed_at DESC);
CREATE INDEX IF NOT EXISTS idx_action_records_name ON action_records(action_name);

CREATE TABLE IF NOT EXISTS auto_remediation_settings (
    playbook_id           TEXT NOT NULL DEFAULT '',
    service_name          TEXT NOT NULL DEFAULT '',
    enabled               BOOLEAN NOT NULL DEFAULT 1,
    max_auto_attempts     INTEGER NOT NULL DEFAULT 3,
    cooldown_minutes      INTEGER NOT NULL DEFAULT 15,
    severity_threshold    TEXT NOT NULL DEFAULT 'medium',
    notification_channels TEXT NOT NULL DEFAULT '[]',
    PRIMARY KEY (playbook_id, service_name)
);
`,
	},
}

// sqliteStore is the SQLite-backed implementation of Store.
type sqliteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path and
// runs all pending schema migrations. Pass ":memory:" for an in-memory store.
func NewSQLiteStore(path string) (Store, error) {
	database, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	if _, err := database.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := database.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &sqliteStore{db: database}
	if err := s.migrate(); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *sqliteStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`, m.version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue
		}

		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := s.db.Exec(`INSERT INTO schema_versions(version) VALUES(?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// ─── Incidents ────────────────────────────────────────────────────────────────

func (s *sqliteStore) SaveIncident(ctx context.Context, inc *types.Incident) error {
	params, err := marshalJSON(inc.PlaybookParams)
	if err != nil {
		return fmt.Errorf("marshal playbook_params: %w", err)
	}
	details, err := marshalJSON(inc.TriggerDetails)
	if err != nil {
		return fmt.Errorf("marshal trigger_details: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
        INSERT INTO incidents(
            incident_id, type, severity, status, host_id, service_name, container_name,
            title, description, detected_at, acknowledged_at, resolved_at,
            playbook_id, playbook_params, playbook_result, auto_remediated,
            remediation_attempts, trigger_source, trigger_details, ai_analysis, ai_recommendations,
            resolution_notes, escalated_to, escalation_reason
        ) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
        ON CONFLICT(incident_id) DO UPDATE SET
            status               = excluded.status,
            acknowledged_at      = excluded.acknowledged_at,
            resolved_at          = excluded.resolved_at,
            playbook_id          = excluded.playbook_id,
            playbook_params      = excluded.playbook_params,
            playbook_result      = excluded.playbook_result,
            auto_remediated      = excluded.auto_remediated,
            remediation_attempts = excluded.remediation_attempts,
            ai_analysis          = excluded.ai_analysis,
            ai_recommendations   = excluded.ai_recommendations,
            resolution_notes     = excluded.resolution_notes,
            escalated_to         = excluded.escalated_to,
            escalation_reason    = excluded.escalation_reason
    `,
		inc.IncidentID, string(inc.Type), string(inc.Severity), string(inc.Status),
		inc.HostID, inc.ServiceName, inc.ContainerName, inc.Title, inc.Description,
		inc.DetectedAt.UTC(), nullableTime(inc.AcknowledgedAt), nullableTime(inc.ResolvedAt),
		inc.PlaybookID, params, inc.PlaybookResult, inc.AutoRemediated,
		inc.RemediationAttempts, inc.TriggerSource, details, inc.AIAnalysis, inc.AIRecommendations,
		inc.ResolutionNotes, inc.EscalatedTo, inc.EscalationReason,
	)
	if err != nil {
		return fmt.Errorf("upsert incident: %w", err)
	}
	return nil
}

func (s *sqliteStore) GetIncident(ctx context.Context, id string) (*types.Incident, error) {
	row := s.db.QueryRowContext(ctx, incidentSelectColumns()+` WHERE incident_id=?`, id)
	return scanIncident(row)
}

func (s *sqliteStore) ListIncidents(ctx context.Context, q IncidentQuery) ([]*types.Incident, error) {
	query := incidentSelectColumns() + ` WHERE 1=1`
	args := []any{}

	if q.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(q.Status))
	}
	if q.ServiceName != "" {
		query += ` AND service_name = ?`
		args = append(args, q.ServiceName)
	}
	if q.Type != "" {
		query += ` AND type = ?`
		args = append(args, string(q.Type))
	}
	query += ` ORDER BY detected_at DESC`
	if q.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d OFFSET %d`, q.Limit, q.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*types.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, inc)
	}
	return result, rows.Err()
}

func (s *sqliteStore) DeleteIncident(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM incidents WHERE incident_id=?`, id)
	return err
}

func incidentSelectColumns() string {
	return `SELECT incident_id, type, severity, status, host_id, service_name, container_name,
        title, description, detected_at, acknowledged_at, resolved_at,
        playbook_id, playbook_params, playbook_result, auto_remediated,
        remediation_attempts, trigger_source, trigger_details, ai_analysis, ai_recommendations,
        resolution_notes, escalated_to, escalation_reason
        FROM incidents`
}

func scanIncident(row rowScanner) (*types.Incident, error) {
	inc := &types.Incident{}
	var detectedAt string
	var acknowledgedAt, resolvedAt sql.NullString
	var params, details string

	err := row.Scan(
		&inc.IncidentID, &inc.Type, &inc.Severity, &inc.Status, &inc.HostID,
		&inc.ServiceName, &inc.ContainerName, &inc.Title, &inc.Description,
		&detectedAt, &acknowledgedAt, &resolvedAt,
		&inc.PlaybookID, &params, &inc.PlaybookResult, &inc.AutoRemediated,
		&inc.RemediationAttempts, &inc.TriggerSource, &details, &inc.AIAnalysis, &inc.AIRecommendations,
		&inc.ResolutionNotes, &inc.EscalatedTo, &inc.EscalationReason,
	)
	if err != nil {
		return nil, err
	}

	inc.DetectedAt, _ = parseTime(detectedAt)
	if acknowledgedAt.Valid {
		t, _ := parseTime(acknowledgedAt.String)
		inc.AcknowledgedAt = &t
	}
	if resolvedAt.Valid {
		t, _ := parseTime(resolvedAt.String)
		inc.ResolvedAt = &t
	}
	if err := unmarshalJSON(params, &inc.PlaybookParams); err != nil {
		return nil, fmt.Errorf("unmarshal playbook_params: %w", err)
	}
	if err := unmarshalJSON(details, &inc.TriggerDetails); err != nil {
		return nil, fmt.Errorf("unmarshal trigger_details: %w", err)
	}
	return inc, nil
}

// ─── Learning records ─────────────────────────────────────────────────────────

func (s *sqliteStore) GetLearningRecord(ctx context.Context, patternHash string) (*types.LearningRecord, error) {
	row := s.db.QueryRowContext(ctx, learningSelectColumns()+` WHERE pattern_hash=?`, patternHash)
	rec, err := scanLearningRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

func (s *sqliteStore) UpsertLearningRecord(ctx context.Context, rec *types.LearningRecord) error {
	symptoms, err := marshalJSON(rec.Symptoms)
	if err != nil {
		return fmt.Errorf("marshal symptoms: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
        INSERT INTO learning_records(
            pattern_hash, incident_type, service_name, symptoms, successful_playbook,
            success_count, failure_count, avg_resolution_time_seconds, first_occurrence, last_occurrence
        ) VALUES(?,?,?,?,?,?,?,?,?,?)
        ON CONFLICT(pattern_hash) DO UPDATE SET
            successful_playbook         = excluded.successful_playbook,
            success_count               = excluded.success_count,
            failure_count               = excluded.failure_count,
            avg_resolution_time_seconds = excluded.avg_resolution_time_seconds,
            last_occurrence             = excluded.last_occurrence
    `,
		rec.PatternHash, string(rec.IncidentType), rec.ServiceName, symptoms, rec.SuccessfulPlaybook,
		rec.SuccessCount, rec.FailureCount, rec.AvgResolutionTimeSeconds,
		rec.FirstOccurrence.UTC(), rec.LastOccurrence.UTC(),
	)
	return err
}

func (s *sqliteStore) ListLearningRecords(ctx context.Context, limit int) ([]*types.LearningRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, learningSelectColumns()+` ORDER BY last_occurrence DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*types.LearningRecord
	for rows.Next() {
		rec, err := scanLearningRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

func learningSelectColumns() string {
	return `SELECT pattern_hash, incident_type, service_name, symptoms, successful_playbook,
        success_count, failure_count, avg_resolution_time_seconds, first_occurrence, last_occurrence
        FROM learning_records`
}

func scanLearningRecord(row rowScanner) (*types.LearningRecord, error) {
	rec := &types.LearningRecord{}
	var symptoms string
	var firstOccurrence, lastOccurrence string
	var avg sql.NullFloat64

	err := row.Scan(
		&rec.PatternHash, &rec.IncidentType, &rec.ServiceName, &symptoms, &rec.SuccessfulPlaybook,
		&rec.SuccessCount, &rec.FailureCount, &avg, &firstOccurrence, &lastOccurrence,
	)
	if err != nil {
		return nil, err
	}
	if avg.Valid {
		rec.AvgResolutionTimeSeconds = &avg.Float64
	}
	rec.FirstOccurrence, _ = parseTime(firstOccurrence)
	rec.LastOccurrence, _ = parseTime(lastOccurrence)
	if err := unmarshalJSON(symptoms, &rec.Symptoms); err != nil {
		return nil, fmt.Errorf("unmarshal symptoms: %w", err)
	}
	return rec, nil
}

// ─── Audit events ─────────────────────────────────────────────────────────────

func (s *sqliteStore) AppendAuditEvent(ctx context.Context, rec *AuditRecord) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO audit_events(correlation_id, event_type, description, resource, action, result, user_id, metadata, timestamp)
        VALUES(?,?,?,?,?,?,?,?,?)
    `,
		rec.CorrelationID, rec.EventType, rec.Description, rec.Resource, rec.Action,
		rec.Result, rec.UserID, rec.Metadata, rec.Timestamp.UTC(),
	)
	return err
}

func (s *sqliteStore) QueryAuditEvents(ctx context.Context, q AuditQuery) ([]*AuditRecord, error) {
	query := `SELECT id,correlation_id,event_type,description,resource,action,result,user_id,metadata,timestamp FROM audit_events WHERE 1=1`
	args := []any{}

	if q.Resource != "" {
		query += ` AND resource = ?`
		args = append(args, q.Resource)
	}
	if q.Action != "" {
		query += ` AND action = ?`
		args = append(args, q.Action)
	}
	if q.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, q.UserID)
	}
	if !q.From.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, q.From.UTC())
	}
	if !q.To.IsZero() {
		query += ` AND timestamp <= ?`
		args = append(args, q.To.UTC())
	}
	query += ` ORDER BY timestamp DESC`
	if q.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d OFFSET %d`, q.Limit, q.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*AuditRecord
	for rows.Next() {
		rec := &AuditRecord{}
		var ts string
		if err := rows.Scan(&rec.ID, &rec.CorrelationID, &rec.EventType, &rec.Description,
			&rec.Resource, &rec.Action, &rec.Result, &rec.UserID, &rec.Metadata, &ts); err != nil {
			return nil, err
		}
		rec.Timestamp, _ = parseTime(ts)
		result = append(result, rec)
	}
	return result, rows.Err()
}

// ─── Auto-remediation settings ────────────────────────────────────────────────

func (s *sqliteStore) GetAutoRemediationSetting(ctx context.Context, playbookID, serviceName string) (*types.AutoRemediationSetting, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT playbook_id, service_name, enabled, max_auto_attempts, cooldown_minutes, severity_threshold, notification_channels
        FROM auto_remediation_settings
        WHERE (playbook_id=? AND service_name=?)
           OR (playbook_id=? AND service_name='')
           OR (playbook_id='' AND service_name='')
        ORDER BY (playbook_id<>'') + (service_name<>'') DESC
        LIMIT 1
    `, playbookID, serviceName, playbookID)

	setting, err := scanAutoRemediationSetting(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return setting, err
}

func (s *sqliteStore) SaveAutoRemediationSetting(ctx context.Context, setting *types.AutoRemediationSetting) error {
	channels, err := marshalJSON(setting.NotificationChannels)
	if err != nil {
		return fmt.Errorf("marshal notification_channels: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
        INSERT INTO auto_remediation_settings(playbook_id, service_name, enabled, max_auto_attempts, cooldown_minutes, severity_threshold, notification_channels)
        VALUES(?,?,?,?,?,?,?)
        ON CONFLICT(playbook_id, service_name) DO UPDATE SET
            enabled               = excluded.enabled,
            max_auto_attempts     = excluded.max_auto_attempts,
            cooldown_minutes      = excluded.cooldown_minutes,
            severity_threshold    = excluded.severity_threshold,
            notification_channels = excluded.notification_channels
    `, setting.PlaybookID, setting.ServiceName, setting.Enabled, setting.MaxAutoAttempts,
		setting.CooldownMinutes, string(setting.SeverityThreshold), channels)
	return err
}

func (s *sqliteStore) ListAutoRemediationSettings(ctx context.Context) ([]*types.AutoRemediationSetting, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT playbook_id, service_name, enabled, max_auto_attempts, cooldown_minutes, severity_threshold, notification_channels
        FROM auto_remediation_settings
    `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*types.AutoRemediationSetting
	for rows.Next() {
		setting, err := scanAutoRemediationSetting(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, setting)
	}
	return result, rows.Err()
}

func scanAutoRemediationSetting(row rowScanner) (*types.AutoRemediationSetting, error) {
	setting := &types.AutoRemediationSetting{}
	var channels string
	err := row.Scan(&setting.PlaybookID, &setting.ServiceName, &setting.Enabled,
		&setting.MaxAutoAttempts, &setting.CooldownMinutes, &setting.SeverityThreshold, &channels)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSON(channels, &setting.NotificationChannels); err != nil {
		return nil, fmt.Errorf("unmarshal notification_channels: %w", err)
	}
	return setting, nil
}

// ─── Action records ────────────────────────────────────────────────────────────

func (s *sqliteStore) InsertAction(ctx context.Context, rec *ActionRecord) (int64, error) {
	metadata, err := marshalJSON(rec.Metadata)
	if err != nil {
		return 0, fmt.Errorf("marshal action metadata: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
        INSERT INTO action_records(
            action_name, command, status, risk_level, requested_by, approved_by,
            approved_at, executed_at, execution_time_ms, success, metadata
        ) VALUES(?,?,?,?,?,?,?,?,?,?,?)
    `,
		rec.ActionName, rec.Command, rec.Status, rec.RiskLevel, rec.RequestedBy, rec.ApprovedBy,
		nullableTime(&rec.ApprovedAt), rec.ExecutedAt.UTC(), rec.ExecutionTimeMs, rec.Success, metadata,
	)
	if err != nil {
		return 0, fmt.Errorf("insert action record: %w", err)
	}
	return res.LastInsertId()
}

func (s *sqliteStore) ListActions(ctx context.Context, limit int) ([]*ActionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, action_name, command, status, risk_level, requested_by, approved_by,
            approved_at, executed_at, execution_time_ms, success, metadata
        FROM action_records ORDER BY executed_at DESC LIMIT ?
    `, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*ActionRecord
	for rows.Next() {
		rec := &ActionRecord{}
		var approvedAt sql.NullString
		var executedAt, metadata string
		if err := rows.Scan(&rec.ID, &rec.ActionName, &rec.Command, &rec.Status, &rec.RiskLevel,
			&rec.RequestedBy, &rec.ApprovedBy, &approvedAt, &executedAt, &rec.ExecutionTimeMs,
			&rec.Success, &metadata); err != nil {
			return nil, err
		}
		if approvedAt.Valid {
			rec.ApprovedAt, _ = parseTime(approvedAt.String)
		}
		rec.ExecutedAt, _ = parseTime(executedAt)
		if err := unmarshalJSON(metadata, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal action metadata: %w", err)
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// parseTime handles multiple SQLite datetime formats.
func parseTime(s string) (time.Time, error) {
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
	}
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse time %q", s)
}
