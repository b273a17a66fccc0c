package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger defines the interface for audit logging
type Logger interface {
	// Log logs an audit event
	Log(ctx context.Context, event *Event) error

	// LogExecution logs one line-delimited audit record per safe-executor invocation.
	LogExecution(ctx context.Context, rec *ExecutionEntry) error

	// LogIncident logs incident lifecycle events
	LogIncidentCreated(ctx context.Context, incidentID, incidentType, severity string) error
	LogIncidentStatusChanged(ctx context.Context, incidentID, status, notes string) error
	LogIncidentEscalated(ctx context.Context, incidentID, reason, escalatedTo string) error

	// LogSafety logs safety-related events
	LogSafetyViolation(ctx context.Context, rule, resource string) error

	// LogServer logs process lifecycle events
	LogServerStarted(ctx context.Context, addr string) error
	LogServerShutdown(ctx context.Context) error

	// Sync flushes buffered log entries
	Sync() error

	// Close closes the audit logger
	Close() error
}

// Config represents audit logger configuration
type Config struct {
	// AuditLogPath is the path to the audit log file
	AuditLogPath string

	// AppLogPath is the path to the application log file
	AppLogPath string

	// MaxSize is the maximum size in megabytes before rotation
	MaxSize int

	// MaxBackups is the maximum number of old log files to retain
	MaxBackups int

	// MaxAge is the maximum number of days to retain old log files
	MaxAge int

	// Compress determines if rotated files should be compressed
	Compress bool

	// LogLevel is the minimum log level (debug, info, warn, error)
	LogLevel string
}

// DefaultConfig returns default audit logger configuration
func DefaultConfig() *Config {
	return &Config{
		AuditLogPath: "logs/audit.log",
		AppLogPath:   "logs/app.log",
		MaxSize:      100, // megabytes
		MaxBackups:   10,
		MaxAge:       30, // days
		Compress:     true,
		LogLevel:     "info",
	}
}

// auditLogger implements the Logger interface
type auditLogger struct {
	appLogger   *zap.Logger
	auditLogger *zap.Logger
	execSink    *lumberjack.Logger
	config      *Config
	mu          sync.Mutex
	buffer      []*Event
	flushTicker *time.Ticker
	stopCh      chan struct{}
}

// NewLogger creates a new audit logger
func NewLogger(config *Config) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}

	// Parse log level
	level, err := zapcore.ParseLevel(config.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %s: %w", config.LogLevel, err)
	}

	// Create encoder config
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	// Create application logger with rotation
	appRotator := &lumberjack.Logger{
		Filename:   config.AppLogPath,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	}

	appCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(appRotator),
		level,
	)

	appLogger := zap.New(appCore, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	// Create audit logger with rotation (always INFO level, append-only)
	auditRotator := &lumberjack.Logger{
		Filename:   config.AuditLogPath,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	}

	auditCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(auditRotator),
		zapcore.InfoLevel, // Audit logs are always INFO level
	)

	auditZapLogger := zap.New(auditCore)

	// Create the logger instance
	logger := &auditLogger{
		appLogger:   appLogger,
		auditLogger: auditZapLogger,
		execSink:    auditRotator,
		config:      config,
		buffer:      make([]*Event, 0, 100),
		flushTicker: time.NewTicker(1 * time.Second),
		stopCh:      make(chan struct{}),
	}

	// Start auto-flush goroutine
	go logger.autoFlush()

	return logger, nil
}

// Log logs an audit event
func (l *auditLogger) Log(ctx context.Context, event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Add to buffer
	l.buffer = append(l.buffer, event)

	// Flush if buffer is full
	if len(l.buffer) >= 100 {
		return l.flushLocked()
	}

	return nil
}

// flushLocked flushes the buffer (caller must hold lock)
func (l *auditLogger) flushLocked() error {
	if len(l.buffer) == 0 {
		return nil
	}

	// Write all buffered events
	for _, event := range l.buffer {
		eventJSON, err := json.Marshal(event)
		if err != nil {
			l.appLogger.Error("failed to marshal audit event",
				zap.Error(err),
				zap.String("event_type", string(event.EventType)),
			)
			continue
		}

		l.auditLogger.Info(string(eventJSON),
			zap.String("correlation_id", event.CorrelationID),
			zap.String("event_type", string(event.EventType)),
			zap.String("result", string(event.Result)),
		)
	}

	// Clear buffer
	l.buffer = l.buffer[:0]

	return nil
}

// autoFlush periodically flushes the buffer
func (l *auditLogger) autoFlush() {
	for {
		select {
		case <-l.flushTicker.C:
			l.mu.Lock()
			_ = l.flushLocked()
			l.mu.Unlock()
		case <-l.stopCh:
			return
		}
	}
}

// LogIncidentCreated logs when a new incident enters the lifecycle
func (l *auditLogger) LogIncidentCreated(ctx context.Context, incidentID, incidentType, severity string) error {
	event := NewEvent(EventIncidentCreated).
		WithCorrelationID(incidentID).
		WithResult(ResultSuccess).
		WithMetadata("incident_type", incidentType).
		WithMetadata("severity", severity).
		WithDescription(fmt.Sprintf("Incident %s created (%s, %s)", incidentID, incidentType, severity))

	return l.Log(ctx, event)
}

// LogIncidentStatusChanged logs an incident status transition
func (l *auditLogger) LogIncidentStatusChanged(ctx context.Context, incidentID, status, notes string) error {
	eventType := EventIncidentUpdated
	if status == "resolved" {
		eventType = EventIncidentResolved
	}
	event := NewEvent(eventType).
		WithCorrelationID(incidentID).
		WithResult(ResultSuccess).
		WithMetadata("status", status).
		WithDescription(fmt.Sprintf("Incident %s transitioned to %s", incidentID, status))
	if notes != "" {
		event.WithMetadata("notes", notes)
	}

	return l.Log(ctx, event)
}

// LogIncidentEscalated logs when an incident is handed to a human operator
func (l *auditLogger) LogIncidentEscalated(ctx context.Context, incidentID, reason, escalatedTo string) error {
	event := NewEvent(EventIncidentEscalated).
		WithCorrelationID(incidentID).
		WithUser(escalatedTo).
		WithResult(ResultPending).
		WithMetadata("reason", reason).
		WithDescription(fmt.Sprintf("Incident %s escalated to %s: %s", incidentID, escalatedTo, reason))

	return l.Log(ctx, event)
}

// LogServerStarted logs process startup
func (l *auditLogger) LogServerStarted(ctx context.Context, addr string) error {
	event := NewEvent(EventServerStarted).
		WithResult(ResultSuccess).
		WithMetadata("addr", addr).
		WithDescription("Process control surface started on " + addr)

	return l.Log(ctx, event)
}

// LogServerShutdown logs graceful process shutdown
func (l *auditLogger) LogServerShutdown(ctx context.Context) error {
	event := NewEvent(EventServerShutdown).
		WithResult(ResultSuccess).
		WithDescription("Process shutting down")

	return l.Log(ctx, event)
}

// ExecutionEntry is the line-delimited audit record emitted for every safe-executor
// invocation, matching the external audit log format (timestamp, initiator, command,
// risk_level, mode, success, exit_code, duration_ms, requires_approval).
type ExecutionEntry struct {
	Timestamp        time.Time `json:"timestamp"`
	Initiator        string    `json:"initiator"`
	Command          string    `json:"command"`
	RiskLevel        string    `json:"risk_level"`
	Mode             string    `json:"mode"`
	Success          bool      `json:"success"`
	ExitCode         *int      `json:"exit_code"`
	DurationMs       int64     `json:"duration_ms"`
	RequiresApproval bool      `json:"requires_approval"`
	Message          string    `json:"message,omitempty"`
}

// LogExecution records one safe-executor invocation as both a structured audit
// event (for the buffered event stream) and one raw line-delimited JSON object
// appended straight to the rotated audit file, keys at top level.
func (l *auditLogger) LogExecution(ctx context.Context, rec *ExecutionEntry) error {
	event := NewEvent(EventCommandExecuted).
		WithAction(rec.Command).
		WithUser(rec.Initiator).
		WithDuration(time.Duration(rec.DurationMs) * time.Millisecond).
		WithMetadata("mode", rec.Mode).
		WithMetadata("risk_level", rec.RiskLevel).
		WithMetadata("requires_approval", rec.RequiresApproval)

	if rec.ExitCode != nil {
		event.WithMetadata("exit_code", *rec.ExitCode)
	}
	if rec.Success {
		event.WithResult(ResultSuccess)
	} else {
		event.WithResult(ResultFailure)
	}
	if rec.Message != "" {
		event.WithDescription(rec.Message)
	}

	payload, err := json.Marshal(rec)
	if err == nil {
		_, _ = l.execSink.Write(append(payload, '\n'))
	}

	return l.Log(ctx, event)
}

// LogSafetyViolation logs safety policy violations
func (l *auditLogger) LogSafetyViolation(ctx context.Context, rule, resource string) error {
	event := NewEvent(EventSafetyPolicyViolation).
		WithResource(resource, "").
		WithResult(ResultDenied).
		WithMetadata("rule", rule).
		WithDescription(fmt.Sprintf("Safety violation: %s for %s", rule, resource))

	return l.Log(ctx, event)
}

// Sync flushes buffered log entries
func (l *auditLogger) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.flushLocked(); err != nil {
		return err
	}

	if err := l.auditLogger.Sync(); err != nil {
		return err
	}

	return l.appLogger.Sync()
}

// Close closes the audit logger
func (l *auditLogger) Close() error {
	close(l.stopCh)
	l.flushTicker.Stop()

	if err := l.Sync(); err != nil {
		return err
	}

	return nil
}

// GetCorrelationID extracts correlation ID from context
func GetCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value("correlation_id").(string); ok {
		return id
	}
	return ""
}

// WithCorrelationID adds correlation ID to context
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, "correlation_id", id)
}

// GenerateCorrelationID generates a new correlation ID
func GenerateCorrelationID() string {
	return fmt.Sprintf("%d-%d", time.Now().UnixNano(), os.Getpid())
}
