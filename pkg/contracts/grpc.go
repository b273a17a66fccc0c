// Package contracts defines the collaborator interfaces the core depends on
// but does not implement: the host-fleet command transport and the probes the
// periodic loops read (containers, database, network, disk, images,
// vulnerabilities, certificates, auth events, exposed ports). A gRPC-backed
// implementation of the fleet contract lives in internal/fleet; production
// deployments may swap in any transport that satisfies the interface.
package contracts

import (
	"context"
	"time"
)

// RemoteCommandRequest asks the fleet collaborator to run one already-validated
// command on a named host.
type RemoteCommandRequest struct {
	HostID     string        `json:"host_id"`
	Command    string        `json:"command"`
	Timeout    time.Duration `json:"timeout"`
	WorkingDir string        `json:"working_dir,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
}

// RemoteCommandResult is the fleet collaborator's response shape, mirroring
// the Safe Executor's local ExecutionRecord fields closely enough that
// callers can fold the two into one record.
type RemoteCommandResult struct {
	Success    bool   `json:"success"`
	ExitCode   *int   `json:"exit_code"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// FleetTransport is the collaborator boundary for "run this command on host
// X with timeout T" — its implementation (SSH, gRPC agent, etc.) is
// deliberately out of the core's scope.
type FleetTransport interface {
	RunCommand(ctx context.Context, req RemoteCommandRequest) (*RemoteCommandResult, error)
	Ping(ctx context.Context, hostID string) error
}

// HealthCheckRequest checks a remote host's reachability.
type HealthCheckRequest struct {
	HostID string `json:"host_id"`
}

// HealthCheckResponse reports a remote host's reachability.
type HealthCheckResponse struct {
	Status    string                 `json:"status"` // "healthy", "degraded", "unreachable"
	Timestamp int64                  `json:"timestamp"`
	Details   map[string]interface{} `json:"details"`
}

// StreamMessage is one event relayed from the core's internal event bus to
// a wrapping transport (e.g. a websocket hub) outside the core's scope.
type StreamMessage struct {
	MessageType string      `json:"message_type"`
	Data        interface{} `json:"data"`
	Timestamp   int64       `json:"timestamp"`
}
