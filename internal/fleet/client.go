// Package fleet provides a gRPC-backed implementation of
// pkg/contracts.FleetTransport: the collaborator the Remediation
// Orchestrator calls into when a playbook targets a remote host rather than
// the local machine. Request and response payloads
// are carried as google.golang.org/protobuf/types/known/structpb.Struct
// values rather than a hand-rolled .pb.go — the fleet agent service
// definition is owned by whatever remote binary implements it, not by this
// module.
package fleet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/homelab/sentinel/internal/metrics"
	"github.com/homelab/sentinel/pkg/contracts"
)

const (
	runCommandMethod = "/sentinel.fleet.v1.FleetTransport/RunCommand"
	pingMethod       = "/sentinel.fleet.v1.FleetTransport/Ping"
)

// Config configures the fleet gRPC client.
type Config struct {
	Address        string
	TimeoutSeconds int
	TLSEnabled     bool
}

// reconnectPolicy describes an exponential backoff shape. Nothing in this
// package applies it; reconnection follows grpc's own connectivity-state
// machine.
type reconnectPolicy struct {
	initialDelay time.Duration
	maxDelay     time.Duration
	multiplier   float64
}

var defaultReconnectPolicy = reconnectPolicy{
	initialDelay: 1 * time.Second,
	maxDelay:     30 * time.Second,
	multiplier:   2.0,
}

// Client is a gRPC-backed contracts.FleetTransport. One Client dials one
// fleet host; a caller managing several remote hosts keeps one Client per
// host, keyed by host ID.
type Client struct {
	cfg    Config
	hostID string
	logger *zap.Logger

	mu    sync.RWMutex
	conn  *grpc.ClientConn
	state connectivity.State
}

var _ contracts.FleetTransport = (*Client)(nil)

// NewClient constructs a fleet client for one host. grpc.NewClient takes no
// context and does not connect up front; cfg.TimeoutSeconds (defaulting to
// 10s) is not applied to connecting but bounds RunCommand calls. The
// connection reconnects in the background per grpc's default
// connectivity-state machine.
func NewClient(hostID string, cfg Config, logger *zap.Logger) (*Client, error) {
	if hostID == "" {
		return nil, fmt.Errorf("fleet client: host id is required")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("fleet client: address is required for host %q", hostID)
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	creds := insecure.NewCredentials()
	if cfg.TLSEnabled {
		creds = credentials.NewTLS(nil)
	}

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                30 * time.Second,
			Timeout:             10 * time.Second,
			PermitWithoutStream: true,
		}),
	}

	conn, err := grpc.NewClient(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("fleet client: dial %q: %w", cfg.Address, err)
	}

	c := &Client{cfg: cfg, hostID: hostID, logger: logger, conn: conn, state: connectivity.Idle}
	metrics.FleetConnectionActive.WithLabelValues(hostID).Set(0)
	go c.watchState()
	return c, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	metrics.FleetConnectionActive.WithLabelValues(c.hostID).Set(0)
	return err
}

// watchState keeps the fleet-connection-active gauge and reconnect counter
// current, driven by grpc's own connectivity state machine instead of a
// polling ticker.
func (c *Client) watchState() {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return
	}

	for {
		state := conn.GetState()
		c.mu.Lock()
		prev := c.state
		c.state = state
		c.mu.Unlock()

		active := 0.0
		if state == connectivity.Ready {
			active = 1
		}
		metrics.FleetConnectionActive.WithLabelValues(c.hostID).Set(active)

		if prev != state && (state == connectivity.TransientFailure || state == connectivity.Connecting) {
			metrics.FleetReconnects.WithLabelValues(c.hostID).Inc()
		}

		if !conn.WaitForStateChange(context.Background(), state) {
			return
		}
	}
}

// RunCommand invokes the remote fleet agent's RunCommand RPC.
func (c *Client) RunCommand(ctx context.Context, req contracts.RemoteCommandRequest) (*contracts.RemoteCommandResult, error) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return nil, fmt.Errorf("fleet client: connection to %q is closed", c.hostID)
	}

	env := make(map[string]interface{}, len(req.Env))
	for k, v := range req.Env {
		env[k] = v
	}
	payload, err := structpb.NewStruct(map[string]interface{}{
		"host_id":     req.HostID,
		"command":     req.Command,
		"timeout_ms":  req.Timeout.Milliseconds(),
		"working_dir": req.WorkingDir,
		"env":         env,
	})
	if err != nil {
		return nil, fmt.Errorf("fleet client: encode request: %w", err)
	}

	callCtx := ctx
	if c.cfg.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, time.Duration(c.cfg.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	resp := &structpb.Struct{}
	if err := conn.Invoke(callCtx, runCommandMethod, payload, resp); err != nil {
		return nil, fmt.Errorf("fleet client: run command on %q: %w", req.HostID, err)
	}

	return decodeRemoteCommandResult(resp), nil
}

// Ping checks reachability of the remote host.
func (c *Client) Ping(ctx context.Context, hostID string) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("fleet client: connection to %q is closed", hostID)
	}

	req, err := structpb.NewStruct(map[string]interface{}{"host_id": hostID})
	if err != nil {
		return fmt.Errorf("fleet client: encode ping: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp := &structpb.Struct{}
	if err := conn.Invoke(callCtx, pingMethod, req, resp); err != nil {
		c.logger.Warn("fleet ping failed", zap.String("host_id", hostID), zap.Error(err))
		return fmt.Errorf("fleet client: ping %q: %w", hostID, err)
	}
	return nil
}

func decodeRemoteCommandResult(s *structpb.Struct) *contracts.RemoteCommandResult {
	fields := s.GetFields()
	result := &contracts.RemoteCommandResult{}

	if v, ok := fields["success"]; ok {
		result.Success = v.GetBoolValue()
	}
	if v, ok := fields["stdout"]; ok {
		result.Stdout = v.GetStringValue()
	}
	if v, ok := fields["stderr"]; ok {
		result.Stderr = v.GetStringValue()
	}
	if v, ok := fields["duration_ms"]; ok {
		result.DurationMs = int64(v.GetNumberValue())
	}
	if v, ok := fields["error"]; ok {
		result.Error = v.GetStringValue()
	}
	if v, ok := fields["exit_code"]; ok {
		if _, isNull := v.GetKind().(*structpb.Value_NullValue); !isNull {
			code := int(v.GetNumberValue())
			result.ExitCode = &code
		}
	}
	return result
}
