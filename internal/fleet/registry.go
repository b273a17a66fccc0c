package fleet

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/homelab/sentinel/pkg/contracts"
)

// Registry dispatches a contracts.FleetTransport call to the Client for the
// request's HostID, dialing new hosts lazily and caching the connection.
// This is what the Remediation Orchestrator is actually handed as its
// FleetTransport collaborator when fleet remediation is
// enabled — a single Client only ever talks to one host.
type Registry struct {
	cfg    Config
	logger *zap.Logger

	mu            sync.Mutex
	clients       map[string]*Client
	hostAddresses map[string]string
}

var _ contracts.FleetTransport = (*Registry)(nil)

// NewRegistry constructs an empty registry. cfg supplies the dial settings
// shared by every host; only the address varies, supplied per-call via
// hostID → address resolution in addresses.
func NewRegistry(cfg Config, addresses map[string]string, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	hostAddresses := make(map[string]string, len(addresses))
	for hostID, addr := range addresses {
		hostAddresses[hostID] = addr
	}
	return &Registry{cfg: cfg, logger: logger, clients: make(map[string]*Client), hostAddresses: hostAddresses}
}

func (r *Registry) clientFor(hostID string) (*Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[hostID]; ok {
		return c, nil
	}

	addr, ok := r.hostAddresses[hostID]
	if !ok {
		return nil, fmt.Errorf("fleet registry: unknown host %q", hostID)
	}

	cfg := r.cfg
	cfg.Address = addr
	c, err := NewClient(hostID, cfg, r.logger)
	if err != nil {
		return nil, err
	}
	r.clients[hostID] = c
	return c, nil
}

func (r *Registry) RunCommand(ctx context.Context, req contracts.RemoteCommandRequest) (*contracts.RemoteCommandResult, error) {
	c, err := r.clientFor(req.HostID)
	if err != nil {
		return nil, err
	}
	return c.RunCommand(ctx, req)
}

func (r *Registry) Ping(ctx context.Context, hostID string) error {
	c, err := r.clientFor(hostID)
	if err != nil {
		return err
	}
	return c.Ping(ctx, hostID)
}

// Close tears down every cached connection.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for _, c := range r.clients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
