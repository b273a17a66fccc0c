package contracts

import (
	"context"
	"time"
)

// ContainerStatus is one container's point-in-time health reading, the
// input the Health Monitor derives incidents from.
type ContainerStatus struct {
	Name           string
	ServiceName    string
	State          string // "running" | "exited" | "dead" | "restarting" | "unhealthy"
	ExitCode       *int
	CPUPercent     float64
	MemoryPercent  float64
	MemoryLimitMiB float64
	RestartCount   int
	ImageName      string
	ImageAgeDays   int
}

// ContainerProbe lists the managed containers' current state.
type ContainerProbe interface {
	ListContainers(ctx context.Context) ([]ContainerStatus, error)
}

// SlowQuery is one database query whose mean latency crossed the slow
// threshold.
type SlowQuery struct {
	Query       string
	MeanSeconds float64
}

// DatabaseHealth is the Health Monitor's database-collaborator reading.
type DatabaseHealth struct {
	Reachable            bool
	LongRunningQueries    int
	SlowQueries           []SlowQuery
	UnindexedLargeTables  []string
}

// DatabaseProbe performs a trivial round-trip and, where supported, deeper
// diagnostics against a managed database.
type DatabaseProbe interface {
	Ping(ctx context.Context) error
	Health(ctx context.Context) (DatabaseHealth, error)
}

// NetworkHealth is the Health Monitor's coarse network reading.
type NetworkHealth struct {
	Reachable        bool
	ResolvesHostname bool
	LatencyMs        float64
}

// NetworkProbe pings a known address and resolves a known hostname.
type NetworkProbe interface {
	Check(ctx context.Context, address, hostname string) (NetworkHealth, error)
}

// DiskUsage is one mount point's utilization reading.
type DiskUsage struct {
	MountPoint  string
	UsedPercent float64
}

// DiskProbe reports utilization for a given mount point.
type DiskProbe interface {
	Usage(ctx context.Context, mountPoint string) (DiskUsage, error)
}

// ImageInventory reports reclaimable Docker storage for the Optimizer loop.
type ImageInventory interface {
	DanglingImages(ctx context.Context) ([]string, error)
	ReclaimableBytes(ctx context.Context) (int64, error)
}

// VulnerabilityReport is one image's scan result.
type VulnerabilityReport struct {
	Image         string
	Available     bool
	CriticalCount int
	HighCount     int
}

// VulnerabilityScanner scans a container image for known vulnerabilities.
type VulnerabilityScanner interface {
	Scan(ctx context.Context, image string) (VulnerabilityReport, error)
}

// SSLCertificate is one tracked certificate's expiry record.
type SSLCertificate struct {
	Domain    string
	ExpiresAt time.Time
}

// SSLInspector lists the certificates the Security scanner should watch.
type SSLInspector interface {
	ListCertificates(ctx context.Context) ([]SSLCertificate, error)
}

// AuthEvent is one authentication attempt the Security scanner inspects for
// brute-force patterns.
type AuthEvent struct {
	Source    string
	Success   bool
	Timestamp time.Time
}

// AuthAuditInspector returns recent authentication events since a cutoff.
type AuthAuditInspector interface {
	RecentEvents(ctx context.Context, since time.Time) ([]AuthEvent, error)
}

// ExposedPort is one container port bound to a non-loopback address.
type ExposedPort struct {
	ContainerName string
	Port          int
	BindAddress   string
}

// PortScanner lists ports exposed outside the host.
type PortScanner interface {
	ExposedPorts(ctx context.Context) ([]ExposedPort, error)
}
