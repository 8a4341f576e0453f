// Package sandbox routes filesystem and shell tool calls into short-lived
// Docker containers instead of the host, scoped per session/agent/share
// according to config.SandboxConfig.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// Mode controls which tool calls get sandboxed.
type Mode string

const (
	ModeOff     Mode = "off"
	ModeNonMain Mode = "non-main"
	ModeAll     Mode = "all"
)

// Access controls how much of the host workspace a container can see.
type Access string

const (
	AccessNone Access = "none"
	AccessRO   Access = "ro"
	AccessRW   Access = "rw"
)

// Scope controls how containers are keyed and reused across calls.
type Scope string

const (
	ScopeSession Scope = "session"
	ScopeAgent   Scope = "agent"
	ScopeShared  Scope = "shared"
)

// Config is the resolved sandbox configuration for a Manager.
type Config struct {
	Mode            Mode
	Image           string
	WorkspaceAccess Access
	Scope           Scope
	MemoryMB        int
	CPUs            float64
	TimeoutSec      int
	NetworkEnabled  bool
	ReadOnlyRoot    bool
	SetupCommand    string
	Env             map[string]string

	User           string
	TmpfsSizeMB    int
	MaxOutputBytes int

	IdleHours        int
	MaxAgeDays       int
	PruneIntervalMin int
}

// DefaultConfig returns the baseline sandbox configuration (mode off).
func DefaultConfig() Config {
	return Config{
		Mode:            ModeOff,
		Image:           "goclaw-sandbox:bookworm-slim",
		WorkspaceAccess: AccessRW,
		Scope:           ScopeSession,
		MemoryMB:        512,
		CPUs:            1.0,
		TimeoutSec:      300,
		ReadOnlyRoot:    true,
		MaxOutputBytes:  1 << 20,
		IdleHours:       24,
		MaxAgeDays:      7,
		PruneIntervalMin: 5,
	}
}

// ErrSandboxDisabled is returned by Manager.Get when a caller asked for a
// sandbox but the manager has no backing container runtime configured.
var ErrSandboxDisabled = errors.New("sandbox: disabled")

// Sandbox is a live container a tool call can be executed against.
type Sandbox interface {
	ID() string
	Exec(ctx context.Context, argv []string, cwd string) (string, error)
}

// Manager hands out (and reuses, per Scope) sandboxes keyed by an opaque
// caller-supplied key — usually a session key, agent id, or "shared".
type Manager interface {
	Get(ctx context.Context, key, workspace string) (Sandbox, error)
	Stop(ctx context.Context, key string) error
	ReleaseAll(ctx context.Context) error
}

// CheckDockerAvailable verifies the docker CLI is on PATH and the daemon
// answers before a DockerManager is constructed.
func CheckDockerAvailable(ctx context.Context) error {
	path, err := exec.LookPath("docker")
	if err != nil {
		return fmt.Errorf("docker binary not found: %w", err)
	}
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	cmd := exec.CommandContext(cctx, path, "info")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("docker daemon not reachable: %w", err)
	}
	return nil
}

// DockerManager runs sandboxes as Docker containers on the local host.
type DockerManager struct {
	cfg  Config
	pool *containerPool
}

// NewDockerManager builds a Manager backed by the local docker daemon.
func NewDockerManager(cfg Config) *DockerManager {
	return &DockerManager{
		cfg:  cfg,
		pool: newContainerPool(cfg),
	}
}

func (m *DockerManager) Get(ctx context.Context, key, workspace string) (Sandbox, error) {
	if m.cfg.Mode == ModeOff {
		return nil, ErrSandboxDisabled
	}
	return m.pool.acquire(ctx, key, workspace)
}

func (m *DockerManager) Stop(ctx context.Context, key string) error {
	return m.pool.release(ctx, key)
}

func (m *DockerManager) ReleaseAll(ctx context.Context) error {
	return m.pool.releaseAll(ctx)
}
