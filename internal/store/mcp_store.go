package store

import (
	"context"
	"encoding/json"
	"time"
)

// MCPServerRecord is one registered remote MCP tool server. Single-tenant
// QuantumClaw has no per-user/per-agent grant workflow: registering a
// server makes its tools available to every agent, subject to the
// TrustKernel and ToolRegistry's own allow/deny rules.
type MCPServerRecord struct {
	Name       string          `json:"name"`
	Transport  string          `json:"transport"` // "stdio", "sse", "streamable-http"
	Endpoint   string          `json:"endpoint"`  // command (stdio) or URL (sse/http)
	Env        json.RawMessage `json:"env,omitempty"`
	Credential string          `json:"credential,omitempty"` // secrets-store key, not the raw value
	ToolPrefix string          `json:"toolPrefix,omitempty"`
	TimeoutSec int             `json:"timeoutSec,omitempty"`
	Enabled    bool            `json:"enabled"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// MCPServerStore manages registered remote MCP servers.
type MCPServerStore interface {
	Create(ctx context.Context, s *MCPServerRecord) error
	Get(ctx context.Context, name string) (*MCPServerRecord, error)
	List(ctx context.Context) ([]MCPServerRecord, error)
	Update(ctx context.Context, name string, updates map[string]any) error
	Delete(ctx context.Context, name string) error
}
