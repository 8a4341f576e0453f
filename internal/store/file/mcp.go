package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/quantumclaw/quantumclaw/internal/store"
)

// MCPServerStore is the per-table JSON file fallback tier for registered
// remote MCP servers.
type MCPServerStore struct {
	mu      sync.Mutex
	path    string
	servers map[string]*store.MCPServerRecord
}

func NewMCPServerStore(path string) (*MCPServerStore, error) {
	s := &MCPServerStore{path: path, servers: map[string]*store.MCPServerRecord{}}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mcp file store: read %s: %w", path, err)
	}
	var list []*store.MCPServerRecord
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("mcp file store: unmarshal %s: %w", path, err)
	}
	for _, srv := range list {
		s.servers[srv.Name] = srv
	}
	return s, nil
}

func (s *MCPServerStore) persistLocked() error {
	list := make([]*store.MCPServerRecord, 0, len(s.servers))
	for _, srv := range s.servers {
		list = append(list, srv)
	}
	data, err := json.Marshal(list)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *MCPServerStore) Create(_ context.Context, srv *store.MCPServerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	srv.CreatedAt, srv.UpdatedAt = now, now
	s.servers[srv.Name] = srv
	return s.persistLocked()
}

func (s *MCPServerStore) Get(_ context.Context, name string) (*store.MCPServerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	srv, ok := s.servers[name]
	if !ok {
		return nil, fmt.Errorf("mcp file store: unknown server %q", name)
	}
	return srv, nil
}

func (s *MCPServerStore) List(_ context.Context) ([]store.MCPServerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.MCPServerRecord
	for _, srv := range s.servers {
		out = append(out, *srv)
	}
	return out, nil
}

func (s *MCPServerStore) Update(_ context.Context, name string, updates map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	srv, ok := s.servers[name]
	if !ok {
		return fmt.Errorf("mcp file store: unknown server %q", name)
	}
	if v, ok := updates["enabled"].(bool); ok {
		srv.Enabled = v
	}
	if v, ok := updates["endpoint"].(string); ok {
		srv.Endpoint = v
	}
	srv.UpdatedAt = time.Now().UTC()
	return s.persistLocked()
}

func (s *MCPServerStore) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.servers, name)
	return s.persistLocked()
}
