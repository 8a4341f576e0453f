// Package graph implements the MemorySubsystem's graph layer: an HTTP
// client for a cognee-protocol-shaped knowledge graph service, with a
// no-op fallback used when the graph backend is disabled or unhealthy.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Fact is one graph write: a (subject, predicate, object) triple scoped to
// an agent/user pair.
type Fact struct {
	Subject   string `json:"subject"`
	Predicate string `json:"predicate"`
	Object    string `json:"object"`
}

// Node is a graph query result with its immediate neighbors.
type Node struct {
	ID        string   `json:"id"`
	Label     string   `json:"label"`
	Neighbors []string `json:"neighbors,omitempty"`
}

// Backend is the capability interface both implementations satisfy.
type Backend interface {
	Write(ctx context.Context, scope string, facts []Fact) error
	Search(ctx context.Context, scope, query string, limit int) ([]Node, error)
	Healthy() bool
}

// Config configures the cognee-protocol HTTP backend.
type Config struct {
	Enabled  bool
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
}

// Cognee is the HTTP-backed graph implementation.
type Cognee struct {
	cfg    Config
	client *http.Client
	token  atomic.Value // string
	mu     sync.Mutex
	healthy atomic.Bool
	logger *slog.Logger
}

// NewCognee builds a Cognee client and starts its background health probe.
func NewCognee(ctx context.Context, cfg Config) *Cognee {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	c := &Cognee{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}, logger: slog.Default()}
	c.token.Store(cfg.APIKey)
	c.healthy.Store(true)
	go c.probeLoop(ctx)
	return c
}

func (c *Cognee) probeLoop(ctx context.Context) {
	t := time.NewTicker(60 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.probeOnce(ctx)
		}
	}
}

func (c *Cognee) probeOnce(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/health", nil)
	if err != nil {
		c.healthy.Store(false)
		return
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.healthy.Store(false)
		return
	}
	defer resp.Body.Close()
	c.healthy.Store(resp.StatusCode == http.StatusOK)
}

func (c *Cognee) Healthy() bool { return c.healthy.Load() }

func (c *Cognee) doRequest(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token.Load().(string))

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		if err := c.refreshToken(ctx); err != nil {
			return nil, fmt.Errorf("graph: refresh token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.token.Load().(string))
		return c.client.Do(req)
	}
	return resp, nil
}

func (c *Cognee) refreshToken(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/auth/refresh", bytes.NewReader([]byte(`{"apiKey":"`+c.cfg.APIKey+`"}`)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("refresh returned %d", resp.StatusCode)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return err
	}
	c.token.Store(out.Token)
	return nil
}

func (c *Cognee) Write(ctx context.Context, scope string, facts []Fact) error {
	resp, err := c.doRequest(ctx, http.MethodPost, "/v1/graphs/"+scope+"/facts", map[string]any{"facts": facts})
	if err != nil {
		return fmt.Errorf("graph: write: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("graph: write returned %d", resp.StatusCode)
	}
	return nil
}

func (c *Cognee) Search(ctx context.Context, scope, query string, limit int) ([]Node, error) {
	if !c.Healthy() {
		return nil, errors.New("graph: backend unhealthy")
	}
	resp, err := c.doRequest(ctx, http.MethodPost, "/v1/graphs/"+scope+"/search", map[string]any{"query": query, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("graph: search: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("graph: search returned %d", resp.StatusCode)
	}
	var out struct {
		Nodes []Node `json:"nodes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("graph: decode search response: %w", err)
	}
	return out.Nodes, nil
}

// Noop is used when memory.cognee.enabled is false.
type Noop struct{}

func (Noop) Write(context.Context, string, []Fact) error            { return nil }
func (Noop) Search(context.Context, string, string, int) ([]Node, error) { return nil, nil }
func (Noop) Healthy() bool                                          { return false }
