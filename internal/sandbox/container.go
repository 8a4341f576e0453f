package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"
)

// container wraps a running docker container id and the last time it was
// touched. Nothing in this package prunes idle containers; they are stopped
// only by Stop or ReleaseAll.
type container struct {
	id       string
	lastUsed time.Time
}

func (c *container) ID() string { return c.id }

func (c *container) Exec(ctx context.Context, argv []string, cwd string) (string, error) {
	args := []string{"exec", "-w", cwd, c.id}
	args = append(args, argv...)
	cmd := exec.CommandContext(ctx, "docker", args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	c.lastUsed = time.Now()
	return out.String(), err
}

// containerPool keys live containers by scope key ("session:<id>",
// "agent:<id>", or "shared") and lazily creates one the first time a key
// is requested.
type containerPool struct {
	mu         sync.Mutex
	cfg        Config
	containers map[string]*container
}

func newContainerPool(cfg Config) *containerPool {
	return &containerPool{cfg: cfg, containers: make(map[string]*container)}
}

func (p *containerPool) acquire(ctx context.Context, key, workspace string) (Sandbox, error) {
	scopedKey := p.scopedKey(key)

	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.containers[scopedKey]; ok {
		c.lastUsed = time.Now()
		return c, nil
	}

	id, err := p.create(ctx, workspace)
	if err != nil {
		return nil, fmt.Errorf("sandbox: create container: %w", err)
	}
	c := &container{id: id, lastUsed: time.Now()}
	p.containers[scopedKey] = c
	return c, nil
}

func (p *containerPool) scopedKey(key string) string {
	switch p.cfg.Scope {
	case ScopeShared:
		return "shared"
	default:
		return string(p.cfg.Scope) + ":" + key
	}
}

func (p *containerPool) create(ctx context.Context, workspace string) (string, error) {
	args := []string{"run", "-d", "--rm"}
	if p.cfg.MemoryMB > 0 {
		args = append(args, "-m", fmt.Sprintf("%dm", p.cfg.MemoryMB))
	}
	if p.cfg.CPUs > 0 {
		args = append(args, "--cpus", fmt.Sprintf("%.2f", p.cfg.CPUs))
	}
	if !p.cfg.NetworkEnabled {
		args = append(args, "--network", "none")
	}
	if p.cfg.ReadOnlyRoot {
		args = append(args, "--read-only")
	}
	if p.cfg.TmpfsSizeMB > 0 {
		args = append(args, "--tmpfs", fmt.Sprintf("/tmp:size=%dm", p.cfg.TmpfsSizeMB))
	}
	if p.cfg.User != "" {
		args = append(args, "--user", p.cfg.User)
	}
	for k, v := range p.cfg.Env {
		args = append(args, "-e", k+"="+v)
	}
	if p.cfg.WorkspaceAccess != AccessNone && workspace != "" {
		mode := "rw"
		if p.cfg.WorkspaceAccess == AccessRO {
			mode = "ro"
		}
		args = append(args, "-v", fmt.Sprintf("%s:/workspace:%s", workspace, mode))
	}
	args = append(args, p.cfg.Image, "sleep", "infinity")

	cmd := exec.CommandContext(ctx, "docker", args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", err
	}
	id := bytes.TrimSpace(out.Bytes())

	if p.cfg.SetupCommand != "" {
		setup := exec.CommandContext(ctx, "docker", "exec", "-w", "/workspace", string(id), "sh", "-c", p.cfg.SetupCommand)
		_ = setup.Run()
	}
	return string(id), nil
}

func (p *containerPool) release(ctx context.Context, key string) error {
	scopedKey := p.scopedKey(key)
	p.mu.Lock()
	c, ok := p.containers[scopedKey]
	if ok {
		delete(p.containers, scopedKey)
	}
	p.mu.Unlock()
	if !ok {
		return nil
	}
	return exec.CommandContext(ctx, "docker", "stop", c.id).Run()
}

func (p *containerPool) releaseAll(ctx context.Context) error {
	p.mu.Lock()
	keys := make([]string, 0, len(p.containers))
	for k := range p.containers {
		keys = append(keys, k)
	}
	p.mu.Unlock()

	var firstErr error
	for _, k := range keys {
		if err := p.release(ctx, k); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
