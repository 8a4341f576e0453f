// Package agentregistry implements the AgentRegistry: discovery of agents
// from workspace/agents/<name>/ directories and the first-boot "hatching"
// flow that names a freshly created primary agent.
package agentregistry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/quantumclaw/quantumclaw/internal/skills"
)

// Agent is one loaded agent definition.
type Agent struct {
	Name      string
	Dir       string
	Soul      string // contents of SOUL.md
	Skills    []skills.Skill
	IsPrimary bool
	Hatched   bool // true once the primary agent has picked a name
}

// Registry discovers and holds agents from a workspace directory.
type Registry struct {
	mu       sync.RWMutex
	baseDir  string
	agents   map[string]*Agent
	primary  string
}

// New builds a Registry rooted at baseDir (workspace/agents).
func New(baseDir string) *Registry {
	return &Registry{baseDir: baseDir, agents: map[string]*Agent{}}
}

// Load scans baseDir for agent subdirectories and parses each SOUL.md and
// skills directory. The first agent alphabetically, or the one named
// "default", becomes primary unless a directory is marked via a
// ".primary" marker file.
func (r *Registry) Load() error {
	entries, err := os.ReadDir(r.baseDir)
	if os.IsNotExist(err) {
		return r.hatch()
	}
	if err != nil {
		return fmt.Errorf("agentregistry: read dir %s: %w", r.baseDir, err)
	}

	loaded := map[string]*Agent{}
	var names []string
	var primary string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(r.baseDir, e.Name())
		soulPath := filepath.Join(dir, "SOUL.md")
		soul, err := os.ReadFile(soulPath)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("agentregistry: read %s: %w", soulPath, err)
		}

		skillLoader := skills.New(filepath.Join(dir, "skills"))
		agentSkills, err := skillLoader.LoadAll()
		if err != nil {
			return fmt.Errorf("agentregistry: load skills for %s: %w", e.Name(), err)
		}

		a := &Agent{Name: e.Name(), Dir: dir, Soul: string(soul), Skills: agentSkills}
		if _, err := os.Stat(filepath.Join(dir, ".primary")); err == nil {
			a.IsPrimary = true
			primary = a.Name
		}
		a.Hatched = len(soul) > 0
		loaded[a.Name] = a
		names = append(names, a.Name)
	}

	if len(loaded) == 0 {
		return r.hatch()
	}

	if primary == "" {
		sort.Strings(names)
		for _, n := range names {
			if n == "default" {
				primary = n
				break
			}
		}
		if primary == "" {
			primary = names[0]
		}
		loaded[primary].IsPrimary = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents = loaded
	r.primary = primary
	return nil
}

// hatch creates the first-boot "default" agent directory with an empty,
// unhatched SOUL.md placeholder. The agent names itself on first
// conversation by writing its own SOUL.md; Hatched flips to true once
// that file is non-empty.
func (r *Registry) hatch() error {
	dir := filepath.Join(r.baseDir, "default")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("agentregistry: hatch mkdir: %w", err)
	}
	soulPath := filepath.Join(dir, "SOUL.md")
	if _, err := os.Stat(soulPath); os.IsNotExist(err) {
		if err := os.WriteFile(soulPath, nil, 0o644); err != nil {
			return fmt.Errorf("agentregistry: hatch write SOUL.md: %w", err)
		}
	}
	marker := filepath.Join(dir, ".primary")
	if _, err := os.Stat(marker); os.IsNotExist(err) {
		_ = os.WriteFile(marker, nil, 0o644)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents["default"] = &Agent{Name: "default", Dir: dir, IsPrimary: true, Hatched: false}
	r.primary = "default"
	return nil
}

// Primary returns the runtime's primary agent.
func (r *Registry) Primary() (*Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[r.primary]
	return a, ok
}

// Get returns the agent by name.
func (r *Registry) Get(name string) (*Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[name]
	return a, ok
}

// List returns all known agent names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.agents))
	for n := range r.agents {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// DelegationTargets returns the names of every other known agent — the
// sibling directories a spawn-agent/delegate tool call may target.
func (r *Registry) DelegationTargets(exclude string) []string {
	var out []string
	for _, n := range r.List() {
		if n != exclude {
			out = append(out, n)
		}
	}
	return out
}

// RenameHatchling finalizes a freshly hatched agent's identity: the agent
// (via its own SOUL.md-writing tool call) has picked a name, so its
// directory and registry entry move from the placeholder "default" slot.
func (r *Registry) RenameHatchling(oldName, newName, soul string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[oldName]
	if !ok {
		return fmt.Errorf("agentregistry: unknown agent %q", oldName)
	}
	newDir := filepath.Join(r.baseDir, sanitizeName(newName))
	if err := os.Rename(a.Dir, newDir); err != nil {
		return fmt.Errorf("agentregistry: rename dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(newDir, "SOUL.md"), []byte(soul), 0o644); err != nil {
		return fmt.Errorf("agentregistry: write SOUL.md: %w", err)
	}

	delete(r.agents, oldName)
	a.Name = sanitizeName(newName)
	a.Dir = newDir
	a.Soul = soul
	a.Hatched = true
	r.agents[a.Name] = a
	if r.primary == oldName {
		r.primary = a.Name
	}
	return nil
}

func sanitizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteByte('-')
		}
	}
	if b.Len() == 0 {
		return "agent"
	}
	return b.String()
}
