package skills

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleSkill = `# Weather Lookup

## Auth
- api_key

## Endpoints
- GET https://api.weather.example/v1/current

## Permissions
- web_fetch
- {tool: "memory_search", allow: true,}

## Implementation

Call the endpoint with the configured API key and summarize the result.
`

func TestParse(t *testing.T) {
	s, err := Parse(strings.NewReader(sampleSkill))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if s.Name != "Weather Lookup" {
		t.Fatalf("got name %q", s.Name)
	}
	if s.Auth != "api_key" {
		t.Fatalf("got auth %q", s.Auth)
	}
	if len(s.Endpoints) != 1 {
		t.Fatalf("got %d endpoints", len(s.Endpoints))
	}
	if len(s.Permissions) != 2 || s.Permissions[1] != "memory_search" {
		t.Fatalf("got permissions %v", s.Permissions)
	}
	if !strings.Contains(s.Implementation, "Call the endpoint") {
		t.Fatalf("got implementation %q", s.Implementation)
	}
}

func TestLoadAll(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "weather.md"), []byte(sampleSkill), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	l := New(dir)
	all, err := l.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("got %d skills", len(all))
	}
}

func TestForAgentFiltering(t *testing.T) {
	all := []Skill{
		{Name: "global"},
		{Name: "scoped", Agents: []string{"ops"}},
	}
	filtered := ForAgent(all, "ops")
	if len(filtered) != 2 {
		t.Fatalf("got %d, want 2", len(filtered))
	}
	filtered = ForAgent(all, "other")
	if len(filtered) != 1 || filtered[0].Name != "global" {
		t.Fatalf("got %v", filtered)
	}
}
