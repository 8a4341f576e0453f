package agentregistry

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadHatchesWhenEmpty(t *testing.T) {
	dir := t.TempDir()
	r := New(filepath.Join(dir, "agents"))
	if err := r.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	a, ok := r.Primary()
	if !ok {
		t.Fatalf("expected a primary agent")
	}
	if a.Name != "default" || a.Hatched {
		t.Fatalf("got %+v, want unhatched default", a)
	}
}

func TestLoadDiscoversExistingAgents(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "agents")
	mustMkdirAll(t, filepath.Join(base, "ops"))
	mustWriteFile(t, filepath.Join(base, "ops", "SOUL.md"), "I am Ops, the infra agent.")
	mustWriteFile(t, filepath.Join(base, "ops", ".primary"), "")

	r := New(base)
	if err := r.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	a, ok := r.Primary()
	if !ok || a.Name != "ops" {
		t.Fatalf("got %+v, want primary ops", a)
	}
	if !a.Hatched {
		t.Fatalf("expected hatched agent with non-empty SOUL.md")
	}
}

func TestRenameHatchling(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "agents")
	r := New(base)
	if err := r.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := r.RenameHatchling("default", "Nova", "I am Nova."); err != nil {
		t.Fatalf("RenameHatchling: %v", err)
	}
	a, ok := r.Primary()
	if !ok || a.Name != "nova" {
		t.Fatalf("got %+v, want primary nova", a)
	}
	if !a.Hatched {
		t.Fatalf("expected hatched")
	}
}

func mustMkdirAll(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", path, err)
	}
}

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
