package trust

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleValues = `# Values

## Hard Rules
- deny shell when arg:command contains "rm -rf" -- never destroy data outside the workspace
- ask exec -- confirm before running arbitrary commands

## Soft Rules
- allow web_fetch -- fetching public docs is fine

## Forbidden Contacts
- telegram:111 -- known spam account
`

func writeValues(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "VALUES.md")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoadMissingFileIsPermissive(t *testing.T) {
	k, err := Load(filepath.Join(t.TempDir(), "missing.md"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	d := k.Check("shell", map[string]any{"command": "rm -rf /"})
	if d.Effect != EffectAllow {
		t.Fatalf("got %v, want allow", d.Effect)
	}
}

func TestHardRuleDeniesMatchingArg(t *testing.T) {
	k, err := Load(writeValues(t, sampleValues))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	d := k.Check("shell", map[string]any{"command": "rm -rf /tmp/x"})
	if d.Effect != EffectDeny {
		t.Fatalf("got %v, want deny", d.Effect)
	}
}

func TestHardRuleAsksForExec(t *testing.T) {
	k, err := Load(writeValues(t, sampleValues))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	d := k.Check("exec", map[string]any{"command": "ls"})
	if d.Effect != EffectAsk {
		t.Fatalf("got %v, want ask", d.Effect)
	}
}

func TestUnmatchedToolDefaultsAllow(t *testing.T) {
	k, err := Load(writeValues(t, sampleValues))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	d := k.Check("memory_search", nil)
	if d.Effect != EffectAllow {
		t.Fatalf("got %v, want allow", d.Effect)
	}
}

func TestForbiddenContact(t *testing.T) {
	k, err := Load(writeValues(t, sampleValues))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if d := k.CheckContact("telegram", "111"); d.Effect != EffectDeny {
		t.Fatalf("got %v, want deny", d.Effect)
	}
	if d := k.CheckContact("telegram", "999"); d.Effect != EffectAllow {
		t.Fatalf("got %v, want allow", d.Effect)
	}
}
