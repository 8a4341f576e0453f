package secrets

import (
	"path/filepath"
	"testing"
)

func TestStoreSetGetPersist(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "secrets.enc")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Set("anthropic_api_key", "sk-ant-verysecret"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := reopened.Get("anthropic_api_key")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "sk-ant-verysecret" {
		t.Fatalf("got %q, want sk-ant-verysecret", got)
	}
}

func TestStoreGetMissing(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "secrets.enc"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := s.Get("missing"); err != ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestStoreDelete(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "secrets.enc"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = s.Set("k", "v")
	if err := s.Delete("k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get("k"); err != ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestRedact(t *testing.T) {
	if got := Redact("sk-ant-abcdef1234"); got != "sk****34" {
		t.Fatalf("got %q", got)
	}
	if got := Redact("ab"); got != "****" {
		t.Fatalf("got %q", got)
	}
}
