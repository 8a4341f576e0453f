package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/quantumclaw/quantumclaw/internal/providers"
)

func TestKeyIsStableAndTruncated(t *testing.T) {
	msgs := []providers.Message{{Role: "user", Content: "hi"}}
	k1 := Key(msgs, "claude-opus")
	k2 := Key(msgs, "claude-opus")
	if k1 != k2 {
		t.Fatalf("key not stable: %q vs %q", k1, k2)
	}
	if len(k1) != hashKeyChars {
		t.Fatalf("got len %d, want %d", len(k1), hashKeyChars)
	}
	if k1 == Key(msgs, "gpt-4") {
		t.Fatalf("expected distinct keys for distinct models")
	}
}

func TestLRUSetGetPersist(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "completion-cache.json")
	c, err := NewLRU(path, time.Hour)
	if err != nil {
		t.Fatalf("NewLRU: %v", err)
	}
	ctx := context.Background()
	if err := c.Set(ctx, "k1", Entry{Response: providers.ChatResponse{Content: "hello"}}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	reopened, err := NewLRU(path, time.Hour)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	e, ok := reopened.Get(ctx, "k1")
	if !ok {
		t.Fatalf("expected hit after reopen")
	}
	if e.Response.Content != "hello" {
		t.Fatalf("got %q", e.Response.Content)
	}
}

func TestLRUExpiry(t *testing.T) {
	dir := t.TempDir()
	c, err := NewLRU(filepath.Join(dir, "cache.json"), time.Millisecond)
	if err != nil {
		t.Fatalf("NewLRU: %v", err)
	}
	ctx := context.Background()
	_ = c.Set(ctx, "k", Entry{})
	time.Sleep(5 * time.Millisecond)
	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatalf("expected expired entry to miss")
	}
}

func TestLRUTrimsOverCapacity(t *testing.T) {
	dir := t.TempDir()
	c, err := NewLRU(filepath.Join(dir, "cache.json"), time.Hour)
	if err != nil {
		t.Fatalf("NewLRU: %v", err)
	}
	ctx := context.Background()
	for i := 0; i < maxEntries+10; i++ {
		key := Key([]providers.Message{{Role: "user", Content: string(rune(i))}}, "m")
		_ = c.Set(ctx, key, Entry{})
	}
	// The insert that takes the list past maxEntries trims it to trimTo;
	// the remaining 9 inserts are added on top of that.
	if got, want := c.ll.Len(), trimTo+9; got != want {
		t.Fatalf("got %d entries, want %d (trimmed to %d, then 9 more inserts)", got, want, trimTo)
	}
}
