package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestFileBackendAppendAndRecent(t *testing.T) {
	dir := t.TempDir()
	b, err := NewFileBackend(filepath.Join(dir, "audit.jsonl"))
	if err != nil {
		t.Fatalf("NewFileBackend: %v", err)
	}
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := b.Append(ctx, Entry{ID: string(rune('a' + i)), Kind: "tool", Name: "web_fetch"}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	entries, err := b.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].ID != "c" {
		t.Fatalf("got newest-first ID %q, want c", entries[0].ID)
	}
}

func TestFileBackendCostSummary(t *testing.T) {
	dir := t.TempDir()
	b, err := NewFileBackend(filepath.Join(dir, "audit.jsonl"))
	if err != nil {
		t.Fatalf("NewFileBackend: %v", err)
	}
	ctx := context.Background()
	now := time.Now().UTC()
	_ = b.Append(ctx, Entry{Time: now, Kind: "model", Provider: "anthropic", Agent: "default", CostUSD: 0.05})
	_ = b.Append(ctx, Entry{Time: now, Kind: "model", Provider: "openai", Agent: "default", CostUSD: 0.02})

	sum, err := b.CostSummary(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("CostSummary: %v", err)
	}
	if sum.CallCount != 2 {
		t.Fatalf("got %d calls, want 2", sum.CallCount)
	}
	if sum.TotalUSD < 0.069 || sum.TotalUSD > 0.071 {
		t.Fatalf("got total %f, want ~0.07", sum.TotalUSD)
	}
}

type recordingBackend struct {
	fail    bool
	entries []Entry
}

func (r *recordingBackend) Append(_ context.Context, e Entry) error {
	if r.fail {
		return context.DeadlineExceeded
	}
	r.entries = append(r.entries, e)
	return nil
}
func (r *recordingBackend) Recent(_ context.Context, limit int) ([]Entry, error) { return r.entries, nil }
func (r *recordingBackend) CostSummary(_ context.Context, _ time.Time) (CostSummary, error) {
	return CostSummary{}, nil
}

func TestLogBuffersOnBackendFailure(t *testing.T) {
	backend := &recordingBackend{fail: true}
	log := New(backend, nil)
	log.Record(context.Background(), Entry{Kind: "tool", Name: "shell"})

	backend.fail = false
	log.drain(context.Background())

	if len(backend.entries) != 1 {
		t.Fatalf("got %d entries after drain, want 1", len(backend.entries))
	}
}
