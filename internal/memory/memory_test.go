package memory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/quantumclaw/quantumclaw/internal/memory/convlog"
	"github.com/quantumclaw/quantumclaw/internal/memory/graph"
	"github.com/quantumclaw/quantumclaw/internal/memory/structured"
	"github.com/quantumclaw/quantumclaw/internal/providers"
	"github.com/quantumclaw/quantumclaw/internal/store/sqldb"
)

type stubGraph struct {
	healthy bool
	nodes   []graph.Node
}

func (g *stubGraph) Write(context.Context, string, []graph.Fact) error { return nil }
func (g *stubGraph) Search(context.Context, string, string, int) ([]graph.Node, error) {
	return g.nodes, nil
}
func (g *stubGraph) Healthy() bool { return g.healthy }

func newTestMemory(t *testing.T, g graph.Backend) *Memory {
	t.Helper()
	db, err := sqldb.Open(sqldb.SQLite, ":memory:")
	if err != nil {
		t.Fatalf("sqldb.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	structuredStore := structured.New(db.DB, db.Rebind())
	log := convlog.Open(filepath.Join(t.TempDir(), "convlog"))
	return New(log, structuredStore, g)
}

func TestSearchKnowledgeGraphFirstDedup(t *testing.T) {
	g := &stubGraph{healthy: true, nodes: []graph.Node{{ID: "n1", Label: "likes espresso"}}}
	m := newTestMemory(t, g)
	ctx := context.Background()

	if _, err := m.Remember(ctx, "a1", "u1", "likes espresso", nil); err != nil {
		t.Fatalf("Remember: %v", err)
	}
	if _, err := m.Structured.SaveKnowledge(ctx, structured.KnowledgeFact{Agent: "a1", UserID: "u1", Text: "allergic to peanuts"}); err != nil {
		t.Fatalf("SaveKnowledge: %v", err)
	}

	results, err := m.SearchKnowledge(ctx, "a1", "u1", "e", 10)
	if err != nil {
		t.Fatalf("SearchKnowledge: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2 (deduped): %+v", len(results), results)
	}
	if results[0].Source != "graph" {
		t.Fatalf("expected graph result first, got %+v", results[0])
	}
}

func TestSearchKnowledgeFallsBackWhenGraphUnhealthy(t *testing.T) {
	g := &stubGraph{healthy: false}
	m := newTestMemory(t, g)
	ctx := context.Background()

	if _, err := m.Structured.SaveKnowledge(ctx, structured.KnowledgeFact{Agent: "a1", UserID: "u1", Text: "prefers tea over coffee"}); err != nil {
		t.Fatalf("SaveKnowledge: %v", err)
	}

	results, err := m.SearchKnowledge(ctx, "a1", "u1", "tea", 10)
	if err != nil {
		t.Fatalf("SearchKnowledge: %v", err)
	}
	if len(results) != 1 || results[0].Source != "structured" {
		t.Fatalf("unexpected results: %+v", results)
	}
}

func TestRecordTurnPersistsToConvlog(t *testing.T) {
	m := newTestMemory(t, graph.Noop{})
	if err := m.RecordTurn("a1", "telegram", "u1", providers.Message{Role: "user", Content: "hello"}); err != nil {
		t.Fatalf("RecordTurn: %v", err)
	}
	hist := m.Log.History("a1", "telegram", "u1", 0)
	if len(hist) != 1 {
		t.Fatalf("got %d messages, want 1", len(hist))
	}
}
