// Package memory is the MemorySubsystem facade: conversation log, structured
// knowledge/threads/context, and an optional graph backend, unified behind
// the remember/recall/search_knowledge tool surface.
package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/quantumclaw/quantumclaw/internal/memory/convlog"
	"github.com/quantumclaw/quantumclaw/internal/memory/graph"
	"github.com/quantumclaw/quantumclaw/internal/memory/structured"
	"github.com/quantumclaw/quantumclaw/internal/providers"
)

// Memory composes the three storage layers behind one API.
type Memory struct {
	Log        *convlog.Log
	Structured *structured.Store
	Graph      graph.Backend
}

// New wires the three layers. graphBackend may be graph.Noop{} when the
// cognee integration is disabled.
func New(log *convlog.Log, structuredStore *structured.Store, graphBackend graph.Backend) *Memory {
	if graphBackend == nil {
		graphBackend = graph.Noop{}
	}
	return &Memory{Log: log, Structured: structuredStore, Graph: graphBackend}
}

// RecordTurn appends a message to the conversation log.
func (m *Memory) RecordTurn(agent, channel, userID string, msg providers.Message) error {
	return m.Log.Append(agent, channel, userID, msg)
}

// Remember saves a durable fact to the structured store and, when the
// graph backend is healthy, also as a graph triple so later graph-walk
// queries can surface it associatively.
func (m *Memory) Remember(ctx context.Context, agent, userID, text string, tags []string) (string, error) {
	id, err := m.Structured.SaveKnowledge(ctx, structured.KnowledgeFact{
		Agent: agent, UserID: userID, Text: text, Tags: tags,
	})
	if err != nil {
		return "", fmt.Errorf("memory: remember: %w", err)
	}
	if m.Graph.Healthy() {
		if err := m.Graph.Write(ctx, scope(agent, userID), []graph.Fact{{Subject: userID, Predicate: "stated", Object: text}}); err != nil {
			// Graph write is best-effort; the structured fact already landed.
			return id, nil
		}
	}
	return id, nil
}

// Result is one merged search_knowledge hit.
type Result struct {
	Text   string
	Source string // "graph" or "structured"
}

// SearchKnowledge merges graph and structured hits: graph results first
// (they carry associative context the substring match can't), then
// structured results not already present, deduplicated by text.
func (m *Memory) SearchKnowledge(ctx context.Context, agent, userID, query string, limit int) ([]Result, error) {
	seen := map[string]bool{}
	var out []Result

	if m.Graph.Healthy() {
		nodes, err := m.Graph.Search(ctx, scope(agent, userID), query, limit)
		if err == nil {
			for _, n := range nodes {
				key := strings.ToLower(strings.TrimSpace(n.Label))
				if key == "" || seen[key] {
					continue
				}
				seen[key] = true
				out = append(out, Result{Text: n.Label, Source: "graph"})
			}
		}
	}

	facts, err := m.Structured.SearchKnowledge(ctx, agent, userID, query, limit)
	if err != nil {
		return out, fmt.Errorf("memory: search knowledge: %w", err)
	}
	for _, f := range facts {
		key := strings.ToLower(strings.TrimSpace(f.Text))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, Result{Text: f.Text, Source: "structured"})
	}

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func scope(agent, userID string) string {
	return agent + ":" + userID
}
