package graph

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNoopIsSafeDefault(t *testing.T) {
	var n Noop
	if n.Healthy() {
		t.Fatalf("noop backend should never report healthy")
	}
	if err := n.Write(context.Background(), "scope", []Fact{{Subject: "a", Predicate: "knows", Object: "b"}}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	nodes, err := n.Search(context.Background(), "scope", "q", 5)
	if err != nil || nodes != nil {
		t.Fatalf("Search: got %v, %v", nodes, err)
	}
}

func TestCogneeWriteAndSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/health":
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodPost && r.URL.Path == "/v1/graphs/agent1/facts":
			w.WriteHeader(http.StatusCreated)
		case r.Method == http.MethodPost && r.URL.Path == "/v1/graphs/agent1/search":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"nodes": []Node{{ID: "n1", Label: "paris", Neighbors: []string{"n2"}}},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewCognee(context.Background(), Config{Enabled: true, BaseURL: srv.URL, APIKey: "k", Timeout: 2 * time.Second})
	if err := c.Write(context.Background(), "agent1", []Fact{{Subject: "user", Predicate: "livesIn", Object: "paris"}}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	c.probeOnce(context.Background())
	nodes, err := c.Search(context.Background(), "agent1", "paris", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(nodes) != 1 || nodes[0].Label != "paris" {
		t.Fatalf("unexpected nodes: %+v", nodes)
	}
}
