package structured

import (
	"context"
	"testing"

	"github.com/quantumclaw/quantumclaw/internal/store/sqldb"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sqldb.Open(sqldb.SQLite, ":memory:")
	if err != nil {
		t.Fatalf("sqldb.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db.DB, db.Rebind())
}

func TestAppendAndRecentMessages(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, content := range []string{"hi", "how are you", "bye"} {
		if _, err := s.AppendMessage(ctx, Message{Agent: "a1", Channel: "telegram", UserID: "u1", Role: "user", Content: content}); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}

	msgs, err := s.RecentMessages(ctx, "a1", "telegram", "u1", 2)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Content != "how are you" || msgs[1].Content != "bye" {
		t.Fatalf("unexpected order: %+v", msgs)
	}
}

func TestSaveAndSearchKnowledge(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.SaveKnowledge(ctx, KnowledgeFact{Agent: "a1", UserID: "u1", Text: "user prefers dark mode", Tags: []string{"preference"}}); err != nil {
		t.Fatalf("SaveKnowledge: %v", err)
	}
	if _, err := s.SaveKnowledge(ctx, KnowledgeFact{Agent: "a1", UserID: "u1", Text: "user's birthday is March 3"}); err != nil {
		t.Fatalf("SaveKnowledge: %v", err)
	}

	facts, err := s.SearchKnowledge(ctx, "a1", "u1", "dark mode", 10)
	if err != nil {
		t.Fatalf("SearchKnowledge: %v", err)
	}
	if len(facts) != 1 || facts[0].Text != "user prefers dark mode" {
		t.Fatalf("unexpected facts: %+v", facts)
	}
}

func TestContextRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SetContext(ctx, "a1", "timezone", "UTC+2"); err != nil {
		t.Fatalf("SetContext: %v", err)
	}
	if err := s.SetContext(ctx, "a1", "timezone", "UTC+1"); err != nil {
		t.Fatalf("SetContext (overwrite): %v", err)
	}
	v, err := s.GetContext(ctx, "a1", "timezone")
	if err != nil {
		t.Fatalf("GetContext: %v", err)
	}
	if v != "UTC+1" {
		t.Fatalf("got %q, want UTC+1", v)
	}

	missing, err := s.GetContext(ctx, "a1", "nope")
	if err != nil || missing != "" {
		t.Fatalf("got %q, %v, want empty/nil", missing, err)
	}
}
