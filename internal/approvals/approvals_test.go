package approvals

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestRequestAndResolveAllow(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "approvals.json"), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	id, err := s.RequestApproval("shell", "default", map[string]any{"command": "ls"})
	if err != nil {
		t.Fatalf("RequestApproval: %v", err)
	}

	done := make(chan Decision, 1)
	go func() {
		d, _ := s.Await(context.Background(), id)
		done <- d
	}()

	time.Sleep(10 * time.Millisecond)
	if err := s.Resolve(context.Background(), id, true); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if d := <-done; d != DecisionAllow {
		t.Fatalf("got %v, want allow", d)
	}
}

func TestSweepExpiredAutoDenies(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "approvals.json"), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	id, _ := s.RequestApproval("shell", "default", nil)
	s.mu.Lock()
	s.requests[id].ExpiresAt = time.Now().Add(-time.Second)
	s.mu.Unlock()

	s.SweepExpired(context.Background())

	s.mu.Lock()
	got := s.requests[id].Decision
	s.mu.Unlock()
	if got != DecisionDeny {
		t.Fatalf("got %v, want deny", got)
	}
}

func TestPendingListsOnlyUnresolved(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "approvals.json"), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	id1, _ := s.RequestApproval("shell", "default", nil)
	_, _ = s.RequestApproval("shell", "default", nil)
	_ = s.Resolve(context.Background(), id1, true)

	if got := len(s.Pending()); got != 1 {
		t.Fatalf("got %d pending, want 1", got)
	}
}
