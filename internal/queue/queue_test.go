package queue

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/quantumclaw/quantumclaw/internal/bus"
)

func TestEnqueueAndDrainSuccess(t *testing.T) {
	q, err := Open(filepath.Join(t.TempDir(), "queue.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	id, err := q.Enqueue(bus.OutboundMessage{Channel: "telegram", ChatID: "1", Content: "hi"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	var sent bool
	q.Drain(context.Background(), func(_ context.Context, msg bus.OutboundMessage) error {
		sent = true
		if msg.Content != "hi" {
			t.Fatalf("got content %q", msg.Content)
		}
		return nil
	})
	if !sent {
		t.Fatalf("expected delivery attempt")
	}
	if q.items[id].Status != StatusDone {
		t.Fatalf("got status %v, want done", q.items[id].Status)
	}
}

func TestDrainDeadLettersAfterMaxAttempts(t *testing.T) {
	q, err := Open(filepath.Join(t.TempDir(), "queue.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	id, _ := q.Enqueue(bus.OutboundMessage{Channel: "telegram", ChatID: "1", Content: "hi"})

	for i := 0; i < defaultMaxAttempts; i++ {
		q.Drain(context.Background(), func(_ context.Context, _ bus.OutboundMessage) error {
			return errors.New("boom")
		})
		// Force the item due again immediately instead of waiting out the
		// real exponential backoff between retries.
		q.mu.Lock()
		if q.items[id].Status == StatusPending {
			q.items[id].NextAttempt = time.Now().Add(-time.Second)
		}
		q.mu.Unlock()
	}
	if q.items[id].Status != StatusDead {
		t.Fatalf("got status %v, want dead after %d attempts", q.items[id].Status, defaultMaxAttempts)
	}
}
