package heartbeat

import (
	"context"
	"testing"
	"time"
)

func TestMaybePushWeeklySummaryFiresOncePerWeek(t *testing.T) {
	var pushes int
	h := New(func(_ context.Context, _, _, _ string) error {
		pushes++
		return nil
	})

	now := time.Date(2026, 7, 27, 9, 0, 0, 0, time.UTC) // Monday
	if err := h.MaybePushWeeklySummary(context.Background(), "telegram", "1", "summary", now); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := h.MaybePushWeeklySummary(context.Background(), "telegram", "1", "summary", now.Add(2*24*time.Hour)); err != nil {
		t.Fatalf("push: %v", err)
	}
	if pushes != 1 {
		t.Fatalf("got %d pushes, want 1 (same ISO week)", pushes)
	}

	nextWeek := now.AddDate(0, 0, 8)
	if err := h.MaybePushWeeklySummary(context.Background(), "telegram", "1", "summary", nextWeek); err != nil {
		t.Fatalf("push: %v", err)
	}
	if pushes != 2 {
		t.Fatalf("got %d pushes, want 2 after a new ISO week", pushes)
	}
}

func TestMaybePushAutoLearnRespectsQuietHoursAndQuota(t *testing.T) {
	var pushes int
	h := New(func(_ context.Context, _, _, _ string) error {
		pushes++
		return nil
	})

	quiet := time.Date(2026, 7, 27, 23, 0, 0, 0, time.Local)
	if err := h.MaybePushAutoLearn(context.Background(), "telegram", "1", "hi", quiet); err != nil {
		t.Fatalf("push: %v", err)
	}
	if pushes != 0 {
		t.Fatalf("got %d pushes during quiet hours, want 0", pushes)
	}

	awake := time.Date(2026, 7, 27, 14, 0, 0, 0, time.Local)
	for i := 0; i < 5; i++ {
		_ = h.MaybePushAutoLearn(context.Background(), "telegram", "1", "hi", awake)
	}
	if pushes != 3 {
		t.Fatalf("got %d pushes, want 3 (daily quota)", pushes)
	}
}

func TestRecordActivityNarrowsQuietHours(t *testing.T) {
	h := New(func(_ context.Context, _, _, _ string) error { return nil })
	at := time.Date(2026, 7, 27, 23, 30, 0, 0, time.Local)
	h.RecordActivity("telegram", "1", at)

	h.mu.Lock()
	lp := h.learned["telegram:1"]
	h.mu.Unlock()
	if lp == nil {
		t.Fatalf("expected learned pattern to be created")
	}
	if lp.QuietHourStart == 22 {
		t.Fatalf("expected quiet-hour start to narrow from observed activity")
	}
}
