// Package queue implements DeliveryQueue: outbound messages that could not
// be delivered immediately are retried with exponential backoff before
// being marked dead.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quantumclaw/quantumclaw/internal/bus"
)

// Status is the lifecycle state of a delivery item.
type Status string

const (
	StatusPending Status = "pending"
	StatusDone    Status = "done"
	StatusDead    Status = "dead"
)

// Item is one queued outbound delivery.
type Item struct {
	ID          string             `json:"id"`
	Message     bus.OutboundMessage `json:"message"`
	Status      Status             `json:"status"`
	Attempts    int                `json:"attempts"`
	MaxAttempts int                `json:"maxAttempts"`
	NextAttempt time.Time          `json:"nextAttempt"`
	LastError   string             `json:"lastError,omitempty"`
	CreatedAt   time.Time          `json:"createdAt"`
}

// Sender is the delivery callback the queue drains into, typically
// ChannelManager.Send.
type Sender func(ctx context.Context, msg bus.OutboundMessage) error

const defaultMaxAttempts = 6

// Queue is a file-persisted delivery queue with exponential backoff.
type Queue struct {
	mu     sync.Mutex
	path   string
	items  map[string]*Item
	logger *slog.Logger
}

// Open loads (or initializes) the queue file at path.
func Open(path string) (*Queue, error) {
	q := &Queue{path: path, items: map[string]*Item{}, logger: slog.Default()}
	if err := q.load(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *Queue) load() error {
	data, err := os.ReadFile(q.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("queue: read %s: %w", q.path, err)
	}
	var items []*Item
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("queue: unmarshal %s: %w", q.path, err)
	}
	for _, it := range items {
		q.items[it.ID] = it
	}
	return nil
}

func (q *Queue) persistLocked() error {
	items := make([]*Item, 0, len(q.items))
	for _, it := range q.items {
		items = append(items, it)
	}
	data, err := json.Marshal(items)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(q.path), 0o755); err != nil {
		return err
	}
	tmp := q.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, q.path)
}

// Enqueue adds a new pending delivery.
func (q *Queue) Enqueue(msg bus.OutboundMessage) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	id := uuid.NewString()
	q.items[id] = &Item{
		ID:          id,
		Message:     msg,
		Status:      StatusPending,
		MaxAttempts: defaultMaxAttempts,
		NextAttempt: time.Now(),
		CreatedAt:   time.Now().UTC(),
	}
	return id, q.persistLocked()
}

// Drain attempts delivery of every pending item whose NextAttempt has
// passed, using send. Call on a ticker.
func (q *Queue) Drain(ctx context.Context, send Sender) {
	q.mu.Lock()
	due := make([]*Item, 0)
	now := time.Now()
	for _, it := range q.items {
		if it.Status == StatusPending && !it.NextAttempt.After(now) {
			due = append(due, it)
		}
	}
	q.mu.Unlock()

	for _, it := range due {
		err := send(ctx, it.Message)
		q.mu.Lock()
		it.Attempts++
		if err == nil {
			it.Status = StatusDone
		} else {
			it.LastError = err.Error()
			if it.Attempts >= it.MaxAttempts {
				it.Status = StatusDead
				q.logger.Warn("queue: delivery dead-lettered", "id", it.ID, "attempts", it.Attempts, "error", err)
			} else {
				backoff := time.Duration(1<<uint(it.Attempts)) * time.Second
				if backoff > 10*time.Minute {
					backoff = 10 * time.Minute
				}
				it.NextAttempt = time.Now().Add(backoff)
			}
		}
		_ = q.persistLocked()
		q.mu.Unlock()
	}
}

// Run periodically drains the queue until ctx is cancelled.
func (q *Queue) Run(ctx context.Context, interval time.Duration, send Sender) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			q.Drain(ctx, send)
		}
	}
}

// Pending returns all pending items, for dashboard display.
func (q *Queue) Pending() []*Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*Item
	for _, it := range q.items {
		if it.Status == StatusPending {
			out = append(out, it)
		}
	}
	return out
}
