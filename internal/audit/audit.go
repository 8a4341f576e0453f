// Package audit implements the append-only audit log that every tool
// execution, policy decision, and model call is recorded to.
package audit

import (
	"bytes"
	"container/ring"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry is one audit record.
type Entry struct {
	ID         string          `json:"id"`
	Time       time.Time       `json:"time"`
	Agent      string          `json:"agent"`
	Channel    string          `json:"channel,omitempty"`
	Actor      string          `json:"actor,omitempty"`
	Kind       string          `json:"kind"` // "tool", "policy", "model", "delegation"
	Name       string          `json:"name"`
	Args       json.RawMessage `json:"args,omitempty"`
	Result     string          `json:"result,omitempty"` // "allow", "deny", "ok", "error"
	Reason     string          `json:"reason,omitempty"`
	DurationMS int64           `json:"durationMs,omitempty"`
	CostUSD    float64         `json:"costUsd,omitempty"`
	Provider   string          `json:"provider,omitempty"`
	Model      string          `json:"model,omitempty"`
	InputTok   int64           `json:"inputTokens,omitempty"`
	OutputTok  int64           `json:"outputTokens,omitempty"`
}

// CostSummary aggregates spend over a window.
type CostSummary struct {
	TotalUSD     float64            `json:"totalUsd"`
	ByProvider   map[string]float64 `json:"byProvider"`
	ByAgent      map[string]float64 `json:"byAgent"`
	CallCount    int                `json:"callCount"`
}

// Backend is the persistence seam audit entries are written through. It is
// satisfied by a SharedDB-backed implementation and by the file fallback
// used when the database has degraded.
type Backend interface {
	Append(ctx context.Context, e Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
	CostSummary(ctx context.Context, since time.Time) (CostSummary, error)
}

// Log is the audit log facade used by the rest of the runtime. It never
// blocks a caller on a slow or failed backend write: failures land in a
// bounded in-memory ring buffer that a background goroutine retries.
type Log struct {
	backend Backend
	logger  *slog.Logger

	mu      sync.Mutex
	pending *ring.Ring
}

const pendingCapacity = 512

// New wraps backend with retry buffering. Call Run to start the retry loop.
func New(backend Backend, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{backend: backend, logger: logger, pending: ring.New(pendingCapacity)}
}

// Record appends an entry, assigning ID/Time if unset.
func (l *Log) Record(ctx context.Context, e Entry) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	if err := l.backend.Append(ctx, e); err != nil {
		l.logger.Warn("audit append failed, buffering for retry", "error", err, "kind", e.Kind, "name", e.Name)
		l.bufferPending(e)
	}
}

func (l *Log) bufferPending(e Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending.Value = e
	l.pending = l.pending.Next()
}

// Run drains the retry buffer on the given interval until ctx is cancelled.
func (l *Log) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.drain(ctx)
		}
	}
}

func (l *Log) drain(ctx context.Context) {
	l.mu.Lock()
	var toRetry []Entry
	l.pending.Do(func(v any) {
		if e, ok := v.(Entry); ok {
			toRetry = append(toRetry, e)
		}
	})
	l.pending = ring.New(pendingCapacity)
	l.mu.Unlock()

	for _, e := range toRetry {
		if err := l.backend.Append(ctx, e); err != nil {
			l.bufferPending(e)
		}
	}
}

// Recent returns the most recent entries, newest first.
func (l *Log) Recent(ctx context.Context, limit int) ([]Entry, error) {
	return l.backend.Recent(ctx, limit)
}

// CostSummary aggregates model spend since the given time.
func (l *Log) CostSummary(ctx context.Context, since time.Time) (CostSummary, error) {
	return l.backend.CostSummary(ctx, since)
}

// FileBackend is the degraded-mode fallback: an append-only JSONL file.
// Recent/CostSummary read and decode the whole file on each call, matching the teacher's
// per-table JSON file store idiom used elsewhere in the runtime.
type FileBackend struct {
	mu   sync.Mutex
	path string
}

// NewFileBackend opens (creating if needed) an append-only audit log at path.
func NewFileBackend(path string) (*FileBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("audit: mkdir: %w", err)
	}
	return &FileBackend{path: path}, nil
}

func (f *FileBackend) Append(_ context.Context, e Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	fh, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer fh.Close()
	enc := json.NewEncoder(fh)
	return enc.Encode(e)
}

func (f *FileBackend) readAll() ([]Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var entries []Entry
	dec := json.NewDecoder(bytes.NewReader(data))
	for {
		var e Entry
		if err := dec.Decode(&e); err != nil {
			break
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (f *FileBackend) Recent(_ context.Context, limit int) ([]Entry, error) {
	entries, err := f.readAll()
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > len(entries) {
		limit = len(entries)
	}
	out := make([]Entry, limit)
	for i := 0; i < limit; i++ {
		out[i] = entries[len(entries)-1-i]
	}
	return out, nil
}

func (f *FileBackend) CostSummary(_ context.Context, since time.Time) (CostSummary, error) {
	entries, err := f.readAll()
	if err != nil {
		return CostSummary{}, err
	}
	sum := CostSummary{ByProvider: map[string]float64{}, ByAgent: map[string]float64{}}
	for _, e := range entries {
		if e.Time.Before(since) {
			continue
		}
		if e.CostUSD == 0 {
			continue
		}
		sum.TotalUSD += e.CostUSD
		sum.ByProvider[e.Provider] += e.CostUSD
		sum.ByAgent[e.Agent] += e.CostUSD
		sum.CallCount++
	}
	return sum, nil
}
