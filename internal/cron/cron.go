// Package cron implements persisted cron jobs: a file-backed job store,
// standard 6-field cron expression scheduling via robfig/cron, and retry
// backoff for handler failures.
package cron

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// RetryConfig bounds how a failed job run is retried before being given up on.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryConfig matches the gateway's provider retry defaults: 3
// retries after the first attempt, 2s base delay, 30s cap.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 3, BaseDelay: 2 * time.Second, MaxDelay: 30 * time.Second}
}

func (rc RetryConfig) backoff(attempt int) time.Duration {
	d := rc.BaseDelay << uint(attempt)
	if d > rc.MaxDelay {
		d = rc.MaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(d)/4 + 1))
	return d + jitter
}

// Payload describes what a job run should do once dispatched to an agent.
type Payload struct {
	Message string `json:"message"`
	Channel string `json:"channel,omitempty"`
	To      string `json:"to,omitempty"`
	Deliver bool   `json:"deliver,omitempty"`
}

// Job is a single scheduled cron entry.
type Job struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	AgentID   string    `json:"agent_id,omitempty"`
	Expr      string    `json:"expr"` // 6-field cron expression, or a descriptor like "@hourly"
	Payload   Payload   `json:"payload"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	LastRun   time.Time `json:"last_run,omitempty"`
	NextRun   time.Time `json:"next_run,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// Result is what a job handler returns after a successful run.
type Result struct {
	Content      string
	InputTokens  int
	OutputTokens int
}

// Handler executes one job run and returns its outcome.
type Handler func(ctx context.Context, job *Job) (*Result, error)

// Store is a file-persisted collection of cron jobs.
type Store struct {
	mu   sync.Mutex
	path string
	jobs map[string]*Job
}

// Open loads (or initializes) the job store file at path.
func Open(path string) (*Store, error) {
	s := &Store{path: path, jobs: map[string]*Job{}}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("cron: read %s: %w", s.path, err)
	}
	var jobs []*Job
	if err := json.Unmarshal(data, &jobs); err != nil {
		return fmt.Errorf("cron: unmarshal %s: %w", s.path, err)
	}
	for _, j := range jobs {
		s.jobs[j.ID] = j
	}
	return nil
}

func (s *Store) persistLocked() error {
	jobs := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	data, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Add validates the cron expression and persists a new job.
func (s *Store) Add(name, agentID, expr string, payload Payload) (*Job, error) {
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("cron: invalid expression %q: %w", expr, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job := &Job{
		ID:        uuid.NewString(),
		Name:      name,
		AgentID:   agentID,
		Expr:      expr,
		Payload:   payload,
		Enabled:   true,
		CreatedAt: time.Now().UTC(),
		NextRun:   schedule.Next(time.Now()),
	}
	s.jobs[job.ID] = job
	return job, s.persistLocked()
}

// Remove deletes a job by ID.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return fmt.Errorf("cron: job %s not found", id)
	}
	delete(s.jobs, id)
	return s.persistLocked()
}

// List returns every job, most recently created first.
func (s *Store) List() []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	return out
}

// Get returns a single job by ID.
func (s *Store) Get(id string) (*Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	return j, ok
}

// SetEnabled toggles whether a job is dispatched by the scheduler.
func (s *Store) SetEnabled(id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("cron: job %s not found", id)
	}
	j.Enabled = enabled
	return s.persistLocked()
}

// Scheduler ticks over a Store, dispatching due jobs to a Handler with
// retry backoff on failure.
type Scheduler struct {
	store   *Store
	handler Handler
	retry   RetryConfig
	logger  *slog.Logger
}

// NewScheduler builds a Scheduler over store, dispatching due jobs to handler.
func NewScheduler(store *Store, handler Handler, retry RetryConfig) *Scheduler {
	return &Scheduler{store: store, handler: handler, retry: retry, logger: slog.Default()}
}

// Run ticks every interval until ctx is cancelled, running any job whose
// NextRun has passed.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now()
	s.store.mu.Lock()
	due := make([]*Job, 0)
	for _, j := range s.store.jobs {
		if j.Enabled && !j.NextRun.IsZero() && !j.NextRun.After(now) {
			due = append(due, j)
		}
	}
	s.store.mu.Unlock()

	for _, job := range due {
		s.runWithRetry(ctx, job)
		s.advance(job)
	}
}

func (s *Scheduler) runWithRetry(ctx context.Context, job *Job) {
	var lastErr error
	for attempt := 0; attempt <= s.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.retry.backoff(attempt - 1)):
			}
		}
		result, err := s.handler(ctx, job)
		if err == nil {
			s.store.mu.Lock()
			job.LastRun = time.Now().UTC()
			job.LastError = ""
			s.store.persistLocked()
			s.store.mu.Unlock()
			_ = result
			return
		}
		lastErr = err
		s.logger.Warn("cron: job run failed", "job", job.Name, "attempt", attempt+1, "error", err)
	}
	s.store.mu.Lock()
	job.LastRun = time.Now().UTC()
	if lastErr != nil {
		job.LastError = lastErr.Error()
	}
	s.store.persistLocked()
	s.store.mu.Unlock()
}

func (s *Scheduler) advance(job *Job) {
	schedule, err := parser.Parse(job.Expr)
	if err != nil {
		s.logger.Error("cron: job has invalid expression, disabling", "job", job.Name, "error", err)
		s.store.SetEnabled(job.ID, false)
		return
	}
	s.store.mu.Lock()
	job.NextRun = schedule.Next(time.Now())
	s.store.persistLocked()
	s.store.mu.Unlock()
}
