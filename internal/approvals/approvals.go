// Package approvals implements ExecApprovals: operator-in-the-loop
// confirmation for tool calls the policy pipeline marked as requiring
// explicit sign-off, with auto-deny once a request expires.
package approvals

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quantumclaw/quantumclaw/internal/audit"
)

// Decision is the operator's (or auto-deny's) resolution of a request.
type Decision string

const (
	DecisionPending Decision = "pending"
	DecisionAllow   Decision = "allow"
	DecisionDeny    Decision = "deny"
)

// DefaultTTL is how long a request waits before auto-denying.
const DefaultTTL = 10 * time.Minute

// Request is one pending or resolved approval.
type Request struct {
	ID          string         `json:"id"`
	Tool        string         `json:"tool"`
	Args        map[string]any `json:"args"`
	Agent       string         `json:"agent"`
	RequestedAt time.Time      `json:"requestedAt"`
	ExpiresAt   time.Time      `json:"expiresAt"`
	Decision    Decision       `json:"decision"`
	Reason      string         `json:"reason,omitempty"`
}

// Store is a file-persisted approval queue. A background ticker auto-denies
// requests past their ExpiresAt and records the denial to the audit log.
type Store struct {
	mu       sync.Mutex
	path     string
	requests map[string]*Request
	auditLog *audit.Log

	waiters map[string]chan Decision
}

// Open loads (or initializes) the approvals file at path.
func Open(path string, auditLog *audit.Log) (*Store, error) {
	s := &Store{path: path, requests: map[string]*Request{}, waiters: map[string]chan Decision{}, auditLog: auditLog}
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
		return fmt.Errorf("approvals: read %s: %w", s.path, err)
	}
	var reqs []*Request
	if err := json.Unmarshal(data, &reqs); err != nil {
		return fmt.Errorf("approvals: unmarshal %s: %w", s.path, err)
	}
	for _, r := range reqs {
		s.requests[r.ID] = r
	}
	return nil
}

func (s *Store) persistLocked() error {
	reqs := make([]*Request, 0, len(s.requests))
	for _, r := range s.requests {
		reqs = append(reqs, r)
	}
	data, err := json.Marshal(reqs)
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

// RequestApproval enqueues a new pending request and returns its ID.
func (s *Store) RequestApproval(tool, agent string, args map[string]any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	now := time.Now().UTC()
	s.requests[id] = &Request{
		ID: id, Tool: tool, Agent: agent, Args: args,
		RequestedAt: now, ExpiresAt: now.Add(DefaultTTL), Decision: DecisionPending,
	}
	s.waiters[id] = make(chan Decision, 1)
	return id, s.persistLocked()
}

// Await blocks until the request is resolved (by Resolve, by the expiry
// sweep, or by ctx cancellation).
func (s *Store) Await(ctx context.Context, id string) (Decision, error) {
	s.mu.Lock()
	ch, ok := s.waiters[id]
	s.mu.Unlock()
	if !ok {
		return DecisionDeny, fmt.Errorf("approvals: unknown request %q", id)
	}
	select {
	case d := <-ch:
		return d, nil
	case <-ctx.Done():
		return DecisionPending, ctx.Err()
	}
}

// Resolve records the operator's decision and wakes any waiter.
func (s *Store) Resolve(ctx context.Context, id string, allow bool) error {
	s.mu.Lock()
	r, ok := s.requests[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("approvals: unknown request %q", id)
	}
	if allow {
		r.Decision = DecisionAllow
	} else {
		r.Decision = DecisionDeny
	}
	err := s.persistLocked()
	ch := s.waiters[id]
	delete(s.waiters, id)
	s.mu.Unlock()

	if ch != nil {
		ch <- r.Decision
		close(ch)
	}
	if s.auditLog != nil {
		s.auditLog.Record(ctx, audit.Entry{
			Agent: r.Agent, Kind: "policy", Name: r.Tool,
			Result: string(r.Decision), Reason: "operator decision",
		})
	}
	return err
}

// SweepExpired auto-denies any pending request past ExpiresAt. Call on a
// ticker alongside the delivery queue drainer.
func (s *Store) SweepExpired(ctx context.Context) {
	s.mu.Lock()
	var expired []*Request
	now := time.Now()
	for _, r := range s.requests {
		if r.Decision == DecisionPending && now.After(r.ExpiresAt) {
			r.Decision = DecisionDeny
			r.Reason = "expired"
			expired = append(expired, r)
		}
	}
	if len(expired) > 0 {
		_ = s.persistLocked()
	}
	for _, r := range expired {
		if ch, ok := s.waiters[r.ID]; ok {
			ch <- DecisionDeny
			close(ch)
			delete(s.waiters, r.ID)
		}
	}
	s.mu.Unlock()

	if s.auditLog == nil {
		return
	}
	for _, r := range expired {
		s.auditLog.Record(ctx, audit.Entry{
			Agent: r.Agent, Kind: "policy", Name: r.Tool,
			Result: string(DecisionDeny), Reason: "expired",
		})
	}
}

// Run periodically sweeps expired requests until ctx is cancelled.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.SweepExpired(ctx)
		}
	}
}

// Pending returns all currently pending requests.
func (s *Store) Pending() []*Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Request
	for _, r := range s.requests {
		if r.Decision == DecisionPending {
			out = append(out, r)
		}
	}
	return out
}
