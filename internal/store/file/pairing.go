package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/quantumclaw/quantumclaw/internal/store"
)

// PairingStore is the per-table JSON file fallback tier used when no sqlite
// or Postgres handle is available (the final degrade step of SharedDB).
type PairingStore struct {
	mu   sync.Mutex
	path string
	recs map[string]*store.PairingRecord
}

func NewPairingStore(path string) (*PairingStore, error) {
	s := &PairingStore{path: path, recs: map[string]*store.PairingRecord{}}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pairing file store: read %s: %w", path, err)
	}
	var list []*store.PairingRecord
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("pairing file store: unmarshal %s: %w", path, err)
	}
	for _, p := range list {
		s.recs[p.Code] = p
	}
	return s, nil
}

func (s *PairingStore) persistLocked() error {
	list := make([]*store.PairingRecord, 0, len(s.recs))
	for _, p := range s.recs {
		list = append(list, p)
	}
	data, err := json.Marshal(list)
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

func (s *PairingStore) Create(_ context.Context, p *store.PairingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[p.Code] = p
	return s.persistLocked()
}

func (s *PairingStore) GetByCode(_ context.Context, code string) (*store.PairingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.recs[code]
	if !ok {
		return nil, fmt.Errorf("pairing file store: unknown code %q", code)
	}
	return p, nil
}

func (s *PairingStore) Approve(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.recs[code]
	if !ok {
		return fmt.Errorf("pairing file store: unknown code %q", code)
	}
	p.Approved = true
	return s.persistLocked()
}

func (s *PairingStore) ListPending(_ context.Context) ([]store.PairingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.PairingRecord
	for _, p := range s.recs {
		if !p.Approved {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *PairingStore) RequestPairing(peerID, channel, chatID, agent string) (string, error) {
	code, err := store.NewPairingCode()
	if err != nil {
		return "", err
	}
	now := time.Now()
	s.mu.Lock()
	s.recs[code] = &store.PairingRecord{
		Code:      code,
		Channel:   channel,
		PeerID:    peerID,
		ChatID:    chatID,
		Agent:     agent,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
	err = s.persistLocked()
	s.mu.Unlock()
	return code, err
}

func (s *PairingStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int
	for code, p := range s.recs {
		if !p.Approved && now.After(p.ExpiresAt) {
			delete(s.recs, code)
			removed++
		}
	}
	if removed > 0 {
		return removed, s.persistLocked()
	}
	return 0, nil
}
