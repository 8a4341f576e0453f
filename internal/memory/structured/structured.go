// Package structured implements the MemorySubsystem's structured store:
// messages, knowledge facts, threads, and a small per-agent key/value
// context table, all backed by the shared database/sql handle.
package structured

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message is one logged conversation turn.
type Message struct {
	ID        string
	Agent     string
	Channel   string
	UserID    string
	Role      string
	Content   string
	CreatedAt time.Time
}

// KnowledgeFact is a durable, searchable note an agent chose to remember.
type KnowledgeFact struct {
	ID        string
	Agent     string
	UserID    string
	Text      string
	Tags      []string
	CreatedAt time.Time
}

// Thread groups related messages (e.g. one delegation exchange).
type Thread struct {
	ID        string
	Agent     string
	Channel   string
	Title     string
	CreatedAt time.Time
}

// Store is the structured-memory facade over a shared *sql.DB.
type Store struct {
	db     *sql.DB
	rebind func(string) string
}

// New wraps db. rebind converts `?` placeholders to the active driver's
// native style (passthrough for sqlite, $N renumbering for pgx).
func New(db *sql.DB, rebind func(string) string) *Store {
	if rebind == nil {
		rebind = func(q string) string { return q }
	}
	return &Store{db: db, rebind: rebind}
}

func (s *Store) AppendMessage(ctx context.Context, m Message) (string, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	q := s.rebind(`INSERT INTO memory_messages (id, agent, channel, user_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, q, m.ID, m.Agent, m.Channel, m.UserID, m.Role, m.Content, m.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("structured: append message: %w", err)
	}
	return m.ID, nil
}

func (s *Store) RecentMessages(ctx context.Context, agent, channel, userID string, limit int) ([]Message, error) {
	q := s.rebind(`SELECT id, agent, channel, user_id, role, content, created_at FROM memory_messages
		WHERE agent = ? AND channel = ? AND user_id = ? ORDER BY created_at DESC LIMIT ?`)
	rows, err := s.db.QueryContext(ctx, q, agent, channel, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("structured: recent messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Agent, &m.Channel, &m.UserID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

func (s *Store) SaveKnowledge(ctx context.Context, f KnowledgeFact) (string, error) {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	tags, err := json.Marshal(f.Tags)
	if err != nil {
		return "", err
	}
	q := s.rebind(`INSERT INTO memory_knowledge (id, agent, user_id, text, tags, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, q, f.ID, f.Agent, f.UserID, f.Text, tags, f.CreatedAt); err != nil {
		return "", fmt.Errorf("structured: save knowledge: %w", err)
	}
	return f.ID, nil
}

// SearchKnowledge does a naive substring match over stored facts, ordered
// newest-first. Good enough as the structured half of the union-dedup
// search_knowledge merge; the graph backend supplies the associative half.
func (s *Store) SearchKnowledge(ctx context.Context, agent, userID, query string, limit int) ([]KnowledgeFact, error) {
	q := s.rebind(`SELECT id, agent, user_id, text, tags, created_at FROM memory_knowledge
		WHERE agent = ? AND user_id = ? AND text LIKE ? ORDER BY created_at DESC LIMIT ?`)
	rows, err := s.db.QueryContext(ctx, q, agent, userID, "%"+query+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("structured: search knowledge: %w", err)
	}
	defer rows.Close()

	var out []KnowledgeFact
	for rows.Next() {
		var f KnowledgeFact
		var tags []byte
		if err := rows.Scan(&f.ID, &f.Agent, &f.UserID, &f.Text, &tags, &f.CreatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(tags, &f.Tags)
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Store) CreateThread(ctx context.Context, t Thread) (string, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	q := s.rebind(`INSERT INTO memory_threads (id, agent, channel, title, created_at) VALUES (?, ?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, q, t.ID, t.Agent, t.Channel, t.Title, t.CreatedAt); err != nil {
		return "", fmt.Errorf("structured: create thread: %w", err)
	}
	return t.ID, nil
}

// SetContext upserts one key in the per-agent kv_context scratch table.
func (s *Store) SetContext(ctx context.Context, agent, key, value string) error {
	q := s.rebind(`INSERT INTO memory_kv_context (agent, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (agent, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`)
	_, err := s.db.ExecContext(ctx, q, agent, key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("structured: set context: %w", err)
	}
	return nil
}

func (s *Store) GetContext(ctx context.Context, agent, key string) (string, error) {
	q := s.rebind(`SELECT value FROM memory_kv_context WHERE agent = ? AND key = ?`)
	var v string
	err := s.db.QueryRowContext(ctx, q, agent, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("structured: get context: %w", err)
	}
	return v, nil
}
