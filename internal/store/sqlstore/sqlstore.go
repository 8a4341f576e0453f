// Package sqlstore implements the SharedDB SQL tier: PairingStore,
// MCPServerStore, and BuiltinToolStore backed by sqldb.DB, the same query
// text running against either Postgres or sqlite via the rebind helper.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/quantumclaw/quantumclaw/internal/store"
	"github.com/quantumclaw/quantumclaw/internal/store/sqldb"
)

// PairingStore implements store.PairingStore over sqldb.DB.
type PairingStore struct {
	db     *sqldb.DB
	rebind func(string) string
}

func NewPairingStore(db *sqldb.DB) *PairingStore {
	return &PairingStore{db: db, rebind: db.Rebind()}
}

func (s *PairingStore) Create(ctx context.Context, p *store.PairingRecord) error {
	q := s.rebind(`INSERT INTO pairings (id, channel, peer_id, chat_id, code, agent, approved, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, q, p.Code, p.Channel, p.PeerID, p.ChatID, p.Code, p.Agent, p.Approved, p.CreatedAt, p.ExpiresAt)
	if err != nil {
		return fmt.Errorf("sqlstore: create pairing: %w", err)
	}
	return nil
}

func (s *PairingStore) RequestPairing(peerID, channel, chatID, agent string) (string, error) {
	code, err := store.NewPairingCode()
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	p := &store.PairingRecord{
		Code:      code,
		Channel:   channel,
		PeerID:    peerID,
		ChatID:    chatID,
		Agent:     agent,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
	if err := s.Create(context.Background(), p); err != nil {
		return "", err
	}
	return code, nil
}

func (s *PairingStore) GetByCode(ctx context.Context, code string) (*store.PairingRecord, error) {
	q := s.rebind(`SELECT channel, peer_id, chat_id, code, agent, approved, created_at, expires_at FROM pairings WHERE code = ?`)
	var p store.PairingRecord
	err := s.db.QueryRowContext(ctx, q, code).Scan(&p.Channel, &p.PeerID, &p.ChatID, &p.Code, &p.Agent, &p.Approved, &p.CreatedAt, &p.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: get pairing %q: %w", code, err)
	}
	return &p, nil
}

func (s *PairingStore) Approve(ctx context.Context, code string) error {
	q := s.rebind(`UPDATE pairings SET approved = TRUE WHERE code = ?`)
	_, err := s.db.ExecContext(ctx, q, code)
	if err != nil {
		return fmt.Errorf("sqlstore: approve pairing %q: %w", code, err)
	}
	return nil
}

func (s *PairingStore) ListPending(ctx context.Context) ([]store.PairingRecord, error) {
	q := s.rebind(`SELECT channel, peer_id, chat_id, code, agent, approved, created_at, expires_at FROM pairings WHERE approved = FALSE`)
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list pending pairings: %w", err)
	}
	defer rows.Close()
	var out []store.PairingRecord
	for rows.Next() {
		var p store.PairingRecord
		if err := rows.Scan(&p.Channel, &p.PeerID, &p.ChatID, &p.Code, &p.Agent, &p.Approved, &p.CreatedAt, &p.ExpiresAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PairingStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	q := s.rebind(`DELETE FROM pairings WHERE approved = FALSE AND expires_at < ?`)
	res, err := s.db.ExecContext(ctx, q, now)
	if err != nil {
		return 0, fmt.Errorf("sqlstore: delete expired pairings: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// MCPServerStore implements store.MCPServerStore over sqldb.DB.
type MCPServerStore struct {
	db     *sqldb.DB
	rebind func(string) string
}

func NewMCPServerStore(db *sqldb.DB) *MCPServerStore {
	return &MCPServerStore{db: db, rebind: db.Rebind()}
}

func (s *MCPServerStore) Create(ctx context.Context, srv *store.MCPServerRecord) error {
	now := time.Now().UTC()
	srv.CreatedAt, srv.UpdatedAt = now, now
	q := s.rebind(`INSERT INTO mcp_servers (name, transport, endpoint, credential, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, q, srv.Name, srv.Transport, srv.Endpoint, srv.Credential, srv.Enabled, now, now)
	if err != nil {
		return fmt.Errorf("sqlstore: create mcp server: %w", err)
	}
	return nil
}

func (s *MCPServerStore) Get(ctx context.Context, name string) (*store.MCPServerRecord, error) {
	q := s.rebind(`SELECT name, transport, endpoint, credential, enabled, created_at, updated_at FROM mcp_servers WHERE name = ?`)
	var srv store.MCPServerRecord
	var cred sql.NullString
	err := s.db.QueryRowContext(ctx, q, name).Scan(&srv.Name, &srv.Transport, &srv.Endpoint, &cred, &srv.Enabled, &srv.CreatedAt, &srv.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: get mcp server %q: %w", name, err)
	}
	srv.Credential = cred.String
	return &srv, nil
}

func (s *MCPServerStore) List(ctx context.Context) ([]store.MCPServerRecord, error) {
	q := s.rebind(`SELECT name, transport, endpoint, credential, enabled, created_at, updated_at FROM mcp_servers ORDER BY name`)
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list mcp servers: %w", err)
	}
	defer rows.Close()
	var out []store.MCPServerRecord
	for rows.Next() {
		var srv store.MCPServerRecord
		var cred sql.NullString
		if err := rows.Scan(&srv.Name, &srv.Transport, &srv.Endpoint, &cred, &srv.Enabled, &srv.CreatedAt, &srv.UpdatedAt); err != nil {
			return nil, err
		}
		srv.Credential = cred.String
		out = append(out, srv)
	}
	return out, rows.Err()
}

func (s *MCPServerStore) Update(ctx context.Context, name string, updates map[string]any) error {
	if v, ok := updates["enabled"].(bool); ok {
		q := s.rebind(`UPDATE mcp_servers SET enabled = ?, updated_at = ? WHERE name = ?`)
		if _, err := s.db.ExecContext(ctx, q, v, time.Now().UTC(), name); err != nil {
			return fmt.Errorf("sqlstore: update mcp server %q: %w", name, err)
		}
	}
	if v, ok := updates["endpoint"].(string); ok {
		q := s.rebind(`UPDATE mcp_servers SET endpoint = ?, updated_at = ? WHERE name = ?`)
		if _, err := s.db.ExecContext(ctx, q, v, time.Now().UTC(), name); err != nil {
			return fmt.Errorf("sqlstore: update mcp server %q: %w", name, err)
		}
	}
	return nil
}

func (s *MCPServerStore) Delete(ctx context.Context, name string) error {
	q := s.rebind(`DELETE FROM mcp_servers WHERE name = ?`)
	if _, err := s.db.ExecContext(ctx, q, name); err != nil {
		return fmt.Errorf("sqlstore: delete mcp server %q: %w", name, err)
	}
	return nil
}

// BuiltinToolStore implements store.BuiltinToolStore over sqldb.DB.
type BuiltinToolStore struct {
	db     *sqldb.DB
	rebind func(string) string
}

func NewBuiltinToolStore(db *sqldb.DB) *BuiltinToolStore {
	return &BuiltinToolStore{db: db, rebind: db.Rebind()}
}

func (s *BuiltinToolStore) Seed(ctx context.Context, tools []store.BuiltinToolDef) error {
	q := s.rebind(`INSERT INTO builtin_tools (name, display_name, description, category, enabled, settings, requires, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (name) DO NOTHING`)
	for _, t := range tools {
		requires, _ := json.Marshal(t.Requires)
		now := time.Now().UTC()
		if _, err := s.db.ExecContext(ctx, q, t.Name, t.DisplayName, t.Description, t.Category, t.Enabled, t.Settings, requires, now, now); err != nil {
			return fmt.Errorf("sqlstore: seed builtin tool %q: %w", t.Name, err)
		}
	}
	return nil
}

func (s *BuiltinToolStore) List(ctx context.Context) ([]store.BuiltinToolDef, error) {
	return s.list(ctx, "")
}

func (s *BuiltinToolStore) ListEnabled(ctx context.Context) ([]store.BuiltinToolDef, error) {
	return s.list(ctx, " WHERE enabled = TRUE")
}

func (s *BuiltinToolStore) list(ctx context.Context, where string) ([]store.BuiltinToolDef, error) {
	q := s.rebind(`SELECT name, display_name, description, category, enabled, settings, requires, created_at, updated_at FROM builtin_tools` + where + ` ORDER BY category, name`)
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list builtin tools: %w", err)
	}
	defer rows.Close()
	var out []store.BuiltinToolDef
	for rows.Next() {
		var t store.BuiltinToolDef
		var requires []byte
		if err := rows.Scan(&t.Name, &t.DisplayName, &t.Description, &t.Category, &t.Enabled, &t.Settings, &requires, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(requires, &t.Requires)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *BuiltinToolStore) Get(ctx context.Context, name string) (*store.BuiltinToolDef, error) {
	q := s.rebind(`SELECT name, display_name, description, category, enabled, settings, requires, created_at, updated_at FROM builtin_tools WHERE name = ?`)
	var t store.BuiltinToolDef
	var requires []byte
	err := s.db.QueryRowContext(ctx, q, name).Scan(&t.Name, &t.DisplayName, &t.Description, &t.Category, &t.Enabled, &t.Settings, &requires, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: unknown builtin tool %q: %w", name, err)
	}
	_ = json.Unmarshal(requires, &t.Requires)
	return &t, nil
}

func (s *BuiltinToolStore) GetSettings(ctx context.Context, name string) (json.RawMessage, error) {
	q := s.rebind(`SELECT settings FROM builtin_tools WHERE name = ?`)
	var settings json.RawMessage
	if err := s.db.QueryRowContext(ctx, q, name).Scan(&settings); err != nil {
		return nil, fmt.Errorf("sqlstore: get builtin tool settings %q: %w", name, err)
	}
	return settings, nil
}

func (s *BuiltinToolStore) Update(ctx context.Context, name string, updates map[string]any) error {
	if v, ok := updates["enabled"].(bool); ok {
		q := s.rebind(`UPDATE builtin_tools SET enabled = ?, updated_at = ? WHERE name = ?`)
		if _, err := s.db.ExecContext(ctx, q, v, time.Now().UTC(), name); err != nil {
			return err
		}
	}
	if v, ok := updates["settings"]; ok {
		var raw json.RawMessage
		switch sv := v.(type) {
		case json.RawMessage:
			raw = sv
		case []byte:
			raw = sv
		default:
			b, err := json.Marshal(sv)
			if err != nil {
				return fmt.Errorf("sqlstore: marshal settings: %w", err)
			}
			raw = b
		}
		q := s.rebind(`UPDATE builtin_tools SET settings = ?, updated_at = ? WHERE name = ?`)
		if _, err := s.db.ExecContext(ctx, q, raw, time.Now().UTC(), name); err != nil {
			return err
		}
	}
	return nil
}
