// Package convlog is the MemorySubsystem's conversation-log layer: an
// append-only transcript keyed by (agent, channel, user), backed by the
// existing session manager's file-persisted history.
package convlog

import (
	"fmt"

	"github.com/quantumclaw/quantumclaw/internal/providers"
	"github.com/quantumclaw/quantumclaw/internal/sessions"
)

// Log is the conversation-log facade. It reuses sessions.Manager's
// per-key JSON persistence and adds the MemorySubsystem's key shape.
type Log struct {
	mgr *sessions.Manager
}

// Open loads (or initializes) the conversation log at dir.
func Open(dir string) *Log {
	return &Log{mgr: sessions.NewManager(dir)}
}

// Key builds the composite key convlog uses: agent:{agent}:{channel}:{user}.
func Key(agent, channel, userID string) string {
	return fmt.Sprintf("agent:%s:%s:%s", agent, channel, userID)
}

// Append records one turn and persists it.
func (l *Log) Append(agent, channel, userID string, msg providers.Message) error {
	key := Key(agent, channel, userID)
	l.mgr.AddMessage(key, msg)
	return l.mgr.Save(key)
}

// History returns the transcript for (agent, channel, user), most recent
// `limit` messages (0 = all).
func (l *Log) History(agent, channel, userID string, limit int) []providers.Message {
	key := Key(agent, channel, userID)
	msgs := l.mgr.GetHistory(key)
	if limit > 0 && len(msgs) > limit {
		return msgs[len(msgs)-limit:]
	}
	return msgs
}

// Truncate keeps only the most recent keepLast messages, used after a
// summarization pass compacts older turns into the structured store.
func (l *Log) Truncate(agent, channel, userID string, keepLast int) {
	l.mgr.TruncateHistory(Key(agent, channel, userID), keepLast)
}

// Reset clears a transcript, used by the /forget-style tool.
func (l *Log) Reset(agent, channel, userID string) {
	l.mgr.Reset(Key(agent, channel, userID))
}
