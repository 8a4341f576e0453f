package tools

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// AnnounceQueueItem is one subagent's completed-task summary, queued for
// delivery back to its parent's session.
type AnnounceQueueItem struct {
	SubagentID string
	Label      string
	Status     string
	Result     string
	Runtime    time.Duration
	Iterations int
}

// AnnounceMetadata carries the origin routing info needed to publish the
// batched announce back onto the message bus.
type AnnounceMetadata struct {
	OriginChannel    string
	OriginChatID     string
	OriginPeerKind   string
	OriginUserID     string
	ParentAgent      string
	OriginTraceID    string
	OriginRootSpanID string
}

// FlushFunc delivers one session's batched announce items.
type FlushFunc func(sessionKey string, items []AnnounceQueueItem, meta AnnounceMetadata)

// CountActiveFunc reports how many subagents are still running for a parent,
// so the flushed announce can say "(3 more running)".
type CountActiveFunc func(parentAgent string) int

type pendingBatch struct {
	items []AnnounceQueueItem
	meta  AnnounceMetadata
	timer *time.Timer
}

// AnnounceQueue batches rapid-fire subagent completions per session so a
// parent doesn't get interrupted once per child — it debounces flushes for
// debounceMs and delivers every item that piled up together.
type AnnounceQueue struct {
	mu          sync.Mutex
	maxPending  int
	debounce    time.Duration
	pending     map[string]*pendingBatch
	flush       FlushFunc
	countActive CountActiveFunc
}

// NewAnnounceQueue builds a queue. maxPending bounds how many items a single
// session can accumulate before it's force-flushed; debounceMs is the quiet
// period after the last enqueue before a batch is delivered.
func NewAnnounceQueue(maxPending, debounceMs int, flush FlushFunc, countActive CountActiveFunc) *AnnounceQueue {
	return &AnnounceQueue{
		maxPending:  maxPending,
		debounce:    time.Duration(debounceMs) * time.Millisecond,
		pending:     make(map[string]*pendingBatch),
		flush:       flush,
		countActive: countActive,
	}
}

// Enqueue adds item to sessionKey's batch, resetting its debounce timer.
func (q *AnnounceQueue) Enqueue(sessionKey string, item AnnounceQueueItem, meta AnnounceMetadata) {
	q.mu.Lock()
	defer q.mu.Unlock()

	b, ok := q.pending[sessionKey]
	if !ok {
		b = &pendingBatch{meta: meta}
		q.pending[sessionKey] = b
	}
	b.items = append(b.items, item)
	b.meta = meta

	if b.timer != nil {
		b.timer.Stop()
	}
	if len(b.items) >= q.maxPending {
		q.flushLocked(sessionKey)
		return
	}
	b.timer = time.AfterFunc(q.debounce, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		q.flushLocked(sessionKey)
	})
}

func (q *AnnounceQueue) flushLocked(sessionKey string) {
	b, ok := q.pending[sessionKey]
	if !ok {
		return
	}
	delete(q.pending, sessionKey)
	if b.timer != nil {
		b.timer.Stop()
	}
	if q.flush != nil {
		q.flush(sessionKey, b.items, b.meta)
	}
}

// FormatBatchedAnnounce renders a batch of subagent results as one message
// for the parent agent, noting how many siblings are still running.
func FormatBatchedAnnounce(items []AnnounceQueueItem, remainingActive int) string {
	var sb strings.Builder
	if len(items) == 1 {
		it := items[0]
		fmt.Fprintf(&sb, "Subagent \"%s\" %s in %s (%d iterations).\n\n%s",
			it.Label, it.Status, it.Runtime.Round(time.Second), it.Iterations, it.Result)
	} else {
		fmt.Fprintf(&sb, "%d subagents finished:\n\n", len(items))
		for _, it := range items {
			fmt.Fprintf(&sb, "- \"%s\" %s in %s (%d iterations): %s\n",
				it.Label, it.Status, it.Runtime.Round(time.Second), it.Iterations, it.Result)
		}
	}
	if remainingActive > 0 {
		fmt.Fprintf(&sb, "\n(%d more subagent task(s) still running)", remainingActive)
	}
	return sb.String()
}
