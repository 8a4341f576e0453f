// Package heartbeat implements the three heartbeat firing modes: scheduled
// entries (gronx presets or raw cron expressions), auto-learned quiet-hours
// check-ins, and the once-per-ISO-week summary push.
package heartbeat

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	cronv3 "github.com/robfig/cron/v3"
)

// Pusher delivers a heartbeat message to a user/channel, mirroring
// ChannelManager's send path.
type Pusher func(ctx context.Context, channel, chatID, content string) error

// ScheduleEntry is one operator-configured heartbeat.
type ScheduleEntry struct {
	Name     string
	Channel  string
	ChatID   string
	Message  string
	Schedule string // gronx preset ("every-minute") or raw 5-field cron
}

// LearnedPattern is the per-user adaptive quiet-hours/quota state.
type LearnedPattern struct {
	QuietHourStart int // 0-23, local hour activity usually starts
	QuietHourEnd   int // 0-23, local hour activity usually ends
	DailyQuota     int // max proactive pushes per day
	pushedToday    int
	lastReset      time.Time
}

// Heartbeat drives all three firing modes against a Pusher.
type Heartbeat struct {
	gron    gronx.Gronx
	cronv3  *cronv3.Parser
	push    Pusher
	logger  *slog.Logger

	mu       sync.Mutex
	learned  map[string]*LearnedPattern // keyed by "channel:chatID"
	lastWeek map[string]string          // keyed by "channel:chatID" -> last ISO week summarized
}

// New builds a Heartbeat.
func New(push Pusher) *Heartbeat {
	parser := cronv3.NewParser(cronv3.Minute | cronv3.Hour | cronv3.Dom | cronv3.Month | cronv3.Dow)
	return &Heartbeat{
		gron:     gronx.New(),
		cronv3:   &parser,
		push:     push,
		logger:   slog.Default(),
		learned:  map[string]*LearnedPattern{},
		lastWeek: map[string]string{},
	}
}

// dueNow reports whether schedule (a gronx preset or raw cron expression)
// matches the current minute.
func (h *Heartbeat) dueNow(schedule string, at time.Time) bool {
	if isGronxPreset(schedule) {
		ok, err := h.gron.IsDue(schedule, at)
		if err != nil {
			h.logger.Warn("heartbeat: invalid gronx schedule", "schedule", schedule, "error", err)
			return false
		}
		return ok
	}
	sched, err := h.cronv3.Parse(schedule)
	if err != nil {
		h.logger.Warn("heartbeat: invalid cron expression", "schedule", schedule, "error", err)
		return false
	}
	prevMinute := at.Add(-time.Minute)
	next := sched.Next(prevMinute)
	return !next.After(at) && !next.Before(prevMinute)
}

func isGronxPreset(s string) bool {
	return strings.HasPrefix(s, "every-") || strings.HasPrefix(s, "@")
}

// RunScheduled checks every entry once per minute against its schedule and
// pushes when due. Runs until ctx is cancelled.
func (h *Heartbeat) RunScheduled(ctx context.Context, entries []ScheduleEntry) {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			for _, e := range entries {
				if h.dueNow(e.Schedule, now) {
					if err := h.push(ctx, e.Channel, e.ChatID, e.Message); err != nil {
						h.logger.Warn("heartbeat: scheduled push failed", "name", e.Name, "error", err)
					}
				}
			}
		}
	}
}

// RecordActivity feeds the auto-learn model with an observed user activity
// timestamp, narrowing the inferred quiet hours.
func (h *Heartbeat) RecordActivity(channel, chatID string, at time.Time) {
	key := channel + ":" + chatID
	h.mu.Lock()
	defer h.mu.Unlock()
	lp, ok := h.learned[key]
	if !ok {
		lp = &LearnedPattern{QuietHourStart: 22, QuietHourEnd: 7, DailyQuota: 3}
		h.learned[key] = lp
	}
	hour := at.Local().Hour()
	if !isQuietHour(lp, hour) {
		return
	}
	// Active during a currently-quiet hour: shrink whichever boundary the
	// observation is closer to, so the quiet window no longer covers it.
	distFromStart := mod(hour-lp.QuietHourStart, 24)
	distFromEnd := mod(lp.QuietHourEnd-hour, 24)
	if distFromStart <= distFromEnd {
		lp.QuietHourStart = mod(hour+1, 24)
	} else {
		lp.QuietHourEnd = hour
	}
}

func isQuietHour(lp *LearnedPattern, hour int) bool {
	if lp.QuietHourStart < lp.QuietHourEnd {
		return hour >= lp.QuietHourStart && hour < lp.QuietHourEnd
	}
	return hour >= lp.QuietHourStart || hour < lp.QuietHourEnd
}

func mod(a, n int) int { return ((a % n) + n) % n }

// MaybePushAutoLearn pushes content if now falls outside the learned quiet
// hours and the daily quota has not been exhausted.
func (h *Heartbeat) MaybePushAutoLearn(ctx context.Context, channel, chatID, content string, now time.Time) error {
	key := channel + ":" + chatID
	h.mu.Lock()
	lp, ok := h.learned[key]
	if !ok {
		lp = &LearnedPattern{QuietHourStart: 22, QuietHourEnd: 7, DailyQuota: 3}
		h.learned[key] = lp
	}
	if lp.lastReset.IsZero() || now.Sub(lp.lastReset) > 24*time.Hour {
		lp.pushedToday = 0
		lp.lastReset = now
	}
	hour := now.Local().Hour()
	if isQuietHour(lp, hour) || lp.pushedToday >= lp.DailyQuota {
		h.mu.Unlock()
		return nil
	}
	lp.pushedToday++
	h.mu.Unlock()

	return h.push(ctx, channel, chatID, content)
}

// MaybePushWeeklySummary pushes content once per ISO week per channel/chat.
func (h *Heartbeat) MaybePushWeeklySummary(ctx context.Context, channel, chatID, content string, now time.Time) error {
	key := channel + ":" + chatID
	year, week := now.ISOWeek()
	weekKey := strconv.Itoa(year) + "-W" + strconv.Itoa(week)

	h.mu.Lock()
	if h.lastWeek[key] == weekKey {
		h.mu.Unlock()
		return nil
	}
	h.lastWeek[key] = weekKey
	h.mu.Unlock()

	if err := h.push(ctx, channel, chatID, content); err != nil {
		return fmt.Errorf("heartbeat: weekly summary push: %w", err)
	}
	return nil
}
