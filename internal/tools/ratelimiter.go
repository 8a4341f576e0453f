package tools

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ToolRateLimiter caps tool calls per agent/session per hour, independent
// of the trust kernel's allow/deny/ask decisions.
type ToolRateLimiter struct {
	mu       sync.Mutex
	perHour  int
	limiters map[string]*rate.Limiter
}

// NewToolRateLimiter returns a limiter allowing perHour tool calls per
// agent key, with bursts up to perHour. perHour <= 0 disables limiting.
func NewToolRateLimiter(perHour int) *ToolRateLimiter {
	return &ToolRateLimiter{perHour: perHour, limiters: make(map[string]*rate.Limiter)}
}

// Allow reports whether a tool call for the given agent key is permitted
// right now, consuming one token if so.
func (rl *ToolRateLimiter) Allow(agent string) bool {
	if rl == nil || rl.perHour <= 0 {
		return true
	}
	rl.mu.Lock()
	lim, ok := rl.limiters[agent]
	if !ok {
		every := time.Hour / time.Duration(rl.perHour)
		lim = rate.NewLimiter(rate.Every(every), rl.perHour)
		rl.limiters[agent] = lim
	}
	rl.mu.Unlock()
	return lim.Allow()
}
