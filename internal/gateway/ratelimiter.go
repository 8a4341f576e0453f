package gateway

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter enforces a per-client-IP requests-per-minute budget on the
// HTTP/WS surface and tracks failed-auth attempts toward a lockout.
type RateLimiter struct {
	rpm   int
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	lockoutThreshold int
	lockoutWindow    time.Duration
	lockoutDuration  time.Duration
	failures         map[string][]time.Time
	lockedUntil      map[string]time.Time
}

// NewRateLimiter builds a limiter. rpm <= 0 disables rate limiting
// entirely (Allow always returns true), matching the gateway's backward
// compatible default.
func NewRateLimiter(rpm, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 5
	}
	return &RateLimiter{
		rpm:              rpm,
		burst:            burst,
		limiters:         make(map[string]*rate.Limiter),
		lockoutThreshold: 10,
		lockoutWindow:    2 * time.Minute,
		lockoutDuration:  5 * time.Minute,
		failures:         make(map[string][]time.Time),
		lockedUntil:      make(map[string]time.Time),
	}
}

// SetLockoutPolicy overrides the default 10-failures/2-minute/5-minute
// lockout policy from config.
func (rl *RateLimiter) SetLockoutPolicy(threshold int, window, duration time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if threshold > 0 {
		rl.lockoutThreshold = threshold
	}
	if window > 0 {
		rl.lockoutWindow = window
	}
	if duration > 0 {
		rl.lockoutDuration = duration
	}
}

// Enabled reports whether rate limiting is active.
func (rl *RateLimiter) Enabled() bool { return rl != nil && rl.rpm > 0 }

// Allow reports whether a request from key (usually an IP) may proceed.
func (rl *RateLimiter) Allow(key string) bool {
	if !rl.Enabled() {
		return true
	}
	rl.mu.Lock()
	lim, ok := rl.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(rl.rpm)/60.0), rl.burst)
		rl.limiters[key] = lim
	}
	rl.mu.Unlock()
	return lim.Allow()
}

// RecordFailure tracks a failed auth attempt from key and locks it out once
// the threshold is exceeded within the window.
func (rl *RateLimiter) RecordFailure(key string) {
	now := time.Now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := now.Add(-rl.lockoutWindow)
	kept := rl.failures[key][:0]
	for _, t := range rl.failures[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	rl.failures[key] = kept

	if len(kept) >= rl.lockoutThreshold {
		rl.lockedUntil[key] = now.Add(rl.lockoutDuration)
		delete(rl.failures, key)
	}
}

// ClearFailures resets a key's failure count after a successful auth.
func (rl *RateLimiter) ClearFailures(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.failures, key)
}

// IsLockedOut reports whether key is currently within a lockout window.
func (rl *RateLimiter) IsLockedOut(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	until, ok := rl.lockedUntil[key]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(rl.lockedUntil, key)
		return false
	}
	return true
}

// clientIP extracts the request's remote IP, preferring the socket address
// over proxy headers (the dashboard is not expected to sit behind a proxy
// by default; X-Forwarded-For is trivially spoofable).
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
