package sinks

import (
	"sync"
	"time"
)

// Rate limiter defaults shared by the alert sinks.
const (
	DefaultRateLimit  = 10
	DefaultRateWindow = 60 * time.Second
)

// RateLimiter is a sliding-window limiter over attempt timestamps.
// Attempts are counted whether or not the delivery succeeds.
type RateLimiter struct {
	mu       sync.Mutex
	max      int
	window   time.Duration
	attempts []time.Time
	lastWarn time.Time

	now func() time.Time
}

// NewRateLimiter creates a limiter allowing max attempts per window.
// Non-positive arguments fall back to the defaults.
func NewRateLimiter(max int, window time.Duration) *RateLimiter {
	if max <= 0 {
		max = DefaultRateLimit
	}
	if window <= 0 {
		window = DefaultRateWindow
	}
	return &RateLimiter{max: max, window: window, now: time.Now}
}

// Allow records an attempt if capacity remains in the window and reports
// whether it was admitted.
func (r *RateLimiter) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.pruneLocked(now)
	if len(r.attempts) >= r.max {
		return false
	}
	r.attempts = append(r.attempts, now)
	return true
}

// MarkDropped reports whether this drop is the first since the limiter
// last warned, so callers can log once per window instead of per event.
func (r *RateLimiter) MarkDropped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if now.Sub(r.lastWarn) < r.window {
		return false
	}
	r.lastWarn = now
	return true
}

// Remaining returns the attempts still available in the current window.
func (r *RateLimiter) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked(r.now())
	return r.max - len(r.attempts)
}

func (r *RateLimiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-r.window)
	idx := 0
	for idx < len(r.attempts) && !r.attempts[idx].After(cutoff) {
		idx++
	}
	if idx > 0 {
		r.attempts = append(r.attempts[:0], r.attempts[idx:]...)
	}
}
