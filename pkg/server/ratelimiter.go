package server

import (
	"sync"
	"time"
)

const rateLimitWindowMs = 60_000

// RateLimiter applies a per-IP sliding one-minute window.
type RateLimiter struct {
	limits          map[string]*rateLimitState
	maxPerMinute    int
	mu              sync.RWMutex
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

// NewRateLimiter creates a rate limiter allowing maxPerMinute requests
// per IP and starts its background cleanup.
func NewRateLimiter(maxPerMinute int) *RateLimiter {
	rl := &RateLimiter{
		limits:          make(map[string]*rateLimitState),
		maxPerMinute:    maxPerMinute,
		cleanupInterval: 5 * time.Minute,
		stopCleanup:     make(chan struct{}),
	}

	go rl.runCleanup()

	return rl
}

// Allow reports whether a request from ip fits in the window, counting
// it when it does.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now().UnixMilli()

	state, exists := rl.limits[ip]
	if !exists {
		state = &rateLimitState{}
		rl.limits[ip] = state
	}

	state.requests = pruneWindow(state.requests, now)

	if len(state.requests) >= rl.maxPerMinute {
		return false
	}

	state.requests = append(state.requests, now)
	return true
}

// RetryAfter returns how many seconds until the oldest counted request
// leaves the window, rounded up.
func (rl *RateLimiter) RetryAfter(ip string) int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	state, exists := rl.limits[ip]
	if !exists || len(state.requests) == 0 {
		return 0
	}

	now := time.Now().UnixMilli()
	remainingMs := rateLimitWindowMs - (now - state.requests[0])
	if remainingMs < 0 {
		return 0
	}
	return int((remainingMs + 999) / 1000)
}

func (rl *RateLimiter) runCleanup() {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCleanup:
			return
		}
	}
}

// cleanup drops IPs with no requests left in the window.
func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now().UnixMilli()
	for ip, state := range rl.limits {
		state.requests = pruneWindow(state.requests, now)
		if len(state.requests) == 0 {
			delete(rl.limits, ip)
		}
	}
}

// Stop ends the cleanup goroutine. Safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}

func pruneWindow(requests []int64, now int64) []int64 {
	valid := requests[:0]
	for _, at := range requests {
		if now-at < rateLimitWindowMs {
			valid = append(valid, at)
		}
	}
	return valid
}
