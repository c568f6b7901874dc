package main

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a per-client sliding window limiter for the webhook
// endpoint. External platforms retry aggressively on errors; the limiter
// keeps a misbehaving sender from starving the rest.
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	history map[string][]time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:   limit,
		window:  window,
		history: make(map[string][]time.Time),
	}
}

// Allow reports whether a request from the given client may proceed, and
// records it if so.
func (rl *RateLimiter) Allow(clientIP string) bool {
	if rl.limit <= 0 {
		return false
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-rl.window)

	recent := rl.history[clientIP][:0]
	for _, ts := range rl.history[clientIP] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}

	if len(recent) >= rl.limit {
		rl.history[clientIP] = recent
		return false
	}

	rl.history[clientIP] = append(recent, now)
	return true
}

// Cleanup drops clients whose entire history has aged out of the window.
// Meant to be called periodically to bound memory.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-rl.window)
	for ip, timestamps := range rl.history {
		active := false
		for _, ts := range timestamps {
			if ts.After(cutoff) {
				active = true
				break
			}
		}
		if !active {
			delete(rl.history, ip)
		}
	}
}

// CleanupLoop runs Cleanup once per window until the context is cancelled.
func (rl *RateLimiter) CleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.Cleanup()
		}
	}
}
