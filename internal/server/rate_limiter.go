// Package server implements the per-connection frame budget that protects the
// relay from clients flooding the protocol.
package server

import (
	"sync"
	"time"
)

// frameLimiter is a token bucket sized to the configured burst. The full
// burst refills evenly over one refill interval, so a connection may send
// burst frames at once and then sustains burst-per-interval.
type frameLimiter struct {
	mu        sync.Mutex
	available float64
	burst     float64
	perSecond float64
	last      time.Time
}

func newFrameLimiter(burst int, interval time.Duration) *frameLimiter {
	if burst <= 0 {
		burst = 1
	}
	if interval <= 0 {
		interval = time.Second
	}

	return &frameLimiter{
		available: float64(burst),
		burst:     float64(burst),
		perSecond: float64(burst) / interval.Seconds(),
		last:      time.Now(),
	}
}

// allow spends one token if the bucket holds one, crediting elapsed time
// first. It reports whether the frame may be processed.
func (fl *frameLimiter) allow() bool {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	now := time.Now()
	if elapsed := now.Sub(fl.last).Seconds(); elapsed > 0 {
		fl.available += elapsed * fl.perSecond
		if fl.available > fl.burst {
			fl.available = fl.burst
		}
	}
	fl.last = now

	if fl.available < 1 {
		return false
	}
	fl.available--
	return true
}
