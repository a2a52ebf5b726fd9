package ingest

import (
	"sync"
	"time"
)

// RateLimiter enforces a per-device sliding-window event budget with an
// in-process map of timestamp deques. Entries age out as their deques drain,
// so the map stays bounded by the set of recently active devices.
type RateLimiter struct {
	mu     sync.Mutex
	hits   map[int64][]time.Time
	limit  int
	window time.Duration
}

// NewRateLimiter creates a sliding-window limiter allowing limit events per
// window per device.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		hits:   make(map[int64][]time.Time),
		limit:  limit,
		window: window,
	}
}

// Allow records an event for the device and reports whether it fits the
// budget. Rejected events are not recorded.
func (rl *RateLimiter) Allow(deviceID int64, now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := now.Add(-rl.window)
	// Drop other devices whose newest hit has left the window.
	for id, ts := range rl.hits {
		if id != deviceID && (len(ts) == 0 || !ts[len(ts)-1].After(cutoff)) {
			delete(rl.hits, id)
		}
	}

	hits := rl.hits[deviceID]
	trimmed := hits[:0]
	for _, t := range hits {
		if t.After(cutoff) {
			trimmed = append(trimmed, t)
		}
	}

	if len(trimmed) >= rl.limit {
		if len(trimmed) == 0 {
			delete(rl.hits, deviceID)
		} else {
			rl.hits[deviceID] = trimmed
		}
		return false
	}

	rl.hits[deviceID] = append(trimmed, now)
	return true
}
