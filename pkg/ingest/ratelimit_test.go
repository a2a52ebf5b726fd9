package ingest

import (
	"testing"
	"time"
)

func TestRateLimiterAllowsUpToLimit(t *testing.T) {
	rl := NewRateLimiter(60, time.Minute)
	now := time.Now()

	for i := 0; i < 60; i++ {
		if !rl.Allow(1, now.Add(time.Duration(i)*time.Second/2)) {
			t.Fatalf("event %d rejected within budget", i+1)
		}
	}
	if rl.Allow(1, now.Add(31*time.Second)) {
		t.Error("61st event within the window should be rejected")
	}
}

func TestRateLimiterWindowSlides(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	now := time.Now()

	if !rl.Allow(1, now) || !rl.Allow(1, now.Add(time.Second)) {
		t.Fatal("first two events should pass")
	}
	if rl.Allow(1, now.Add(2*time.Second)) {
		t.Fatal("third event inside the window should be rejected")
	}
	// Once the first hit ages out, capacity returns.
	if !rl.Allow(1, now.Add(61*time.Second)) {
		t.Error("event after the window slid should pass")
	}
}

func TestRateLimiterIsolatesDevices(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	now := time.Now()

	if !rl.Allow(1, now) {
		t.Fatal("device 1 first event should pass")
	}
	if !rl.Allow(2, now) {
		t.Error("device 2 should have its own budget")
	}
	if rl.Allow(1, now.Add(time.Second)) {
		t.Error("device 1 over budget should be rejected")
	}
}

func TestRateLimiterRejectedEventsNotRecorded(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	now := time.Now()

	rl.Allow(1, now)
	for i := 0; i < 10; i++ {
		rl.Allow(1, now.Add(time.Duration(i)*time.Second))
	}
	// The single recorded hit expires; rejections must not have extended it.
	if !rl.Allow(1, now.Add(61*time.Second)) {
		t.Error("budget should have recovered after the window")
	}
}
