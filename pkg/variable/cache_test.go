package variable

import (
	"testing"
	"time"
)

func TestCacheHitWithinTTL(t *testing.T) {
	c := NewCache(2 * time.Second)
	now := time.Now()
	result := &SnapshotResult{SnapshotID: "abc"}

	c.Set(1, "D1", false, result, now)

	if got := c.Get(1, "D1", false, now.Add(time.Second)); got == nil || got.SnapshotID != "abc" {
		t.Errorf("Get() = %v, want cached result", got)
	}
}

func TestCacheExpiresAfterTTL(t *testing.T) {
	c := NewCache(2 * time.Second)
	now := time.Now()

	c.Set(1, "D1", false, &SnapshotResult{SnapshotID: "abc"}, now)

	if got := c.Get(1, "D1", false, now.Add(3*time.Second)); got != nil {
		t.Errorf("Get() after TTL = %v, want nil", got)
	}
}

func TestCacheKeyIncludesSecretFlag(t *testing.T) {
	c := NewCache(2 * time.Second)
	now := time.Now()

	c.Set(1, "D1", false, &SnapshotResult{SnapshotID: "masked"}, now)
	c.Set(1, "D1", true, &SnapshotResult{SnapshotID: "unmasked"}, now)

	if got := c.Get(1, "D1", false, now); got == nil || got.SnapshotID != "masked" {
		t.Errorf("masked entry = %v", got)
	}
	if got := c.Get(1, "D1", true, now); got == nil || got.SnapshotID != "unmasked" {
		t.Errorf("unmasked entry = %v", got)
	}
	if got := c.Get(2, "D1", false, now); got != nil {
		t.Errorf("other user got a cached entry: %v", got)
	}
}

func TestCacheInvalidateAll(t *testing.T) {
	c := NewCache(2 * time.Second)
	now := time.Now()

	c.Set(1, "D1", false, &SnapshotResult{SnapshotID: "a"}, now)
	c.Set(2, "D2", true, &SnapshotResult{SnapshotID: "b"}, now)

	c.InvalidateAll()

	if c.Get(1, "D1", false, now) != nil || c.Get(2, "D2", true, now) != nil {
		t.Error("entries survived InvalidateAll")
	}
}
