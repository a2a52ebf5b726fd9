package variable

import (
	"sync"
	"time"
)

type cacheKey struct {
	userID         int64
	deviceUID      string
	includeSecrets bool
}

type cacheEntry struct {
	storedAt time.Time
	result   *SnapshotResult
}

// SnapshotResult is a fully resolved snapshot as returned to clients and
// kept in the short-lived cache.
type SnapshotResult struct {
	SnapshotID       string         `json:"snapshot_id"`
	DeviceUID        string         `json:"device_uid"`
	ResolvedAt       time.Time      `json:"resolved_at"`
	EffectiveVersion string         `json:"effective_version"`
	EffectiveRev     *int64         `json:"effective_rev"`
	Items            []SnapshotItem `json:"items"`
}

// Cache suppresses snapshot-row churn when many readers arrive in a burst.
// Entries live for a short TTL; any variable write invalidates everything.
type Cache struct {
	mu      sync.Mutex
	entries map[cacheKey]cacheEntry
	ttl     time.Duration
}

// NewCache creates a snapshot cache with the given TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		entries: make(map[cacheKey]cacheEntry),
		ttl:     ttl,
	}
}

// Get returns the cached snapshot for the key, or nil when absent/expired.
func (c *Cache) Get(userID int64, deviceUID string, includeSecrets bool, now time.Time) *SnapshotResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := cacheKey{userID: userID, deviceUID: deviceUID, includeSecrets: includeSecrets}
	entry, ok := c.entries[key]
	if !ok {
		return nil
	}
	if now.Sub(entry.storedAt) > c.ttl {
		delete(c.entries, key)
		return nil
	}
	return entry.result
}

// Set stores a resolved snapshot.
func (c *Cache) Set(userID int64, deviceUID string, includeSecrets bool, result *SnapshotResult, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey{userID: userID, deviceUID: deviceUID, includeSecrets: includeSecrets}] = cacheEntry{
		storedAt: now,
		result:   result,
	}
}

// InvalidateAll drops every entry. Called on any definition or value write.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
}
