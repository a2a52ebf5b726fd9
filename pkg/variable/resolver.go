package variable

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hubex-fl/hubex/internal/httpserver"
	"github.com/hubex-fl/hubex/internal/telemetry"
)

var scopePrecedence = map[string]int{
	"default":   0,
	ScopeGlobal: 1,
	ScopeUser:   2,
	ScopeDevice: 3,
}

// resolveItems computes the layered effective value per definition for one
// (user, device) pair. Returns the items and the max contributor timestamp.
func resolveItems(ctx context.Context, store *Store, deviceID, userID int64, deviceUID string, includeSecrets bool) ([]SnapshotItem, time.Time, error) {
	definitions, err := store.ListDefinitions(ctx, "")
	if err != nil {
		return nil, time.Time{}, err
	}

	globalValues, err := store.MapValues(ctx, ScopeGlobal, nil, nil)
	if err != nil {
		return nil, time.Time{}, err
	}
	deviceValues, err := store.MapValues(ctx, ScopeDevice, &deviceID, nil)
	if err != nil {
		return nil, time.Time{}, err
	}
	userValues, err := store.MapValues(ctx, ScopeUser, nil, &userID)
	if err != nil {
		return nil, time.Time{}, err
	}

	items := make([]SnapshotItem, 0, len(definitions))
	var maxUpdated time.Time

	for i := range definitions {
		def := &definitions[i]

		var stored *Value
		source := "default"
		switch def.Scope {
		case ScopeGlobal:
			stored = globalValues[def.Key]
		case ScopeUser:
			stored = userValues[def.Key]
		case ScopeDevice:
			stored = deviceValues[def.Key]
		}
		if stored != nil {
			source = def.Scope
		}

		var storedValue any
		if stored != nil {
			storedValue = stored.ValueJSON
		}
		effective := EffectiveValue(def, storedValue)

		masked := def.IsSecret
		var valueOut any
		if masked && !includeSecrets {
			valueOut = nil
		} else {
			valueOut = effective
		}

		item := SnapshotItem{
			Key:          def.Key,
			Value:        valueOut,
			Scope:        def.Scope,
			IsSecret:     def.IsSecret,
			Masked:       masked,
			Source:       source,
			Precedence:   scopePrecedence[source],
			ResolvedType: def.ValueType,
			Constraints:  def.ConstraintsMap(),
		}
		if def.Scope == ScopeDevice {
			uid := deviceUID
			item.DeviceUID = &uid
		}
		if stored != nil {
			item.Version = &stored.Version
			updatedAt := stored.UpdatedAt
			item.UpdatedAt = &updatedAt
			if updatedAt.After(maxUpdated) {
				maxUpdated = updatedAt
			}
		} else if def.UpdatedAt.After(maxUpdated) {
			maxUpdated = def.UpdatedAt
		}

		items = append(items, item)
	}

	return items, maxUpdated, nil
}

// EffectiveView is the transient effective-variable read (no snapshot row).
type EffectiveView struct {
	DeviceUID        string         `json:"device_uid"`
	ComputedAt       time.Time      `json:"computed_at"`
	EffectiveVersion string         `json:"effective_version"`
	Items            []SnapshotItem `json:"items"`
}

// Effective computes the layered view without persisting a snapshot.
func (s *Service) Effective(ctx context.Context, userID int64, deviceUID string, includeSecrets bool) (*EffectiveView, error) {
	d, err := s.ownedDevice(ctx, userID, deviceUID)
	if err != nil {
		return nil, err
	}

	computedAt := time.Now().UTC()
	items, maxUpdated, err := resolveItems(ctx, NewStore(s.pool), d.ID, userID, deviceUID, includeSecrets)
	if err != nil {
		return nil, err
	}
	if maxUpdated.IsZero() {
		maxUpdated = computedAt
	}

	return &EffectiveView{
		DeviceUID:        deviceUID,
		ComputedAt:       computedAt,
		EffectiveVersion: maxUpdated.Format(time.RFC3339Nano),
		Items:            items,
	}, nil
}

// ResolveSnapshot materializes an immutable snapshot for the pair, publishes
// the device's effective_rev watermark, and caches the result briefly.
func (s *Service) ResolveSnapshot(ctx context.Context, userID int64, deviceUID string, includeSecrets bool) (*SnapshotResult, error) {
	now := time.Now().UTC()

	if cached := s.cache.Get(userID, deviceUID, includeSecrets, now); cached != nil {
		telemetry.SnapshotCacheHitsTotal.Inc()
		return cached, nil
	}

	d, err := s.ownedDevice(ctx, userID, deviceUID)
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	store := NewStore(tx)

	items, maxUpdated, err := resolveItems(ctx, store, d.ID, userID, deviceUID, includeSecrets)
	if err != nil {
		return nil, err
	}
	resolvedAt := now
	if maxUpdated.IsZero() {
		maxUpdated = resolvedAt
	}
	effectiveVersion := maxUpdated.Format(time.RFC3339Nano)

	rev, err := store.BumpEffectiveRev(ctx, d.ID)
	if err != nil {
		return nil, err
	}

	snapshotID := NewSnapshotID()
	snap := &Snapshot{
		ID:               snapshotID,
		DeviceID:         &d.ID,
		UserID:           &userID,
		ResolvedAt:       resolvedAt,
		EffectiveVersion: effectiveVersion,
		EffectiveRev:     &rev,
	}
	if err := store.InsertSnapshot(ctx, snap); err != nil {
		return nil, err
	}
	for i := range items {
		var deviceID *int64
		if items[i].Scope == ScopeDevice {
			deviceID = &d.ID
		}
		if err := store.InsertSnapshotItem(ctx, snapshotID, deviceID, &items[i]); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing snapshot: %w", err)
	}

	result := &SnapshotResult{
		SnapshotID:       snapshotID,
		DeviceUID:        deviceUID,
		ResolvedAt:       resolvedAt,
		EffectiveVersion: effectiveVersion,
		EffectiveRev:     &rev,
		Items:            items,
	}
	s.cache.Set(userID, deviceUID, includeSecrets, result, now)
	return result, nil
}

// ownedDevice resolves a device uid and requires ownership by userID.
func (s *Service) ownedDevice(ctx context.Context, userID int64, deviceUID string) (*deviceRow, error) {
	d, err := s.getDeviceByUID(ctx, s.pool, deviceUID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, httpserver.NewAPIError(http.StatusNotFound, "DEVICE_UNKNOWN_UID", "unknown device UID")
	}
	if d.OwnerUserID == nil || *d.OwnerUserID != userID {
		return nil, httpserver.NewAPIError(http.StatusNotFound, "DEVICE_NOT_OWNED", "device not owned")
	}
	return d, nil
}
