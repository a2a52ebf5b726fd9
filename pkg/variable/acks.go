package variable

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hubex-fl/hubex/internal/httpserver"
)

// AppliedEntry is one per-key apply result reported by a device.
type AppliedEntry struct {
	Key     string  `json:"key" validate:"required"`
	Version *int    `json:"version"`
	Reason  *string `json:"reason"`
}

// AppliedRequest is the body of POST /variables/applied.
type AppliedRequest struct {
	SnapshotID string         `json:"snapshot_id" validate:"required,len=40"`
	DeviceUID  string         `json:"device_uid"`
	Applied    []AppliedEntry `json:"applied"`
	Failed     []AppliedEntry `json:"failed"`
}

// AppliedResult counts the newly accepted entries; duplicates are silently
// ignored and not counted.
type AppliedResult struct {
	Applied int `json:"applied"`
	Failed  int `json:"failed"`
}

// RecordApplied records per-key apply acknowledgments against a snapshot.
// Every (key, version) must match a snapshot item; inserts are idempotent on
// the (snapshot, device, key, version) unique key. When every non-secret
// item of the snapshot is accounted for, the device's rev watermarks advance
// to the snapshot's effective_rev.
func (s *Service) RecordApplied(ctx context.Context, deviceID int64, req *AppliedRequest) (*AppliedResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	store := NewStore(tx)

	snap, err := store.GetSnapshot(ctx, req.SnapshotID)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, httpserver.NewAPIError(http.StatusNotFound, "VAR_SNAPSHOT_NOT_FOUND", "snapshot not found")
	}
	if snap.DeviceID == nil || *snap.DeviceID != deviceID {
		return nil, httpserver.NewAPIError(http.StatusConflict, "VAR_NOT_ALLOWED", "snapshot does not belong to device")
	}

	versions, secret, err := store.SnapshotItemVersions(ctx, req.SnapshotID)
	if err != nil {
		return nil, err
	}

	validate := func(entry *AppliedEntry) error {
		itemVersion, ok := versions[entry.Key]
		if !ok {
			return httpserver.NewAPIError(http.StatusConflict, "VAR_APPLIED_MISMATCH", "key not in snapshot").
				WithMeta("key", entry.Key)
		}
		if !versionsEqual(itemVersion, entry.Version) {
			return httpserver.NewAPIError(http.StatusConflict, "VAR_APPLIED_MISMATCH", "version does not match snapshot").
				WithMeta("key", entry.Key)
		}
		return nil
	}

	result := &AppliedResult{}
	for i := range req.Applied {
		entry := &req.Applied[i]
		if err := validate(entry); err != nil {
			return nil, err
		}
		inserted, err := store.InsertAck(ctx, &AppliedAck{
			SnapshotID:  req.SnapshotID,
			DeviceID:    deviceID,
			VariableKey: entry.Key,
			Version:     entry.Version,
			Status:      "applied",
		})
		if err != nil {
			return nil, err
		}
		if inserted {
			result.Applied++
		}
	}
	for i := range req.Failed {
		entry := &req.Failed[i]
		if err := validate(entry); err != nil {
			return nil, err
		}
		inserted, err := store.InsertAck(ctx, &AppliedAck{
			SnapshotID:  req.SnapshotID,
			DeviceID:    deviceID,
			VariableKey: entry.Key,
			Version:     entry.Version,
			Status:      "failed",
			Reason:      entry.Reason,
		})
		if err != nil {
			return nil, err
		}
		if inserted {
			result.Failed++
		}
	}

	if snap.EffectiveRev != nil {
		acked, applied, err := store.AckedKeys(ctx, req.SnapshotID, deviceID)
		if err != nil {
			return nil, err
		}
		allAcked := true
		allApplied := true
		for key := range versions {
			if secret[key] {
				continue
			}
			if !acked[key] {
				allAcked = false
				allApplied = false
				break
			}
			if !applied[key] {
				allApplied = false
			}
		}
		if allAcked {
			if err := store.AdvanceRevWatermarks(ctx, deviceID, *snap.EffectiveRev, allApplied); err != nil {
				return nil, err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing acks: %w", err)
	}
	return result, nil
}

func versionsEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// ListApplied returns a device's recorded acks, newest first.
func (s *Service) ListApplied(ctx context.Context, deviceUID string, limit int) ([]AppliedAck, error) {
	d, err := s.resolveDevice(ctx, s.pool, deviceUID, false)
	if err != nil {
		return nil, err
	}
	return NewStore(s.pool).ListAcks(ctx, d.ID, limit)
}
