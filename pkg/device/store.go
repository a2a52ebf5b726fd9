package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const deviceColumns = `id, device_uid, name, firmware_version, capabilities, last_seen_at, owner_user_id, is_claimed, created_at`

// Store provides database operations for the device registry.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a device Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func scanDevice(row pgx.Row) (*Device, error) {
	var d Device
	err := row.Scan(
		&d.ID, &d.DeviceUID, &d.Name, &d.FirmwareVersion, &d.Capabilities,
		&d.LastSeenAt, &d.OwnerUserID, &d.IsClaimed, &d.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning device row: %w", err)
	}
	return &d, nil
}

// UpsertHello creates or refreshes a device row by its hardware identifier.
// The claimed mirror is recomputed from owner_user_id on every hello.
func (s *Store) UpsertHello(ctx context.Context, deviceUID string, firmware *string, capabilities json.RawMessage) (*Device, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO devices (device_uid, firmware_version, capabilities, last_seen_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (device_uid) DO UPDATE SET
			firmware_version = EXCLUDED.firmware_version,
			capabilities = EXCLUDED.capabilities,
			last_seen_at = now(),
			is_claimed = (devices.owner_user_id IS NOT NULL)
		RETURNING `+deviceColumns, deviceUID, firmware, capabilities)
	return scanDevice(row)
}

// GetByUID returns the device with the given hardware identifier, or nil.
func (s *Store) GetByUID(ctx context.Context, deviceUID string) (*Device, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+deviceColumns+` FROM devices WHERE device_uid = $1`, deviceUID)
	return scanDevice(row)
}

// GetOwned returns the device with the given id owned by userID, or nil.
func (s *Store) GetOwned(ctx context.Context, deviceID, userID int64) (*Device, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+deviceColumns+` FROM devices WHERE id = $1 AND owner_user_id = $2`, deviceID, userID)
	return scanDevice(row)
}

// ListByOwner returns all devices owned by a user, oldest first.
func (s *Store) ListByOwner(ctx context.Context, userID int64) ([]Device, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+deviceColumns+` FROM devices WHERE owner_user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	defer rows.Close()

	var items []Device
	for rows.Next() {
		var d Device
		if err := rows.Scan(
			&d.ID, &d.DeviceUID, &d.Name, &d.FirmwareVersion, &d.Capabilities,
			&d.LastSeenAt, &d.OwnerUserID, &d.IsClaimed, &d.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning device row: %w", err)
		}
		items = append(items, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device rows: %w", err)
	}
	return items, nil
}

// TouchLastSeen refreshes the device's last_seen_at watermark.
func (s *Store) TouchLastSeen(ctx context.Context, deviceID int64) error {
	if _, err := s.pool.Exec(ctx, `UPDATE devices SET last_seen_at = now() WHERE id = $1`, deviceID); err != nil {
		return fmt.Errorf("touching last_seen_at: %w", err)
	}
	return nil
}

// BusyDeviceIDs returns the subset of the given device ids that hold a live
// in-flight task lease at the given instant.
func (s *Store) BusyDeviceIDs(ctx context.Context, deviceIDs []int64, now time.Time) (map[int64]bool, error) {
	busy := map[int64]bool{}
	if len(deviceIDs) == 0 {
		return busy, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT client_id FROM tasks
		WHERE client_id = ANY($1)
		  AND status = 'in_flight'
		  AND lease_token IS NOT NULL
		  AND lease_expires_at IS NOT NULL
		  AND lease_expires_at > $2`, deviceIDs, now)
	if err != nil {
		return nil, fmt.Errorf("listing busy devices: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning busy device id: %w", err)
		}
		busy[id] = true
	}
	return busy, rows.Err()
}

// PairingActiveUIDs returns the subset of the given device uids with an
// unexpired, unused pairing session at the given instant.
func (s *Store) PairingActiveUIDs(ctx context.Context, deviceUIDs []string, now time.Time) (map[string]bool, error) {
	active := map[string]bool{}
	if len(deviceUIDs) == 0 {
		return active, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT device_uid FROM pairing_sessions
		WHERE device_uid = ANY($1) AND NOT is_used AND expires_at > $2`, deviceUIDs, now)
	if err != nil {
		return nil, fmt.Errorf("listing pairing-active devices: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, fmt.Errorf("scanning pairing-active uid: %w", err)
		}
		active[uid] = true
	}
	return active, rows.Err()
}
