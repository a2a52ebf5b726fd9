package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides database operations for telemetry events.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a telemetry Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Insert persists one event and refreshes the device's last_seen_at.
func (s *Store) Insert(ctx context.Context, deviceID int64, eventType *string, payload json.RawMessage) (*Event, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var e Event
	e.DeviceID = deviceID
	err = tx.QueryRow(ctx, `
		INSERT INTO device_telemetry (device_id, event_type, payload)
		VALUES ($1, $2, $3)
		RETURNING id, received_at, event_type, payload`,
		deviceID, eventType, payload,
	).Scan(&e.ID, &e.ReceivedAt, &e.EventType, &e.Payload)
	if err != nil {
		return nil, fmt.Errorf("inserting telemetry: %w", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE devices SET last_seen_at = now() WHERE id = $1`, deviceID); err != nil {
		return nil, fmt.Errorf("touching device: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing telemetry: %w", err)
	}
	return &e, nil
}

// Recent returns the device's newest events, newest first.
func (s *Store) Recent(ctx context.Context, deviceID int64, limit int) ([]Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, received_at, event_type, payload
		FROM device_telemetry
		WHERE device_id = $1
		ORDER BY received_at DESC
		LIMIT $2`, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing telemetry: %w", err)
	}
	return scanEvents(rows, deviceID)
}

// Page returns the device's events before the given instant, newest first.
func (s *Store) Page(ctx context.Context, deviceID int64, before *time.Time, limit int) ([]Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, received_at, event_type, payload
		FROM device_telemetry
		WHERE device_id = $1 AND ($2::timestamptz IS NULL OR received_at < $2)
		ORDER BY received_at DESC
		LIMIT $3`, deviceID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("listing telemetry page: %w", err)
	}
	return scanEvents(rows, deviceID)
}

func scanEvents(rows pgx.Rows, deviceID int64) ([]Event, error) {
	defer rows.Close()
	items := []Event{}
	for rows.Next() {
		e := Event{DeviceID: deviceID}
		if err := rows.Scan(&e.ID, &e.ReceivedAt, &e.EventType, &e.Payload); err != nil {
			return nil, fmt.Errorf("scanning telemetry row: %w", err)
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating telemetry rows: %w", err)
	}
	return items, nil
}
