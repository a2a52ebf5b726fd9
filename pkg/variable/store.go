package variable

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx, letting the same
// store run against the pool or inside a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store provides database operations for the variable core.
type Store struct {
	db DBTX
}

// NewStore creates a variable Store over the given pool or transaction.
func NewStore(db DBTX) *Store {
	return &Store{db: db}
}

const definitionColumns = `key, scope, value_type, default_value, description, unit, min_value, max_value, enum_values, regex, is_secret, is_readonly, user_writable, device_writable, allow_device_override, created_at, updated_at`

func scanDefinition(row pgx.Row) (*Definition, error) {
	var (
		d          Definition
		defaultRaw []byte
		enumRaw    []byte
	)
	err := row.Scan(
		&d.Key, &d.Scope, &d.ValueType, &defaultRaw, &d.Description, &d.Unit,
		&d.MinValue, &d.MaxValue, &enumRaw, &d.Regex, &d.IsSecret, &d.IsReadonly,
		&d.UserWritable, &d.DeviceWritable, &d.AllowDeviceOverride, &d.CreatedAt, &d.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning definition row: %w", err)
	}
	if d.DefaultValue, err = DecodeValue(defaultRaw); err != nil {
		return nil, err
	}
	if len(enumRaw) > 0 {
		if err := json.Unmarshal(enumRaw, &d.EnumValues); err != nil {
			return nil, fmt.Errorf("decoding enum values: %w", err)
		}
	}
	return &d, nil
}

// GetDefinition returns the definition for a key, or nil.
func (s *Store) GetDefinition(ctx context.Context, key string) (*Definition, error) {
	row := s.db.QueryRow(ctx, `SELECT `+definitionColumns+` FROM variable_definitions WHERE key = $1`, key)
	return scanDefinition(row)
}

// ListDefinitions returns all definitions, optionally filtered by scope,
// ordered by key.
func (s *Store) ListDefinitions(ctx context.Context, scope string) ([]Definition, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+definitionColumns+` FROM variable_definitions
		WHERE ($1 = '' OR scope = $1)
		ORDER BY key`, scope)
	if err != nil {
		return nil, fmt.Errorf("listing definitions: %w", err)
	}
	defer rows.Close()

	items := []Definition{}
	for rows.Next() {
		d, err := scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *d)
	}
	return items, rows.Err()
}

// InsertDefinition persists a new definition and returns it with timestamps.
func (s *Store) InsertDefinition(ctx context.Context, d *Definition) (*Definition, error) {
	defaultRaw, err := json.Marshal(d.DefaultValue)
	if err != nil {
		return nil, fmt.Errorf("encoding default value: %w", err)
	}
	var enumRaw []byte
	if d.EnumValues != nil {
		if enumRaw, err = json.Marshal(d.EnumValues); err != nil {
			return nil, fmt.Errorf("encoding enum values: %w", err)
		}
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO variable_definitions
			(key, scope, value_type, default_value, description, unit, min_value, max_value,
			 enum_values, regex, is_secret, is_readonly, user_writable, device_writable, allow_device_override)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING `+definitionColumns,
		d.Key, d.Scope, d.ValueType, defaultRaw, d.Description, d.Unit, d.MinValue, d.MaxValue,
		enumRaw, d.Regex, d.IsSecret, d.IsReadonly, d.UserWritable, d.DeviceWritable, d.AllowDeviceOverride)
	return scanDefinition(row)
}

const valueColumns = `id, variable_key, scope, device_id, user_id, value_json, version, updated_at, updated_by_user_id, updated_by_device_id`

func scanValue(row pgx.Row) (*Value, error) {
	var (
		v   Value
		raw []byte
	)
	err := row.Scan(
		&v.ID, &v.VariableKey, &v.Scope, &v.DeviceID, &v.UserID, &raw,
		&v.Version, &v.UpdatedAt, &v.UpdatedByUserID, &v.UpdatedByDeviceID,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning value row: %w", err)
	}
	if v.ValueJSON, err = DecodeValue(raw); err != nil {
		return nil, err
	}
	return &v, nil
}

// GetValueRow returns the stored value for the exact (key, scope, device,
// user) target, comparing NULLs as equal. forUpdate locks the row.
func (s *Store) GetValueRow(ctx context.Context, key, scope string, deviceID, userID *int64, forUpdate bool) (*Value, error) {
	query := `
		SELECT ` + valueColumns + ` FROM variable_values
		WHERE variable_key = $1 AND scope = $2
		  AND device_id IS NOT DISTINCT FROM $3
		  AND user_id IS NOT DISTINCT FROM $4`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	return scanValue(s.db.QueryRow(ctx, query, key, scope, deviceID, userID))
}

// MapValues returns the stored values for a whole layer keyed by variable
// key: the single global layer, one user's layer, or one device's layer.
func (s *Store) MapValues(ctx context.Context, scope string, deviceID, userID *int64) (map[string]*Value, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+valueColumns+` FROM variable_values
		WHERE scope = $1
		  AND device_id IS NOT DISTINCT FROM $2
		  AND user_id IS NOT DISTINCT FROM $3`, scope, deviceID, userID)
	if err != nil {
		return nil, fmt.Errorf("listing %s values: %w", scope, err)
	}
	defer rows.Close()

	out := map[string]*Value{}
	for rows.Next() {
		v, err := scanValue(rows)
		if err != nil {
			return nil, err
		}
		out[v.VariableKey] = v
	}
	return out, rows.Err()
}

// InsertValue creates the first version of a value target.
func (s *Store) InsertValue(ctx context.Context, v *Value) (*Value, error) {
	raw, err := json.Marshal(v.ValueJSON)
	if err != nil {
		return nil, fmt.Errorf("encoding value: %w", err)
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO variable_values
			(variable_key, scope, device_id, user_id, value_json, version, updated_by_user_id, updated_by_device_id)
		VALUES ($1, $2, $3, $4, $5, 1, $6, $7)
		RETURNING `+valueColumns,
		v.VariableKey, v.Scope, v.DeviceID, v.UserID, raw, v.UpdatedByUserID, v.UpdatedByDeviceID)
	return scanValue(row)
}

// UpdateValue bumps an existing value row to the next version.
func (s *Store) UpdateValue(ctx context.Context, id int64, value any, actorUserID, actorDeviceID *int64) (*Value, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encoding value: %w", err)
	}
	row := s.db.QueryRow(ctx, `
		UPDATE variable_values SET
			value_json = $1,
			version = version + 1,
			updated_at = now(),
			updated_by_user_id = $2,
			updated_by_device_id = $3
		WHERE id = $4
		RETURNING `+valueColumns, raw, actorUserID, actorDeviceID, id)
	return scanValue(row)
}

// InsertAudit appends one change record and returns its id.
func (s *Store) InsertAudit(ctx context.Context, a *Audit) (int64, error) {
	oldRaw, err := json.Marshal(a.OldValueJSON)
	if err != nil {
		return 0, fmt.Errorf("encoding old value: %w", err)
	}
	newRaw, err := json.Marshal(a.NewValueJSON)
	if err != nil {
		return 0, fmt.Errorf("encoding new value: %w", err)
	}
	var id int64
	err = s.db.QueryRow(ctx, `
		INSERT INTO variable_audits
			(variable_key, scope, device_id, old_value_json, new_value_json, old_version, new_version,
			 actor_type, actor_user_id, actor_device_id, request_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		a.VariableKey, a.Scope, a.DeviceID, oldRaw, newRaw, a.OldVersion, a.NewVersion,
		a.ActorType, a.ActorUserID, a.ActorDeviceID, a.RequestID,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting audit: %w", err)
	}
	return id, nil
}

// ListAudits returns change records for a key, newest first.
func (s *Store) ListAudits(ctx context.Context, key, scope string, deviceID *int64, limit, offset int) ([]Audit, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, variable_key, scope, device_id, old_value_json, new_value_json, old_version, new_version,
		       actor_type, actor_user_id, actor_device_id, request_id, created_at
		FROM variable_audits
		WHERE variable_key = $1
		  AND ($2 = '' OR scope = $2)
		  AND ($3::bigint IS NULL OR device_id = $3)
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5`, key, scope, deviceID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing audits: %w", err)
	}
	defer rows.Close()

	items := []Audit{}
	for rows.Next() {
		var (
			a      Audit
			oldRaw []byte
			newRaw []byte
		)
		if err := rows.Scan(&a.ID, &a.VariableKey, &a.Scope, &a.DeviceID, &oldRaw, &newRaw,
			&a.OldVersion, &a.NewVersion, &a.ActorType, &a.ActorUserID, &a.ActorDeviceID,
			&a.RequestID, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning audit row: %w", err)
		}
		if a.OldValueJSON, err = DecodeValue(oldRaw); err != nil {
			return nil, err
		}
		if a.NewValueJSON, err = DecodeValue(newRaw); err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

// InsertSnapshot persists a snapshot header.
func (s *Store) InsertSnapshot(ctx context.Context, snap *Snapshot) error {
	if _, err := s.db.Exec(ctx, `
		INSERT INTO variable_snapshots (id, device_id, user_id, resolved_at, effective_version, effective_rev)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		snap.ID, snap.DeviceID, snap.UserID, snap.ResolvedAt, snap.EffectiveVersion, snap.EffectiveRev); err != nil {
		return fmt.Errorf("inserting snapshot: %w", err)
	}
	return nil
}

// InsertSnapshotItem persists one resolved key of a snapshot.
func (s *Store) InsertSnapshotItem(ctx context.Context, snapshotID string, deviceID *int64, item *SnapshotItem) error {
	valueRaw, err := json.Marshal(item.Value)
	if err != nil {
		return fmt.Errorf("encoding snapshot item value: %w", err)
	}
	var constraintsRaw []byte
	if item.Constraints != nil {
		if constraintsRaw, err = json.Marshal(item.Constraints); err != nil {
			return fmt.Errorf("encoding snapshot item constraints: %w", err)
		}
	}
	if _, err := s.db.Exec(ctx, `
		INSERT INTO variable_snapshot_items
			(snapshot_id, variable_key, scope, device_id, source, value_json, masked, is_secret,
			 version, updated_at, precedence, resolved_type, constraints)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		snapshotID, item.Key, item.Scope, deviceID, item.Source, valueRaw, item.Masked,
		item.IsSecret, item.Version, item.UpdatedAt, item.Precedence, item.ResolvedType, constraintsRaw); err != nil {
		return fmt.Errorf("inserting snapshot item: %w", err)
	}
	return nil
}

// GetSnapshot returns a snapshot header, or nil.
func (s *Store) GetSnapshot(ctx context.Context, id string) (*Snapshot, error) {
	var snap Snapshot
	err := s.db.QueryRow(ctx, `
		SELECT id, device_id, user_id, resolved_at, effective_version, effective_rev
		FROM variable_snapshots WHERE id = $1`, id,
	).Scan(&snap.ID, &snap.DeviceID, &snap.UserID, &snap.ResolvedAt, &snap.EffectiveVersion, &snap.EffectiveRev)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting snapshot: %w", err)
	}
	return &snap, nil
}

// SnapshotItemVersions returns the (key -> version) pairs of a snapshot.
// Items without a stored version map to nil.
func (s *Store) SnapshotItemVersions(ctx context.Context, snapshotID string) (map[string]*int, map[string]bool, error) {
	rows, err := s.db.Query(ctx, `
		SELECT variable_key, version, is_secret FROM variable_snapshot_items WHERE snapshot_id = $1`, snapshotID)
	if err != nil {
		return nil, nil, fmt.Errorf("listing snapshot items: %w", err)
	}
	defer rows.Close()

	versions := map[string]*int{}
	secret := map[string]bool{}
	for rows.Next() {
		var (
			key      string
			version  *int
			isSecret bool
		)
		if err := rows.Scan(&key, &version, &isSecret); err != nil {
			return nil, nil, fmt.Errorf("scanning snapshot item: %w", err)
		}
		versions[key] = version
		secret[key] = isSecret
	}
	return versions, secret, rows.Err()
}

// InsertAck records one apply result. Returns false when the same
// (snapshot, device, key, version) tuple was already recorded.
func (s *Store) InsertAck(ctx context.Context, ack *AppliedAck) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO variable_applied_acks (snapshot_id, device_id, variable_key, version, status, reason)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT ON CONSTRAINT uq_variable_applied_ack DO NOTHING`,
		ack.SnapshotID, ack.DeviceID, ack.VariableKey, ack.Version, ack.Status, ack.Reason)
	if err != nil {
		return false, fmt.Errorf("inserting ack: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListAcks returns a device's apply acks, newest first.
func (s *Store) ListAcks(ctx context.Context, deviceID int64, limit int) ([]AppliedAck, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, snapshot_id, device_id, variable_key, version, status, reason, created_at
		FROM variable_applied_acks
		WHERE device_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing acks: %w", err)
	}
	defer rows.Close()

	items := []AppliedAck{}
	for rows.Next() {
		var a AppliedAck
		if err := rows.Scan(&a.ID, &a.SnapshotID, &a.DeviceID, &a.VariableKey, &a.Version,
			&a.Status, &a.Reason, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning ack row: %w", err)
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

// AckedKeys returns the keys of a snapshot that already have an ack row,
// split into all-acked and applied-acked sets.
func (s *Store) AckedKeys(ctx context.Context, snapshotID string, deviceID int64) (acked, applied map[string]bool, err error) {
	rows, err := s.db.Query(ctx, `
		SELECT variable_key, status FROM variable_applied_acks
		WHERE snapshot_id = $1 AND device_id = $2`, snapshotID, deviceID)
	if err != nil {
		return nil, nil, fmt.Errorf("listing snapshot acks: %w", err)
	}
	defer rows.Close()

	acked = map[string]bool{}
	applied = map[string]bool{}
	for rows.Next() {
		var key, status string
		if err := rows.Scan(&key, &status); err != nil {
			return nil, nil, fmt.Errorf("scanning snapshot ack: %w", err)
		}
		acked[key] = true
		if status == "applied" {
			applied[key] = true
		}
	}
	return acked, applied, rows.Err()
}

// BumpEffectiveRev atomically increments the device's effective-rev
// watermark and returns the new value. The resolver is the single writer.
func (s *Store) BumpEffectiveRev(ctx context.Context, deviceID int64) (int64, error) {
	var rev int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO device_runtime_settings (device_id, last_effective_rev)
		VALUES ($1, 1)
		ON CONFLICT (device_id) DO UPDATE SET
			last_effective_rev = COALESCE(device_runtime_settings.last_effective_rev, 0) + 1,
			updated_at = now()
		RETURNING last_effective_rev`, deviceID,
	).Scan(&rev)
	if err != nil {
		return 0, fmt.Errorf("bumping effective rev: %w", err)
	}
	return rev, nil
}

// UpsertTelemetryInterval sets the runtime telemetry interval for a device.
func (s *Store) UpsertTelemetryInterval(ctx context.Context, deviceID int64, intervalMS int) error {
	if _, err := s.db.Exec(ctx, `
		INSERT INTO device_runtime_settings (device_id, telemetry_interval_ms)
		VALUES ($1, $2)
		ON CONFLICT (device_id) DO UPDATE SET
			telemetry_interval_ms = EXCLUDED.telemetry_interval_ms,
			updated_at = now()`, deviceID, intervalMS); err != nil {
		return fmt.Errorf("upserting telemetry interval: %w", err)
	}
	return nil
}

// AdvanceRevWatermarks lifts last_acked_rev (and optionally
// last_applied_rev) to the given rev, never moving them backwards.
func (s *Store) AdvanceRevWatermarks(ctx context.Context, deviceID, rev int64, advanceApplied bool) error {
	if _, err := s.db.Exec(ctx, `
		INSERT INTO device_runtime_settings (device_id, last_acked_rev, last_applied_rev)
		VALUES ($1, $2, CASE WHEN $3 THEN $2 ELSE NULL END)
		ON CONFLICT (device_id) DO UPDATE SET
			last_acked_rev = GREATEST(COALESCE(device_runtime_settings.last_acked_rev, 0), $2),
			last_applied_rev = CASE WHEN $3
				THEN GREATEST(COALESCE(device_runtime_settings.last_applied_rev, 0), $2)
				ELSE device_runtime_settings.last_applied_rev END,
			updated_at = now()`, deviceID, rev, advanceApplied); err != nil {
		return fmt.Errorf("advancing rev watermarks: %w", err)
	}
	return nil
}

const effectColumns = `id, status, kind, scope, device_id, device_uid, trigger_audit_id, payload, error, attempts, next_attempt_at, locked_until, locked_by, correlation_id, created_at, updated_at`

func scanEffect(row pgx.Row) (*Effect, error) {
	var e Effect
	err := row.Scan(
		&e.ID, &e.Status, &e.Kind, &e.Scope, &e.DeviceID, &e.DeviceUID, &e.TriggerAuditID,
		&e.Payload, &e.Error, &e.Attempts, &e.NextAttemptAt, &e.LockedUntil, &e.LockedBy,
		&e.CorrelationID, &e.CreatedAt, &e.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning effect row: %w", err)
	}
	return &e, nil
}

// InsertEffect enqueues one pending effect.
func (s *Store) InsertEffect(ctx context.Context, e *Effect) error {
	if _, err := s.db.Exec(ctx, `
		INSERT INTO variable_effects
			(id, status, kind, scope, device_id, device_uid, trigger_audit_id, payload, attempts, next_attempt_at, correlation_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID, e.Status, e.Kind, e.Scope, e.DeviceID, e.DeviceUID, e.TriggerAuditID,
		e.Payload, e.Attempts, e.NextAttemptAt, e.CorrelationID); err != nil {
		return fmt.Errorf("inserting effect: %w", err)
	}
	return nil
}

// SelectDueEffects locks up to limit runnable effects for this worker pass.
func (s *Store) SelectDueEffects(ctx context.Context, now time.Time, limit int) ([]Effect, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+effectColumns+` FROM variable_effects
		WHERE status IN ('pending', 'failed')
		  AND (next_attempt_at IS NULL OR next_attempt_at <= $1)
		  AND (locked_until IS NULL OR locked_until <= $1)
		ORDER BY created_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("selecting due effects: %w", err)
	}
	defer rows.Close()

	items := []Effect{}
	for rows.Next() {
		e, err := scanEffect(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *e)
	}
	return items, rows.Err()
}

// MarkEffectInFlight leases an effect to a worker.
func (s *Store) MarkEffectInFlight(ctx context.Context, id, lockedBy string, lockedUntil time.Time) error {
	if _, err := s.db.Exec(ctx, `
		UPDATE variable_effects SET
			status = 'in_flight',
			attempts = attempts + 1,
			locked_by = $1,
			locked_until = $2,
			updated_at = now()
		WHERE id = $3`, lockedBy, lockedUntil, id); err != nil {
		return fmt.Errorf("marking effect in flight: %w", err)
	}
	return nil
}

// MarkEffectDone finishes an effect successfully.
func (s *Store) MarkEffectDone(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, `
		UPDATE variable_effects SET
			status = 'done', error = NULL, locked_until = NULL, updated_at = now()
		WHERE id = $1`, id); err != nil {
		return fmt.Errorf("marking effect done: %w", err)
	}
	return nil
}

// MarkEffectFailed records a failure and schedules the retry; terminal
// failures go to dead.
func (s *Store) MarkEffectFailed(ctx context.Context, id string, execErr error, nextAttemptAt time.Time, dead bool) error {
	status := EffectFailed
	if dead {
		status = EffectDead
	}
	errRaw, err := json.Marshal(map[string]string{"message": execErr.Error()})
	if err != nil {
		return fmt.Errorf("encoding effect error: %w", err)
	}
	if _, err := s.db.Exec(ctx, `
		UPDATE variable_effects SET
			status = $1, error = $2, locked_until = NULL, next_attempt_at = $3, updated_at = now()
		WHERE id = $4`, status, errRaw, nextAttemptAt, id); err != nil {
		return fmt.Errorf("marking effect failed: %w", err)
	}
	return nil
}

// ListEffects returns effects, newest first, optionally filtered.
func (s *Store) ListEffects(ctx context.Context, status, kind string, deviceID *int64, limit int) ([]Effect, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+effectColumns+` FROM variable_effects
		WHERE ($1 = '' OR status = $1)
		  AND ($2 = '' OR kind = $2)
		  AND ($3::bigint IS NULL OR device_id = $3)
		ORDER BY created_at DESC
		LIMIT $4`, status, kind, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing effects: %w", err)
	}
	defer rows.Close()

	items := []Effect{}
	for rows.Next() {
		e, err := scanEffect(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *e)
	}
	return items, rows.Err()
}

// GetEffect returns one effect by id, or nil.
func (s *Store) GetEffect(ctx context.Context, id string) (*Effect, error) {
	return scanEffect(s.db.QueryRow(ctx, `SELECT `+effectColumns+` FROM variable_effects WHERE id = $1`, id))
}

// GetRuntimeSetting returns the runtime row for a device, or nil.
func (s *Store) GetRuntimeSetting(ctx context.Context, deviceID int64) (*RuntimeSetting, error) {
	var rs RuntimeSetting
	err := s.db.QueryRow(ctx, `
		SELECT device_id, telemetry_interval_ms, last_effective_rev, last_applied_rev, last_acked_rev, updated_at
		FROM device_runtime_settings WHERE device_id = $1`, deviceID,
	).Scan(&rs.DeviceID, &rs.TelemetryIntervalMS, &rs.LastEffectiveRev, &rs.LastAppliedRev, &rs.LastAckedRev, &rs.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting runtime setting: %w", err)
	}
	return &rs, nil
}
