package variable

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/hubex-fl/hubex/internal/auth"
	"github.com/hubex-fl/hubex/internal/httpserver"
	"github.com/hubex-fl/hubex/internal/telemetry"
)

// effectsKickChannel wakes the effect worker right after an enqueue instead
// of waiting for its next poll tick.
const effectsKickChannel = "hubex:effects:enqueued"

// Service implements the variable core: definitions, layered values with
// optimistic versioning, audits and effect derivation.
type Service struct {
	pool     *pgxpool.Pool
	rdb      *redis.Client
	logger   *slog.Logger
	cache    *Cache
	devTools bool
}

// NewService creates the variable Service.
func NewService(pool *pgxpool.Pool, rdb *redis.Client, logger *slog.Logger, cache *Cache, devTools bool) *Service {
	return &Service{pool: pool, rdb: rdb, logger: logger, cache: cache, devTools: devTools}
}

// deviceRow is the slice of the devices table the variable paths need.
type deviceRow struct {
	ID          int64
	DeviceUID   string
	LastSeenAt  *time.Time
	OwnerUserID *int64
}

func (s *Service) getDeviceByUID(ctx context.Context, db DBTX, deviceUID string) (*deviceRow, error) {
	var d deviceRow
	err := db.QueryRow(ctx, `
		SELECT id, device_uid, last_seen_at, owner_user_id
		FROM devices WHERE device_uid = $1`, deviceUID,
	).Scan(&d.ID, &d.DeviceUID, &d.LastSeenAt, &d.OwnerUserID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up device: %w", err)
	}
	return &d, nil
}

// resolveDevice requires a provisioned device; unprovisioned is a 404 on
// read paths and a 409 on write paths.
func (s *Service) resolveDevice(ctx context.Context, db DBTX, deviceUID string, forWrite bool) (*deviceRow, error) {
	d, err := s.getDeviceByUID(ctx, db, deviceUID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, httpserver.NewAPIError(http.StatusNotFound, "DEVICE_NOT_FOUND", "device not found")
	}
	if d.LastSeenAt == nil {
		if forWrite {
			return nil, httpserver.NewAPIError(http.StatusConflict, "VAR_DEVICE_NOT_PROVISIONED", "device not provisioned")
		}
		return nil, httpserver.NewAPIError(http.StatusNotFound, "DEVICE_NOT_PROVISIONED", "device not provisioned")
	}
	return d, nil
}

func (s *Service) deviceBusy(ctx context.Context, db DBTX, deviceID int64, now time.Time) (bool, error) {
	var id int64
	err := db.QueryRow(ctx, `
		SELECT id FROM tasks
		WHERE client_id = $1
		  AND status = 'in_flight'
		  AND lease_token IS NOT NULL
		  AND lease_expires_at IS NOT NULL
		  AND lease_expires_at > $2
		LIMIT 1`, deviceID, now).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking device lease: %w", err)
	}
	return true, nil
}

func (s *Service) pairingActive(ctx context.Context, db DBTX, deviceUID string, now time.Time) (bool, error) {
	var id int64
	err := db.QueryRow(ctx, `
		SELECT id FROM pairing_sessions
		WHERE device_uid = $1 AND NOT is_used AND expires_at > $2
		LIMIT 1`, deviceUID, now).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking pairing session: %w", err)
	}
	return true, nil
}

// DefinitionRequest is the body of POST /variables/definitions.
type DefinitionRequest struct {
	Key                 string          `json:"key" validate:"required,min=1,max=128"`
	Scope               string          `json:"scope" validate:"required,oneof=global user device"`
	ValueType           string          `json:"value_type" validate:"required,oneof=string int float bool json"`
	DefaultValue        json.RawMessage `json:"default_value"`
	Description         *string         `json:"description" validate:"omitempty,max=512"`
	Unit                *string         `json:"unit" validate:"omitempty,max=32"`
	MinValue            *float64        `json:"min_value"`
	MaxValue            *float64        `json:"max_value"`
	EnumValues          []string        `json:"enum_values"`
	Regex               *string         `json:"regex" validate:"omitempty,max=256"`
	IsSecret            bool            `json:"is_secret"`
	IsReadonly          bool            `json:"is_readonly"`
	UserWritable        *bool           `json:"user_writable"`
	DeviceWritable      bool            `json:"device_writable"`
	AllowDeviceOverride *bool           `json:"allow_device_override"`
}

// CreateDefinition validates and persists a new definition. The default
// value must satisfy the definition's own type and constraints.
func (s *Service) CreateDefinition(ctx context.Context, req *DefinitionRequest) (*Definition, error) {
	store := NewStore(s.pool)

	existing, err := store.GetDefinition(ctx, req.Key)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, httpserver.NewAPIError(http.StatusConflict, "VAR_DEF_EXISTS", "variable definition already exists")
	}

	userWritable := true
	if req.UserWritable != nil {
		userWritable = *req.UserWritable
	}
	allowOverride := true
	if req.AllowDeviceOverride != nil {
		allowOverride = *req.AllowDeviceOverride
	}

	def := &Definition{
		Key:                 req.Key,
		Scope:               req.Scope,
		ValueType:           req.ValueType,
		Description:         req.Description,
		Unit:                req.Unit,
		MinValue:            req.MinValue,
		MaxValue:            req.MaxValue,
		EnumValues:          req.EnumValues,
		Regex:               req.Regex,
		IsSecret:            req.IsSecret,
		IsReadonly:          req.IsReadonly,
		UserWritable:        userWritable,
		DeviceWritable:      req.DeviceWritable,
		AllowDeviceOverride: allowOverride,
	}

	if defaultValue, err := DecodeValue(req.DefaultValue); err != nil {
		return nil, httpserver.NewAPIError(http.StatusUnprocessableEntity, "VAR_INVALID_TYPE", "invalid default value")
	} else if defaultValue != nil {
		coerced, apiErr := CoerceForDefinition(def, defaultValue)
		if apiErr != nil {
			return nil, apiErr
		}
		def.DefaultValue = coerced
	}

	created, err := store.InsertDefinition(ctx, def)
	if err != nil {
		return nil, err
	}
	s.cache.InvalidateAll()
	return created, nil
}

// ListDefinitions returns definitions, optionally filtered by scope.
func (s *Service) ListDefinitions(ctx context.Context, scope string) ([]Definition, error) {
	if scope != "" && !ValidScope(scope) {
		return nil, httpserver.NewAPIError(http.StatusUnprocessableEntity, "VAR_SCOPE_MISMATCH", "unknown scope")
	}
	return NewStore(s.pool).ListDefinitions(ctx, scope)
}

// ValueView is a single value read with secret masking applied.
type ValueView struct {
	Key       string     `json:"key"`
	Scope     string     `json:"scope"`
	DeviceUID *string    `json:"device_uid"`
	Value     any        `json:"value"`
	Version   *int       `json:"version"`
	UpdatedAt *time.Time `json:"updated_at"`
	IsSecret  bool       `json:"is_secret"`
}

// GetValue reads one value target, applying the default and masking.
func (s *Service) GetValue(ctx context.Context, userID int64, key, scope, deviceUID string, includeSecrets bool) (*ValueView, error) {
	store := NewStore(s.pool)

	def, err := store.GetDefinition(ctx, key)
	if err != nil {
		return nil, err
	}
	if def == nil {
		return nil, httpserver.NewAPIError(http.StatusNotFound, "VAR_DEF_NOT_FOUND", "variable definition not found")
	}
	if def.Scope != scope {
		return nil, httpserver.NewAPIError(http.StatusConflict, "VAR_SCOPE_MISMATCH", "scope mismatch")
	}

	var (
		deviceID *int64
		uidOut   *string
		target   *int64
	)
	switch scope {
	case ScopeDevice:
		if deviceUID == "" {
			return nil, httpserver.NewAPIError(http.StatusUnprocessableEntity, "VAR_DEVICE_UID_REQUIRED", "device_uid required")
		}
		d, err := s.resolveDevice(ctx, s.pool, deviceUID, false)
		if err != nil {
			return nil, err
		}
		deviceID = &d.ID
		uidOut = &deviceUID
	case ScopeUser:
		target = &userID
	default:
		if deviceUID != "" {
			return nil, httpserver.NewAPIError(http.StatusConflict, "VAR_SCOPE_MISMATCH", "device_uid not allowed for global scope")
		}
	}

	value, err := store.GetValueRow(ctx, def.Key, scope, deviceID, target, false)
	if err != nil {
		return nil, err
	}

	var stored any
	if value != nil {
		stored = value.ValueJSON
	}
	effective := EffectiveValue(def, stored)
	if !includeSecrets {
		effective = MaskIfSecret(def, effective)
	}

	view := &ValueView{
		Key:       def.Key,
		Scope:     def.Scope,
		DeviceUID: uidOut,
		Value:     effective,
		IsSecret:  def.IsSecret,
	}
	if value != nil {
		view.Version = &value.Version
		view.UpdatedAt = &value.UpdatedAt
	}
	return view, nil
}

// WriteParams carries one value write through the policy checks.
type WriteParams struct {
	Key             string
	Scope           string
	DeviceUID       string
	Value           any
	ExpectedVersion *int
	Actor           *auth.Identity
	Force           bool
	RequestID       *string
}

// Write performs a policy-checked, optimistically versioned value write in a
// single transaction, appending the audit and deriving effects.
func (s *Service) Write(ctx context.Context, p *WriteParams) (*Definition, *Value, error) {
	now := time.Now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	store := NewStore(tx)

	def, err := store.GetDefinition(ctx, p.Key)
	if err != nil {
		return nil, nil, err
	}
	if def == nil {
		return nil, nil, httpserver.NewAPIError(http.StatusNotFound, "VAR_DEF_NOT_FOUND", "variable definition not found")
	}
	if def.Scope != p.Scope {
		return nil, nil, httpserver.NewAPIError(http.StatusConflict, "VAR_SCOPE_MISMATCH", "scope mismatch")
	}
	if def.IsReadonly {
		return nil, nil, httpserver.NewAPIError(http.StatusConflict, "VAR_READONLY", "variable is read-only")
	}

	actorIsUser := p.Actor.Kind == auth.PrincipalUser
	actorIsDevice := p.Actor.Kind == auth.PrincipalDevice

	if (p.Scope == ScopeUser || p.Scope == ScopeGlobal) && !actorIsUser {
		return nil, nil, httpserver.NewAPIError(http.StatusForbidden, "VAR_NOT_ALLOWED", p.Scope+" scope requires user auth")
	}
	if actorIsUser && !def.UserWritable {
		return nil, nil, httpserver.NewAPIError(http.StatusForbidden, "VAR_NOT_ALLOWED", "variable not user writable")
	}
	if actorIsDevice && !def.DeviceWritable {
		return nil, nil, httpserver.NewAPIError(http.StatusForbidden, "VAR_NOT_ALLOWED", "variable not device writable")
	}

	var (
		device   *deviceRow
		deviceID *int64
		userID   *int64
	)
	switch p.Scope {
	case ScopeDevice:
		if p.DeviceUID == "" {
			return nil, nil, httpserver.NewAPIError(http.StatusUnprocessableEntity, "VAR_DEVICE_UID_REQUIRED", "device_uid required")
		}
		device, err = s.resolveDevice(ctx, tx, p.DeviceUID, true)
		if err != nil {
			return nil, nil, err
		}
		deviceID = &device.ID
		if !def.AllowDeviceOverride {
			return nil, nil, httpserver.NewAPIError(http.StatusConflict, "VAR_NOT_ALLOWED", "device override not allowed")
		}
		if actorIsDevice && device.ID != p.Actor.DeviceID {
			return nil, nil, httpserver.NewAPIError(http.StatusForbidden, "VAR_NOT_ALLOWED", "device token mismatch")
		}
		if device.OwnerUserID == nil && !s.devTools {
			return nil, nil, httpserver.NewAPIError(http.StatusForbidden, "VAR_NOT_ALLOWED", "device not claimed")
		}
		if device.OwnerUserID != nil && actorIsUser && *device.OwnerUserID != p.Actor.UserID {
			return nil, nil, httpserver.NewAPIError(http.StatusNotFound, "DEVICE_NOT_OWNED", "device not owned")
		}
		if !p.Force {
			busy, err := s.deviceBusy(ctx, tx, device.ID, now)
			if err != nil {
				return nil, nil, err
			}
			if busy {
				return nil, nil, httpserver.NewAPIError(http.StatusConflict, "VAR_DEVICE_BUSY", "device busy")
			}
			active, err := s.pairingActive(ctx, tx, device.DeviceUID, now)
			if err != nil {
				return nil, nil, err
			}
			if active {
				return nil, nil, httpserver.NewAPIError(http.StatusConflict, "VAR_DEVICE_PAIRING_ACTIVE", "pairing active")
			}
		}
	case ScopeUser:
		userID = &p.Actor.UserID
	default:
		if p.DeviceUID != "" {
			return nil, nil, httpserver.NewAPIError(http.StatusConflict, "VAR_SCOPE_MISMATCH", "device_uid not allowed for global scope")
		}
	}

	// Row lock serializes concurrent writers on the same target; observed
	// version sequences stay contiguous.
	current, err := store.GetValueRow(ctx, def.Key, p.Scope, deviceID, userID, true)
	if err != nil {
		return nil, nil, err
	}

	var currentVersion *int
	if current != nil {
		currentVersion = &current.Version
	}
	if p.ExpectedVersion != nil {
		if currentVersion == nil || *p.ExpectedVersion != *currentVersion {
			conflict := httpserver.NewAPIError(http.StatusConflict, "VAR_VERSION_CONFLICT", "variable version conflict")
			if currentVersion != nil {
				conflict.WithMeta("current_version", *currentVersion)
			} else {
				conflict.WithMeta("current_version", nil)
			}
			return nil, nil, conflict
		}
	}

	coerced, apiErr := CoerceForDefinition(def, p.Value)
	if apiErr != nil {
		return nil, nil, apiErr
	}

	var (
		oldValue   any
		oldVersion *int
		written    *Value
	)
	var actorUserID, actorDeviceID *int64
	if actorIsUser {
		actorUserID = &p.Actor.UserID
	}
	if actorIsDevice {
		actorDeviceID = &p.Actor.DeviceID
	}

	if current == nil {
		written, err = store.InsertValue(ctx, &Value{
			VariableKey:       def.Key,
			Scope:             p.Scope,
			DeviceID:          deviceID,
			UserID:            userID,
			ValueJSON:         coerced,
			UpdatedByUserID:   actorUserID,
			UpdatedByDeviceID: actorDeviceID,
		})
	} else {
		oldValue = current.ValueJSON
		oldVersion = &current.Version
		written, err = store.UpdateValue(ctx, current.ID, coerced, actorUserID, actorDeviceID)
	}
	if err != nil {
		return nil, nil, err
	}

	actorType := "device"
	if actorIsUser {
		actorType = "user"
	}
	auditID, err := store.InsertAudit(ctx, &Audit{
		VariableKey:   def.Key,
		Scope:         p.Scope,
		DeviceID:      deviceID,
		OldValueJSON:  MaskIfSecret(def, oldValue),
		NewValueJSON:  MaskIfSecret(def, coerced),
		OldVersion:    oldVersion,
		NewVersion:    &written.Version,
		ActorType:     actorType,
		ActorUserID:   actorUserID,
		ActorDeviceID: actorDeviceID,
		RequestID:     p.RequestID,
	})
	if err != nil {
		return nil, nil, err
	}

	enqueued, err := enqueueDerivedEffects(ctx, store, def, device, coerced, auditID, now)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("committing variable write: %w", err)
	}

	s.cache.InvalidateAll()
	telemetry.VariableWritesTotal.Inc()

	if enqueued > 0 && s.rdb != nil {
		if err := s.rdb.Publish(ctx, effectsKickChannel, def.Key).Err(); err != nil {
			s.logger.Debug("publishing effects kick", "error", err)
		}
	}

	return def, written, nil
}

// DeviceValuesView is the globals + device-layer view of one device.
type DeviceValuesView struct {
	DeviceUID string      `json:"device_uid"`
	Globals   []ValueView `json:"globals"`
	Device    []ValueView `json:"device"`
}

// ListDeviceValues returns the global and device-scope values for a device.
func (s *Service) ListDeviceValues(ctx context.Context, deviceUID string) (*DeviceValuesView, error) {
	store := NewStore(s.pool)

	d, err := s.resolveDevice(ctx, s.pool, deviceUID, false)
	if err != nil {
		return nil, err
	}

	definitions, err := store.ListDefinitions(ctx, "")
	if err != nil {
		return nil, err
	}

	globalValues, err := store.MapValues(ctx, ScopeGlobal, nil, nil)
	if err != nil {
		return nil, err
	}
	deviceValues, err := store.MapValues(ctx, ScopeDevice, &d.ID, nil)
	if err != nil {
		return nil, err
	}

	view := &DeviceValuesView{DeviceUID: deviceUID, Globals: []ValueView{}, Device: []ValueView{}}
	for i := range definitions {
		def := &definitions[i]
		switch def.Scope {
		case ScopeGlobal:
			view.Globals = append(view.Globals, valueViewFor(def, globalValues[def.Key], nil))
		case ScopeDevice:
			view.Device = append(view.Device, valueViewFor(def, deviceValues[def.Key], &deviceUID))
		}
	}
	return view, nil
}

func valueViewFor(def *Definition, stored *Value, deviceUID *string) ValueView {
	var storedValue any
	if stored != nil {
		storedValue = stored.ValueJSON
	}
	view := ValueView{
		Key:       def.Key,
		Scope:     def.Scope,
		DeviceUID: deviceUID,
		Value:     MaskIfSecret(def, EffectiveValue(def, storedValue)),
		IsSecret:  def.IsSecret,
	}
	if stored != nil {
		view.Version = &stored.Version
		view.UpdatedAt = &stored.UpdatedAt
	}
	return view
}

// ListAudit returns the audit trail for a key.
func (s *Service) ListAudit(ctx context.Context, key, scope, deviceUID string, limit, offset int) ([]Audit, map[int64]string, error) {
	store := NewStore(s.pool)

	var deviceID *int64
	if deviceUID != "" {
		d, err := s.getDeviceByUID(ctx, s.pool, deviceUID)
		if err != nil {
			return nil, nil, err
		}
		if d == nil {
			return nil, nil, httpserver.NewAPIError(http.StatusNotFound, "DEVICE_NOT_FOUND", "device not found")
		}
		deviceID = &d.ID
	}

	items, err := store.ListAudits(ctx, key, scope, deviceID, limit, offset)
	if err != nil {
		return nil, nil, err
	}

	uidByID := map[int64]string{}
	for _, item := range items {
		if item.DeviceID == nil {
			continue
		}
		if _, ok := uidByID[*item.DeviceID]; ok {
			continue
		}
		var uid string
		err := s.pool.QueryRow(ctx, `SELECT device_uid FROM devices WHERE id = $1`, *item.DeviceID).Scan(&uid)
		if err == nil {
			uidByID[*item.DeviceID] = uid
		}
	}
	return items, uidByID, nil
}

// DevToolsEnabled reports whether the dev-tools gate is open.
func (s *Service) DevToolsEnabled() bool {
	return s.devTools
}
