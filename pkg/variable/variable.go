package variable

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Scopes, by resolution precedence: default (0) < global (1) < user (2) < device (3).
const (
	ScopeGlobal = "global"
	ScopeUser   = "user"
	ScopeDevice = "device"
)

// Value types.
const (
	TypeString = "string"
	TypeInt    = "int"
	TypeFloat  = "float"
	TypeBool   = "bool"
	TypeJSON   = "json"
)

// MaskedValue replaces secret values in audits and value reads. Effective and
// snapshot items report null with masked=true instead.
const MaskedValue = "***"

// Effect statuses.
const (
	EffectPending  = "pending"
	EffectInFlight = "in_flight"
	EffectDone     = "done"
	EffectFailed   = "failed"
	EffectDead     = "dead"
)

// Built-in effect kinds.
const (
	EffectKindTelemetryReschedule = "telemetry.reschedule"
	EffectKindDeviceLabelSync     = "device.label.sync"
)

// Keys that derive effects on device-scope writes.
const (
	KeyTelemetryIntervalMS = "device.telemetry_interval_ms"
	KeyDeviceLabel         = "device.label"
)

// Effect retry policy.
const (
	EffectMaxAttempts = 5
	EffectLockTTL     = 30 * time.Second
)

// ValidScope reports whether s names a variable scope.
func ValidScope(s string) bool {
	switch s {
	case ScopeGlobal, ScopeUser, ScopeDevice:
		return true
	}
	return false
}

// ValidType reports whether t names a value type.
func ValidType(t string) bool {
	switch t {
	case TypeString, TypeInt, TypeFloat, TypeBool, TypeJSON:
		return true
	}
	return false
}

// BackoffSeconds is the effect retry schedule: min(300, 2^min(attempts, 6)).
func BackoffSeconds(attempts int) int {
	if attempts > 6 {
		attempts = 6
	}
	backoff := 1 << attempts
	if backoff > 300 {
		backoff = 300
	}
	return backoff
}

// NewSnapshotID returns a 40-character opaque snapshot identifier.
func NewSnapshotID() string {
	b := make([]byte, 20)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("reading random bytes: %v", err))
	}
	return hex.EncodeToString(b)
}

// Definition is the schema of one variable.
type Definition struct {
	Key                 string    `json:"key"`
	Scope               string    `json:"scope"`
	ValueType           string    `json:"value_type"`
	DefaultValue        any       `json:"default_value"`
	Description         *string   `json:"description"`
	Unit                *string   `json:"unit"`
	MinValue            *float64  `json:"min_value"`
	MaxValue            *float64  `json:"max_value"`
	EnumValues          []string  `json:"enum_values"`
	Regex               *string   `json:"regex"`
	IsSecret            bool      `json:"is_secret"`
	IsReadonly          bool      `json:"is_readonly"`
	UserWritable        bool      `json:"user_writable"`
	DeviceWritable      bool      `json:"device_writable"`
	AllowDeviceOverride bool      `json:"allow_device_override"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Value is one stored layered value.
type Value struct {
	ID                int64
	VariableKey       string
	Scope             string
	DeviceID          *int64
	UserID            *int64
	ValueJSON         any
	Version           int
	UpdatedAt         time.Time
	UpdatedByUserID   *int64
	UpdatedByDeviceID *int64
}

// Audit is one append-only change record. Secret values are stored masked.
type Audit struct {
	ID            int64     `json:"id"`
	VariableKey   string    `json:"variable_key"`
	Scope         string    `json:"scope"`
	DeviceID      *int64    `json:"-"`
	OldValueJSON  any       `json:"old_value"`
	NewValueJSON  any       `json:"new_value"`
	OldVersion    *int      `json:"old_version"`
	NewVersion    *int      `json:"new_version"`
	ActorType     string    `json:"actor_type"`
	ActorUserID   *int64    `json:"actor_user_id"`
	ActorDeviceID *int64    `json:"actor_device_id"`
	RequestID     *string   `json:"request_id"`
	CreatedAt     time.Time `json:"created_at"`
}

// Snapshot is an immutable materialization of the effective view.
type Snapshot struct {
	ID               string
	DeviceID         *int64
	UserID           *int64
	ResolvedAt       time.Time
	EffectiveVersion string
	EffectiveRev     *int64
}

// SnapshotItem is one resolved key inside a snapshot.
type SnapshotItem struct {
	Key          string         `json:"key"`
	Value        any            `json:"value"`
	Scope        string         `json:"scope"`
	DeviceUID    *string        `json:"device_uid"`
	Version      *int           `json:"version"`
	UpdatedAt    *time.Time     `json:"updated_at"`
	IsSecret     bool           `json:"is_secret"`
	Masked       bool           `json:"masked"`
	Source       string         `json:"source"`
	Precedence   int            `json:"precedence"`
	ResolvedType string         `json:"resolved_type"`
	Constraints  map[string]any `json:"constraints"`
}

// AppliedAck records one device-side apply result against a snapshot item.
type AppliedAck struct {
	ID          int64     `json:"id"`
	SnapshotID  string    `json:"snapshot_id"`
	DeviceID    int64     `json:"device_id"`
	VariableKey string    `json:"variable_key"`
	Version     *int      `json:"version"`
	Status      string    `json:"status"`
	Reason      *string   `json:"reason"`
	CreatedAt   time.Time `json:"created_at"`
}

// Effect is a persisted side-effect job derived from a variable change.
type Effect struct {
	ID             string          `json:"id"`
	Status         string          `json:"status"`
	Kind           string          `json:"kind"`
	Scope          string          `json:"scope"`
	DeviceID       *int64          `json:"device_id"`
	DeviceUID      *string         `json:"device_uid"`
	TriggerAuditID *int64          `json:"trigger_audit_id"`
	Payload        json.RawMessage `json:"payload"`
	Error          json.RawMessage `json:"error"`
	Attempts       int             `json:"attempts"`
	NextAttemptAt  *time.Time      `json:"next_attempt_at"`
	LockedUntil    *time.Time      `json:"locked_until"`
	LockedBy       *string         `json:"locked_by"`
	CorrelationID  *string         `json:"correlation_id"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// RuntimeSetting is the per-device runtime row carrying the telemetry
// interval and the rev watermarks.
type RuntimeSetting struct {
	DeviceID            int64     `json:"device_id"`
	TelemetryIntervalMS *int      `json:"telemetry_interval_ms"`
	LastEffectiveRev    *int64    `json:"last_effective_rev"`
	LastAppliedRev      *int64    `json:"last_applied_rev"`
	LastAckedRev        *int64    `json:"last_acked_rev"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// ConstraintsMap assembles the constraint map reported on reads, or nil when
// the definition has none.
func (d *Definition) ConstraintsMap() map[string]any {
	constraints := map[string]any{}
	if d.MinValue != nil {
		constraints["min"] = *d.MinValue
	}
	if d.MaxValue != nil {
		constraints["max"] = *d.MaxValue
	}
	if len(d.EnumValues) > 0 {
		constraints["enum"] = d.EnumValues
	}
	if d.Regex != nil && *d.Regex != "" {
		constraints["regex"] = *d.Regex
	}
	if d.Unit != nil && *d.Unit != "" {
		constraints["unit"] = *d.Unit
	}
	if len(constraints) == 0 {
		return nil
	}
	return constraints
}
