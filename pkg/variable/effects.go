package variable

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hubex-fl/hubex/internal/telemetry"
)

// effectSpec is one declaratively derived side-effect job.
type effectSpec struct {
	Kind      string
	DeviceUID string
	Payload   map[string]any
}

// DeriveEffects maps a committed variable change to the side-effect jobs it
// implies. Only device-scope writes derive effects.
func DeriveEffects(def *Definition, deviceUID string, newValue any) []effectSpec {
	if def.Scope != ScopeDevice || deviceUID == "" {
		return nil
	}

	var effects []effectSpec
	switch def.Key {
	case KeyTelemetryIntervalMS:
		if newValue != nil {
			if interval, ok := toInt(newValue); ok {
				effects = append(effects, effectSpec{
					Kind:      EffectKindTelemetryReschedule,
					DeviceUID: deviceUID,
					Payload:   map[string]any{"interval_ms": interval},
				})
			}
		}
	case KeyDeviceLabel:
		label := ""
		if newValue != nil {
			label = toString(newValue)
		}
		effects = append(effects, effectSpec{
			Kind:      EffectKindDeviceLabelSync,
			DeviceUID: deviceUID,
			Payload:   map[string]any{"label": label},
		})
	}
	return effects
}

func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	}
	return 0, false
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// enqueueDerivedEffects inserts the effects a write implies, in the same
// transaction as the write itself. Returns the number enqueued.
func enqueueDerivedEffects(ctx context.Context, store *Store, def *Definition, device *deviceRow, newValue any, auditID int64, now time.Time) (int, error) {
	if device == nil {
		return 0, nil
	}
	specs := DeriveEffects(def, device.DeviceUID, newValue)
	for _, spec := range specs {
		payload, err := json.Marshal(spec.Payload)
		if err != nil {
			return 0, fmt.Errorf("encoding effect payload: %w", err)
		}
		correlationID := fmt.Sprintf("audit:%d", auditID)
		uid := spec.DeviceUID
		if err := store.InsertEffect(ctx, &Effect{
			ID:             uuid.NewString(),
			Status:         EffectPending,
			Kind:           spec.Kind,
			Scope:          ScopeDevice,
			DeviceID:       &device.ID,
			DeviceUID:      &uid,
			TriggerAuditID: &auditID,
			Payload:        payload,
			Attempts:       0,
			NextAttemptAt:  &now,
			CorrelationID:  &correlationID,
		}); err != nil {
			return 0, err
		}
	}
	return len(specs), nil
}

// RunResult summarizes one worker pass.
type RunResult struct {
	Processed int `json:"processed"`
	Done      int `json:"done"`
	Failed    int `json:"failed"`
}

// RunEffectsOnce leases up to limit due effects and executes them. Failures
// reschedule with exponential backoff capped at 300s; an effect that has
// failed EffectMaxAttempts times is buried as dead and never polled again.
func RunEffectsOnce(ctx context.Context, pool *pgxpool.Pool, limit int, lockedBy string) (*RunResult, error) {
	now := time.Now().UTC()

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	store := NewStore(tx)

	effects, err := store.SelectDueEffects(ctx, now, limit)
	if err != nil {
		return nil, err
	}
	for i := range effects {
		if err := store.MarkEffectInFlight(ctx, effects[i].ID, lockedBy, now.Add(EffectLockTTL)); err != nil {
			return nil, err
		}
		effects[i].Attempts++
	}

	result := &RunResult{}
	for i := range effects {
		effect := &effects[i]
		result.Processed++

		execErr := executeEffect(ctx, store, effect)
		if execErr == nil {
			if err := store.MarkEffectDone(ctx, effect.ID); err != nil {
				return nil, err
			}
			result.Done++
			telemetry.EffectsProcessedTotal.WithLabelValues(EffectDone).Inc()
			continue
		}

		dead := effect.Attempts >= EffectMaxAttempts
		nextAttempt := now.Add(time.Duration(BackoffSeconds(effect.Attempts)) * time.Second)
		if err := store.MarkEffectFailed(ctx, effect.ID, execErr, nextAttempt, dead); err != nil {
			return nil, err
		}
		result.Failed++
		if dead {
			telemetry.EffectsProcessedTotal.WithLabelValues(EffectDead).Inc()
		} else {
			telemetry.EffectsProcessedTotal.WithLabelValues(EffectFailed).Inc()
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing effect run: %w", err)
	}
	return result, nil
}

func executeEffect(ctx context.Context, store *Store, effect *Effect) error {
	switch effect.Kind {
	case EffectKindTelemetryReschedule:
		return applyTelemetryReschedule(ctx, store, effect)
	case EffectKindDeviceLabelSync:
		return applyLabelSync(ctx, store, effect)
	default:
		return fmt.Errorf("unknown effect kind %q", effect.Kind)
	}
}

func applyTelemetryReschedule(ctx context.Context, store *Store, effect *Effect) error {
	if effect.DeviceID == nil {
		return errors.New("effect has no device")
	}
	var payload struct {
		IntervalMS *int `json:"interval_ms"`
	}
	if err := json.Unmarshal(effect.Payload, &payload); err != nil || payload.IntervalMS == nil {
		return errors.New("interval_ms missing")
	}
	return store.UpsertTelemetryInterval(ctx, *effect.DeviceID, *payload.IntervalMS)
}

func applyLabelSync(ctx context.Context, store *Store, effect *Effect) error {
	if effect.DeviceID == nil {
		return errors.New("effect has no device")
	}
	var payload struct {
		Label string `json:"label"`
	}
	if err := json.Unmarshal(effect.Payload, &payload); err != nil {
		return errors.New("label missing")
	}
	tag, err := store.db.Exec(ctx, `UPDATE devices SET name = $1 WHERE id = $2`, payload.Label, *effect.DeviceID)
	if err != nil {
		return fmt.Errorf("syncing device label: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.New("device not found")
	}
	return nil
}
