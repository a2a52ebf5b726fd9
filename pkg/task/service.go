package task

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

	"github.com/hubex-fl/hubex/internal/auth"
	"github.com/hubex-fl/hubex/internal/httpserver"
)

// Service implements the leased work queue.
type Service struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewService creates the task Service.
func NewService(pool *pgxpool.Pool, logger *slog.Logger) *Service {
	return &Service{pool: pool, logger: logger}
}

// Heartbeat upserts an execution context for the device and refreshes its
// last_seen_at.
func (s *Service) Heartbeat(ctx context.Context, deviceID int64, req *HeartbeatRequest) (*HeartbeatResponse, error) {
	meta := req.Meta
	if len(meta) == 0 {
		meta = json.RawMessage(`{}`)
	}
	if apiErr := httpserver.ValidateJSONObject(req.Capabilities, "capabilities"); apiErr != nil {
		return nil, apiErr
	}
	if apiErr := httpserver.ValidateJSONObject(meta, "meta"); apiErr != nil {
		return nil, apiErr
	}

	now := time.Now().UTC()
	var out HeartbeatResponse
	err := s.pool.QueryRow(ctx, `
		INSERT INTO execution_contexts (client_id, context_key, capabilities, meta, last_seen_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (client_id, context_key) DO UPDATE SET
			capabilities = EXCLUDED.capabilities,
			meta = EXCLUDED.meta,
			last_seen_at = EXCLUDED.last_seen_at
		RETURNING id, context_key, last_seen_at`,
		deviceID, req.ContextKey, req.Capabilities, meta, now,
	).Scan(&out.ID, &out.ContextKey, &out.LastSeenAt)
	if err != nil {
		return nil, fmt.Errorf("upserting execution context: %w", err)
	}

	if _, err := s.pool.Exec(ctx, `UPDATE devices SET last_seen_at = $1 WHERE id = $2`, now, deviceID); err != nil {
		return nil, fmt.Errorf("touching device: %w", err)
	}
	return &out, nil
}

// Poll claims up to limit eligible tasks for the device inside one
// transaction. Queued tasks and expired in-flight leases are both eligible;
// SKIP LOCKED keeps concurrent pollers from ever observing the same row.
func (s *Service) Poll(ctx context.Context, device *auth.Identity, limit, leaseSeconds int, contextKey string) ([]PollItem, error) {
	limit = ClampLimit(limit)
	leaseSeconds = ClampLease(leaseSeconds)
	now := time.Now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var contextID *int64
	if contextKey != "" {
		var id int64
		err := tx.QueryRow(ctx, `
			SELECT id FROM execution_contexts
			WHERE client_id = $1 AND context_key = $2`, device.DeviceID, contextKey,
		).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return []PollItem{}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("resolving execution context: %w", err)
		}
		contextID = &id
	}

	rows, err := tx.Query(ctx, `
		SELECT id, type, payload, created_at, execution_context_id
		FROM tasks
		WHERE client_id = $1
		  AND (status = 'queued'
		       OR (status = 'in_flight' AND lease_expires_at < $2))
		  AND ($3::bigint IS NULL OR execution_context_id = $3)
		ORDER BY priority DESC, created_at ASC
		LIMIT $4
		FOR UPDATE SKIP LOCKED`, device.DeviceID, now, contextID, limit)
	if err != nil {
		return nil, fmt.Errorf("selecting candidate tasks: %w", err)
	}

	items := make([]PollItem, 0, limit)
	for rows.Next() {
		var it PollItem
		if err := rows.Scan(&it.ID, &it.Type, &it.Payload, &it.CreatedAt, &it.ExecutionContextID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning task row: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterating task rows: %w", err)
	}
	rows.Close()

	leaseExpiresAt := now.Add(time.Duration(leaseSeconds) * time.Second)
	for i := range items {
		token := auth.GenerateToken(16)
		if _, err := tx.Exec(ctx, `
			UPDATE tasks SET
				status = 'in_flight',
				claimed_at = $1,
				lease_expires_at = $2,
				lease_token = $3
			WHERE id = $4`, now, leaseExpiresAt, token, items[i].ID); err != nil {
			return nil, fmt.Errorf("claiming task %d: %w", items[i].ID, err)
		}
		items[i].LeaseExpiresAt = leaseExpiresAt
		items[i].LeaseToken = token
	}

	if _, err := tx.Exec(ctx, `UPDATE devices SET last_seen_at = $1 WHERE id = $2`, now, device.DeviceID); err != nil {
		return nil, fmt.Errorf("touching device: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing poll: %w", err)
	}
	return items, nil
}

// Renew extends a live lease. The lease token, when supplied, must match.
func (s *Service) Renew(ctx context.Context, deviceID, taskID int64, leaseSeconds int, leaseToken string) (time.Time, error) {
	leaseSeconds = ClampLease(leaseSeconds)
	now := time.Now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	t, err := lockTask(ctx, tx, taskID, deviceID)
	if err != nil {
		return time.Time{}, err
	}
	if t.Status != StatusInFlight {
		return time.Time{}, httpserver.NewAPIError(http.StatusConflict, "TASK_NOT_IN_FLIGHT", "task not in flight")
	}
	if t.LeaseExpiresAt == nil || !t.LeaseExpiresAt.After(now) {
		return time.Time{}, httpserver.NewAPIError(http.StatusConflict, "TASK_LEASE_EXPIRED", "task lease expired")
	}
	if leaseToken != "" && (t.LeaseToken == nil || *t.LeaseToken != leaseToken) {
		return time.Time{}, httpserver.NewAPIError(http.StatusConflict, "TASK_LEASE_TOKEN_MISMATCH", "task lease token mismatch")
	}

	expiresAt := now.Add(time.Duration(leaseSeconds) * time.Second)
	if _, err := tx.Exec(ctx, `UPDATE tasks SET lease_expires_at = $1 WHERE id = $2`, expiresAt, taskID); err != nil {
		return time.Time{}, fmt.Errorf("renewing lease: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return time.Time{}, fmt.Errorf("committing renew: %w", err)
	}
	return expiresAt, nil
}

// Complete moves an in-flight task to a terminal status. The lease token is
// required and must match; expired leases cannot complete.
func (s *Service) Complete(ctx context.Context, deviceID, taskID int64, req *CompleteRequest) (*Task, error) {
	if len(req.Result) > 0 && string(req.Result) != "null" {
		if apiErr := httpserver.ValidateJSONObject(req.Result, "result"); apiErr != nil {
			return nil, apiErr
		}
	}
	now := time.Now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	t, err := lockTask(ctx, tx, taskID, deviceID)
	if err != nil {
		return nil, err
	}
	if IsTerminal(t.Status) {
		return nil, httpserver.NewAPIError(http.StatusConflict, "TASK_ALREADY_COMPLETED", "task already completed")
	}
	if t.Status != StatusInFlight {
		return nil, httpserver.NewAPIError(http.StatusConflict, "TASK_NOT_IN_FLIGHT", "task not in flight")
	}
	if t.LeaseExpiresAt == nil || !t.LeaseExpiresAt.After(now) {
		return nil, httpserver.NewAPIError(http.StatusConflict, "TASK_LEASE_EXPIRED", "task lease expired")
	}
	if req.LeaseToken == "" {
		return nil, httpserver.NewAPIError(http.StatusConflict, "TASK_LEASE_TOKEN_REQUIRED", "task lease token required")
	}
	if t.LeaseToken == nil || *t.LeaseToken != req.LeaseToken {
		return nil, httpserver.NewAPIError(http.StatusConflict, "TASK_LEASE_TOKEN_MISMATCH", "task lease token mismatch")
	}

	if _, err := tx.Exec(ctx, `
		UPDATE tasks SET status = $1, completed_at = $2, result = $3, error = $4
		WHERE id = $5`, req.Status, now, req.Result, req.Error, taskID); err != nil {
		return nil, fmt.Errorf("completing task: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing complete: %w", err)
	}

	t.Status = req.Status
	t.CompletedAt = &now
	return t, nil
}

// Enqueue inserts a queued task for a device the caller owns. A non-null
// idempotency key makes the enqueue idempotent: an existing twin is returned
// unchanged.
func (s *Service) Enqueue(ctx context.Context, deviceID int64, req *CreateRequest) (*CreateResponse, error) {
	if apiErr := httpserver.ValidateJSONObject(req.Payload, "payload"); apiErr != nil {
		return nil, apiErr
	}

	var contextID *int64
	if req.ExecutionContextKey != nil && *req.ExecutionContextKey != "" {
		var id int64
		err := s.pool.QueryRow(ctx, `
			SELECT id FROM execution_contexts
			WHERE client_id = $1 AND context_key = $2`, deviceID, *req.ExecutionContextKey,
		).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, httpserver.NewAPIError(http.StatusConflict, "EXECUTION_CONTEXT_NOT_FOUND", "execution context not found")
		}
		if err != nil {
			return nil, fmt.Errorf("resolving execution context: %w", err)
		}
		contextID = &id
	}

	if req.IdempotencyKey != nil && *req.IdempotencyKey != "" {
		var out CreateResponse
		err := s.pool.QueryRow(ctx, `
			SELECT id, status, created_at FROM tasks
			WHERE client_id = $1 AND idempotency_key = $2`, deviceID, *req.IdempotencyKey,
		).Scan(&out.ID, &out.Status, &out.CreatedAt)
		if err == nil {
			return &out, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("checking idempotency key: %w", err)
		}
	}

	priority := 0
	if req.Priority != nil {
		priority = *req.Priority
	}

	var out CreateResponse
	err := s.pool.QueryRow(ctx, `
		INSERT INTO tasks (client_id, execution_context_id, type, payload, status, priority, idempotency_key)
		VALUES ($1, $2, $3, $4, 'queued', $5, $6)
		RETURNING id, status, created_at`,
		deviceID, contextID, req.Type, req.Payload, priority, req.IdempotencyKey,
	).Scan(&out.ID, &out.Status, &out.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("enqueueing task: %w", err)
	}
	return &out, nil
}

// Cancel terminates a queued task, or an in-flight one when force is set.
func (s *Service) Cancel(ctx context.Context, deviceID, taskID int64, force bool) (*Task, error) {
	now := time.Now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	t, err := lockTask(ctx, tx, taskID, deviceID)
	if err != nil {
		return nil, err
	}
	if IsTerminal(t.Status) {
		return nil, httpserver.NewAPIError(http.StatusConflict, "TASK_ALREADY_COMPLETED", "task already completed")
	}
	if t.Status == StatusInFlight && !force {
		return nil, httpserver.NewAPIError(http.StatusConflict, "TASK_IN_FLIGHT", "task in flight")
	}

	reason := "canceled by owner"
	if t.Status == StatusInFlight && force {
		reason = "canceled by owner (force)"
	}
	if _, err := tx.Exec(ctx, `
		UPDATE tasks SET status = 'canceled', completed_at = $1, error = $2
		WHERE id = $3`, now, reason, taskID); err != nil {
		return nil, fmt.Errorf("canceling task: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing cancel: %w", err)
	}

	t.Status = StatusCanceled
	t.CompletedAt = &now
	return t, nil
}

// List returns a device's tasks, newest first, optionally filtered by status.
func (s *Service) List(ctx context.Context, deviceID int64, status string, limit int) ([]ListItem, error) {
	limit = httpserver.ClampInt(limit, 1, 200)
	rows, err := s.pool.Query(ctx, `
		SELECT id, type, status, priority, created_at, completed_at, execution_context_id, idempotency_key
		FROM tasks
		WHERE client_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3`, deviceID, status, limit)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	defer rows.Close()

	items := []ListItem{}
	for rows.Next() {
		var it ListItem
		if err := rows.Scan(&it.ID, &it.Type, &it.Status, &it.Priority, &it.CreatedAt,
			&it.CompletedAt, &it.ExecutionContextID, &it.IdempotencyKey); err != nil {
			return nil, fmt.Errorf("scanning task row: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// Current returns the device's live lease, if any.
func (s *Service) Current(ctx context.Context, deviceID int64) (*CurrentTask, error) {
	now := time.Now().UTC()
	out := &CurrentTask{DeviceID: deviceID}

	var (
		t          Task
		contextKey *string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT t.id, t.type, t.status, t.claimed_at, t.lease_expires_at, t.lease_token, c.context_key
		FROM tasks t
		LEFT JOIN execution_contexts c ON c.id = t.execution_context_id
		WHERE t.client_id = $1
		  AND t.status = 'in_flight'
		  AND t.lease_token IS NOT NULL
		  AND t.lease_expires_at IS NOT NULL
		  AND t.lease_expires_at > $2
		ORDER BY t.lease_expires_at DESC
		LIMIT 1`, deviceID, now,
	).Scan(&t.ID, &t.Type, &t.Status, &t.ClaimedAt, &t.LeaseExpiresAt, &t.LeaseToken, &contextKey)
	if errors.Is(err, pgx.ErrNoRows) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading current task: %w", err)
	}

	remaining := int(t.LeaseExpiresAt.Sub(now).Seconds())
	if remaining < 0 {
		remaining = 0
	}
	var hint *string
	if t.LeaseToken != nil {
		h := *t.LeaseToken
		if len(h) > 6 {
			h = h[:6]
		}
		hint = &h
	}

	out.HasActiveLease = true
	out.TaskID = &t.ID
	out.TaskType = &t.Type
	out.TaskStatus = &t.Status
	out.ClaimedAt = t.ClaimedAt
	out.LeaseExpiresAt = t.LeaseExpiresAt
	out.LeaseSecondsRemaining = &remaining
	out.LeaseTokenHint = hint
	out.ContextKey = contextKey
	return out, nil
}

// History returns the device's tasks: finished ones first (latest completion
// first), then claimed ones (latest claim first), then the rest by id
// descending.
func (s *Service) History(ctx context.Context, deviceID int64, limit int) ([]HistoryItem, error) {
	limit = httpserver.ClampInt(limit, 1, 20)
	rows, err := s.pool.Query(ctx, `
		SELECT id, type, status, claimed_at, completed_at
		FROM tasks
		WHERE client_id = $1
		ORDER BY completed_at DESC NULLS LAST, claimed_at DESC NULLS LAST, id DESC
		LIMIT $2`, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing task history: %w", err)
	}
	defer rows.Close()

	items := []HistoryItem{}
	for rows.Next() {
		var it HistoryItem
		if err := rows.Scan(&it.TaskID, &it.TaskType, &it.TaskStatus, &it.ClaimedAt, &it.FinishedAt); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func lockTask(ctx context.Context, tx pgx.Tx, taskID, deviceID int64) (*Task, error) {
	var t Task
	err := tx.QueryRow(ctx, `
		SELECT id, client_id, status, lease_expires_at, lease_token, claimed_at, created_at
		FROM tasks
		WHERE id = $1 AND client_id = $2
		FOR UPDATE`, taskID, deviceID,
	).Scan(&t.ID, &t.ClientID, &t.Status, &t.LeaseExpiresAt, &t.LeaseToken, &t.ClaimedAt, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, httpserver.NewAPIError(http.StatusNotFound, "TASK_NOT_FOUND", "task not found")
	}
	if err != nil {
		return nil, fmt.Errorf("locking task: %w", err)
	}
	return &t, nil
}
