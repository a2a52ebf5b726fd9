package pairing

import (
	"context"
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

// Service implements the pairing state machine:
// issued -> (confirmed | expired | superseded).
type Service struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewService creates the pairing Service.
func NewService(pool *pgxpool.Pool, logger *slog.Logger) *Service {
	return &Service{pool: pool, logger: logger}
}

// Start issues a short-TTL pairing code for an authenticated user. The
// device must be provisioned, unclaimed, not mid-pairing, and not busy.
func (s *Service) Start(ctx context.Context, userID int64, deviceUID string) (*StartResponse, error) {
	now := time.Now().UTC()

	var (
		deviceID    int64
		lastSeenAt  *time.Time
		ownerUserID *int64
		isClaimed   bool
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, last_seen_at, owner_user_id, is_claimed
		FROM devices WHERE device_uid = $1`, deviceUID,
	).Scan(&deviceID, &lastSeenAt, &ownerUserID, &isClaimed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, httpserver.NewAPIError(http.StatusNotFound, "DEVICE_NOT_FOUND", "device not found")
	}
	if err != nil {
		return nil, fmt.Errorf("looking up device: %w", err)
	}
	if lastSeenAt == nil {
		return nil, httpserver.NewAPIError(http.StatusNotFound, "DEVICE_NOT_PROVISIONED", "device not provisioned")
	}
	if ownerUserID != nil || isClaimed {
		return nil, httpserver.NewAPIError(http.StatusConflict, "DEVICE_ALREADY_CLAIMED", "device already claimed")
	}

	var existingExpiry time.Time
	err = s.pool.QueryRow(ctx, `
		SELECT expires_at FROM pairing_sessions
		WHERE device_uid = $1 AND NOT is_used AND expires_at > $2
		ORDER BY expires_at DESC LIMIT 1`, deviceUID, now,
	).Scan(&existingExpiry)
	if err == nil {
		ttl := int(existingExpiry.Sub(now).Seconds())
		if ttl < 0 {
			ttl = 0
		}
		return nil, httpserver.NewAPIError(http.StatusConflict, "PAIRING_ALREADY_ACTIVE", "pairing already active").
			WithMeta("expires_at", existingExpiry.Format(time.RFC3339)).
			WithMeta("ttl_seconds", ttl)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("checking active session: %w", err)
	}

	busy, err := s.deviceBusy(ctx, s.pool, deviceID, now)
	if err != nil {
		return nil, err
	}
	if busy {
		return nil, httpserver.NewAPIError(http.StatusConflict, "DEVICE_BUSY", "device busy")
	}

	code := GenerateCode()
	expiresAt := now.Add(SessionTTL)

	if _, err := s.pool.Exec(ctx, `
		INSERT INTO pairing_sessions (device_uid, pairing_code, user_id, expires_at, is_used)
		VALUES ($1, $2, $3, $4, false)`, deviceUID, code, userID, expiresAt); err != nil {
		return nil, fmt.Errorf("creating pairing session: %w", err)
	}

	return &StartResponse{
		DeviceUID:   deviceUID,
		PairingCode: code,
		ExpiresAt:   expiresAt,
		TTLSeconds:  int(expiresAt.Sub(now).Seconds()),
	}, nil
}

// Confirm is the unauthenticated device-side exchange. It runs in a single
// transaction, locking the session row and then the device row so that a
// replay or a concurrent confirm cannot claim twice or mint a second token.
func (s *Service) Confirm(ctx context.Context, deviceUID, pairingCode string) (*ConfirmResponse, error) {
	now := time.Now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		sessionID   int64
		sessionUser int64
		isUsed      bool
		expiresAt   time.Time
	)
	err = tx.QueryRow(ctx, `
		SELECT id, user_id, is_used, expires_at
		FROM pairing_sessions
		WHERE device_uid = $1 AND pairing_code = $2
		FOR UPDATE`, deviceUID, pairingCode,
	).Scan(&sessionID, &sessionUser, &isUsed, &expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, httpserver.NewAPIError(http.StatusNotFound, "PAIRING_CODE_NOT_FOUND", "pairing code not found")
	}
	if err != nil {
		return nil, fmt.Errorf("locking pairing session: %w", err)
	}
	if isUsed {
		return nil, httpserver.NewAPIError(http.StatusConflict, "PAIRING_CODE_USED", "pairing code already used")
	}
	if !expiresAt.After(now) {
		return nil, httpserver.NewAPIError(http.StatusGone, "PAIRING_CODE_EXPIRED", "pairing code expired")
	}

	var (
		deviceID    int64
		lastSeenAt  *time.Time
		ownerUserID *int64
		isClaimed   bool
	)
	err = tx.QueryRow(ctx, `
		SELECT id, last_seen_at, owner_user_id, is_claimed
		FROM devices WHERE device_uid = $1
		FOR UPDATE`, deviceUID,
	).Scan(&deviceID, &lastSeenAt, &ownerUserID, &isClaimed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, httpserver.NewAPIError(http.StatusNotFound, "DEVICE_NOT_FOUND", "device not found")
	}
	if err != nil {
		return nil, fmt.Errorf("locking device: %w", err)
	}
	if lastSeenAt == nil {
		return nil, httpserver.NewAPIError(http.StatusNotFound, "DEVICE_NOT_PROVISIONED", "device not provisioned")
	}
	if ownerUserID != nil || isClaimed {
		return nil, httpserver.NewAPIError(http.StatusConflict, "DEVICE_ALREADY_CLAIMED", "device already claimed")
	}

	busy, err := s.deviceBusy(ctx, tx, deviceID, now)
	if err != nil {
		return nil, err
	}
	if busy {
		return nil, httpserver.NewAPIError(http.StatusConflict, "DEVICE_BUSY", "device busy")
	}

	var activeTokens int
	if err := tx.QueryRow(ctx, `
		SELECT count(*) FROM device_tokens
		WHERE device_id = $1 AND is_active`, deviceID,
	).Scan(&activeTokens); err != nil {
		return nil, fmt.Errorf("counting active tokens: %w", err)
	}
	if activeTokens > 0 {
		return nil, httpserver.NewAPIError(http.StatusConflict, "DEVICE_TOKEN_ALREADY_ISSUED", "device token already issued")
	}

	if _, err := tx.Exec(ctx, `
		UPDATE devices SET owner_user_id = $1, is_claimed = true WHERE id = $2`,
		sessionUser, deviceID); err != nil {
		return nil, fmt.Errorf("claiming device: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE pairing_sessions SET is_used = true WHERE id = $1`, sessionID); err != nil {
		return nil, fmt.Errorf("consuming pairing session: %w", err)
	}

	tokenPlain := auth.GenerateDeviceToken()
	if _, err := tx.Exec(ctx, `
		INSERT INTO device_tokens (device_id, token_hash, is_active)
		VALUES ($1, $2, true)`, deviceID, auth.HashDeviceToken(tokenPlain)); err != nil {
		return nil, fmt.Errorf("minting device token: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing confirm: %w", err)
	}

	return &ConfirmResponse{
		DeviceID:    deviceID,
		OwnerUserID: sessionUser,
		DeviceUID:   deviceUID,
		DeviceToken: tokenPlain,
		ClaimedAt:   now,
	}, nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *Service) deviceBusy(ctx context.Context, q querier, deviceID int64, now time.Time) (bool, error) {
	var taskID int64
	err := q.QueryRow(ctx, `
		SELECT id FROM tasks
		WHERE client_id = $1
		  AND status = 'in_flight'
		  AND lease_token IS NOT NULL
		  AND lease_expires_at IS NOT NULL
		  AND lease_expires_at > $2
		LIMIT 1`, deviceID, now,
	).Scan(&taskID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking device lease: %w", err)
	}
	return true, nil
}
