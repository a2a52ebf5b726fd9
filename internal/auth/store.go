package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides the lookups the principal middleware and capability guard
// need: user existence, active device-token resolution, and the revocation
// list.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates an auth Store backed by the global connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// UserExists reports whether a user row with the given id exists.
func (s *Store) UserExists(ctx context.Context, userID int64) (bool, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `SELECT id FROM users WHERE id = $1`, userID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("looking up user: %w", err)
	}
	return true, nil
}

// DevicePrincipal is the device row joined through an active token.
type DevicePrincipal struct {
	DeviceID    int64
	DeviceUID   string
	OwnerUserID *int64
}

// ResolveDeviceToken hashes the presented token and returns the device that
// owns the matching active token row, or nil when no such token exists.
func (s *Store) ResolveDeviceToken(ctx context.Context, plaintext string) (*DevicePrincipal, error) {
	hash := HashDeviceToken(plaintext)
	var p DevicePrincipal
	err := s.pool.QueryRow(ctx, `
		SELECT d.id, d.device_uid, d.owner_user_id
		FROM device_tokens t
		JOIN devices d ON d.id = t.device_id
		WHERE t.token_hash = $1 AND t.is_active`, hash,
	).Scan(&p.DeviceID, &p.DeviceUID, &p.OwnerUserID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolving device token: %w", err)
	}
	return &p, nil
}

// IsTokenRevoked reports whether a jti is on the revocation list.
func (s *Store) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `SELECT id FROM revoked_tokens WHERE jti = $1`, jti).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking revocation: %w", err)
	}
	return true, nil
}

// RevokeToken adds a jti to the revocation list. Returns false if it was
// already revoked.
func (s *Store) RevokeToken(ctx context.Context, jti string, reason *string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO revoked_tokens (jti, reason)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING`, jti, reason)
	if err != nil {
		return false, fmt.Errorf("revoking token: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
