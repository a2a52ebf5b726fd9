package pairing

import (
	"crypto/rand"
	"fmt"
	"time"
)

// TTL of a freshly issued pairing session.
const SessionTTL = 10 * time.Minute

// codeAlphabet is ambiguity-free: no O/0 and no I/1.
const codeAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

const codeLength = 8

// GenerateCode returns a short human-enterable pairing code drawn from the
// ambiguity-free alphabet with a cryptographic RNG.
func GenerateCode() string {
	b := make([]byte, codeLength)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("reading random bytes: %v", err))
	}
	// The alphabet has exactly 32 symbols, so masking keeps the draw uniform.
	for i := range b {
		b[i] = codeAlphabet[b[i]&31]
	}
	return string(b)
}

// Session is one pairing attempt. At most one unused, unexpired session
// exists per device.
type Session struct {
	ID          int64
	DeviceUID   string
	PairingCode string
	UserID      int64
	ExpiresAt   time.Time
	IsUsed      bool
	CreatedAt   time.Time
}

// StartRequest is the body of POST /pairing/start.
type StartRequest struct {
	DeviceUID string `json:"device_uid" validate:"required,min=4,max=128"`
}

// StartResponse returns the issued code and its remaining lifetime.
type StartResponse struct {
	DeviceUID   string    `json:"device_uid"`
	PairingCode string    `json:"pairing_code"`
	ExpiresAt   time.Time `json:"expires_at"`
	TTLSeconds  int       `json:"ttl_seconds"`
}

// ConfirmRequest is the body of POST /pairing/confirm. Accepts camelCase
// field names from frontend clients.
type ConfirmRequest struct {
	DeviceUID        string `json:"device_uid"`
	DeviceUIDCamel   string `json:"deviceUid"`
	PairingCode      string `json:"pairing_code"`
	PairingCodeCamel string `json:"pairingCode"`
}

// Normalize coalesces the snake_case and camelCase spellings.
func (r *ConfirmRequest) Normalize() (deviceUID, pairingCode string) {
	deviceUID = r.DeviceUID
	if deviceUID == "" {
		deviceUID = r.DeviceUIDCamel
	}
	pairingCode = r.PairingCode
	if pairingCode == "" {
		pairingCode = r.PairingCodeCamel
	}
	return deviceUID, pairingCode
}

// ConfirmResponse carries the one-time device-token plaintext. It is never
// reproducible; storage keeps only the hash.
type ConfirmResponse struct {
	DeviceID    int64     `json:"device_id"`
	OwnerUserID int64     `json:"owner_user_id"`
	DeviceUID   string    `json:"device_uid"`
	DeviceToken string    `json:"device_token"`
	ClaimedAt   time.Time `json:"claimed_at"`
}
