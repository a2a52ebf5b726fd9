package device

import (
	"encoding/json"
	"time"
)

// Device is a physical unit known to the hub. A row is created on the first
// hello and never destroyed.
type Device struct {
	ID              int64
	DeviceUID       string
	Name            *string
	FirmwareVersion *string
	Capabilities    json.RawMessage
	LastSeenAt      *time.Time
	OwnerUserID     *int64
	IsClaimed       bool
	CreatedAt       time.Time
}

// Claimed reports whether the device has an owner.
func (d *Device) Claimed() bool {
	return d.OwnerUserID != nil
}

// HelloRequest is the unauthenticated registration heartbeat body.
type HelloRequest struct {
	DeviceUID       string          `json:"device_uid" validate:"required,min=4,max=128"`
	FirmwareVersion *string         `json:"firmware_version"`
	Capabilities    json.RawMessage `json:"capabilities"`
}

// HelloResponse echoes the row identity back to the device.
type HelloResponse struct {
	DeviceID int64 `json:"device_id"`
	Claimed  bool  `json:"claimed"`
}

// ListItem is the owner-facing list entry with freshness tags.
type ListItem struct {
	ID                 int64      `json:"id"`
	DeviceUID          string     `json:"device_uid"`
	Claimed            bool       `json:"claimed"`
	LastSeen           *time.Time `json:"last_seen"`
	Online             bool       `json:"online"`
	Health             string     `json:"health"`
	LastSeenAgeSeconds *int       `json:"last_seen_age_seconds"`
	State              string     `json:"state"`
}

// DetailItem is the owner-facing detail view.
type DetailItem struct {
	ID                 int64           `json:"id"`
	DeviceUID          string          `json:"device_uid"`
	Name               *string         `json:"name"`
	FirmwareVersion    *string         `json:"firmware_version"`
	Capabilities       json.RawMessage `json:"capabilities"`
	LastSeenAt         *time.Time      `json:"last_seen_at"`
	OwnerUserID        *int64          `json:"owner_user_id"`
	IsClaimed          bool            `json:"is_claimed"`
	CreatedAt          time.Time       `json:"created_at"`
	Health             string          `json:"health"`
	LastSeenAgeSeconds *int            `json:"last_seen_age_seconds"`
	State              string          `json:"state"`
	States             []string        `json:"states"`
}
