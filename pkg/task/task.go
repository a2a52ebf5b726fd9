package task

import (
	"encoding/json"
	"time"
)

// Task statuses. Terminal statuses are immutable.
const (
	StatusQueued   = "queued"
	StatusInFlight = "in_flight"
	StatusDone     = "done"
	StatusFailed   = "failed"
	StatusCanceled = "canceled"
)

// Lease clamp bounds.
const (
	MinLeaseSeconds = 5
	MaxLeaseSeconds = 600
	MinPollLimit    = 1
	MaxPollLimit    = 50
)

// IsTerminal reports whether the status is terminal.
func IsTerminal(status string) bool {
	switch status {
	case StatusDone, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// ClampLease bounds lease_seconds to [MinLeaseSeconds, MaxLeaseSeconds].
func ClampLease(seconds int) int {
	if seconds < MinLeaseSeconds {
		return MinLeaseSeconds
	}
	if seconds > MaxLeaseSeconds {
		return MaxLeaseSeconds
	}
	return seconds
}

// ClampLimit bounds a poll limit to [MinPollLimit, MaxPollLimit].
func ClampLimit(limit int) int {
	if limit < MinPollLimit {
		return MinPollLimit
	}
	if limit > MaxPollLimit {
		return MaxPollLimit
	}
	return limit
}

// Task is one unit of leased work dispatched to a device.
type Task struct {
	ID                 int64
	ClientID           int64
	ExecutionContextID *int64
	Type               string
	Payload            json.RawMessage
	Status             string
	Priority           int
	IdempotencyKey     *string
	ClaimedAt          *time.Time
	LeaseExpiresAt     *time.Time
	LeaseToken         *string
	CreatedAt          time.Time
	CompletedAt        *time.Time
	Result             json.RawMessage
	Error              *string
}

// ExecutionContext is a named runtime a device reports via heartbeat.
type ExecutionContext struct {
	ID           int64
	ClientID     int64
	ContextKey   string
	Capabilities json.RawMessage
	Meta         json.RawMessage
	LastSeenAt   *time.Time
	CreatedAt    time.Time
}

// HeartbeatRequest is the body of POST /tasks/context/heartbeat.
type HeartbeatRequest struct {
	ContextKey   string          `json:"context_key" validate:"required,min=1,max=128"`
	Capabilities json.RawMessage `json:"capabilities" validate:"required"`
	Meta         json.RawMessage `json:"meta"`
}

// HeartbeatResponse echoes the upserted context.
type HeartbeatResponse struct {
	ID         int64     `json:"id"`
	ContextKey string    `json:"context_key"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// PollItem is one leased task handed to a device.
type PollItem struct {
	ID                 int64           `json:"id"`
	Type               string          `json:"type"`
	Payload            json.RawMessage `json:"payload"`
	CreatedAt          time.Time       `json:"created_at"`
	LeaseExpiresAt     time.Time       `json:"lease_expires_at"`
	ExecutionContextID *int64          `json:"execution_context_id"`
	LeaseToken         string          `json:"lease_token"`
}

// CompleteRequest is the body of POST /tasks/{id}/complete.
type CompleteRequest struct {
	Status     string          `json:"status" validate:"required,oneof=done failed canceled"`
	Result     json.RawMessage `json:"result"`
	Error      *string         `json:"error"`
	LeaseToken string          `json:"lease_token"`
}

// CreateRequest is the user-side enqueue body.
type CreateRequest struct {
	Type                string          `json:"type" validate:"required,min=1,max=64"`
	Payload             json.RawMessage `json:"payload" validate:"required"`
	Priority            *int            `json:"priority"`
	IdempotencyKey      *string         `json:"idempotency_key" validate:"omitempty,max=128"`
	ExecutionContextKey *string         `json:"execution_context_key" validate:"omitempty,max=128"`
}

// CreateResponse acknowledges an enqueue (or returns the idempotent twin).
type CreateResponse struct {
	ID        int64     `json:"id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// ListItem is the user-facing task list entry.
type ListItem struct {
	ID                 int64      `json:"id"`
	Type               string     `json:"type"`
	Status             string     `json:"status"`
	Priority           int        `json:"priority"`
	CreatedAt          time.Time  `json:"created_at"`
	CompletedAt        *time.Time `json:"completed_at"`
	ExecutionContextID *int64     `json:"execution_context_id"`
	IdempotencyKey     *string    `json:"idempotency_key"`
}

// CurrentTask is the active-lease view for one device. The lease token is
// never exposed in full; only a short hint.
type CurrentTask struct {
	HasActiveLease        bool       `json:"has_active_lease"`
	DeviceID              int64      `json:"device_id"`
	TaskID                *int64     `json:"task_id"`
	TaskType              *string    `json:"task_type"`
	TaskStatus            *string    `json:"task_status"`
	ClaimedAt             *time.Time `json:"claimed_at"`
	LeaseExpiresAt        *time.Time `json:"lease_expires_at"`
	LeaseSecondsRemaining *int       `json:"lease_seconds_remaining"`
	LeaseTokenHint        *string    `json:"lease_token_hint"`
	ContextKey            *string    `json:"context_key"`
}

// HistoryItem is one entry of the task-history view.
type HistoryItem struct {
	TaskID     int64      `json:"task_id"`
	TaskType   string     `json:"task_type"`
	TaskStatus string     `json:"task_status"`
	ClaimedAt  *time.Time `json:"claimed_at"`
	FinishedAt *time.Time `json:"finished_at"`
}
