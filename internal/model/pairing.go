package model

import (
	"encoding/json"
	"time"
)

// PairingCode is a short-lived shared secret binding exactly one desktop and
// one mobile connection. Codes live in process memory only; a restart retires
// every active code.
type PairingCode struct {
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SlotBinding records which connection currently holds a device slot.
type SlotBinding struct {
	ConnectionID string
	SessionID    string
	ClaimedAt    time.Time
}

// PairingEvent is an append-only audit record of pairing lifecycle activity.
// Persisted only when the event history database is configured.
type PairingEvent struct {
	ID         int64           `db:"id" json:"id"`
	EventType  string          `db:"event_type" json:"event_type"`
	Code       string          `db:"code" json:"code"`
	DeviceType *string         `db:"device_type" json:"device_type,omitempty"`
	SessionID  *string         `db:"session_id" json:"session_id,omitempty"`
	Details    json.RawMessage `db:"details" json:"details,omitempty"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}

type CreatePairingEventParams struct {
	EventType  string
	Code       string
	DeviceType *string
	SessionID  *string
	Details    json.RawMessage
}
