package models

import "time"

// SessionEventMessage is published to RabbitMQ on every lifecycle
// transition so downstream services (billing, monitoring) can follow along.
type SessionEventMessage struct {
	EventID   string    `json:"event_id"`
	SessionID string    `json:"session_id"`
	MAC       string    `json:"mac"`
	Wallet    string    `json:"wallet"`
	HotspotID string    `json:"hotspot_id,omitempty"`
	Action    string    `json:"action"`
	Reason    string    `json:"reason,omitempty"`
	QuotaMB   int64     `json:"quota_mb"`
	Timestamp time.Time `json:"timestamp"`
}

// Event action constants
const (
	EventSessionPrepared  = "session.prepared"
	EventSessionActivated = "session.activated"
	EventSessionRevoked   = "session.revoked"
)

// Revoke reason constants
const (
	ReasonManual       = "manual"
	ReasonExpired      = "expired"
	ReasonStartupSweep = "startup-sweep"
)
