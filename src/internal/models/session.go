package models

import "time"

// Session state constants
const (
	StatePending = "pending"
	StateActive  = "active"
	StateRevoked = "revoked"
)

// Session tracks one device's use of one voucher. A session is created in
// pending state by validate, promoted to active by grant-access and ends up
// revoked either by the expiry timer or a manual revoke.
type Session struct {
	SessionID   string     `json:"sessionId" bson:"session_id"`
	MAC         string     `json:"mac" bson:"mac"`
	Wallet      string     `json:"wallet" bson:"wallet"`
	AccessCode  string     `json:"-" bson:"access_code"`
	HotspotID   string     `json:"hotspotId,omitempty" bson:"hotspot_id,omitempty"`
	QuotaMB     int64      `json:"quotaMB" bson:"quota_mb"`
	DataUsedMB  int64      `json:"dataUsed" bson:"data_used_mb"`
	State       string     `json:"state" bson:"state"`
	StartTime   time.Time  `json:"startTime" bson:"start_time"`
	ActivatedAt *time.Time `json:"grantedAt,omitempty" bson:"activated_at,omitempty"`
	EndTime     *time.Time `json:"endTime,omitempty" bson:"end_time,omitempty"`
	Expiry      time.Time  `json:"expiry" bson:"expiry"`
}

// StatusView is the external projection of a session. It never carries the
// access code.
type StatusView struct {
	SessionID     string     `json:"sessionId"`
	MAC           string     `json:"mac"`
	Wallet        string     `json:"wallet"`
	HotspotID     string     `json:"hotspotId,omitempty"`
	Active        bool       `json:"active"`
	State         string     `json:"state"`
	RemainingTime int64      `json:"remainingTime"`
	QuotaMB       int64      `json:"quotaMB"`
	DataUsedMB    int64      `json:"dataUsed"`
	StartTime     time.Time  `json:"startTime"`
	GrantedAt     *time.Time `json:"grantedAt,omitempty"`
	EndTime       *time.Time `json:"endTime,omitempty"`
	Expiry        time.Time  `json:"expiry"`
}

// Clone returns a deep copy so callers never hold a mutable alias into the
// store's canonical record.
func (s *Session) Clone() *Session {
	cp := *s
	if s.ActivatedAt != nil {
		t := *s.ActivatedAt
		cp.ActivatedAt = &t
	}
	if s.EndTime != nil {
		t := *s.EndTime
		cp.EndTime = &t
	}
	return &cp
}

// IsActive checks if the session currently grants access.
func (s *Session) IsActive() bool {
	return s.State == StateActive
}

// ToStatusView converts a session to its external projection at time now.
func (s *Session) ToStatusView(now time.Time) *StatusView {
	remaining := int64(s.Expiry.Sub(now).Seconds())
	if remaining < 0 || s.State == StateRevoked {
		remaining = 0
	}
	return &StatusView{
		SessionID:     s.SessionID,
		MAC:           s.MAC,
		Wallet:        s.Wallet,
		HotspotID:     s.HotspotID,
		Active:        s.IsActive(),
		State:         s.State,
		RemainingTime: remaining,
		QuotaMB:       s.QuotaMB,
		DataUsedMB:    s.DataUsedMB,
		StartTime:     s.StartTime,
		GrantedAt:     s.ActivatedAt,
		EndTime:       s.EndTime,
		Expiry:        s.Expiry,
	}
}
