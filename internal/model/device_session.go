package model

import "time"

// DeviceSession models a row in the `device_sessions` table.  There is at
// most one row per (user, device) pair; the row is rewritten in place on
// every login or refresh from the same device and deleted on logout.
//
// A placeholder row is provisioned when an account registers.  It has no
// DeviceID, SecretKey or RefreshTokenHash and is never matched by lookups.
//
// Fields:
//
//	ID               – stable UUID, preserved across rotations.
//	UserID           – owning user.
//	DeviceID         – client supplied device identifier (empty for placeholders).
//	MacID            – hardware identifier reported by the client.
//	IPAddress        – last seen client IP.
//	UserAgent        – last seen user agent.
//	SecretKey        – per-session HMAC key for access tokens.
//	RefreshTokenHash – SHA‑256 hex digest of the current refresh token.
//	ExpiredAt        – end of the current access token window.
type DeviceSession struct {
	ID               string    // device_sessions.id
	UserID           uint64    // device_sessions.user_id
	DeviceID         string    // device_sessions.device_id (nullable)
	MacID            string    // device_sessions.mac_id
	IPAddress        string    // device_sessions.ip_address
	UserAgent        string    // device_sessions.user_agent
	SecretKey        string    // device_sessions.secret_key
	RefreshTokenHash string    // device_sessions.refresh_token_hash
	ExpiredAt        time.Time // device_sessions.expired_at
	CreatedAt        time.Time // device_sessions.created_at
	UpdatedAt        time.Time // device_sessions.updated_at
}

// IsPlaceholder reports whether the row has no device bound yet.
func (s DeviceSession) IsPlaceholder() bool { return s.DeviceID == "" }
