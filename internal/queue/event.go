// Package queue carries session lifecycle events over RabbitMQ.
package queue

// Event types published on the session events queue.
const (
	EventUserRegistered = "user.registered"
	EventSessionCreated = "session.created"
	EventSessionRotated = "session.rotated"
	EventSessionRevoked = "session.revoked"
)

// DefaultQueueName is the durable queue session events are routed to.
const DefaultQueueName = "auth.session_events"

// SessionEvent is published whenever an account is registered or a device
// session is created, rotated or revoked.  It never carries a token or a
// session secret.
type SessionEvent struct {
	Type        string `json:"type"`
	UserID      uint64 `json:"user_id"`
	AccountName string `json:"account_name,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
	DeviceID    string `json:"device_id,omitempty"`
	IPAddress   string `json:"ip_address,omitempty"`
	UserAgent   string `json:"user_agent,omitempty"`
	OccurredAt  string `json:"occurred_at"`
}
