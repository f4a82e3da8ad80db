package subscription

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

var ErrNotFound = errors.New("subscription not found")

const (
	StatusActive  = "active"
	StatusExpired = "expired"
	StatusError   = "error"
)

// Subscription mirrors a change-notification subscription held at the
// remote API for one connection's watched resource. Status leaves active
// when a renewal fails (error) or the expiry passes unrenewed (expired);
// either way delta sync for the connection falls back to a full re-crawl.
type Subscription struct {
	ID                string    `json:"id"`
	ConnectionID      string    `json:"connection_id"`
	RemoteID          string    `json:"remote_id"`
	Resource          string    `json:"resource"`
	ClientState       string    `json:"-"`
	Status            string    `json:"status"`
	NotificationCount int64     `json:"notification_count"`
	ExpiresAt         time.Time `json:"expires_at"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// ClientState derives the shared secret echoed back in every notification
// for a connection. Notifications carrying anything else are dropped.
func ClientState(connectionID, secret string) string {
	sum := sha256.Sum256([]byte(connectionID + secret))
	return hex.EncodeToString(sum[:])[:32]
}
