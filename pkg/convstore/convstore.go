// Package convstore keeps short per-device conversation histories for the
// chat handler.
package convstore

import "context"

// Roles used in conversation entries.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Store persists bounded conversation context per device.
type Store interface {
	// Context returns the most recent messages, oldest first, up to
	// limit (all when limit <= 0).
	Context(ctx context.Context, deviceID string, limit int) ([]Message, error)

	// Add appends one turn, trimming the history to the store's bound.
	Add(ctx context.Context, deviceID, role, content string) error

	// Clear drops the device's history.
	Clear(ctx context.Context, deviceID string) error

	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error
}
