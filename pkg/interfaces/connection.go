package interfaces

import (
	"time"

	"mentorchat/pkg/types"
)

// Connection is one live transport session belonging to one verified
// identity. The WebSocket implementation lives in internal/websocket;
// the interface keeps the registry and router testable with in-memory
// connections.
type Connection interface {
	// ID returns the session identifier, unique per connection.
	ID() string

	// Identity returns the verified owner of the session. Set once at
	// handshake time and never mutated afterwards.
	Identity() types.Identity

	// ConnectedAt returns the time the handshake completed.
	ConnectedAt() time.Time

	// WriteEvent sends one server event to the client. Safe for
	// concurrent use; implementations must serialize writes.
	WriteEvent(v any) error

	// Close tears down the transport. Idempotent.
	Close() error
}
