package interfaces

import (
	"context"

	"mentorchat/pkg/types"
)

// MessageStore is the durable append-only log of messages per
// conversation. The core treats it as an external transactional
// resource: a single append is the only write it ever coordinates.
type MessageStore interface {
	// EnsureConversation creates the conversation row if it does not
	// exist yet. Conversations come into being on first join or first
	// message and are never deleted by the core.
	EnsureConversation(ctx context.Context, conv *types.Conversation) error

	// Append persists one message and assigns its per-conversation
	// sequence number. The message is durable when Append returns; the
	// returned sequence is the authoritative order for fan-out.
	Append(ctx context.Context, conversationKey, senderID, text string) (*types.Message, error)

	// Page returns up to limit messages, most recent first. A beforeSeq
	// of zero means "from the latest"; otherwise only messages with
	// seq < beforeSeq are returned.
	Page(ctx context.Context, conversationKey string, beforeSeq int64, limit int) ([]*types.Message, error)

	// ConversationsFor lists every conversation the user participates
	// in, most recently created first.
	ConversationsFor(ctx context.Context, userID string) ([]*types.Conversation, error)

	// MarkSeen flags all messages in the conversation that were sent by
	// the other party as seen by readerID.
	MarkSeen(ctx context.Context, conversationKey, readerID string) error

	// DeleteConversation removes a conversation and its messages. An
	// administrative action, not part of the routing core.
	DeleteConversation(ctx context.Context, conversationKey string) error

	// HealthCheck verifies the backing store is reachable.
	HealthCheck(ctx context.Context) error

	// Close flushes pending writes and releases the store.
	Close() error
}

// RoleDirectory resolves the current role of a user. Consulted on every
// access check rather than cached, so promotions and demotions take
// effect without waiting for the session to end.
type RoleDirectory interface {
	RoleOf(ctx context.Context, userID string) (types.Role, error)
}

// IdentityRecorder mirrors verified identities into the role directory.
// Called on every authenticated connect so the directory tracks the
// latest claim the auth collaborator issued.
type IdentityRecorder interface {
	UpsertUser(ctx context.Context, identity types.Identity) error
}

// CredentialVerifier validates a raw handshake credential and resolves
// it to an identity. Token issuance belongs to the external auth
// collaborator; the core only verifies.
type CredentialVerifier interface {
	Verify(raw string) (*types.Identity, error)
}
