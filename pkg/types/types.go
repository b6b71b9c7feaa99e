package types

import (
	"time"
)

// Role is the platform role attached to an identity. Roles come from the
// auth collaborator's token claims and may change between sessions.
type Role string

const (
	RoleUser   Role = "USER"
	RoleMentor Role = "MENTOR"
	RoleAdmin  Role = "ADMIN"
)

// IsValid reports whether r is one of the three platform roles.
func (r Role) IsValid() bool {
	switch r {
	case RoleUser, RoleMentor, RoleAdmin:
		return true
	}
	return false
}

// Identity is the verified user behind a connection. Immutable for the
// lifetime of a session; the role directory is the source of truth for
// role changes after the token was issued.
type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// Conversation is a two-party channel. The key is derived from the
// participants and the pairing type, never generated randomly, so
// repeated "start chat with X" actions resolve to the same row.
// ParticipantLo and ParticipantHi are the two user IDs in lexicographic
// order, matching the order encoded in the key.
type Conversation struct {
	Key           string    `json:"key" db:"key"`
	Pairing       string    `json:"pairing" db:"pairing"`
	ParticipantLo string    `json:"participantLo" db:"participant_lo"`
	ParticipantHi string    `json:"participantHi" db:"participant_hi"`
	CreatedAt     time.Time `json:"createdAt" db:"created_at"`
}

// Participants returns both participant IDs.
func (c *Conversation) Participants() (string, string) {
	return c.ParticipantLo, c.ParticipantHi
}

// HasParticipant reports whether userID is one of the two parties.
func (c *Conversation) HasParticipant(userID string) bool {
	return c.ParticipantLo == userID || c.ParticipantHi == userID
}

// Message is one persisted chat message. Seq is assigned by the store's
// append operation and is the authoritative order within a conversation;
// CreatedAt is informational only and never used for ordering.
// Messages are immutable after creation except for the seen flag.
type Message struct {
	ID              string    `json:"id" db:"id"`
	ConversationKey string    `json:"conversationKey" db:"conversation_key"`
	Seq             int64     `json:"seq" db:"seq"`
	SenderID        string    `json:"senderId" db:"sender_id"`
	Text            string    `json:"text" db:"body"`
	Seen            bool      `json:"seen" db:"seen"`
	CreatedAt       time.Time `json:"createdAt" db:"created_at"`
}
