package membership

import "errors"

// Authorization errors. All map to the AuthorizationError event kind:
// terminal for the action, never for the session.
var (
	ErrSelfConversation    = errors.New("cannot open a conversation with yourself")
	ErrPairingDenied       = errors.New("role pairing not allowed")
	ErrNotParticipant      = errors.New("not a participant in this conversation")
	ErrUnknownCounterparty = errors.New("unknown counterparty")
	ErrInvalidKey          = errors.New("invalid conversation key")
)
