package interfaces

import "errors"

// Common collaborator errors shared across implementations.
var (
	ErrUserNotFound         = errors.New("user not found")
	ErrConversationNotFound = errors.New("conversation not found")
)
