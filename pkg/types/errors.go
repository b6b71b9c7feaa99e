package types

import "errors"

// Boundary validation errors for inbound events.
var (
	ErrMalformedEvent         = errors.New("malformed event")
	ErrUnknownEventType       = errors.New("unknown event type")
	ErrInvalidCounterparty    = errors.New("counterparty ID must be 1-64 characters, alphanumeric plus underscore/hyphen")
	ErrMissingConversationKey = errors.New("conversation key is required")
	ErrEmptyMessage           = errors.New("message text cannot be empty")
	ErrMessageTooLarge        = errors.New("message text exceeds maximum length")
)
