package websocket

import "errors"

// Connection errors.
var (
	ErrConnectionClosed    = errors.New("connection closed")
	ErrWriteTimeout        = errors.New("write timeout")
	ErrInvalidEventPayload = errors.New("event payload cannot be encoded")
)

// Registry errors.
var (
	ErrNilConnection        = errors.New("connection cannot be nil")
	ErrDuplicateSession     = errors.New("session already registered")
	ErrSessionNotRegistered = errors.New("session not registered")
)
