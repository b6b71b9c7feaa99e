package auth

import "errors"

// Credential errors. Both are fatal to the connection attempt, never to
// an established session.
var (
	ErrMissingCredential = errors.New("missing credential")
	ErrInvalidCredential = errors.New("invalid credential")
)
