package types

import (
	"regexp"
	"strings"
)

// MaxMessageLength bounds the body of a single chat message. Large
// payloads are rejected at the boundary rather than truncated.
const MaxMessageLength = 4096

var userIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// IsValidUserID reports whether id is a well-formed user identifier:
// 1-64 characters, alphanumeric plus underscore and hyphen. The colon is
// deliberately excluded since it is the conversation key separator.
func IsValidUserID(id string) bool {
	return userIDPattern.MatchString(id)
}

// ValidateMessageText checks the non-blank, bounded-length rule for
// message bodies. Whitespace-only bodies count as empty; the length
// bound applies to the raw text.
func ValidateMessageText(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	if len(text) > MaxMessageLength {
		return ErrMessageTooLarge
	}
	return nil
}
