package chat

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// MaxMessageLength is the maximum message text length in bytes.
const MaxMessageLength = 5000

// Validation errors
var (
	ErrMessageEmpty   = errors.New("message text cannot be empty")
	ErrMessageTooLong = errors.New("message exceeds maximum length")
	ErrMessageInvalid = errors.New("message contains invalid characters")
)

// ValidateMessageText validates message text. Whitespace-only text counts as empty.
func ValidateMessageText(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrMessageEmpty
	}
	if len(text) > MaxMessageLength {
		return ErrMessageTooLong
	}
	if !utf8.ValidString(text) {
		return ErrMessageInvalid
	}
	return nil
}
