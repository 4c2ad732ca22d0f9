package utils

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/MiHiii/vinaside-backend/pkg/errors"
)

// Message length limit. Conversations are short marketplace exchanges
// (guest <-> host), not document transfer.
const MaxMessageLength = 4000

// SanitizeMessageContent trims, validates and escapes message content.
// Returns the cleaned content or a validation error.
func SanitizeMessageContent(content string) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", errors.Validation("Message content cannot be empty")
	}

	if utf8.RuneCountInString(trimmed) > MaxMessageLength {
		return "", errors.Validation("Message exceeds maximum length")
	}

	// Escape HTML entities so stored content is safe to render as-is
	return html.EscapeString(trimmed), nil
}
