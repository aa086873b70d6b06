package service

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// maxViberIDLength bounds ids accepted from dashboards and adapters.
const maxViberIDLength = 128

// ValidationError reports a missing or malformed request field. It is
// returned before any state is touched.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// ValidateViberID validates a conversation id.
func ValidateViberID(field, id string) error {
	if strings.TrimSpace(id) == "" {
		return &ValidationError{Field: field, Reason: "cannot be empty"}
	}
	if len(id) > maxViberIDLength {
		return &ValidationError{Field: field, Reason: "exceeds maximum length"}
	}
	if !utf8.ValidString(id) {
		return &ValidationError{Field: field, Reason: "must be valid UTF-8"}
	}
	return nil
}

// ValidateMessageText validates message text. There is no length limit here;
// transports truncate if they must.
func ValidateMessageText(field, text string) error {
	if strings.TrimSpace(text) == "" {
		return &ValidationError{Field: field, Reason: "cannot be empty"}
	}
	if !utf8.ValidString(text) {
		return &ValidationError{Field: field, Reason: "must be valid UTF-8"}
	}
	return nil
}
