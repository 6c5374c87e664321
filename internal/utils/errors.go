package utils

import "fmt"

// ValidationError reports a configuration value or score table that fails
// validation. One raised during startup or engine construction aborts the
// process before any instrument is scanned; nothing raised later should be
// of this type.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// NewValidationError creates a ValidationError for the named field or table.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// NewValidationErrorf creates a ValidationError with a formatted message.
func NewValidationErrorf(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
