package config

import (
	"fmt"
	"strings"
)

// ValidationError reports a configuration value that failed validation at
// load time. No run starts while one of these is outstanding.
type ValidationError struct {
	// Field is the dotted path of the offending field (e.g. "executor.type").
	Field string

	// Value is the attempted value, if one was supplied.
	Value interface{}

	// Allowed lists the accepted values for enum-like fields.
	Allowed []string

	// Message is the human-readable reason.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("invalid configuration")
	if e.Field != "" {
		fmt.Fprintf(&b, ": field %q", e.Field)
	}
	if e.Value != nil {
		fmt.Fprintf(&b, " = %v", e.Value)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Allowed) > 0 {
		fmt.Fprintf(&b, " (allowed: %s)", strings.Join(e.Allowed, ", "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying error for error chain inspection.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

func newValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}

// MigrationWarning records a non-fatal finding from the legacy-field
// migration bridge. Resolution proceeds; the caller decides how to log.
type MigrationWarning struct {
	// Fields are the deprecated flat keys involved.
	Fields []string

	// Message describes what was migrated or ignored.
	Message string
}

func (w MigrationWarning) String() string {
	if len(w.Fields) == 0 {
		return w.Message
	}
	return fmt.Sprintf("%s: %s", strings.Join(w.Fields, ", "), w.Message)
}
