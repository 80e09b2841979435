package executor

import (
	"fmt"
	"strings"
)

// ResolutionError reports a declarative executor config that cannot be
// turned into a handle: an unknown type, or an override payload of an
// unsupported shape.
type ResolutionError struct {
	// Field is the offending field path, e.g. "type".
	Field string

	// Value is the rejected value.
	Value any

	// Allowed lists the accepted values, when the field is an enum.
	Allowed []string

	Message string
	Err     error
}

// Error implements the error interface.
func (e *ResolutionError) Error() string {
	var b strings.Builder
	b.WriteString("executor resolution failed")
	if e.Field != "" {
		fmt.Fprintf(&b, " for %s=%v", e.Field, e.Value)
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

// Unwrap returns the underlying cause, if any.
func (e *ResolutionError) Unwrap() error {
	return e.Err
}
