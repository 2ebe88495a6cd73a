package types

import "fmt"

// ValidationError reports a structurally invalid domain value.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ErrMissingField builds a ValidationError for a required field left empty.
func ErrMissingField(field string) error {
	return &ValidationError{Field: field, Reason: "required field is empty"}
}
