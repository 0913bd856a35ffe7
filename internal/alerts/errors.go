package alerts

import (
	"errors"
	"fmt"
)

// ErrNotFound marks a lookup of an alert id that does not exist
var ErrNotFound = errors.New("alert not found")

// ValidationError reports a rejected Create input
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
