package routing

import (
	"errors"
	"fmt"
)

// ValidationError reports a routing configuration that cannot be applied.
//
// It is distinct from runtime value clamping: an invalid table is rejected
// whole and the previous table stays in effect.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// prefixed qualifies a ValidationError field with the enclosing path.
func prefixed(path string, err error) error {
	var verr *ValidationError
	if !errors.As(err, &verr) {
		return fmt.Errorf("%s: %w", path, err)
	}
	field := path
	if verr.Field != "" && verr.Field != path {
		field = path + "." + verr.Field
	}
	return &ValidationError{Field: field, Message: verr.Message}
}

// withField replaces the field of a ValidationError.
func withField(field string, err error) error {
	var verr *ValidationError
	if !errors.As(err, &verr) {
		return fmt.Errorf("%s: %w", field, err)
	}
	return &ValidationError{Field: field, Message: verr.Message}
}
