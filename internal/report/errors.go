package report

import (
	"errors"
	"fmt"
)

var (
	// ErrCollaboratorUnavailable is returned when no build system is
	// connected. It is never retried here.
	ErrCollaboratorUnavailable = errors.New("build system not connected")

	// ErrNotInitialized is what a Collaborator returns before it has been
	// started.
	ErrNotInitialized = errors.New("build queue not started")
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
