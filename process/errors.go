package process

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates a referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates state does not allow the operation.
	// This includes concurrent modification of the same data.
	ErrConflict = errors.New("conflict")

	// ErrArgument indicates caller-supplied data is invalid.
	ErrArgument = errors.New("invalid argument")

	// ErrForbidden indicates the caller may not act on the entity.
	ErrForbidden = errors.New("forbidden")

	// ErrUnexpected indicates an internal inconsistency.
	ErrUnexpected = errors.New("unexpected condition")
)

func NewNotFoundError(format string, a ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, a...))
}

func NewConflictError(format string, a ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, a...))
}

func NewArgumentError(format string, a ...any) error {
	return fmt.Errorf("%w: %s", ErrArgument, fmt.Sprintf(format, a...))
}

func NewForbiddenError(format string, a ...any) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, a...))
}

func NewUnexpectedError(format string, a ...any) error {
	return fmt.Errorf("%w: %s", ErrUnexpected, fmt.Sprintf(format, a...))
}
