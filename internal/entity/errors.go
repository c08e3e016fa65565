package entity

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownKind indicates a kind that is not in the Registry.
	ErrUnknownKind = errors.New("unknown entity kind")

	// ErrValidation is wrapped by every ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrParentRequired indicates a required ancestor is not selected.
	ErrParentRequired = errors.New("parent selection required")

	// ErrNameRequired indicates an empty name on create.
	ErrNameRequired = errors.New("name is required")

	// ErrDiscriminatorRequired indicates the kind's secondary field is empty.
	ErrDiscriminatorRequired = errors.New("discriminator is required")

	// ErrConflict is wrapped by ConflictError.
	ErrConflict = errors.New("entity already exists")

	// ErrNotFound indicates a referenced entity does not exist.
	ErrNotFound = errors.New("entity not found")
)

// ValidationError is a create/submit failure that is surfaced inline and
// never reaches the network.
type ValidationError struct {
	Kind   Kind
	Field  string
	Reason error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Reason)
	}
	return fmt.Sprintf("%s.%s: %v", e.Kind, e.Field, e.Reason)
}

// Unwrap exposes both the specific reason and ErrValidation to errors.Is.
func (e *ValidationError) Unwrap() []error {
	return []error{ErrValidation, e.Reason}
}

// ConflictError carries the record that blocked a create.
type ConflictError struct {
	Kind     Kind
	Existing Candidate
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %q already exists (id %d)", e.Kind, e.Existing.Name, e.Existing.ID)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }
