package attendance

import (
	"errors"
	"fmt"

	"entrytracker/internal/model"
)

// ErrNotFound is returned when a person does not exist for the owner.
var ErrNotFound = model.ErrNotFound

// ValidationKind names the rule a request broke.
type ValidationKind string

const (
	MissingName  ValidationKind = "missing_name"
	InvalidType  ValidationKind = "invalid_type"
	MissingOwner ValidationKind = "missing_owner"
)

// ValidationError is returned before any state is mutated.
type ValidationError struct {
	Kind  ValidationKind
	Value string
}

func (e *ValidationError) Error() string {
	switch e.Kind {
	case MissingName:
		return "name is required"
	case InvalidType:
		return fmt.Sprintf("invalid entry type %q", e.Value)
	case MissingOwner:
		return "owner is required"
	default:
		return "invalid input: " + string(e.Kind)
	}
}

// Is matches any ValidationError of the same kind.
func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*ValidationError)
	return ok && t.Kind == e.Kind
}

var (
	ErrMissingName  = &ValidationError{Kind: MissingName}
	ErrInvalidType  = &ValidationError{Kind: InvalidType}
	ErrMissingOwner = &ValidationError{Kind: MissingOwner}
)

// PersistenceError wraps a failed store call. Cached state is not updated when
// one is returned.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *PersistenceError) Unwrap() error { return e.Err }

func persistErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, model.ErrNotFound) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}
