package interfaces

import (
	"errors"
	"fmt"
)

var (
	// ErrPoolExhausted is returned when fewer unused keys exist than requested.
	// Nothing is allocated in that case.
	ErrPoolExhausted = errors.New("key pool exhausted")

	// ErrConflict is returned by the store when a key selected for binding was
	// bound by a concurrent writer in the meantime.
	ErrConflict = errors.New("key binding conflict")
)

// ValidationError reports a malformed request or configuration value.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError reports a key id that the store does not know.
type NotFoundError struct {
	KeyID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("key %s not found", e.KeyID)
}

// AuthorizationError reports a caller that is not bound to a requested key.
type AuthorizationError struct {
	SAEID string
	KeyID string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("SAE %s is not authorized for key %s", e.SAEID, e.KeyID)
}

// StorageError wraps a failure of the persistent store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError wraps err unless it already is a domain error.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) || errors.Is(err, ErrPoolExhausted) {
		return err
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
