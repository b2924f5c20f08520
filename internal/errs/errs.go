// Package errs contains the error kinds shared by the storage, registry and
// service layers. Callers distinguish kinds with errors.Is.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation indicates bad caller input. Never retried automatically.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound indicates an unknown room, card or session.
	ErrNotFound = errors.New("not found")

	// ErrCapacity indicates a session that already holds capacity participants.
	ErrCapacity = errors.New("session is full")

	// ErrStorage indicates an I/O failure in the record store.
	ErrStorage = errors.New("storage failure")

	// ErrConflict indicates a new record whose id is already taken.
	ErrConflict = errors.New("conflict")

	// ErrClosed indicates the registry has been shut down.
	ErrClosed = errors.New("registry closed")
)

// StorageError describes a failed record store operation for one room.
type StorageError struct {
	Op   string // "load", "commit", "rooms"
	Room string
	Err  error
}

func (e *StorageError) Error() string {
	if e.Room == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s room %q: %v", e.Op, e.Room, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is makes every StorageError match ErrStorage.
func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// Storage wraps err as a StorageError. A nil err stays nil.
func Storage(op, room string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Room: room, Err: err}
}

// Validation returns an ErrValidation carrying msg.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
