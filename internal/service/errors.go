package service

import (
	"errors"
	"fmt"
)

// Validation errors. All of them are user-correctable.
var (
	ErrInvalidColor     = errors.New("invalid color")
	ErrColorInUse       = errors.New("color already in use")
	ErrNoColorAvailable = errors.New("no color available: every color is assigned")
	ErrSerialInUse      = errors.New("serial number already registered")
	ErrIDInUse          = errors.New("device id already registered")
	ErrInvalidEvent     = errors.New("invalid telemetry event")
)

var (
	ErrNotFound = errors.New("device not found")

	// ErrNoOpenSession is returned when a session close is requested but none is open.
	// Duplicate off events from hardware make this expected; callers log and continue.
	ErrNoOpenSession = errors.New("no open session")
)

// IsValidation reports whether err is a user-correctable validation failure.
func IsValidation(err error) bool {
	for _, target := range []error{ErrInvalidColor, ErrColorInUse, ErrNoColorAvailable, ErrSerialInUse, ErrIDInUse, ErrInvalidEvent} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsConflict reports whether err is a uniqueness or capacity violation.
func IsConflict(err error) bool {
	return errors.Is(err, ErrColorInUse) ||
		errors.Is(err, ErrNoColorAvailable) ||
		errors.Is(err, ErrSerialInUse) ||
		errors.Is(err, ErrIDInUse)
}

// StorageError wraps a durable read/write failure. In-memory state stays authoritative
// and the write is retried by the periodic flush.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// IsStorage reports whether err carries a StorageError.
func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
