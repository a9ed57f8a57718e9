package vm

import (
	"errors"
	"fmt"
)

var (
	// ErrPortExhausted is returned when no host port remains in the
	// configured range.
	ErrPortExhausted = errors.New("no available host ports in configured range")

	// ErrValidation marks request errors the caller can fix.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when the VM does not exist or belongs to a
	// different owner.
	ErrNotFound = errors.New("VM not found")
)

// Error wraps the cause of a failed provisioning. By the time it is returned
// every acquired resource has been compensated, so callers only need to
// report it.
type Error struct {
	VMID  string
	Cause error
}

func (e Error) Error() string {
	return fmt.Sprintf("provisioning VM %s: %v", e.VMID, e.Cause)
}

func (e Error) Unwrap() error {
	return e.Cause
}
