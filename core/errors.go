package core

import "github.com/juju/errors"

// Error taxonomy shared by every layer. Callers match with errors.Is; the
// concrete errors returned are annotated with the failing operation.
const (
	// ErrResourceBusy means a peripheral is already bound to another owner.
	ErrResourceBusy = errors.ConstError("resource busy")

	// ErrInvalidState means the operation is not allowed in the current state.
	ErrInvalidState = errors.ConstError("invalid state")

	// ErrInvalidArgument covers out-of-range values and missing callbacks.
	ErrInvalidArgument = errors.ConstError("invalid argument")

	// ErrNoMem means an underlying binding could not be allocated.
	ErrNoMem = errors.ConstError("allocation failure")

	// ErrQueueFull means a non-blocking post found the event queue full.
	ErrQueueFull = errors.ConstError("event queue full")
)
