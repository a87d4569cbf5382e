package server

import (
	"errors"
	"fmt"
)

// Sentinel errors for lifecycle conditions.
var (
	// ErrInvalidConfig is returned by Validate and New for unusable
	// configurations.
	ErrInvalidConfig = errors.New("server: invalid config")

	// ErrInvalidState is returned when an operation is not allowed in the
	// current lifecycle state.
	ErrInvalidState = errors.New("server: invalid state")

	// ErrAlreadyStarted matches every *AlreadyStartedError.
	ErrAlreadyStarted = errors.New("server: global server already started")

	// ErrListen is returned by Start when the address cannot be bound.
	ErrListen = errors.New("server: listen")

	// ErrShutdownTimeout matches every *ShutdownTimeoutError.
	ErrShutdownTimeout = errors.New("server: shutdown wait expired")
)

// AlreadyStartedError is returned by StartGlobal while the global server
// has not stopped. The running server is not affected.
type AlreadyStartedError struct {
	Root  string
	Addr  string
	State State
}

func (e *AlreadyStartedError) Error() string {
	return fmt.Sprintf("server: global server already %s on %s (root %s)", e.State, e.Addr, e.Root)
}

// Is reports true for ErrAlreadyStarted.
func (e *AlreadyStartedError) Is(target error) bool { return target == ErrAlreadyStarted }

// StateError wraps ErrInvalidState with the operation and state.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("server: cannot %s while %s", e.Op, e.State)
}

func (e *StateError) Unwrap() error { return ErrInvalidState }

// ShutdownTimeoutError is returned by Stop when it stops waiting before
// the running calls finish. The shutdown carries on; Join and Done report
// its end.
type ShutdownTimeoutError struct {
	InFlight int
	Err      error
}

func (e *ShutdownTimeoutError) Error() string {
	return fmt.Sprintf("server: stopped waiting with %d calls in flight: %v", e.InFlight, e.Err)
}

// Is reports true for ErrShutdownTimeout.
func (e *ShutdownTimeoutError) Is(target error) bool { return target == ErrShutdownTimeout }

func (e *ShutdownTimeoutError) Unwrap() error { return e.Err }
