package arbitration

import (
	"errors"
	"fmt"
)

var (
	// ErrTerminalAuth means the backend rejected the credential during reconciliation.
	// The only valid reaction is purge and evict.
	ErrTerminalAuth = errors.New("arbitration: credential rejected")

	// ErrRemote is the class of RemoteError.
	ErrRemote = errors.New("arbitration: remote refused")
	// ErrTransport is the class of TransportError.
	ErrTransport = errors.New("arbitration: transport failure")

	// ErrInFlight is returned when a reconciliation is already running.
	ErrInFlight = errors.New("arbitration: reconciliation in flight")
	// ErrStale is returned when a response arrives after the state it belonged to was left.
	ErrStale = errors.New("arbitration: stale response")
	// ErrNotRecoverable is returned when an intent does not apply to the current state.
	ErrNotRecoverable = errors.New("arbitration: no recoverable state")
	// ErrSuspendedAgain is returned when the post-reactivation probe is rejected.
	ErrSuspendedAgain = errors.New("arbitration: session rejected after reactivation")
)

// RemoteError is a well-formed refusal from the backend (success:false).
type RemoteError struct {
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("arbitration: remote refused (status %d)", e.Status)
	}
	return fmt.Sprintf("arbitration: remote refused (status %d): %s", e.Status, e.Message)
}

func (e *RemoteError) Unwrap() error { return ErrRemote }

// TransportError covers network failures, timeouts and bodies outside the contract.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("arbitration: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() []error { return []error{ErrTransport, e.Err} }

// SignalError is returned by a probe whose response carries an arbitration signal.
type SignalError struct {
	Signal Signal
}

func (e *SignalError) Error() string {
	return fmt.Sprintf("arbitration: probe rejected: %s", e.Signal.Reason)
}
