package session

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidToken is returned when a credential fails verification or validation.
	ErrInvalidToken = errors.New("invalid token")

	// ErrSessionNotFound is returned when no row matches the session ID.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired is returned when the session is past its expiry.
	ErrSessionExpired = errors.New("session expired")

	// ErrSessionRevoked is returned for logged-out or replaced sessions.
	ErrSessionRevoked = errors.New("session revoked")

	// ErrSessionClosedByOther is returned when another device took the session over.
	ErrSessionClosedByOther = errors.New("session closed by another device")

	// ErrSessionSuspended is returned when a newer login suspended the session.
	ErrSessionSuspended = errors.New("session suspended")

	// ErrSessionSuperseded is returned when a reactivation elsewhere displaced the session.
	ErrSessionSuperseded = errors.New("session superseded")

	// ErrNotReclaimable is returned by Reclaim for sessions that were not closed by another device.
	ErrNotReclaimable = errors.New("session not reclaimable")

	// ErrNotReactivatable is returned by Reactivate for sessions that are not suspended.
	ErrNotReactivatable = errors.New("session not reactivatable")

	// ErrReactivationWindowExpired is returned when a suspended session is too old to reactivate.
	ErrReactivationWindowExpired = errors.New("reactivation window expired")

	// ErrInvalidInput is returned for malformed arguments (empty IDs, unknown takeover mode).
	ErrInvalidInput = errors.New("invalid input")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

// StateError reports an operation refused because of the session's current status.
type StateError struct {
	Op     string
	Status Status
	Err    error
}

func (e StateError) Error() string {
	return fmt.Sprintf("%s: %v (status %s)", e.Op, e.Err, e.Status)
}

func (e StateError) Unwrap() error { return e.Err }
