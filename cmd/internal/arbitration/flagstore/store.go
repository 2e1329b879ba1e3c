// Package flagstore persists the arbitration flags and the session credential so
// they survive process restarts.
//
// Only three keys belong here: the credential and the two arbitration flags.
// Writers must go through the arbitration state machine.
package flagstore

import (
	"context"
	"errors"
)

// Durable keys (wire-stable; shared with other clients of the same storage).
const (
	KeyCredential    = "auth.credential"
	KeyClosedByOther = "session.closed_by_other"
	KeySuspended     = "session.suspended"
)

// Flag names one of the two durable arbitration booleans.
type Flag string

const (
	// FlagClosedByOther mirrors the ClosedByOther arbitration state.
	FlagClosedByOther Flag = KeyClosedByOther
	// FlagSuspended mirrors the Suspended arbitration state.
	FlagSuspended Flag = KeySuspended
)

var (
	// ErrEmptyCredential is returned when installing a blank credential.
	ErrEmptyCredential = errors.New("flagstore: empty credential")
	// ErrUnknownFlag is returned for flags outside the two known keys.
	ErrUnknownFlag = errors.New("flagstore: unknown flag")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("flagstore: closed")
)

// Snapshot is the full durable state at one point in time.
type Snapshot struct {
	Credential    string
	ClosedByOther bool
	Suspended     bool
}

// HasCredential reports whether a non-empty credential is stored.
func (s Snapshot) HasCredential() bool { return s.Credential != "" }

// AnyFlag reports whether either arbitration flag is set.
func (s Snapshot) AnyFlag() bool { return s.ClosedByOther || s.Suspended }

// Store abstracts durable persistence for arbitration state.
type Store interface {
	// Load reads the current snapshot.
	Load(ctx context.Context) (Snapshot, error)

	// SetCredential replaces the credential wholesale.
	SetCredential(ctx context.Context, credential string) error

	// SetFlag sets or clears one arbitration flag.
	SetFlag(ctx context.Context, flag Flag, on bool) error

	// ClearFlags clears both arbitration flags, keeping the credential.
	ClearFlags(ctx context.Context) error

	// Purge removes the credential and both flags.
	Purge(ctx context.Context) error

	// Close releases resources.
	Close() error
}

func validFlag(f Flag) bool {
	return f == FlagClosedByOther || f == FlagSuspended
}
