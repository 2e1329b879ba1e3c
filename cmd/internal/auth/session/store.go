package session

import (
	"context"
	"time"
)

// Status is the lifecycle state of a session row.
type Status string

const (
	// StatusActive is the single authoritative session of an account.
	StatusActive Status = "active"
	// StatusClosedByOther was displaced by a close-mode login or a reclaim elsewhere.
	StatusClosedByOther Status = "closed_by_other"
	// StatusSuspended was displaced by a suspend-mode login; it may be reactivated.
	StatusSuspended Status = "suspended"
	// StatusSuperseded was active until a suspended session reactivated. Terminal.
	StatusSuperseded Status = "superseded"
	// StatusRevoked was logged out or replaced on the same device. Terminal.
	StatusRevoked Status = "revoked"
)

// Terminal reports whether no operation can bring the session back.
func (s Status) Terminal() bool {
	return s == StatusSuperseded || s == StatusRevoked
}

// Row mirrors the arbiter.sessions row.
type Row struct {
	ID          string
	AccountID   string
	DeviceID    string
	Status      Status
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ExpiresAt   time.Time
	SuspendedAt *time.Time
	// EndedBy is the session whose creation or recovery displaced this one.
	EndedBy *string
}

// Store abstracts persistence for session state.
//
// All mutations go through WithAccount, which serializes writers per account
// so that at most one session of an account is ever active.
type Store interface {
	// Get loads a session row by ID.
	Get(ctx context.Context, sessionID string) (Row, error)

	// WithAccount runs fn with exclusive access to the account's rows and
	// commits when fn returns nil.
	WithAccount(ctx context.Context, accountID string, fn func(tx AccountTx) error) error
}

// AccountTx is the per-account view handed to WithAccount.
type AccountTx interface {
	// Sessions returns the account's non-terminal rows.
	Sessions(ctx context.Context) ([]Row, error)
	// Get loads one row of the account.
	Get(ctx context.Context, sessionID string) (Row, error)
	Insert(ctx context.Context, r Row) error
	Update(ctx context.Context, r Row) error
}
