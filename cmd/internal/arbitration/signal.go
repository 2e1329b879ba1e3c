package arbitration

import (
	"regexp"

	sessionv1 "arbiter/contracts/session/v1"
)

// ReasonCode is the machine-readable reason of an arbitration signal.
type ReasonCode string

const (
	ReasonClosedByOther ReasonCode = sessionv1.ReasonClosedByOtherDevice
	ReasonSuspended     ReasonCode = sessionv1.ReasonSuspended
	ReasonSuperseded    ReasonCode = sessionv1.ReasonSuperseded
)

// ActionCloseImmediately marks a suspension that must not be recovered.
const ActionCloseImmediately = sessionv1.ActionCloseImmediately

// Fallback for backends that only report reactivations in free text.
var reactivationPattern = regexp.MustCompile(`(?i)\b(reactivad[ao]s?|reactivated)\b`)

// Signal notifies that the locally held credential is no longer authoritative.
// It is created once per failed backend call and never persisted.
type Signal struct {
	HTTPStatus int
	Reason     ReasonCode
	Action     string
	Detail     string
}

// Superseded reports whether the session was displaced by a reactivation on
// another device. Such signals evict immediately without a recovery surface.
func (s Signal) Superseded() bool {
	switch {
	case s.Reason == ReasonSuperseded:
		return true
	case s.Reason != ReasonSuspended:
		return false
	case s.Action == ActionCloseImmediately:
		return true
	default:
		return reactivationPattern.MatchString(s.Detail)
	}
}

// Label is used for metrics and logs.
func (s Signal) Label() string {
	if s.Superseded() {
		return "superseded"
	}
	switch s.Reason {
	case ReasonClosedByOther:
		return "closed_by_other"
	case ReasonSuspended:
		return "suspended"
	default:
		return "unknown"
	}
}
