package arbitration

import "time"

// State is the single arbitration state of the process.
type State int

const (
	StateIdle State = iota
	StateClosedByOther
	StateSuspended
	StateReclaiming
	StateReactivating
	StateResolved
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateClosedByOther:
		return "closed_by_other"
	case StateSuspended:
		return "suspended"
	case StateReclaiming:
		return "reclaiming"
	case StateReactivating:
		return "reactivating"
	case StateResolved:
		return "resolved"
	default:
		return "unknown"
	}
}

// Recoverable reports whether a recovery surface belongs to s.
func (s State) Recoverable() bool {
	switch s {
	case StateClosedByOther, StateSuspended, StateReclaiming, StateReactivating:
		return true
	default:
		return false
	}
}

// Resolution qualifies StateResolved.
type Resolution string

const (
	ResolutionNone    Resolution = ""
	ResolutionEvicted Resolution = "evicted"
)

// View is the observable snapshot handed to observers.
type View struct {
	State      State
	Resolution Resolution
	// Processing is true while a reconciliation request is in flight.
	Processing  bool
	ErrorText   string
	SuccessText string
	// ExpiresAt is the suspended recovery deadline; zero when no guard is armed.
	ExpiresAt time.Time
	// Seq orders views. A view with a lower Seq than one already delivered is
	// stale. Zero means unsequenced.
	Seq uint64
}

// Observer receives every View the machine emits.
type Observer interface {
	StateChanged(View)
}

// ObserverFunc adapts a func to Observer.
type ObserverFunc func(View)

func (f ObserverFunc) StateChanged(v View) { f(v) }

// Disposition is what HandleSignal did with a signal.
type Disposition string

const (
	DispositionAccepted  Disposition = "accepted"
	DispositionDuplicate Disposition = "duplicate"
	DispositionDropped   Disposition = "dropped_processing"
	DispositionIgnored   Disposition = "ignored"
	DispositionEvicted   Disposition = "evicted"
)

// Eviction causes, used for metrics and logs.
const (
	causeSuperseded    = "superseded"
	causeDismissed     = "dismissed"
	causeExpired       = "expired"
	causeTerminalAuth  = "terminal_auth"
	causeProbeRejected = "probe_rejected"
	causeInconsistent  = "inconsistent"
)
