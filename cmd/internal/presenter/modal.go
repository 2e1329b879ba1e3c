package presenter

import (
	"time"

	"arbiter/cmd/internal/arbitration"
)

// Surface identifies which screen is mounted.
type Surface int

const (
	SurfaceNone Surface = iota
	// SurfaceTerminal is the closed-by-other modal. Recovery means reclaiming.
	SurfaceTerminal
	// SurfaceRecoverable is the suspended modal with a recovery window.
	SurfaceRecoverable
	// SurfaceLanding is the unauthenticated entry surface shown after eviction.
	SurfaceLanding
)

func (s Surface) String() string {
	switch s {
	case SurfaceTerminal:
		return "terminal"
	case SurfaceRecoverable:
		return "recoverable"
	case SurfaceLanding:
		return "landing"
	default:
		return "none"
	}
}

// ActionID names a modal action.
type ActionID string

const (
	ActionContinue ActionID = "continue"
	ActionClose    ActionID = "close"
)

type Action struct {
	ID      ActionID
	Label   string
	Enabled bool
}

// Modal is everything a Renderer needs to draw a surface.
type Modal struct {
	Surface     Surface
	Title       string
	Body        string
	Actions     []Action
	ErrorText   string
	SuccessText string
	// ExpiresAt is set on the recoverable surface while the window runs.
	ExpiresAt time.Time

	BlocksInput           bool
	DismissOnOutsideClick bool
}

// Action returns the action with the given id.
func (m Modal) Action(id ActionID) (Action, bool) {
	for _, a := range m.Actions {
		if a.ID == id {
			return a, true
		}
	}
	return Action{}, false
}

const continueLabel = "Continue with this session"

// ModalFor maps a machine view to the surface it requires.
func ModalFor(v arbitration.View) Modal {
	switch v.State {
	case arbitration.StateClosedByOther, arbitration.StateReclaiming:
		return Modal{
			Surface: SurfaceTerminal,
			Title:   "Session opened on another device",
			Body:    "Your account is now active somewhere else. Continue here to take the session back, or close to sign out.",
			Actions: []Action{
				{ID: ActionContinue, Label: continueLabel, Enabled: !v.Processing},
				{ID: ActionClose, Label: "Close", Enabled: true},
			},
			ErrorText:   v.ErrorText,
			BlocksInput: true,
		}

	case arbitration.StateSuspended, arbitration.StateReactivating:
		return Modal{
			Surface: SurfaceRecoverable,
			Title:   "Session suspended",
			Body:    "A newer sign-in suspended this session. You can continue here until the recovery window ends.",
			Actions: []Action{
				{ID: ActionContinue, Label: continueLabel, Enabled: !v.Processing},
				{ID: ActionClose, Label: "X", Enabled: true},
			},
			ErrorText:   v.ErrorText,
			ExpiresAt:   v.ExpiresAt,
			BlocksInput: true,
		}

	case arbitration.StateResolved:
		return Modal{
			Surface: SurfaceLanding,
			Title:   "Signed out",
			Body:    "This device no longer holds an active session. Sign in to continue.",
		}

	default:
		return Modal{Surface: SurfaceNone, SuccessText: v.SuccessText}
	}
}
