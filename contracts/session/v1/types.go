// Package v1 defines the session arbitration wire contract between clients and
// the session backend.
//
// It is shared by the backend handlers and the client-side bridge so both sides
// agree on reason codes and payload shapes.
package v1

import "time"

// Reason codes carried in the error envelope of any authenticated endpoint whose
// credential is no longer authoritative.
const (
	// ReasonClosedByOtherDevice means another device logged in and closed this session.
	ReasonClosedByOtherDevice = "SESSION_CLOSED_BY_OTHER_DEVICE"
	// ReasonSuspended means a newer session suspended this one; it may be reactivated.
	ReasonSuspended = "SESSION_SUSPENDED"
	// ReasonSuperseded means the session was displaced by a reactivation elsewhere.
	// It is terminal: no recovery is offered.
	ReasonSuperseded = "SESSION_SUPERSEDED"
	// ReasonRevoked means the session was logged out or replaced on the same device.
	ReasonRevoked = "SESSION_REVOKED"
)

// ActionCloseImmediately instructs the client to evict without showing a recovery surface.
const ActionCloseImmediately = "close_immediately"

// Endpoint paths (wire-stable).
const (
	PathLogin      = "/auth/login"
	PathLogout     = "/auth/logout"
	PathReclaim    = "/session/reclaim"
	PathReactivate = "/session/reactivate"
	PathMe         = "/me"
)

// Takeover modes for a login that finds an active session on another device.
const (
	TakeoverSuspend = "suspend"
	TakeoverClose   = "close"
)

// Error is the machine-readable failure payload.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// ErrorResponse wraps Error the same way every endpoint reports failures.
type ErrorResponse struct {
	Error Error `json:"error"`
}

// LoginRequest authenticates an account on one device.
type LoginRequest struct {
	Account  string `json:"account"`
	Password string `json:"password"`
	DeviceID string `json:"device_id"`
	Takeover string `json:"takeover,omitempty"`
}

// LoginResponse carries the new authoritative credential.
type LoginResponse struct {
	SessionID  string    `json:"session_id"`
	Credential string    `json:"credential"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// ReclaimResponse is returned by POST /session/reclaim.
type ReclaimResponse struct {
	Success       bool   `json:"success"`
	NewCredential string `json:"new_credential,omitempty"`
	Message       string `json:"message,omitempty"`
}

// ReactivateResponse is returned by POST /session/reactivate.
// Credential is optional; when absent the client keeps its current one.
type ReactivateResponse struct {
	Success    bool   `json:"success"`
	Credential string `json:"credential,omitempty"`
	Message    string `json:"message,omitempty"`
}

// MeResponse is the verification probe payload.
type MeResponse struct {
	AccountID string `json:"account_id"`
	SessionID string `json:"session_id"`
	DeviceID  string `json:"device_id"`
}
