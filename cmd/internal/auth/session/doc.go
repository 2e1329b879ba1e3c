// Package session implements arbiter's authoritative session model.
//
// Each account has at most one active session. A login from another device
// either suspends the current one (recoverable for ReactivationWindow) or
// closes it; the displaced device may later reclaim or reactivate, which
// displaces whichever session is active at that moment.
//
// Credentials are PASETO v4.public tokens carrying account, session and device
// IDs. Every authenticated request re-checks the stored session row, so state
// changes take effect immediately even though tokens are stateless.
package session
