// Package arbitration enforces one authoritative session per account on the
// client side.
//
// A Machine consumes typed Signals (produced by the HTTP event bridge), keeps a
// single State, mirrors the recoverable states into the durable flag store,
// owns the Expiry Guard for suspended sessions, and runs the reconciliation
// handshake (reclaim / reactivate) through a Reconciler.
//
// Page reloads are replaced by an explicit reset protocol: every subsystem that
// holds session-scoped state registers a ResetFunc with the Resetter, and the
// Machine invokes the hooks exactly once per resolution.
//
// All transitions are serialized by one mutex. Observers and reset hooks are
// called after the mutex is released, so they may read the Machine freely.
package arbitration
