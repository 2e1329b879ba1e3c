package arbitration

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	opReclaim    = "reclaim"
	opReactivate = "reactivate"
)

// User-facing texts.
const (
	MsgRetry        = "We could not reach the server. Check your connection and try again."
	MsgRefused      = "The server could not restore this session."
	MsgLocalFailure = "This device could not save the new session. Try again."
	MsgReclaimed    = "This device is now your active session."
	MsgReactivated  = "Session restored."
)

// Reclaim wins back exclusivity from the ClosedByOther state.
func (m *Machine) Reclaim(ctx context.Context) error {
	m.mu.Lock()
	if m.processing {
		m.mu.Unlock()
		return ErrInFlight
	}
	if m.state != StateClosedByOther {
		m.mu.Unlock()
		return ErrNotRecoverable
	}
	credential := m.credentialLocked(ctx)
	epoch, view := m.beginLocked(StateReclaiming)
	m.mu.Unlock()
	m.publish(view)

	callCtx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
	grant, err := m.client.Reclaim(callCtx, credential)
	cancel()
	if err == nil && strings.TrimSpace(grant.Credential) == "" {
		err = &RemoteError{Message: grant.Message}
	}
	if err != nil {
		return m.failed(ctx, epoch, opReclaim, StateClosedByOther, err)
	}

	// The media session must be gone before the new credential is visible.
	if !m.current(epoch) {
		m.metrics.reconciliation(opReclaim, "stale")
		return ErrStale
	}
	m.stopMedia(ctx)

	return m.succeed(ctx, epoch, opReclaim, StateClosedByOther, grant.Credential, MsgReclaimed, ResetReclaimed)
}

// Reactivate restores a suspended session inside its recovery window.
func (m *Machine) Reactivate(ctx context.Context) error {
	m.mu.Lock()
	if m.processing {
		m.mu.Unlock()
		return ErrInFlight
	}
	if m.state != StateSuspended {
		m.mu.Unlock()
		return ErrNotRecoverable
	}
	credential := m.credentialLocked(ctx)
	if credential == "" {
		view := m.evictLocked(ctx, causeInconsistent)
		m.mu.Unlock()
		m.finishEvict(ctx, view)
		return ErrNotRecoverable
	}
	epoch, view := m.beginLocked(StateReactivating)
	m.mu.Unlock()
	m.publish(view)

	callCtx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
	grant, err := m.client.Reactivate(callCtx, credential)
	cancel()
	if err != nil {
		return m.failed(ctx, epoch, opReactivate, StateSuspended, err)
	}

	next := strings.TrimSpace(grant.Credential)
	if next == "" {
		next = credential
	}

	if !m.current(epoch) {
		m.metrics.reconciliation(opReactivate, "stale")
		return ErrStale
	}

	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
	perr := m.client.Probe(probeCtx, next)
	cancel()

	var sigErr *SignalError
	switch {
	case errors.As(perr, &sigErr), errors.Is(perr, ErrTerminalAuth):
		m.mu.Lock()
		if m.epoch != epoch {
			m.mu.Unlock()
			m.metrics.reconciliation(opReactivate, "stale")
			return ErrStale
		}
		view := m.evictLocked(ctx, causeProbeRejected)
		m.mu.Unlock()
		m.metrics.reconciliation(opReactivate, "probe_rejected")
		m.finishEvict(ctx, view)
		return fmt.Errorf("%w: %v", ErrSuspendedAgain, perr)
	case perr != nil:
		m.log.Warn("arbitration.probe.inconclusive", "err", perr)
	}

	return m.succeed(ctx, epoch, opReactivate, StateSuspended, next, MsgReactivated, ResetReactivated)
}

func (m *Machine) beginLocked(to State) (uint64, View) {
	m.processing = true
	m.errText, m.okText = "", ""
	m.setStateLocked(to)
	return m.epoch, m.viewLocked()
}

func (m *Machine) current(epoch uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch == epoch
}

// succeed installs credential, clears the flags and returns to Idle, then
// purges scoped caches and runs the reset protocol.
func (m *Machine) succeed(ctx context.Context, epoch uint64, op string, back State, credential, text string, reason ResetReason) error {
	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		m.metrics.reconciliation(op, "stale")
		return ErrStale
	}

	snap, err := m.store.Load(ctx)
	if err != nil {
		m.log.Warn("arbitration.store.load.fail", "op", op, "err", err)
	}
	if snap.Credential != credential {
		if err := m.store.SetCredential(ctx, credential); err != nil {
			m.processing = false
			m.errText = MsgLocalFailure
			m.setStateLocked(back)
			view := m.viewLocked()
			m.mu.Unlock()
			m.metrics.reconciliation(op, "local_failure")
			m.publish(view)
			return fmt.Errorf("install credential: %w", err)
		}
	}
	if err := m.store.ClearFlags(ctx); err != nil {
		m.log.Warn("arbitration.flags.clear.fail", "err", err)
	}

	m.guard.Cancel()
	m.processing = false
	m.shown = false
	m.errText = ""
	m.okText = text
	m.setStateLocked(StateIdle)
	view := m.viewLocked()
	m.mu.Unlock()

	m.metrics.reconciliation(op, "success")
	m.log.Info("arbitration.reconcile.success", "op", op)

	m.purgeScoped(ctx)
	m.publish(view)
	m.reset(ctx, reason)
	return nil
}

// failed maps a reconciliation error onto the machine.
func (m *Machine) failed(ctx context.Context, epoch uint64, op string, back State, err error) error {
	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		m.metrics.reconciliation(op, "stale")
		return ErrStale
	}

	if errors.Is(err, ErrTerminalAuth) {
		view := m.evictLocked(ctx, causeTerminalAuth)
		m.mu.Unlock()
		m.metrics.reconciliation(op, "terminal_auth")
		m.finishEvict(ctx, view)
		return err
	}

	m.processing = false
	m.okText = ""
	m.errText = userMessage(err)
	m.setStateLocked(back)
	view := m.viewLocked()
	m.mu.Unlock()

	result := "transport_error"
	if errors.Is(err, ErrRemote) {
		result = "remote_error"
	}
	m.metrics.reconciliation(op, result)
	m.log.Warn("arbitration.reconcile.fail", "op", op, "err", err)
	m.publish(view)
	return err
}

func userMessage(err error) string {
	var remote *RemoteError
	if errors.As(err, &remote) {
		if msg := strings.TrimSpace(remote.Message); msg != "" {
			return msg
		}
		return MsgRefused
	}
	return MsgRetry
}
