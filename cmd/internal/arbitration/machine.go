package arbitration

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"arbiter/cmd/internal/arbitration/flagstore"
)

// Grant is a successful reconciliation answer.
type Grant struct {
	// Credential replaces the local one. Empty keeps the current credential
	// (reactivation only).
	Credential string
	Message    string
}

// Reconciler performs the backend side of the handshake.
type Reconciler interface {
	Reclaim(ctx context.Context, credential string) (Grant, error)
	Reactivate(ctx context.Context, credential string) (Grant, error)
	// Probe calls a cheap authenticated endpoint. A *SignalError means the
	// backend still considers the credential non-authoritative.
	Probe(ctx context.Context, credential string) error
}

// MediaSession is the live call/room the process may hold open.
type MediaSession interface {
	Stop(ctx context.Context) error
}

// ScopedCache holds call- or room-scoped data that must not outlive a session.
type ScopedCache interface {
	PurgeSessionScoped(ctx context.Context) error
}

// Option configures a Machine.
type Option func(*Machine)

func WithLogger(log *slog.Logger) Option {
	return func(m *Machine) {
		if log != nil {
			m.log = log
		}
	}
}

func WithMedia(media MediaSession) Option {
	return func(m *Machine) { m.media = media }
}

func WithScopedCache(cache ScopedCache) Option {
	return func(m *Machine) { m.cache = cache }
}

func WithResetter(r *Resetter) Option {
	return func(m *Machine) {
		if r != nil {
			m.resets = r
		}
	}
}

func WithMetrics(metrics *Metrics) Option {
	return func(m *Machine) { m.metrics = metrics }
}

// WithFallbackCredential supplies a credential from secondary storage, used
// when the primary store holds none.
func WithFallbackCredential(fn func() string) Option {
	return func(m *Machine) { m.fallback = fn }
}

// WithClock replaces the timer source and the clock (tests).
func WithClock(after AfterFunc, now func() time.Time) Option {
	return func(m *Machine) { m.guard = NewExpiryGuard(after, now) }
}

// Machine is the arbitration state machine. It is safe for concurrent use.
type Machine struct {
	cfg      Config
	log      *slog.Logger
	store    flagstore.Store
	client   Reconciler
	media    MediaSession
	cache    ScopedCache
	resets   *Resetter
	metrics  *Metrics
	guard    *ExpiryGuard
	fallback func() string

	obsMu     sync.RWMutex
	observers []Observer
	delivered atomic.Uint64

	mu         sync.Mutex
	state      State
	resolution Resolution
	shown      bool
	processing bool
	epoch      uint64
	errText    string
	okText     string
	seq        uint64
}

// NewMachine builds a Machine in Idle. Call Rehydrate before consuming signals.
func NewMachine(cfg Config, store flagstore.Store, client Reconciler, opts ...Option) *Machine {
	m := &Machine{
		cfg:    cfg.withDefaults(),
		log:    slog.Default(),
		store:  store,
		client: client,
		state:  StateIdle,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.resets == nil {
		m.resets = NewResetter(m.log)
	}
	if m.guard == nil {
		m.guard = NewExpiryGuard(nil, nil)
	}
	return m
}

// Observe registers an observer. It is called with the current view immediately.
func (m *Machine) Observe(o Observer) {
	if o == nil {
		return
	}
	m.obsMu.Lock()
	m.observers = append(m.observers, o)
	m.obsMu.Unlock()

	o.StateChanged(m.View())
}

// Resetter returns the registry reset hooks are attached to.
func (m *Machine) Resetter() *Resetter { return m.resets }

// View returns the current snapshot.
func (m *Machine) View() View {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viewLocked()
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Rehydrate reconstructs the state from the durable store. Inconsistent
// combinations are healed without surfacing anything to the user.
func (m *Machine) Rehydrate(ctx context.Context) error {
	snap, err := m.store.Load(ctx)
	if err != nil {
		return err
	}
	hasCredential := snap.HasCredential() || m.fallbackCredential() != ""

	m.mu.Lock()
	switch {
	case snap.AnyFlag() && !hasCredential:
		m.log.Info("arbitration.rehydrate.heal", "closed_by_other", snap.ClosedByOther, "suspended", snap.Suspended)
		view := m.evictLocked(ctx, causeInconsistent)
		m.mu.Unlock()
		m.finishEvict(ctx, view)
		return nil

	case snap.ClosedByOther:
		if snap.Suspended {
			if err := m.store.SetFlag(ctx, flagstore.FlagSuspended, false); err != nil {
				m.log.Warn("arbitration.rehydrate.flag_clear.fail", "err", err)
			}
		}
		m.shown = true
		m.setStateLocked(StateClosedByOther)

	case snap.Suspended:
		m.shown = true
		m.setStateLocked(StateSuspended)
		m.armExpiryLocked()

	default:
		m.shown = false
		m.setStateLocked(StateIdle)
	}
	view := m.viewLocked()
	m.mu.Unlock()

	m.log.Info("arbitration.rehydrate", "state", view.State.String())
	m.publish(view)
	return nil
}

// InstallCredential stores a freshly issued credential (login) and returns to Idle.
func (m *Machine) InstallCredential(ctx context.Context, credential string) error {
	m.mu.Lock()
	if err := m.store.SetCredential(ctx, credential); err != nil {
		m.mu.Unlock()
		return err
	}
	if err := m.store.ClearFlags(ctx); err != nil {
		m.mu.Unlock()
		return err
	}
	m.guard.Cancel()
	m.epoch++
	m.processing = false
	m.shown = false
	m.errText, m.okText = "", ""
	m.resolution = ResolutionNone
	m.setStateLocked(StateIdle)
	view := m.viewLocked()
	m.mu.Unlock()

	m.publish(view)
	return nil
}

// Run feeds signals into the machine until ctx ends or signals is closed.
func (m *Machine) Run(ctx context.Context, signals <-chan Signal) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig, ok := <-signals:
			if !ok {
				return nil
			}
			m.HandleSignal(ctx, sig)
		}
	}
}

// HandleSignal applies one arbitration signal.
func (m *Machine) HandleSignal(ctx context.Context, sig Signal) Disposition {
	m.mu.Lock()
	d, view := m.handleSignalLocked(ctx, sig)
	m.mu.Unlock()

	m.metrics.signal(sig, d)
	switch d {
	case DispositionEvicted:
		m.finishEvict(ctx, view)
	case DispositionAccepted:
		m.publish(view)
	case DispositionDropped:
		m.log.Warn("arbitration.signal.drop", "kind", sig.Label(), "status", sig.HTTPStatus)
	default:
		m.log.Debug("arbitration.signal.skip", "kind", sig.Label(), "disposition", string(d))
	}
	return d
}

func (m *Machine) handleSignalLocked(ctx context.Context, sig Signal) (Disposition, View) {
	if m.processing {
		return DispositionDropped, View{}
	}

	if sig.Superseded() {
		if m.state != StateIdle && m.state != StateSuspended {
			return DispositionIgnored, View{}
		}
		return DispositionEvicted, m.evictLocked(ctx, causeSuperseded)
	}

	if m.shown {
		return DispositionDuplicate, View{}
	}
	if m.state != StateIdle {
		return DispositionIgnored, View{}
	}

	switch sig.Reason {
	case ReasonClosedByOther:
		if err := m.store.SetFlag(ctx, flagstore.FlagClosedByOther, true); err != nil {
			m.log.Warn("arbitration.flag.persist.fail", "flag", string(flagstore.FlagClosedByOther), "err", err)
		}
		m.errText, m.okText = "", ""
		m.shown = true
		m.setStateLocked(StateClosedByOther)
		return DispositionAccepted, m.viewLocked()

	case ReasonSuspended:
		if m.credentialLocked(ctx) == "" {
			return DispositionIgnored, View{}
		}
		if err := m.store.SetFlag(ctx, flagstore.FlagSuspended, true); err != nil {
			m.log.Warn("arbitration.flag.persist.fail", "flag", string(flagstore.FlagSuspended), "err", err)
		}
		m.errText, m.okText = "", ""
		m.shown = true
		m.setStateLocked(StateSuspended)
		m.armExpiryLocked()
		return DispositionAccepted, m.viewLocked()

	default:
		return DispositionIgnored, View{}
	}
}

// Dismiss abandons the recovery surface. The session is purged and evicted.
func (m *Machine) Dismiss(ctx context.Context) error {
	m.mu.Lock()
	if !m.state.Recoverable() {
		m.mu.Unlock()
		return ErrNotRecoverable
	}
	view := m.evictLocked(ctx, causeDismissed)
	m.mu.Unlock()

	m.finishEvict(ctx, view)
	return nil
}

func (m *Machine) onExpiry() {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.RequestTimeout)
	defer cancel()

	m.mu.Lock()
	if m.state != StateSuspended && m.state != StateReactivating {
		m.mu.Unlock()
		return
	}
	view := m.evictLocked(ctx, causeExpired)
	m.mu.Unlock()

	m.finishEvict(ctx, view)
}

func (m *Machine) armExpiryLocked() {
	m.guard.Arm(m.cfg.ExpiryWindow, m.onExpiry)
}

// evictLocked moves to Resolved(evicted) and purges durable state. Side effects
// outside the store run in finishEvict once the lock is released.
func (m *Machine) evictLocked(ctx context.Context, cause string) View {
	m.guard.Cancel()
	m.epoch++
	m.processing = false
	m.shown = false
	m.errText, m.okText = "", ""
	if err := m.store.Purge(ctx); err != nil {
		m.log.Error("arbitration.purge.fail", "err", err)
	}
	m.resolution = ResolutionEvicted
	m.setStateLocked(StateResolved)
	m.metrics.eviction(cause)
	m.log.Info("arbitration.evict", "cause", cause)
	return m.viewLocked()
}

func (m *Machine) finishEvict(ctx context.Context, view View) {
	m.stopMedia(ctx)
	m.purgeScoped(ctx)
	m.publish(view)
	m.reset(ctx, ResetEvicted)
}

func (m *Machine) setStateLocked(to State) {
	from := m.state
	if to != StateResolved {
		m.resolution = ResolutionNone
	}
	m.state = to
	if from != to {
		m.metrics.transition(from, to)
		m.log.Debug("arbitration.transition", "from", from.String(), "to", to.String())
	}
}

func (m *Machine) viewLocked() View {
	m.seq++
	return View{
		Seq:         m.seq,
		State:       m.state,
		Resolution:  m.resolution,
		Processing:  m.processing,
		ErrorText:   m.errText,
		SuccessText: m.okText,
		ExpiresAt:   m.guard.Deadline(),
	}
}

func (m *Machine) credentialLocked(ctx context.Context) string {
	snap, err := m.store.Load(ctx)
	if err != nil {
		m.log.Warn("arbitration.store.load.fail", "err", err)
	}
	if snap.HasCredential() {
		return snap.Credential
	}
	return m.fallbackCredential()
}

func (m *Machine) fallbackCredential() string {
	if m.fallback == nil {
		return ""
	}
	return strings.TrimSpace(m.fallback())
}

// publish delivers view to the observers unless a newer view already went out.
// Views are built under m.mu but delivered outside it, so publishers on
// different goroutines can race here.
func (m *Machine) publish(view View) {
	for {
		last := m.delivered.Load()
		if view.Seq <= last {
			m.log.Debug("arbitration.view.stale", "seq", view.Seq, "delivered", last)
			return
		}
		if m.delivered.CompareAndSwap(last, view.Seq) {
			break
		}
	}

	m.obsMu.RLock()
	observers := append([]Observer(nil), m.observers...)
	m.obsMu.RUnlock()

	for _, o := range observers {
		if m.delivered.Load() > view.Seq {
			return
		}
		o.StateChanged(view)
	}
}

func (m *Machine) stopMedia(ctx context.Context) {
	if m.media == nil {
		return
	}
	stopCtx, cancel := context.WithTimeout(ctx, m.cfg.MediaStopTimeout)
	defer cancel()
	if err := m.media.Stop(stopCtx); err != nil && !errors.Is(err, context.Canceled) {
		m.log.Warn("arbitration.media.stop.fail", "err", err)
	}
}

func (m *Machine) purgeScoped(ctx context.Context) {
	if m.cache == nil {
		return
	}
	if err := m.cache.PurgeSessionScoped(ctx); err != nil {
		m.log.Warn("arbitration.cache.purge.fail", "err", err)
	}
}

func (m *Machine) reset(ctx context.Context, reason ResetReason) {
	if err := m.resets.Reset(ctx, reason); err != nil {
		m.log.Warn("arbitration.reset.partial", "reason", string(reason), "err", err)
	}
}
