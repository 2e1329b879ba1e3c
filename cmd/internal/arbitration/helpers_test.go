package arbitration

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"arbiter/cmd/internal/arbitration/flagstore"
)

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) after(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) all() []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*fakeTimer(nil), c.timers...)
}

func (c *fakeClock) last(t *testing.T) *fakeTimer {
	t.Helper()
	timers := c.all()
	if len(timers) == 0 {
		t.Fatalf("expected an armed timer")
	}
	return timers[len(timers)-1]
}

// fireAll runs every callback ever scheduled, stopped ones included.
func (c *fakeClock) fireAll() {
	for _, t := range c.all() {
		t.f()
	}
}

type countingStore struct {
	*flagstore.MemoryStore

	mu       sync.Mutex
	setFlags int
	purges   int
}

func newCountingStore(snap flagstore.Snapshot) *countingStore {
	return &countingStore{MemoryStore: flagstore.NewMemoryStoreWith(snap)}
}

func (s *countingStore) SetFlag(ctx context.Context, f flagstore.Flag, on bool) error {
	s.mu.Lock()
	s.setFlags++
	s.mu.Unlock()
	return s.MemoryStore.SetFlag(ctx, f, on)
}

func (s *countingStore) Purge(ctx context.Context) error {
	s.mu.Lock()
	s.purges++
	s.mu.Unlock()
	return s.MemoryStore.Purge(ctx)
}

func (s *countingStore) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setFlags, s.purges
}

func (s *countingStore) mustLoad(t *testing.T) flagstore.Snapshot {
	t.Helper()
	snap, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return snap
}

type fakeReconciler struct {
	reclaim    func(ctx context.Context, credential string) (Grant, error)
	reactivate func(ctx context.Context, credential string) (Grant, error)
	probe      func(ctx context.Context, credential string) error

	mu    sync.Mutex
	calls []string
}

func (r *fakeReconciler) record(call string) {
	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()
}

func (r *fakeReconciler) Reclaim(ctx context.Context, credential string) (Grant, error) {
	r.record("reclaim:" + credential)
	if r.reclaim == nil {
		return Grant{}, &TransportError{Op: "reclaim", Err: io.EOF}
	}
	return r.reclaim(ctx, credential)
}

func (r *fakeReconciler) Reactivate(ctx context.Context, credential string) (Grant, error) {
	r.record("reactivate:" + credential)
	if r.reactivate == nil {
		return Grant{}, &TransportError{Op: "reactivate", Err: io.EOF}
	}
	return r.reactivate(ctx, credential)
}

func (r *fakeReconciler) Probe(ctx context.Context, credential string) error {
	r.record("probe:" + credential)
	if r.probe == nil {
		return nil
	}
	return r.probe(ctx, credential)
}

type recorder struct {
	mu    sync.Mutex
	views []View
}

func (r *recorder) StateChanged(v View) {
	r.mu.Lock()
	r.views = append(r.views, v)
	r.mu.Unlock()
}

func (r *recorder) count(state State) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, v := range r.views {
		if v.State == state {
			n++
		}
	}
	return n
}

func (r *recorder) last() View {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.views) == 0 {
		return View{}
	}
	return r.views[len(r.views)-1]
}

type resetLog struct {
	mu      sync.Mutex
	reasons []ResetReason
}

func (l *resetLog) hook(_ context.Context, reason ResetReason) error {
	l.mu.Lock()
	l.reasons = append(l.reasons, reason)
	l.mu.Unlock()
	return nil
}

func (l *resetLog) get() []ResetReason {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ResetReason(nil), l.reasons...)
}

type fakeMedia struct {
	mu    sync.Mutex
	stops int
	onStop func()
}

func (f *fakeMedia) Stop(context.Context) error {
	f.mu.Lock()
	f.stops++
	fn := f.onStop
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
	return nil
}

func (f *fakeMedia) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

type fakeCache struct {
	mu     sync.Mutex
	purges int
}

func (f *fakeCache) PurgeSessionScoped(context.Context) error {
	f.mu.Lock()
	f.purges++
	f.mu.Unlock()
	return nil
}

type harness struct {
	m      *Machine
	store  *countingStore
	client *fakeReconciler
	clock  *fakeClock
	rec    *recorder
	resets *resetLog
	media  *fakeMedia
	cache  *fakeCache
}

func newHarness(t *testing.T, snap flagstore.Snapshot, opts ...Option) *harness {
	t.Helper()

	h := &harness{
		store:  newCountingStore(snap),
		client: &fakeReconciler{},
		clock:  newFakeClock(),
		rec:    &recorder{},
		resets: &resetLog{},
		media:  &fakeMedia{},
		cache:  &fakeCache{},
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	base := []Option{
		WithLogger(log),
		WithClock(h.clock.after, h.clock.Now),
		WithMedia(h.media),
		WithScopedCache(h.cache),
		WithMetrics(NewMetrics(nil)),
	}
	h.m = NewMachine(Config{}, h.store, h.client, append(base, opts...)...)
	h.m.Resetter().Register("test", h.resets.hook)
	h.m.Observe(h.rec)

	if err := h.m.Rehydrate(context.Background()); err != nil {
		t.Fatalf("Rehydrate: %v", err)
	}
	return h
}

func signalA() Signal {
	return Signal{HTTPStatus: 401, Reason: ReasonClosedByOther, Detail: "another device signed in"}
}

func signalB() Signal {
	return Signal{HTTPStatus: 403, Reason: ReasonSuspended, Detail: "a newer login suspended this session"}
}

func signalSuperseded() Signal {
	return Signal{HTTPStatus: 403, Reason: ReasonSuspended, Action: ActionCloseImmediately, Detail: "session reactivated elsewhere"}
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// flakyLoadStore fails Load while failLoads is set.
type flakyLoadStore struct {
	*flagstore.MemoryStore
	failLoads atomic.Bool
}

func (s *flakyLoadStore) Load(ctx context.Context) (flagstore.Snapshot, error) {
	if s.failLoads.Load() {
		return flagstore.Snapshot{}, errors.New("disk I/O error")
	}
	return s.MemoryStore.Load(ctx)
}
