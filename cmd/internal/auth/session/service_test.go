package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	sessionv1 "arbiter/contracts/session/v1"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type notice struct{ id, code string }

type notices struct {
	mu  sync.Mutex
	got []notice
}

func (n *notices) SessionEnded(id, code string) {
	n.mu.Lock()
	n.got = append(n.got, notice{id, code})
	n.mu.Unlock()
}

func (n *notices) all() []notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notice(nil), n.got...)
}

type fixture struct {
	svc    *Service
	clock  *clock
	notify *notices
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	cfg, tokens := testTokens(t)
	c := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	n := &notices{}
	svc := NewService(cfg, NewMemoryStore(), tokens,
		WithClock(c.Now),
		WithNotifier(n),
		WithMetrics(NewMetrics(nil)),
	)
	return fixture{svc: svc, clock: c, notify: n}
}

func mustLogin(t *testing.T, f fixture, device string, mode Takeover) Issued {
	t.Helper()
	iss, err := f.svc.Login(context.Background(), "acct-1", device, mode)
	if err != nil {
		t.Fatalf("Login(%s): %v", device, err)
	}
	return iss
}

func TestParseTakeover(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		want    Takeover
		wantErr bool
	}{
		{in: "", want: TakeoverSuspend},
		{in: "Suspend", want: TakeoverSuspend},
		{in: " close ", want: TakeoverClose},
		{in: "evict", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseTakeover(tc.in)
		if (err != nil) != tc.wantErr || got != tc.want {
			t.Fatalf("ParseTakeover(%q) = %q, %v", tc.in, got, err)
		}
	}
}

func TestLogin_SuspendsPreviousSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	a := mustLogin(t, f, "dev-a", TakeoverSuspend)
	b := mustLogin(t, f, "dev-b", TakeoverSuspend)

	if _, err := f.svc.Authenticate(ctx, a.Credential); !errors.Is(err, ErrSessionSuspended) {
		t.Fatalf("A err = %v, want ErrSessionSuspended", err)
	}
	claims, err := f.svc.Authenticate(ctx, b.Credential)
	if err != nil {
		t.Fatalf("B: %v", err)
	}
	if claims.DeviceID != "dev-b" || claims.SessionID != b.SessionID {
		t.Fatalf("claims = %+v", claims)
	}

	got := f.notify.all()
	if len(got) != 1 || got[0] != (notice{a.SessionID, sessionv1.ReasonSuspended}) {
		t.Fatalf("notices = %+v", got)
	}
}

func TestLogin_CloseTakeover(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	a := mustLogin(t, f, "dev-a", TakeoverSuspend)
	b := mustLogin(t, f, "dev-b", TakeoverSuspend)
	c := mustLogin(t, f, "dev-c", TakeoverClose)

	for name, cred := range map[string]string{"A": a.Credential, "B": b.Credential} {
		if _, err := f.svc.Authenticate(ctx, cred); !errors.Is(err, ErrSessionClosedByOther) {
			t.Fatalf("%s err = %v, want ErrSessionClosedByOther", name, err)
		}
	}
	if _, err := f.svc.Authenticate(ctx, c.Credential); err != nil {
		t.Fatalf("C: %v", err)
	}
}

func TestLogin_SameDeviceRevokesOldSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	first := mustLogin(t, f, "dev-a", TakeoverSuspend)
	second := mustLogin(t, f, "dev-a", TakeoverSuspend)

	if _, err := f.svc.Authenticate(ctx, first.Credential); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("first err = %v", err)
	}
	if _, err := f.svc.Authenticate(ctx, second.Credential); err != nil {
		t.Fatalf("second: %v", err)
	}
}

func TestLogin_InvalidInput(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.Login(ctx, "", "dev", TakeoverSuspend); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty account err = %v", err)
	}
	if _, err := f.svc.Login(ctx, "acct", "dev", Takeover("evict")); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("bad mode err = %v", err)
	}
}

func TestReactivate_SupersedesCurrentSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	a := mustLogin(t, f, "dev-a", TakeoverSuspend)
	b := mustLogin(t, f, "dev-b", TakeoverSuspend)

	f.clock.Advance(2 * time.Minute)
	re, err := f.svc.Reactivate(ctx, a.Credential)
	if err != nil {
		t.Fatalf("Reactivate: %v", err)
	}
	if re.SessionID != a.SessionID || re.Credential == "" {
		t.Fatalf("reactivated = %+v", re)
	}

	if _, err := f.svc.Authenticate(ctx, a.Credential); err != nil {
		t.Fatalf("A old credential: %v", err)
	}
	if _, err := f.svc.Authenticate(ctx, re.Credential); err != nil {
		t.Fatalf("A new credential: %v", err)
	}
	if _, err := f.svc.Authenticate(ctx, b.Credential); !errors.Is(err, ErrSessionSuperseded) {
		t.Fatalf("B err = %v, want ErrSessionSuperseded", err)
	}

	got := f.notify.all()
	if last := got[len(got)-1]; last != (notice{b.SessionID, sessionv1.ReasonSuperseded}) {
		t.Fatalf("last notice = %+v", last)
	}

	// B is terminal.
	if _, err := f.svc.Reactivate(ctx, b.Credential); !errors.Is(err, ErrNotReactivatable) {
		t.Fatalf("reactivate B err = %v", err)
	}
}

func TestReactivate_WindowExpired(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	a := mustLogin(t, f, "dev-a", TakeoverSuspend)
	b := mustLogin(t, f, "dev-b", TakeoverSuspend)

	f.clock.Advance(DefaultConfig().ReactivationWindow + time.Second)
	if _, err := f.svc.Reactivate(ctx, a.Credential); !errors.Is(err, ErrReactivationWindowExpired) {
		t.Fatalf("err = %v, want ErrReactivationWindowExpired", err)
	}
	if _, err := f.svc.Authenticate(ctx, b.Credential); err != nil {
		t.Fatalf("B must stay active: %v", err)
	}
}

func TestReactivate_RequiresSuspended(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	a := mustLogin(t, f, "dev-a", TakeoverSuspend)

	_, err := f.svc.Reactivate(context.Background(), a.Credential)
	var se StateError
	if !errors.As(err, &se) || se.Status != StatusActive || !errors.Is(err, ErrNotReactivatable) {
		t.Fatalf("err = %v", err)
	}
}

func TestReclaim_WinsBackExclusivity(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	a := mustLogin(t, f, "dev-a", TakeoverSuspend)
	b := mustLogin(t, f, "dev-b", TakeoverClose)

	got, err := f.svc.Reclaim(ctx, a.Credential)
	if err != nil {
		t.Fatalf("Reclaim: %v", err)
	}
	if got.SessionID == a.SessionID || got.DeviceID != "dev-a" {
		t.Fatalf("reclaimed = %+v", got)
	}

	if _, err := f.svc.Authenticate(ctx, got.Credential); err != nil {
		t.Fatalf("new credential: %v", err)
	}
	if _, err := f.svc.Authenticate(ctx, a.Credential); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("old credential err = %v", err)
	}
	if _, err := f.svc.Authenticate(ctx, b.Credential); !errors.Is(err, ErrSessionClosedByOther) {
		t.Fatalf("B err = %v", err)
	}

	// A second reclaim with the spent credential is refused.
	if _, err := f.svc.Reclaim(ctx, a.Credential); !errors.Is(err, ErrNotReclaimable) {
		t.Fatalf("second reclaim err = %v", err)
	}
}

func TestReclaim_RequiresClosedByOther(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	a := mustLogin(t, f, "dev-a", TakeoverSuspend)
	_ = mustLogin(t, f, "dev-b", TakeoverSuspend)

	if _, err := f.svc.Reclaim(context.Background(), a.Credential); !errors.Is(err, ErrNotReclaimable) {
		t.Fatalf("err = %v", err)
	}
}

func TestLogout_RevokesAndIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	a := mustLogin(t, f, "dev-a", TakeoverSuspend)

	for i := 0; i < 2; i++ {
		if err := f.svc.Logout(ctx, a.Credential); err != nil {
			t.Fatalf("Logout #%d: %v", i, err)
		}
	}
	if err := f.svc.CheckSession(ctx, a.SessionID); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("CheckSession err = %v", err)
	}
	if got := f.notify.all(); len(got) != 1 || got[0].code != sessionv1.ReasonRevoked {
		t.Fatalf("notices = %+v", got)
	}
}

func TestAuthenticate_Expired(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	a := mustLogin(t, f, "dev-a", TakeoverSuspend)

	f.clock.Advance(DefaultConfig().SessionTTL + time.Hour)
	if _, err := f.svc.Authenticate(context.Background(), a.Credential); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
	if err := f.svc.CheckSession(context.Background(), a.SessionID); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("CheckSession err = %v", err)
	}
}

func TestLogin_ConcurrentLeavesOneActive(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	const n = 8
	creds := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			iss, err := f.svc.Login(ctx, "acct-1", string(rune('a'+i)), TakeoverSuspend)
			if err != nil {
				t.Errorf("Login: %v", err)
				return
			}
			creds[i] = iss.Credential
		}(i)
	}
	wg.Wait()

	active := 0
	for _, c := range creds {
		if _, err := f.svc.Authenticate(ctx, c); err == nil {
			active++
		}
	}
	if active != 1 {
		t.Fatalf("active sessions = %d, want 1", active)
	}
}
