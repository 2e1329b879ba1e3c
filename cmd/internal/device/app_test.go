package device

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"arbiter/cmd/internal/arbitration"
	"arbiter/cmd/internal/arbitration/flagstore"
	sessionv1 "arbiter/contracts/session/v1"
)

func TestStateOf(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		snap flagstore.Snapshot
		cred bool
		want arbitration.State
	}{
		{name: "fresh", want: arbitration.StateIdle},
		{name: "logged in", snap: flagstore.Snapshot{Credential: "c"}, cred: true, want: arbitration.StateIdle},
		{name: "closed", snap: flagstore.Snapshot{Credential: "c", ClosedByOther: true}, cred: true, want: arbitration.StateClosedByOther},
		{name: "both flags", snap: flagstore.Snapshot{Credential: "c", ClosedByOther: true, Suspended: true}, cred: true, want: arbitration.StateClosedByOther},
		{name: "suspended", snap: flagstore.Snapshot{Credential: "c", Suspended: true}, cred: true, want: arbitration.StateSuspended},
		{name: "flag without credential", snap: flagstore.Snapshot{Suspended: true}, want: arbitration.StateResolved},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, stateOf(tc.snap, tc.cred))
		})
	}
}

func TestLogin_StoresCredential(t *testing.T) {
	srv := startSessiond(t)
	d := openDevice(t, testConfig(t, srv.URL, "desk"), io.Discard)
	ctx := context.Background()

	st, err := d.Status(ctx)
	require.NoError(t, err)
	require.False(t, st.LoggedIn)
	require.Equal(t, "desk", st.DeviceID)

	resp, err := d.Login(ctx, "alice", "wonderland", "")
	require.NoError(t, err)
	require.NotEmpty(t, resp.SessionID)

	st, err = d.Status(ctx)
	require.NoError(t, err)
	require.True(t, st.LoggedIn)
	require.Equal(t, "idle", st.State)
	require.NotEqual(t, "-", st.CredentialFP)
}

func TestLogin_Rejected(t *testing.T) {
	srv := startSessiond(t)
	d := openDevice(t, testConfig(t, srv.URL, "desk"), io.Discard)

	_, err := d.Login(context.Background(), "alice", "queen-of-hearts", "")
	require.ErrorIs(t, err, ErrLoginRejected)
	require.Contains(t, err.Error(), "invalid credentials")

	st, err := d.Status(context.Background())
	require.NoError(t, err)
	require.False(t, st.LoggedIn)
}

func TestLogout_PurgesEvenWhenServerIsGone(t *testing.T) {
	srv := startSessiond(t)
	cfg := testConfig(t, srv.URL, "desk")
	d := openDevice(t, cfg, io.Discard)
	ctx := context.Background()

	_, err := d.Login(ctx, "alice", "wonderland", "")
	require.NoError(t, err)

	srv.Close()
	require.NoError(t, d.Logout(ctx))

	st, err := d.Status(ctx)
	require.NoError(t, err)
	require.False(t, st.LoggedIn)
}

func TestLogout_RevokesOnServer(t *testing.T) {
	srv := startSessiond(t)
	d := openDevice(t, testConfig(t, srv.URL, "desk"), io.Discard)
	ctx := context.Background()

	resp, err := d.Login(ctx, "alice", "wonderland", "")
	require.NoError(t, err)
	require.NoError(t, d.Logout(ctx))

	req, err := http.NewRequest(http.MethodGet, srv.URL+sessionv1.PathMe, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+resp.Credential)
	me, err := srv.Client().Do(req)
	require.NoError(t, err)
	_ = me.Body.Close()
	require.Equal(t, http.StatusUnauthorized, me.StatusCode)
}

func TestRun_RequiresLogin(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)
	d := openDevice(t, testConfig(t, srv.URL, "desk"), io.Discard)

	err := d.Run(context.Background(), strings.NewReader(""))
	require.True(t, errors.Is(err, ErrNotLoggedIn), "err = %v", err)
}

func TestRun_ReactivatesSuspendedSession(t *testing.T) {
	srv := startSessiond(t)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	out := &lockedBuffer{}
	a := openDevice(t, testConfig(t, srv.URL, "desk"), out)
	b := openDevice(t, testConfig(t, srv.URL, "phone"), io.Discard)

	_, err := a.Login(ctx, "alice", "wonderland", "")
	require.NoError(t, err)
	_, err = b.Login(ctx, "alice", "wonderland", sessionv1.TakeoverSuspend)
	require.NoError(t, err)

	in, feed := io.Pipe()
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx, in) }()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Session suspended")
	}, 5*time.Second, 20*time.Millisecond, "suspended surface never shown:\n%s", out.String())

	_, err = feed.Write([]byte("c\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), arbitration.MsgReactivated)
	}, 5*time.Second, 20*time.Millisecond, "no reactivation confirmation:\n%s", out.String())

	_, err = feed.Write([]byte("q\n"))
	require.NoError(t, err)
	require.NoError(t, <-done)
	_ = feed.Close()

	st, err := a.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, "idle", st.State)
	require.True(t, st.LoggedIn)
	require.False(t, st.Suspended)
}

func TestRun_CloseEvictsClosedSession(t *testing.T) {
	srv := startSessiond(t)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	out := &lockedBuffer{}
	a := openDevice(t, testConfig(t, srv.URL, "desk"), out)
	b := openDevice(t, testConfig(t, srv.URL, "phone"), io.Discard)

	_, err := a.Login(ctx, "alice", "wonderland", "")
	require.NoError(t, err)

	in, feed := io.Pipe()
	defer feed.Close()
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx, in) }()

	// Let the first probe succeed before the other device takes over.
	time.Sleep(200 * time.Millisecond)
	_, err = b.Login(ctx, "alice", "wonderland", sessionv1.TakeoverClose)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Session opened on another device")
	}, 5*time.Second, 20*time.Millisecond, "closed surface never shown:\n%s", out.String())

	_, err = feed.Write([]byte("x\n"))
	require.NoError(t, err)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-ctx.Done():
		t.Fatalf("Run did not end after eviction")
	}

	st, err := a.Status(ctx)
	require.NoError(t, err)
	require.False(t, st.LoggedIn)
	require.False(t, st.ClosedByOther)
	require.Contains(t, out.String(), "Signed out")
}

func TestRun_CloseDuringReclaimEndsWithoutWaiting(t *testing.T) {
	t.Parallel()

	reclaimed := make(chan struct{})
	var once sync.Once
	mux := http.NewServeMux()
	mux.HandleFunc(sessionv1.PathReclaim, func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() { close(reclaimed) })
		<-r.Context().Done()
	})
	mux.HandleFunc(sessionv1.PathMe, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	cfg := testConfig(t, srv.URL, "desk")
	cfg.Arbitration.RequestTimeout = 10 * time.Second
	out := &lockedBuffer{}
	a := openDevice(t, cfg, out)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	require.NoError(t, a.store.SetCredential(ctx, "tok"))
	require.NoError(t, a.store.SetFlag(ctx, flagstore.FlagClosedByOther, true))

	in, feed := io.Pipe()
	defer feed.Close()
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx, in) }()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Session opened on another device")
	}, 5*time.Second, 20*time.Millisecond, "closed surface never shown:\n%s", out.String())

	_, err := feed.Write([]byte("c\n"))
	require.NoError(t, err)
	select {
	case <-reclaimed:
	case <-ctx.Done():
		t.Fatalf("reclaim never reached the server")
	}

	start := time.Now()
	_, err = feed.Write([]byte("x\n"))
	require.NoError(t, err)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-ctx.Done():
		t.Fatalf("Run did not end after close")
	}
	require.Less(t, time.Since(start), 5*time.Second, "close waited for the in-flight reclaim")

	snap, err := a.store.Load(context.Background())
	require.NoError(t, err)
	require.False(t, snap.HasCredential())
	require.False(t, snap.AnyFlag())
	require.Contains(t, out.String(), "Signed out")
}
