package reconcile

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"arbiter/cmd/internal/arbitration"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{ServerURL: srv.URL, ProbeMaxElapsed: 3 * time.Second}, srv.Client(), nil)
}

func reply(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func TestReclaim_Success(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/session/reclaim", r.URL.Path)
		require.Equal(t, "Bearer old", r.Header.Get("Authorization"))
		reply(http.StatusOK, `{"success":true,"new_credential":"X"}`)(w, r)
	})

	grant, err := c.Reclaim(context.Background(), "old")
	require.NoError(t, err)
	require.Equal(t, "X", grant.Credential)
}

func TestReclaim_ErrorTaxonomy(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		status  int
		body    string
		wantIs  error
		wantMsg string
	}{
		{name: "unauthorized is terminal", status: 401, body: `{"error":{"code":"unauthorized"}}`, wantIs: arbitration.ErrTerminalAuth},
		{name: "success false", status: 200, body: `{"success":false,"message":"not allowed"}`, wantIs: arbitration.ErrRemote, wantMsg: "not allowed"},
		{name: "conflict with message", status: 409, body: `{"success":false,"message":"window closed"}`, wantIs: arbitration.ErrRemote, wantMsg: "window closed"},
		{name: "error envelope", status: 403, body: `{"error":{"code":"SESSION_SUSPENDED","message":"suspended"}}`, wantIs: arbitration.ErrRemote, wantMsg: "suspended"},
		{name: "success without credential", status: 200, body: `{"success":true}`, wantIs: arbitration.ErrTransport},
		{name: "bad gateway", status: 502, body: `<html>bad gateway</html>`, wantIs: arbitration.ErrTransport},
		{name: "garbage 2xx", status: 200, body: `nope`, wantIs: arbitration.ErrTransport},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			c := newTestClient(t, reply(tc.status, tc.body))
			_, err := c.Reclaim(context.Background(), "old")
			require.Error(t, err)
			require.ErrorIs(t, err, tc.wantIs)

			if tc.wantMsg != "" {
				var remote *arbitration.RemoteError
				require.True(t, errors.As(err, &remote))
				require.Equal(t, tc.wantMsg, remote.Message)
			}
		})
	}
}

func TestReclaim_NetworkFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(Config{ServerURL: url}, &http.Client{Timeout: time.Second}, nil)
	_, err := c.Reclaim(context.Background(), "old")
	require.ErrorIs(t, err, arbitration.ErrTransport)
}

func TestReactivate_OptionalCredential(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/session/reactivate", r.URL.Path)
		reply(http.StatusOK, `{"success":true}`)(w, r)
	})

	grant, err := c.Reactivate(context.Background(), "tok")
	require.NoError(t, err)
	require.Empty(t, grant.Credential)
}

func TestProbe(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{
			name: "ok", status: 200, body: `{"account_id":"a"}`,
			check: func(t *testing.T, err error) { require.NoError(t, err) },
		},
		{
			name: "suspended again", status: 403, body: `{"error":{"code":"SESSION_SUSPENDED"}}`,
			check: func(t *testing.T, err error) {
				var sigErr *arbitration.SignalError
				require.True(t, errors.As(err, &sigErr))
				require.Equal(t, arbitration.ReasonSuspended, sigErr.Signal.Reason)
			},
		},
		{
			name: "closed again", status: 401, body: `{"error":{"code":"SESSION_CLOSED_BY_OTHER_DEVICE"}}`,
			check: func(t *testing.T, err error) {
				var sigErr *arbitration.SignalError
				require.True(t, errors.As(err, &sigErr))
			},
		},
		{
			name: "plain unauthorized", status: 401, body: `{}`,
			check: func(t *testing.T, err error) { require.ErrorIs(t, err, arbitration.ErrTerminalAuth) },
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, "/me", r.URL.Path)
				reply(tc.status, tc.body)(w, r)
			})
			tc.check(t, c.Probe(context.Background(), "tok"))
		})
	}
}

func TestProbe_RetriesTransportFailures(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			reply(http.StatusServiceUnavailable, ``)(w, r)
			return
		}
		reply(http.StatusOK, `{}`)(w, r)
	})

	require.NoError(t, c.Probe(context.Background(), "tok"))
	require.Equal(t, int32(3), calls.Load())
}

func TestProbe_SignalIsNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		reply(http.StatusForbidden, `{"error":{"code":"SESSION_SUPERSEDED"}}`)(w, r)
	})

	require.Error(t, c.Probe(context.Background(), "tok"))
	require.Equal(t, int32(1), calls.Load())
}
