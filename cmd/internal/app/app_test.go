package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"arbiter/cmd/internal/realtime"
	sessionv1 "arbiter/contracts/session/v1"

	paseto "aidanwoods.dev/go-paseto"
)

func TestRuntimeBaseURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "explicit localhost", in: "127.0.0.1:8080", want: "http://127.0.0.1:8080"},
		{name: "bind all v4", in: "0.0.0.0:8080", want: "http://127.0.0.1:8080"},
		{name: "bind all v6", in: "[::]:9090", want: "http://127.0.0.1:9090"},
		{name: "port only", in: ":7070", want: "http://127.0.0.1:7070"},
		{name: "ipv6 host", in: "[2001:db8::1]:9090", want: "http://[2001:db8::1]:9090"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := runtimeBaseURL(tc.in); got != tc.want {
				t.Fatalf("runtimeBaseURL(%q)=%q want=%q", tc.in, got, tc.want)
			}
		})
	}
}

func TestWSBaseURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{in: "http://127.0.0.1:8080", want: "ws://127.0.0.1:8080"},
		{in: "https://arbiter.example.com", want: "wss://arbiter.example.com"},
		{in: "127.0.0.1:8080", want: "ws://127.0.0.1:8080"},
	}

	for _, tc := range cases {
		if got := wsBaseURL(tc.in); got != tc.want {
			t.Fatalf("wsBaseURL(%q)=%q want=%q", tc.in, got, tc.want)
		}
	}
}

func newTestApp(t *testing.T) *httptest.Server {
	t.Helper()
	t.Setenv("ARBITER_PASETO_V4_SECRET_KEY_HEX", paseto.NewV4AsymmetricSecretKey().ExportHex())
	t.Setenv("ARBITER_DEV_ACCOUNTS", "alice:wonderland")

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := New(context.Background(), Config{}, log)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func loginAs(t *testing.T, srv *httptest.Server, device, takeover string) string {
	t.Helper()
	body, _ := json.Marshal(sessionv1.LoginRequest{Account: "alice", Password: "wonderland", DeviceID: device, Takeover: takeover})
	resp, err := srv.Client().Post(srv.URL+sessionv1.PathLogin, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}
	var out sessionv1.LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out.Credential
}

func TestApp_HealthMetricsAndHeaders(t *testing.T) {
	srv := newTestApp(t)

	resp, err := srv.Client().Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("missing security header, got %q", got)
	}

	resp, err = srv.Client().Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("readyz: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz status = %d", resp.StatusCode)
	}

	_ = loginAs(t, srv, "dev-a", "")

	resp, err = srv.Client().Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	raw, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if !strings.Contains(string(raw), `arbiter_session_logins_total{takeover="suspend"} 1`) {
		t.Fatalf("metrics missing login counter:\n%s", raw)
	}
}

func TestApp_MediaSessionRevokedOnTakeover(t *testing.T) {
	srv := newTestApp(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a := loginAs(t, srv, "dev-a", "")
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	sess, err := realtime.Dial(ctx, wsURL, a, realtime.DialOptions{})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer func() { _ = sess.Stop(context.Background()) }()

	_ = loginAs(t, srv, "dev-b", sessionv1.TakeoverSuspend)

	select {
	case code := <-sess.Revoked():
		if code != sessionv1.ReasonSuspended {
			t.Fatalf("code = %q, want %q", code, sessionv1.ReasonSuspended)
		}
	case <-ctx.Done():
		t.Fatalf("no session_revoked within deadline")
	}

	// A new hello with the displaced credential is refused with the same code.
	_, err = realtime.Dial(ctx, wsURL, a, realtime.DialOptions{})
	if code, ok := realtime.RevokedCode(err); !ok || code != sessionv1.ReasonSuspended {
		t.Fatalf("redial err = %v", err)
	}
}
