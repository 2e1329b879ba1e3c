// Package main provides a CI-friendly smoke test for session arbitration
// against a running sessiond.
//
// It validates:
//   - login on device A and a media session bound to it
//   - suspend takeover from device B (session_revoked on A's media session)
//   - A probes as SESSION_SUSPENDED and reactivates
//   - B probes as SESSION_SUPERSEDED with close_immediately
//   - close takeover from B, then A reclaims exclusivity
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"

	rtv1 "arbiter/contracts/realtime/v1"
	sessionv1 "arbiter/contracts/session/v1"
)

const maxReadBytes = 1 << 20 // 1MiB

type smoke struct {
	base    string
	wsURL   string
	http    *http.Client
	timeout time.Duration
	verbose bool
}

type mediaClient struct {
	name  string
	conn  *websocket.Conn
	id    string
	inbox chan rtv1.Envelope
	errCh chan error
}

func main() {
	var (
		baseURL  = flag.String("url", "http://127.0.0.1:8080", "sessiond base URL")
		wsPath   = flag.String("ws-path", "/ws", "Media gateway path")
		account  = flag.String("account", "alice", "Account to log in with")
		password = flag.String("password", "wonderland", "Account password")
		timeout  = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateBaseURL(*baseURL); err != nil {
		fatalf("invalid -url: %v", err)
	}

	s := &smoke{
		base:    strings.TrimRight(*baseURL, "/"),
		wsURL:   wsFromBase(strings.TrimRight(*baseURL, "/")) + *wsPath,
		http:    &http.Client{Timeout: *timeout},
		timeout: *timeout,
		verbose: *verbose,
	}
	root := context.Background()
	run := fmt.Sprintf("%d", time.Now().UnixNano())
	devA, devB := "smoke-a-"+run, "smoke-b-"+run

	credA := s.mustLogin(root, *account, *password, devA, sessionv1.TakeoverSuspend)
	media := s.mustConnect(root, "A", credA)
	defer closeWS(media.conn)
	s.logf("A logged in, media session %s", media.id)

	credB := s.mustLogin(root, *account, *password, devB, sessionv1.TakeoverSuspend)
	s.logf("B logged in with suspend takeover")

	revoked := media.mustReadUntilType(root, rtv1.TypeSessionRevoked, s.timeout)
	var rp rtv1.SessionRevokedPayload
	if err := json.Unmarshal(revoked.Payload, &rp); err != nil {
		fatalf("unmarshal session_revoked: %v", err)
	}
	if rp.Code != sessionv1.ReasonSuspended {
		fatalf("session_revoked code: got=%q want=%q", rp.Code, sessionv1.ReasonSuspended)
	}

	s.mustProbe(root, "A", credA, http.StatusForbidden, sessionv1.ReasonSuspended, "")

	var react sessionv1.ReactivateResponse
	s.mustPost(root, sessionv1.PathReactivate, credA, http.StatusOK, &react)
	if !react.Success {
		fatalf("reactivate A: success=false message=%q", react.Message)
	}
	if react.Credential != "" {
		credA = react.Credential
	}
	s.mustProbe(root, "A", credA, http.StatusOK, "", "")
	s.mustProbe(root, "B", credB, http.StatusForbidden, sessionv1.ReasonSuperseded, sessionv1.ActionCloseImmediately)
	s.logf("A reactivated, B superseded")

	credB = s.mustLogin(root, *account, *password, devB, sessionv1.TakeoverClose)
	s.mustProbe(root, "A", credA, http.StatusUnauthorized, sessionv1.ReasonClosedByOtherDevice, "")
	s.logf("B logged in with close takeover")

	var reclaim sessionv1.ReclaimResponse
	s.mustPost(root, sessionv1.PathReclaim, credA, http.StatusOK, &reclaim)
	if !reclaim.Success || strings.TrimSpace(reclaim.NewCredential) == "" {
		fatalf("reclaim A: success=%t message=%q", reclaim.Success, reclaim.Message)
	}
	s.mustProbe(root, "A", reclaim.NewCredential, http.StatusOK, "", "")
	s.mustProbe(root, "B", credB, http.StatusUnauthorized, sessionv1.ReasonClosedByOtherDevice, "")

	s.mustPost(root, sessionv1.PathLogout, reclaim.NewCredential, http.StatusNoContent, nil)

	fmt.Printf("OK: account=%s devices=%s,%s\n", *account, devA, devB)
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func wsFromBase(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}

func (s *smoke) mustLogin(parent context.Context, account, password, deviceID, takeover string) string {
	body := mustJSON(sessionv1.LoginRequest{Account: account, Password: password, DeviceID: deviceID, Takeover: takeover})

	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.base+sessionv1.PathLogin, bytes.NewReader(body))
	if err != nil {
		fatalf("login %s: %v", deviceID, err)
	}
	req.Header.Set("Content-Type", "application/json")

	status, raw := s.do(req)
	if status != http.StatusOK {
		fatalf("login %s: status=%d body=%s", deviceID, status, raw)
	}
	var out sessionv1.LoginResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		fatalf("login %s: decode: %v", deviceID, err)
	}
	if strings.TrimSpace(out.Credential) == "" {
		fatalf("login %s: empty credential", deviceID)
	}
	return out.Credential
}

func (s *smoke) mustProbe(parent context.Context, name, credential string, wantStatus int, wantCode, wantAction string) {
	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.base+sessionv1.PathMe, nil)
	if err != nil {
		fatalf("probe %s: %v", name, err)
	}
	req.Header.Set("Authorization", "Bearer "+credential)

	status, raw := s.do(req)
	if status != wantStatus {
		fatalf("probe %s: status=%d want=%d body=%s", name, status, wantStatus, raw)
	}
	if wantCode == "" {
		return
	}
	var env sessionv1.ErrorResponse
	if err := json.Unmarshal(raw, &env); err != nil {
		fatalf("probe %s: decode error envelope: %v", name, err)
	}
	if env.Error.Code != wantCode {
		fatalf("probe %s: code=%q want=%q", name, env.Error.Code, wantCode)
	}
	if wantAction != "" && env.Error.Action != wantAction {
		fatalf("probe %s: action=%q want=%q", name, env.Error.Action, wantAction)
	}
	s.logf("probe %s -> %d %s", name, status, env.Error.Code)
}

func (s *smoke) mustPost(parent context.Context, path, credential string, wantStatus int, out any) {
	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.base+path, nil)
	if err != nil {
		fatalf("POST %s: %v", path, err)
	}
	req.Header.Set("Authorization", "Bearer "+credential)

	status, raw := s.do(req)
	if status != wantStatus {
		fatalf("POST %s: status=%d want=%d body=%s", path, status, wantStatus, raw)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			fatalf("POST %s: decode: %v", path, err)
		}
	}
}

func (s *smoke) do(req *http.Request) (int, []byte) {
	resp, err := s.http.Do(req)
	if err != nil {
		fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReadBytes))
	if err != nil {
		fatalf("%s %s: read body: %v", req.Method, req.URL.Path, err)
	}
	return resp.StatusCode, raw
}

func (s *smoke) mustConnect(parent context.Context, name, credential string) *mediaClient {
	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()

	conn, resp, err := websocket.Dial(ctx, s.wsURL, &websocket.DialOptions{
		Subprotocols: []string{rtv1.Subprotocol},
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}
	conn.SetReadLimit(maxReadBytes)

	c := &mediaClient{
		name:  name,
		conn:  conn,
		inbox: make(chan rtv1.Envelope, 16),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	mustWriteWithTimeout(parent, conn, rtv1.Envelope{
		V:       rtv1.Version,
		Type:    rtv1.TypeHello,
		ID:      name + "-hello",
		TS:      time.Now().UTC(),
		Payload: mustJSON(rtv1.HelloPayload{Credential: credential}),
	}, s.timeout)

	ack := c.mustReadUntilType(parent, rtv1.TypeHelloAck, s.timeout)
	var p rtv1.HelloAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal hello_ack payload (%s): %v", name, err)
	}
	if strings.TrimSpace(p.MediaSessionID) == "" {
		fatalf("hello_ack missing media_session_id (%s)", name)
	}
	c.id = p.MediaSessionID
	return c
}

func (c *mediaClient) startReadLoop() {
	go func() {
		defer close(c.inbox)
		for {
			_, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}
			var env rtv1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}
			if err := env.Validate(); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad envelope: %w", err):
				default:
				}
				return
			}
			select {
			case c.inbox <- env:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func (c *mediaClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration) rtv1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case env, ok := <-c.inbox:
			if !ok {
				err := <-c.errCh
				fatalf("connection closed while waiting for %q (%s): %v", wantType, c.name, err)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == rtv1.TypeError {
				var ep rtv1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			fatalf("unexpected envelope type (%s): got=%q want=%q", c.name, env.Type, wantType)
		}
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env rtv1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func (s *smoke) logf(format string, args ...any) {
	if s.verbose {
		fmt.Printf(format+"\n", args...)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
