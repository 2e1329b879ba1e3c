package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"arbiter/cmd/internal/ids"
	"arbiter/cmd/security/token"
	v1 "arbiter/contracts/realtime/v1"
)

// Principal identifies who opened a media session.
type Principal struct {
	AccountID string
	SessionID string
}

// Authenticator validates the credential carried by a hello.
// A *RevokedError means the credential is well-formed but no longer authoritative.
type Authenticator interface {
	AuthenticateMedia(ctx context.Context, credential string) (Principal, error)
}

// RevokedError carries the session contract reason code of a displaced session.
type RevokedError struct {
	Code string
}

func (e *RevokedError) Error() string { return "realtime: session revoked: " + e.Code }

const sendQueueSize = 8

// Gateway is the websocket entrypoint of the media-signalling protocol.
type Gateway struct {
	log  *slog.Logger
	auth Authenticator
	cfg  GatewayConfig

	// Derived for websocket.Accept origin checks.
	originPatterns []string

	hub *hub
}

// NewGateway constructs a gateway.
func NewGateway(log *slog.Logger, auth Authenticator, cfg GatewayConfig) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Gateway{
		log:            log,
		auth:           auth,
		cfg:            cfg,
		originPatterns: deriveOriginPatterns(cfg.AllowedOrigins),
		hub:            newHub(),
	}
}

// Revoke tells every media connection of sessionID that the session stopped
// being authoritative. It returns the number of connections notified.
func (g *Gateway) Revoke(sessionID, code string) int {
	n := g.hub.revoke(sessionID, code)
	if n > 0 {
		g.log.Info("ws.revoke", "session_id", sessionID, "code", code, "connections", n)
	}
	return n
}

// Connections returns the number of live media connections.
func (g *Gateway) Connections() int { return g.hub.count() }

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{v1.Subprotocol},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.cfg.DevInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.CloseNow() }()

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", v1.Subprotocol)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	mc, err := g.hello(ctx, conn)
	if err != nil {
		return
	}
	g.hub.add(mc)
	defer g.hub.remove(mc)

	g.log.Info("ws.session.open", "media_session_id", mc.MediaSessionID, "session_id", mc.SessionID)
	g.serve(ctx, cancel, conn, mc)
	g.log.Info("ws.session.close", "media_session_id", mc.MediaSessionID, "session_id", mc.SessionID)
}

// hello authenticates the first frame and writes the ack. On failure the
// connection is closed with a policy violation.
func (g *Gateway) hello(ctx context.Context, conn *websocket.Conn) (*mediaConn, error) {
	helloCtx, cancel := context.WithTimeout(ctx, helloTimeout)
	env, err := readEnvelope(helloCtx, conn)
	cancel()
	if err != nil {
		g.log.Info("ws.hello.read.fail", "err", err)
		_ = conn.Close(websocket.StatusPolicyViolation, "hello required")
		return nil, err
	}
	if env.Type != v1.TypeHello {
		g.writeNow(ctx, conn, v1.TypeError, v1.ErrorPayload{Code: "hello_required", Message: "first frame must be hello"})
		_ = conn.Close(websocket.StatusPolicyViolation, "hello required")
		return nil, errors.New("hello required")
	}

	var p v1.HelloPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil || strings.TrimSpace(p.Credential) == "" {
		g.writeNow(ctx, conn, v1.TypeError, v1.ErrorPayload{Code: "bad_hello", Message: "missing credential"})
		_ = conn.Close(websocket.StatusPolicyViolation, "bad hello")
		return nil, errors.New("bad hello")
	}

	principal, err := g.auth.AuthenticateMedia(ctx, p.Credential)
	if err != nil {
		var revoked *RevokedError
		if errors.As(err, &revoked) {
			g.writeNow(ctx, conn, v1.TypeSessionRevoked, v1.SessionRevokedPayload{Code: revoked.Code})
			_ = conn.Close(websocket.StatusPolicyViolation, "session revoked")
		} else {
			g.writeNow(ctx, conn, v1.TypeError, v1.ErrorPayload{Code: "unauthorized", Message: "invalid credential"})
			_ = conn.Close(websocket.StatusPolicyViolation, "unauthorized")
		}
		g.log.Info("ws.hello.reject", "credential_fp", token.Fingerprint(p.Credential), "err", err)
		return nil, err
	}

	mediaID, err := ids.NewULID(time.Now().UTC())
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "id")
		return nil, err
	}
	mc := newMediaConn(mediaID, principal)

	ack, err := newEnvelope(v1.TypeHelloAck, v1.HelloAckPayload{MediaSessionID: mediaID})
	if err == nil {
		err = writeEnvelope(ctx, conn, ack, g.cfg.WriteTimeout)
	}
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "hello ack")
		return nil, err
	}
	return mc, nil
}

func (g *Gateway) serve(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, mc *mediaConn) {
	send := make(chan v1.Envelope, sendQueueSize)

	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			mc.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case <-mc.Done():
				return
			case env := <-send:
				if err := writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout); err != nil {
					g.log.Info("ws.write.fail", "media_session_id", mc.MediaSessionID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			case code := <-mc.revoke:
				if env, err := newEnvelope(v1.TypeSessionRevoked, v1.SessionRevokedPayload{Code: code}); err == nil {
					_ = writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout)
				}
				shutdown(websocket.StatusPolicyViolation, "session revoked")
				return
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		g.heartbeat(ctx, conn, mc, shutdown)
	}()

	enqueue := func(typ string, payload any) {
		env, err := newEnvelope(typ, payload)
		if err != nil {
			return
		}
		select {
		case send <- env:
		default:
		}
	}

	rl := newWindowLimiter(g.cfg.RateEvents, g.cfg.RateWindow)

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadFrame:
				enqueue(v1.TypeError, v1.ErrorPayload{Code: "bad_envelope", Message: err.Error()})
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "media_session_id", mc.MediaSessionID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		if !rl.Allow(time.Now().UTC()) {
			enqueue(v1.TypeError, v1.ErrorPayload{Code: "rate_limited", Message: "too many events"})
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		switch env.Type {
		case v1.TypeBye:
			shutdown(websocket.StatusNormalClosure, "bye")
			break readLoop
		case v1.TypeHello:
			enqueue(v1.TypeError, v1.ErrorPayload{Code: "already_authenticated", Message: "hello already accepted"})
		default:
			enqueue(v1.TypeError, v1.ErrorPayload{Code: "unsupported", Message: fmt.Sprintf("unsupported type: %s", env.Type)})
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(closeGrace):
	}
}

// heartbeat pings the peer and re-checks the session on every tick, so a
// displaced session is cut even when the revocation push was missed.
func (g *Gateway) heartbeat(ctx context.Context, conn *websocket.Conn, mc *mediaConn, shutdown func(websocket.StatusCode, string)) {
	t := time.NewTicker(g.cfg.HeartbeatEvery)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-mc.Done():
			return
		case <-t.C:
		}

		hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
		err := conn.Ping(hbCtx)
		hbCancel()
		if err != nil {
			failures++
			g.log.Info("ws.ping.fail", "media_session_id", mc.MediaSessionID, "failures", failures, "err", err)
			if failures >= maxPingFailures {
				shutdown(websocket.StatusGoingAway, "heartbeat failed")
				return
			}
			continue
		}
		failures = 0

		if err := g.recheck(ctx, mc); err != nil {
			var revoked *RevokedError
			if errors.As(err, &revoked) {
				select {
				case mc.revoke <- revoked.Code:
				default:
				}
				return
			}
			shutdown(websocket.StatusPolicyViolation, "unauthorized")
			return
		}
	}
}

func (g *Gateway) recheck(ctx context.Context, mc *mediaConn) error {
	checker, ok := g.auth.(SessionChecker)
	if !ok {
		return nil
	}
	return checker.CheckSession(ctx, mc.SessionID)
}

// SessionChecker is optionally implemented by an Authenticator to re-validate
// a session on every heartbeat.
type SessionChecker interface {
	CheckSession(ctx context.Context, sessionID string) error
}

func (g *Gateway) writeNow(ctx context.Context, conn *websocket.Conn, typ string, payload any) {
	env, err := newEnvelope(typ, payload)
	if err != nil {
		return
	}
	_ = writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout)
}

// ---- origin policy ----

func (g *Gateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}
	if len(g.cfg.AllowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)
	for _, a := range g.cfg.AllowedOrigins {
		a = strings.TrimSpace(a)
		switch {
		case a == "":
			continue
		case a == "*", origin == a:
			return nil
		case originHost != "" && originHost == originHostOnly(a):
			return nil
		}
	}
	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		s = strings.TrimSpace(u.Host)
		if s == "" {
			return ""
		}
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// deriveOriginPatterns keeps websocket.Accept's own origin check in agreement
// with the allowlist.
func deriveOriginPatterns(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}
