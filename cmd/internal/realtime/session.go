package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	v1 "arbiter/contracts/realtime/v1"
)

var (
	// ErrRejected is returned by Dial when the gateway refuses the hello.
	ErrRejected = errors.New("realtime: hello rejected")
	// ErrStopped is returned by operations on a stopped Session.
	ErrStopped = errors.New("realtime: session stopped")
)

// DialOptions tunes Dial.
type DialOptions struct {
	HTTPClient   *http.Client
	WriteTimeout time.Duration
	Log          *slog.Logger
}

// Session is a client-side media-signalling session.
type Session struct {
	conn         *websocket.Conn
	id           string
	writeTimeout time.Duration
	log          *slog.Logger

	revoked chan string
	done    chan struct{}

	mu       sync.Mutex
	stopped  bool
	stopOnce sync.Once
	cancel   context.CancelFunc
}

// Dial opens a session at url and authenticates it with credential.
// A rejected hello returns an error wrapping ErrRejected; when the gateway
// reported a revoked session it also wraps a *RevokedError.
func Dial(ctx context.Context, url, credential string, opts DialOptions) (*Session, error) {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}

	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient:   opts.HTTPClient,
		Subprotocols: []string{v1.Subprotocol},
	})
	if err != nil {
		return nil, fmt.Errorf("realtime: dial: %w", err)
	}
	conn.SetReadLimit(maxFrameBytes)

	hello, err := newEnvelope(v1.TypeHello, v1.HelloPayload{Credential: credential})
	if err == nil {
		err = writeEnvelope(ctx, conn, hello, opts.WriteTimeout)
	}
	if err != nil {
		_ = conn.CloseNow()
		return nil, fmt.Errorf("realtime: hello: %w", err)
	}

	env, err := readEnvelope(ctx, conn)
	if err != nil {
		_ = conn.CloseNow()
		return nil, fmt.Errorf("realtime: hello ack: %w", err)
	}

	switch env.Type {
	case v1.TypeHelloAck:
	case v1.TypeSessionRevoked:
		var p v1.SessionRevokedPayload
		_ = json.Unmarshal(env.Payload, &p)
		_ = conn.CloseNow()
		return nil, fmt.Errorf("%w: %w", ErrRejected, &RevokedError{Code: p.Code})
	default:
		var p v1.ErrorPayload
		_ = json.Unmarshal(env.Payload, &p)
		_ = conn.CloseNow()
		return nil, fmt.Errorf("%w: %s", ErrRejected, p.Code)
	}

	var ack v1.HelloAckPayload
	if err := json.Unmarshal(env.Payload, &ack); err != nil {
		_ = conn.CloseNow()
		return nil, fmt.Errorf("realtime: hello ack: %w", err)
	}

	readCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		conn:         conn,
		id:           ack.MediaSessionID,
		writeTimeout: opts.WriteTimeout,
		log:          opts.Log,
		revoked:      make(chan string, 1),
		done:         make(chan struct{}),
		cancel:       cancel,
	}
	go s.readLoop(readCtx)
	return s, nil
}

// ID returns the server-assigned media session id.
func (s *Session) ID() string { return s.id }

// Revoked delivers the reason code when the gateway revokes the session.
func (s *Session) Revoked() <-chan string { return s.revoked }

// Done is closed when the connection ends for any reason.
func (s *Session) Done() <-chan struct{} { return s.done }

// Stop sends bye and closes the connection. It is idempotent and safe to call
// after the connection already ended.
func (s *Session) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()

		select {
		case <-s.done:
		default:
			if bye, berr := newEnvelope(v1.TypeBye, v1.ByePayload{Reason: "stopped"}); berr == nil {
				err = writeEnvelope(ctx, s.conn, bye, s.writeTimeout)
			}
			if cerr := s.conn.Close(websocket.StatusNormalClosure, "bye"); cerr != nil && err == nil && websocket.CloseStatus(cerr) == -1 {
				err = cerr
			}
		}
		s.cancel()
	})
	if err != nil && (errors.Is(err, context.Canceled) || websocket.CloseStatus(err) != -1) {
		err = nil
	}
	return err
}

func (s *Session) readLoop(ctx context.Context) {
	defer close(s.done)
	for {
		env, err := readEnvelope(ctx, s.conn)
		if err != nil {
			if classifyReadErr(err) == readErrBadFrame {
				continue
			}
			s.mu.Lock()
			stopped := s.stopped
			s.mu.Unlock()
			if !stopped {
				s.log.Info("realtime.session.end", "media_session_id", s.id, "close_status", websocket.CloseStatus(err))
			}
			return
		}

		switch env.Type {
		case v1.TypeSessionRevoked:
			var p v1.SessionRevokedPayload
			_ = json.Unmarshal(env.Payload, &p)
			select {
			case s.revoked <- p.Code:
			default:
			}
		case v1.TypeBye:
			_ = s.conn.Close(websocket.StatusNormalClosure, "bye")
			return
		case v1.TypeError:
			var p v1.ErrorPayload
			_ = json.Unmarshal(env.Payload, &p)
			s.log.Warn("realtime.session.error", "code", p.Code, "message", p.Message)
		}
	}
}

// RevokedCode reports the revocation code carried by err, if any.
func RevokedCode(err error) (string, bool) {
	var r *RevokedError
	if errors.As(err, &r) {
		return r.Code, true
	}
	return "", false
}
