package device

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"arbiter/cmd/internal/arbitration"
	"arbiter/cmd/internal/arbitration/flagstore"
	"arbiter/cmd/internal/realtime"
	sessionv1 "arbiter/contracts/session/v1"
)

type dialFunc func(ctx context.Context, url, credential string) (*realtime.Session, error)

// media keeps at most one realtime session open for the current credential.
// It implements arbitration.MediaSession; session_revoked notices become bus
// signals so the machine sees them like any HTTP failure.
type media struct {
	url   string
	store flagstore.Store
	bus   *arbitration.Bus
	log   *slog.Logger
	dial  dialFunc

	mu   sync.Mutex
	sess *realtime.Session
	gen  uint64
}

var _ arbitration.MediaSession = (*media)(nil)

func newMedia(url string, store flagstore.Store, bus *arbitration.Bus, log *slog.Logger) *media {
	return &media{
		url:   url,
		store: store,
		bus:   bus,
		log:   log,
		dial: func(ctx context.Context, url, credential string) (*realtime.Session, error) {
			return realtime.Dial(ctx, url, credential, realtime.DialOptions{Log: log})
		},
	}
}

// Connect opens a session with the stored credential, replacing any open one.
func (m *media) Connect(ctx context.Context) error {
	if err := m.Stop(ctx); err != nil {
		m.log.Debug("media.stop.fail", "err", err)
	}

	snap, err := m.store.Load(ctx)
	if err != nil {
		return err
	}
	if !snap.HasCredential() || snap.AnyFlag() {
		return nil
	}

	sess, err := m.dial(ctx, m.url, snap.Credential)
	if err != nil {
		if code, ok := realtime.RevokedCode(err); ok {
			m.publish(code)
			return nil
		}
		return err
	}

	m.mu.Lock()
	m.gen++
	gen := m.gen
	m.sess = sess
	m.mu.Unlock()

	m.log.Info("media.connected", "media_session_id", sess.ID())
	go m.watch(sess, gen)
	return nil
}

// Stop implements arbitration.MediaSession.
func (m *media) Stop(ctx context.Context) error {
	m.mu.Lock()
	sess := m.sess
	m.sess = nil
	m.gen++
	m.mu.Unlock()

	if sess == nil {
		return nil
	}
	err := sess.Stop(ctx)
	if errors.Is(err, realtime.ErrStopped) {
		return nil
	}
	return err
}

// Reset follows the machine: reconnect after a successful reconciliation, stay
// down after an eviction.
func (m *media) Reset(ctx context.Context, reason arbitration.ResetReason) error {
	switch reason {
	case arbitration.ResetReclaimed, arbitration.ResetReactivated:
		return m.Connect(ctx)
	default:
		return m.Stop(ctx)
	}
}

func (m *media) watch(sess *realtime.Session, gen uint64) {
	select {
	case code := <-sess.Revoked():
		if m.current(gen) {
			m.publish(code)
		}
	case <-sess.Done():
		select {
		case code := <-sess.Revoked():
			if m.current(gen) {
				m.publish(code)
			}
			return
		default:
		}
		if m.current(gen) {
			m.log.Info("media.closed", "media_session_id", sess.ID())
		}
	}
}

func (m *media) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen == gen
}

func (m *media) publish(code string) {
	sig, ok := signalFor(code)
	if !ok {
		m.log.Info("media.revoked", "code", code)
		return
	}
	m.bus.Publish(sig)
}

// signalFor maps a session_revoked code onto the signal the HTTP bridge would
// have produced for the same condition.
func signalFor(code string) (arbitration.Signal, bool) {
	switch code {
	case sessionv1.ReasonClosedByOtherDevice:
		return arbitration.Signal{HTTPStatus: http.StatusUnauthorized, Reason: arbitration.ReasonClosedByOther}, true
	case sessionv1.ReasonSuspended:
		return arbitration.Signal{HTTPStatus: http.StatusForbidden, Reason: arbitration.ReasonSuspended}, true
	case sessionv1.ReasonSuperseded:
		return arbitration.Signal{
			HTTPStatus: http.StatusForbidden,
			Reason:     arbitration.ReasonSuperseded,
			Action:     arbitration.ActionCloseImmediately,
		}, true
	default:
		return arbitration.Signal{}, false
	}
}
