package session

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"arbiter/cmd/internal/ids"
	"arbiter/cmd/security/token"
	sessionv1 "arbiter/contracts/session/v1"
)

// Takeover selects what a login does to the account's current session.
type Takeover string

const (
	// TakeoverSuspend suspends the current session; it may reactivate within the window.
	TakeoverSuspend Takeover = sessionv1.TakeoverSuspend
	// TakeoverClose closes the current session; its device may reclaim.
	TakeoverClose Takeover = sessionv1.TakeoverClose
)

// ParseTakeover maps the wire value to a Takeover. Empty means suspend.
func ParseTakeover(s string) (Takeover, error) {
	switch Takeover(strings.ToLower(strings.TrimSpace(s))) {
	case "", TakeoverSuspend:
		return TakeoverSuspend, nil
	case TakeoverClose:
		return TakeoverClose, nil
	default:
		return "", ErrInvalidInput
	}
}

// Notifier learns about sessions that stopped being authoritative, after the
// change is committed. code is one of the sessionv1 reason codes.
type Notifier interface {
	SessionEnded(sessionID, code string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(sessionID, code string)

// SessionEnded calls f.
func (f NotifierFunc) SessionEnded(sessionID, code string) { f(sessionID, code) }

// ReasonCode maps a non-active status to its wire reason code.
func ReasonCode(s Status) string {
	switch s {
	case StatusClosedByOther:
		return sessionv1.ReasonClosedByOtherDevice
	case StatusSuspended:
		return sessionv1.ReasonSuspended
	case StatusSuperseded:
		return sessionv1.ReasonSuperseded
	case StatusRevoked:
		return sessionv1.ReasonRevoked
	default:
		return ""
	}
}

// Issued is the result of a login, reclaim or reactivation.
type Issued struct {
	AccountID  string
	SessionID  string
	DeviceID   string
	Credential string
	ExpiresAt  time.Time
}

// Service implements the authoritative session operations.
type Service struct {
	cfg     Config
	store   Store
	tokens  TokenManager
	log     *slog.Logger
	metrics *Metrics
	notify  Notifier
	now     func() time.Time
}

// Option configures optional Service dependencies.
type Option func(*Service)

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics attaches counters.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithNotifier attaches a Notifier for displaced sessions.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notify = n }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs a Service.
func NewService(cfg Config, store Store, tokens TokenManager, opts ...Option) *Service {
	s := &Service{
		cfg:    cfg,
		store:  store,
		tokens: tokens,
		log:    slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

type ended struct {
	id     string
	status Status
}

// Login creates the account's new active session on deviceID. Existing
// sessions of the account are displaced according to mode; a live session on
// the same device is revoked.
func (s *Service) Login(ctx context.Context, accountID, deviceID string, mode Takeover) (Issued, error) {
	accountID, deviceID = strings.TrimSpace(accountID), strings.TrimSpace(deviceID)
	if accountID == "" || deviceID == "" {
		return Issued{}, ErrInvalidInput
	}
	if mode != TakeoverSuspend && mode != TakeoverClose {
		return Issued{}, ErrInvalidInput
	}

	now := s.now()
	id, err := ids.NewULID(now)
	if err != nil {
		return Issued{}, err
	}
	row := Row{
		ID:        id,
		AccountID: accountID,
		DeviceID:  deviceID,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(s.cfg.SessionTTL),
	}
	issued, err := s.issue(row, now)
	if err != nil {
		return Issued{}, err
	}

	var changed []ended
	err = s.store.WithAccount(ctx, accountID, func(tx AccountTx) error {
		rows, err := tx.Sessions(ctx)
		if err != nil {
			return err
		}
		for _, r := range rows {
			next := displacedBy(r, deviceID, mode, now)
			if next == "" {
				continue
			}
			if err := tx.Update(ctx, transition(r, next, id, now)); err != nil {
				return err
			}
			changed = append(changed, ended{id: r.ID, status: next})
		}
		return tx.Insert(ctx, row)
	})
	if err != nil {
		return Issued{}, err
	}

	s.metrics.login(mode)
	s.log.Info("session.login",
		"account_id", accountID,
		"session_id", id,
		"device_id", deviceID,
		"takeover", string(mode),
		"displaced", len(changed),
	)
	s.announce(changed)
	return issued, nil
}

// displacedBy returns the status r moves to when a login on device happens,
// or "" when r is left alone.
func displacedBy(r Row, device string, mode Takeover, now time.Time) Status {
	if !r.ExpiresAt.After(now) {
		return ""
	}
	switch {
	case r.DeviceID == device:
		return StatusRevoked
	case r.Status == StatusActive && mode == TakeoverSuspend:
		return StatusSuspended
	case r.Status == StatusActive, r.Status == StatusSuspended:
		if mode == TakeoverClose {
			return StatusClosedByOther
		}
	}
	return ""
}

func transition(r Row, to Status, by string, now time.Time) Row {
	r.Status = to
	r.UpdatedAt = now
	r.EndedBy = &by
	r.SuspendedAt = nil
	if to == StatusSuspended {
		r.SuspendedAt = &now
	}
	return r
}

// Authenticate verifies credential and requires its session to be active.
func (s *Service) Authenticate(ctx context.Context, credential string) (Claims, error) {
	now := s.now()
	claims, err := s.tokens.Verify(strings.TrimSpace(credential), now)
	if err != nil {
		return Claims{}, err
	}

	row, err := s.store.Get(ctx, claims.SessionID)
	if err != nil {
		return Claims{}, err
	}
	if row.AccountID != claims.AccountID {
		return Claims{}, ErrInvalidToken
	}
	if err := s.statusErr(row, now); err != nil {
		return Claims{}, err
	}
	return claims, nil
}

// CheckSession reports whether sessionID is still the account's active session.
func (s *Service) CheckSession(ctx context.Context, sessionID string) error {
	row, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	return s.statusErr(row, s.now())
}

func (s *Service) statusErr(r Row, now time.Time) error {
	var err error
	switch r.Status {
	case StatusActive:
		if !r.ExpiresAt.After(now) {
			return ErrSessionExpired
		}
		return nil
	case StatusClosedByOther:
		err = ErrSessionClosedByOther
	case StatusSuspended:
		err = ErrSessionSuspended
	case StatusSuperseded:
		err = ErrSessionSuperseded
	default:
		err = ErrSessionRevoked
	}
	s.metrics.rejection(r.Status)
	return err
}

// verifyAnyStatus checks the credential signature only; recovery endpoints
// must accept sessions that Authenticate would refuse.
func (s *Service) verifyAnyStatus(credential string, now time.Time) (Claims, error) {
	return s.tokens.Verify(strings.TrimSpace(credential), now)
}

// Reclaim lets a closed_by_other session win the account back. The old
// session is revoked, every other live session of the account is closed, and
// a new session is issued on the same device.
func (s *Service) Reclaim(ctx context.Context, credential string) (Issued, error) {
	now := s.now()
	claims, err := s.verifyAnyStatus(credential, now)
	if err != nil {
		return Issued{}, err
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return Issued{}, err
	}
	fresh := Row{
		ID:        id,
		AccountID: claims.AccountID,
		DeviceID:  claims.DeviceID,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(s.cfg.SessionTTL),
	}
	issued, err := s.issue(fresh, now)
	if err != nil {
		return Issued{}, err
	}

	var changed []ended
	err = s.store.WithAccount(ctx, claims.AccountID, func(tx AccountTx) error {
		cur, err := tx.Get(ctx, claims.SessionID)
		if err != nil {
			return err
		}
		if cur.Status != StatusClosedByOther {
			return StateError{Op: "session.Reclaim", Status: cur.Status, Err: ErrNotReclaimable}
		}
		if !cur.ExpiresAt.After(now) {
			return ErrSessionExpired
		}

		rows, err := tx.Sessions(ctx)
		if err != nil {
			return err
		}
		for _, r := range rows {
			if r.ID == cur.ID || (r.Status != StatusActive && r.Status != StatusSuspended) {
				continue
			}
			if err := tx.Update(ctx, transition(r, StatusClosedByOther, id, now)); err != nil {
				return err
			}
			changed = append(changed, ended{id: r.ID, status: StatusClosedByOther})
		}
		if err := tx.Update(ctx, transition(cur, StatusRevoked, id, now)); err != nil {
			return err
		}
		return tx.Insert(ctx, fresh)
	})
	if err != nil {
		return Issued{}, err
	}

	s.metrics.transition(StatusActive)
	s.log.Info("session.reclaim",
		"account_id", claims.AccountID,
		"old_session_id", claims.SessionID,
		"session_id", id,
		"credential_fp", token.Fingerprint(issued.Credential),
		"displaced", len(changed),
	)
	s.announce(changed)
	return issued, nil
}

// Reactivate restores a suspended session within ReactivationWindow. Whatever
// session is active at that moment becomes superseded.
func (s *Service) Reactivate(ctx context.Context, credential string) (Issued, error) {
	now := s.now()
	claims, err := s.verifyAnyStatus(credential, now)
	if err != nil {
		return Issued{}, err
	}

	var (
		restored Row
		changed  []ended
	)
	err = s.store.WithAccount(ctx, claims.AccountID, func(tx AccountTx) error {
		cur, err := tx.Get(ctx, claims.SessionID)
		if err != nil {
			return err
		}
		if cur.Status != StatusSuspended {
			return StateError{Op: "session.Reactivate", Status: cur.Status, Err: ErrNotReactivatable}
		}
		if cur.SuspendedAt == nil || now.Sub(*cur.SuspendedAt) > s.cfg.ReactivationWindow {
			return ErrReactivationWindowExpired
		}
		if !cur.ExpiresAt.After(now) {
			return ErrSessionExpired
		}

		rows, err := tx.Sessions(ctx)
		if err != nil {
			return err
		}
		for _, r := range rows {
			if r.Status != StatusActive {
				continue
			}
			if err := tx.Update(ctx, transition(r, StatusSuperseded, cur.ID, now)); err != nil {
				return err
			}
			changed = append(changed, ended{id: r.ID, status: StatusSuperseded})
		}

		cur.Status = StatusActive
		cur.UpdatedAt = now
		cur.SuspendedAt = nil
		cur.EndedBy = nil
		restored = cur
		return tx.Update(ctx, cur)
	})
	if err != nil {
		return Issued{}, err
	}

	issued, err := s.issue(restored, now)
	if err != nil {
		return Issued{}, err
	}

	s.metrics.transition(StatusActive)
	s.log.Info("session.reactivate",
		"account_id", claims.AccountID,
		"session_id", restored.ID,
		"superseded", len(changed),
	)
	s.announce(changed)
	return issued, nil
}

// Logout revokes the credential's session. Terminal sessions are left as they are.
func (s *Service) Logout(ctx context.Context, credential string) error {
	now := s.now()
	claims, err := s.verifyAnyStatus(credential, now)
	if err != nil {
		return err
	}

	var changed []ended
	err = s.store.WithAccount(ctx, claims.AccountID, func(tx AccountTx) error {
		cur, err := tx.Get(ctx, claims.SessionID)
		if err != nil {
			return err
		}
		if cur.Status.Terminal() {
			return nil
		}
		cur.Status = StatusRevoked
		cur.UpdatedAt = now
		cur.SuspendedAt = nil
		changed = append(changed, ended{id: cur.ID, status: StatusRevoked})
		return tx.Update(ctx, cur)
	})
	if err != nil {
		return err
	}

	s.log.Info("session.logout", "account_id", claims.AccountID, "session_id", claims.SessionID)
	s.announce(changed)
	return nil
}

func (s *Service) issue(r Row, now time.Time) (Issued, error) {
	cred, exp, err := s.tokens.Issue(Claims{
		AccountID: r.AccountID,
		SessionID: r.ID,
		DeviceID:  r.DeviceID,
		ExpiresAt: r.ExpiresAt,
	}, now)
	if err != nil {
		return Issued{}, err
	}
	return Issued{
		AccountID:  r.AccountID,
		SessionID:  r.ID,
		DeviceID:   r.DeviceID,
		Credential: cred,
		ExpiresAt:  exp,
	}, nil
}

func (s *Service) announce(changed []ended) {
	for _, c := range changed {
		s.metrics.transition(c.status)
		s.log.Info("session.ended", "session_id", c.id, "status", string(c.status))
		if s.notify != nil {
			s.notify.SessionEnded(c.id, ReasonCode(c.status))
		}
	}
}
