package app

import (
	"context"
	"errors"

	"arbiter/cmd/internal/auth/session"
	"arbiter/cmd/internal/realtime"
)

// mediaAuth adapts the session service to the realtime gateway. Sessions that
// lost authority surface as *realtime.RevokedError with their reason code.
type mediaAuth struct {
	sessions *session.Service
}

func (m *mediaAuth) AuthenticateMedia(ctx context.Context, credential string) (realtime.Principal, error) {
	claims, err := m.sessions.Authenticate(ctx, credential)
	if err != nil {
		return realtime.Principal{}, revokedOr(err)
	}
	return realtime.Principal{AccountID: claims.AccountID, SessionID: claims.SessionID}, nil
}

func (m *mediaAuth) CheckSession(ctx context.Context, sessionID string) error {
	return revokedOr(m.sessions.CheckSession(ctx, sessionID))
}

func revokedOr(err error) error {
	var status session.Status
	switch {
	case err == nil:
		return nil
	case errors.Is(err, session.ErrSessionClosedByOther):
		status = session.StatusClosedByOther
	case errors.Is(err, session.ErrSessionSuspended):
		status = session.StatusSuspended
	case errors.Is(err, session.ErrSessionSuperseded):
		status = session.StatusSuperseded
	case errors.Is(err, session.ErrSessionRevoked):
		status = session.StatusRevoked
	default:
		return err
	}
	return &realtime.RevokedError{Code: session.ReasonCode(status)}
}

// gatewayNotifier pushes session_revoked to open media sessions.
type gatewayNotifier struct {
	gw *realtime.Gateway
}

func (n gatewayNotifier) SessionEnded(sessionID, code string) {
	n.gw.Revoke(sessionID, code)
}
