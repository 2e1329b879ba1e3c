// Package authapi exposes the session contract over HTTP: login, logout,
// reclaim, reactivate and the /me probe.
package authapi

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"arbiter/cmd/internal/auth/accounts"
	"arbiter/cmd/internal/auth/session"
	"arbiter/cmd/security/token"
	sessionv1 "arbiter/contracts/session/v1"
)

// Messages shown to users by clients; kept here so every endpoint agrees.
const (
	msgClosedByOther      = "This session was closed because your account signed in on another device."
	msgSuspended          = "This session was paused because your account signed in on another device."
	reasonSuspended       = "You can continue here for a few minutes; the other device will be signed out."
	msgSuperseded         = "This session is no longer active."
	reasonSuperseded      = "Session reactivated on another device."
	msgNotReclaimable     = "This session can no longer be reclaimed."
	msgNotReactivatable   = "This session can no longer be restored."
	msgWindowExpired      = "The time to restore this session has run out."
	msgUnauthorized       = "invalid or expired credential"
	msgInvalidCredentials = "invalid credentials"
)

// AccountAuthenticator verifies login credentials.
type AccountAuthenticator interface {
	Authenticate(name, password string) (accounts.Account, error)
}

// Handler wires HTTP endpoints to the account registry and session service.
type Handler struct {
	log *slog.Logger
	cfg Config

	accounts AccountAuthenticator
	sessions *session.Service
}

// NewHandler constructs a Handler.
func NewHandler(log *slog.Logger, cfg Config, accts AccountAuthenticator, sessions *session.Service) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if accts == nil || sessions == nil {
		return nil, errors.New("authapi: nil dependency")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 64 << 10
	}
	return &Handler{log: log, cfg: cfg, accounts: accts, sessions: sessions}, nil
}

// Register wires routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc(sessionv1.PathLogin, h.handleLogin)
	mux.HandleFunc(sessionv1.PathLogout, h.handleLogout)
	mux.HandleFunc(sessionv1.PathReclaim, h.handleReclaim)
	mux.HandleFunc(sessionv1.PathReactivate, h.handleReactivate)
	mux.HandleFunc(sessionv1.PathMe, h.handleMe)
}

// ---- handlers ----

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req sessionv1.LoginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if strings.TrimSpace(req.Account) == "" || req.Password == "" || strings.TrimSpace(req.DeviceID) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "account, password and device_id are required")
		return
	}
	mode, err := session.ParseTakeover(req.Takeover)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "takeover must be suspend or close")
		return
	}

	acct, err := h.accounts.Authenticate(req.Account, req.Password)
	if err != nil {
		h.log.Info("auth.login.failed", "account", accounts.NormalizeName(req.Account), "ip", ipString(clientIP(r, h.cfg.TrustProxy)))
		writeError(w, http.StatusUnauthorized, "invalid_credentials", msgInvalidCredentials)
		return
	}

	issued, err := h.sessions.Login(r.Context(), acct.ID, req.DeviceID, mode)
	if err != nil {
		if errors.Is(err, session.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid login request")
			return
		}
		h.log.Error("auth.login.issue_session.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	writeJSON(w, http.StatusOK, sessionv1.LoginResponse{
		SessionID:  issued.SessionID,
		Credential: issued.Credential,
		ExpiresAt:  issued.ExpiresAt,
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cred, ok := requireBearer(w, r)
	if !ok {
		return
	}

	if err := h.sessions.Logout(r.Context(), cred); err != nil {
		if h.writeAuthError(w, err) {
			return
		}
		h.log.Error("auth.logout.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleReclaim(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cred, ok := requireBearer(w, r)
	if !ok {
		return
	}

	issued, err := h.sessions.Reclaim(r.Context(), cred)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, sessionv1.ReclaimResponse{Success: true, NewCredential: issued.Credential})
	case errors.Is(err, session.ErrNotReclaimable):
		writeJSON(w, http.StatusConflict, sessionv1.ReclaimResponse{Success: false, Message: msgNotReclaimable})
	case h.writeAuthError(w, err):
	default:
		h.log.Error("session.reclaim.fail", "err", err, "credential_fp", token.Fingerprint(cred))
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

func (h *Handler) handleReactivate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cred, ok := requireBearer(w, r)
	if !ok {
		return
	}

	issued, err := h.sessions.Reactivate(r.Context(), cred)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, sessionv1.ReactivateResponse{Success: true, Credential: issued.Credential})
	case errors.Is(err, session.ErrReactivationWindowExpired):
		writeJSON(w, http.StatusConflict, sessionv1.ReactivateResponse{Success: false, Message: msgWindowExpired})
	case errors.Is(err, session.ErrNotReactivatable):
		writeJSON(w, http.StatusConflict, sessionv1.ReactivateResponse{Success: false, Message: msgNotReactivatable})
	case h.writeAuthError(w, err):
	default:
		h.log.Error("session.reactivate.fail", "err", err, "credential_fp", token.Fingerprint(cred))
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cred, ok := requireBearer(w, r)
	if !ok {
		return
	}

	claims, err := h.sessions.Authenticate(r.Context(), cred)
	if err != nil {
		if h.writeAuthError(w, err) {
			return
		}
		h.log.Error("auth.me.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	writeJSON(w, http.StatusOK, sessionv1.MeResponse{
		AccountID: claims.AccountID,
		SessionID: claims.SessionID,
		DeviceID:  claims.DeviceID,
	})
}

// ---- helpers ----

// writeAuthError maps session errors to the contract envelope. It reports
// false for errors it does not own.
func (h *Handler) writeAuthError(w http.ResponseWriter, err error) bool {
	switch {
	case errors.Is(err, session.ErrSessionClosedByOther):
		writeErrorBody(w, http.StatusUnauthorized, sessionv1.Error{
			Code:    sessionv1.ReasonClosedByOtherDevice,
			Message: msgClosedByOther,
		})
	case errors.Is(err, session.ErrSessionSuspended):
		writeErrorBody(w, http.StatusForbidden, sessionv1.Error{
			Code:    sessionv1.ReasonSuspended,
			Message: msgSuspended,
			Reason:  reasonSuspended,
		})
	case errors.Is(err, session.ErrSessionSuperseded):
		writeErrorBody(w, http.StatusForbidden, sessionv1.Error{
			Code:    sessionv1.ReasonSuperseded,
			Message: msgSuperseded,
			Action:  sessionv1.ActionCloseImmediately,
			Reason:  reasonSuperseded,
		})
	case errors.Is(err, session.ErrInvalidToken),
		errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, session.ErrSessionExpired),
		errors.Is(err, session.ErrSessionRevoked):
		writeError(w, http.StatusUnauthorized, "unauthorized", msgUnauthorized)
	default:
		return false
	}
	return true
}

func requireBearer(w http.ResponseWriter, r *http.Request) (string, bool) {
	tok := bearerToken(r)
	if tok == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return "", false
	}
	return tok, true
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}

func ipString(ip net.IP) string {
	if ip == nil {
		return ""
	}
	return ip.String()
}
