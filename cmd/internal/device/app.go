package device

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"arbiter/cmd/internal/arbitration"
	"arbiter/cmd/internal/arbitration/flagstore"
	"arbiter/cmd/internal/reconcile"
	"arbiter/cmd/security/token"
	sessionv1 "arbiter/contracts/session/v1"
)

var (
	// ErrNotLoggedIn is returned when no credential is stored on this device.
	ErrNotLoggedIn = errors.New("device: not logged in")
	// ErrLoginRejected wraps a login refused by the server.
	ErrLoginRejected = errors.New("device: login rejected")
)

// App is one device: its durable store and the wiring around it.
type App struct {
	cfg      Config
	log      *slog.Logger
	out      io.Writer
	deviceID string

	store    flagstore.Store
	registry *prometheus.Registry
	http     *http.Client
}

// Open prepares the data dir, resolves the device id and opens the flag store.
func Open(cfg Config, log *slog.Logger, out io.Writer) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	if out == nil {
		out = os.Stdout
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	id, err := resolveDeviceID(cfg.DeviceID, cfg.DataDir)
	if err != nil {
		return nil, err
	}
	store, err := flagstore.OpenSQLite(cfg.StorePath())
	if err != nil {
		return nil, err
	}

	timeout := cfg.Arbitration.RequestTimeout
	if timeout <= 0 {
		timeout = arbitration.DefaultRequestTimeout
	}
	return &App{
		cfg:      cfg,
		log:      log.With("device_id", id),
		out:      out,
		deviceID: id,
		store:    store,
		registry: prometheus.NewRegistry(),
		http:     &http.Client{Timeout: timeout},
	}, nil
}

// Close releases the flag store.
func (a *App) Close() error { return a.store.Close() }

// DeviceID is the id this device logs in with.
func (a *App) DeviceID() string { return a.deviceID }

func (a *App) newMachine(opts ...arbitration.Option) *arbitration.Machine {
	base := []arbitration.Option{
		arbitration.WithLogger(a.log),
		arbitration.WithFallbackCredential(func() string { return a.cfg.Credential }),
	}
	return arbitration.NewMachine(a.cfg.Arbitration, a.store, reconcile.New(a.cfg.Reconcile, a.http, a.log), append(base, opts...)...)
}

// Login authenticates the account on this device and installs the credential.
func (a *App) Login(ctx context.Context, account, password, takeover string) (sessionv1.LoginResponse, error) {
	body, err := json.Marshal(sessionv1.LoginRequest{
		Account:  account,
		Password: password,
		DeviceID: a.deviceID,
		Takeover: takeover,
	})
	if err != nil {
		return sessionv1.LoginResponse{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.serverURL()+sessionv1.PathLogin, bytes.NewReader(body))
	if err != nil {
		return sessionv1.LoginResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return sessionv1.LoginResponse{}, fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return sessionv1.LoginResponse{}, fmt.Errorf("login: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var env sessionv1.ErrorResponse
		if json.Unmarshal(raw, &env) == nil && env.Error.Message != "" {
			return sessionv1.LoginResponse{}, fmt.Errorf("%w: %s", ErrLoginRejected, env.Error.Message)
		}
		return sessionv1.LoginResponse{}, fmt.Errorf("%w: status %d", ErrLoginRejected, resp.StatusCode)
	}

	var out sessionv1.LoginResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return sessionv1.LoginResponse{}, fmt.Errorf("login: decode: %w", err)
	}
	if strings.TrimSpace(out.Credential) == "" {
		return sessionv1.LoginResponse{}, fmt.Errorf("%w: empty credential", ErrLoginRejected)
	}

	if err := a.newMachine().InstallCredential(ctx, out.Credential); err != nil {
		return sessionv1.LoginResponse{}, fmt.Errorf("store credential: %w", err)
	}
	a.log.Info("device.login", "session_id", out.SessionID, "credential_fp", token.Fingerprint(out.Credential))
	return out, nil
}

// Status is what `arbiter status` prints.
type Status struct {
	DeviceID      string
	State         string
	LoggedIn      bool
	ClosedByOther bool
	Suspended     bool
	CredentialFP  string
}

// Status reads the durable state without touching the server.
func (a *App) Status(ctx context.Context) (Status, error) {
	snap, err := a.store.Load(ctx)
	if err != nil {
		return Status{}, err
	}
	cred := snap.Credential
	if cred == "" {
		cred = strings.TrimSpace(a.cfg.Credential)
	}
	st := Status{
		DeviceID:      a.deviceID,
		State:         stateOf(snap, cred != "").String(),
		LoggedIn:      cred != "",
		ClosedByOther: snap.ClosedByOther,
		Suspended:     snap.Suspended,
	}
	if cred != "" {
		st.CredentialFP = token.Fingerprint(cred)
	}
	return st, nil
}

// stateOf mirrors how the machine rehydrates a snapshot.
func stateOf(snap flagstore.Snapshot, hasCredential bool) arbitration.State {
	switch {
	case snap.AnyFlag() && !hasCredential:
		return arbitration.StateResolved
	case snap.ClosedByOther:
		return arbitration.StateClosedByOther
	case snap.Suspended:
		return arbitration.StateSuspended
	default:
		return arbitration.StateIdle
	}
}

// Logout revokes the session on the server when possible and purges the
// device. The purge happens even if the server cannot be reached.
func (a *App) Logout(ctx context.Context) error {
	snap, err := a.store.Load(ctx)
	if err != nil {
		return err
	}
	if snap.HasCredential() {
		if err := a.remoteLogout(ctx, snap.Credential); err != nil {
			a.log.Warn("device.logout.remote.fail", "err", err)
		}
	}
	if err := a.store.Purge(ctx); err != nil {
		return fmt.Errorf("purge: %w", err)
	}
	a.log.Info("device.logout")
	return nil
}

func (a *App) remoteLogout(ctx context.Context, credential string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.serverURL()+sessionv1.PathLogout, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+credential)

	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("logout: status %d", resp.StatusCode)
	}
	return nil
}

func (a *App) serverURL() string {
	return strings.TrimRight(strings.TrimSpace(a.cfg.Reconcile.ServerURL), "/")
}
