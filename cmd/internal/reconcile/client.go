// Package reconcile is the HTTP side of the reclaim / reactivate handshake.
//
// Every failure is converted into the arbitration error taxonomy here; callers
// never see raw HTTP statuses.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"arbiter/cmd/internal/arbitration"
	"arbiter/cmd/internal/arbitration/bridge"
	sessionv1 "arbiter/contracts/session/v1"
)

const maxBody = 1 << 20

var errOutsideContract = errors.New("response outside the session contract")

// Client implements arbitration.Reconciler over HTTP.
//
// It must be given a plain (non-bridged) *http.Client: reconciliation failures
// are reported through return values and must not feed the signal bus.
type Client struct {
	cfg  Config
	http *http.Client
	log  *slog.Logger
}

var _ arbitration.Reconciler = (*Client)(nil)

// New constructs a Client. A nil hc uses a client with a 10s timeout.
func New(cfg Config, hc *http.Client, log *slog.Logger) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: arbitration.DefaultRequestTimeout}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{cfg: cfg.withDefaults(), http: hc, log: log}
}

// Reclaim asks the backend to make the caller's device authoritative again.
func (c *Client) Reclaim(ctx context.Context, credential string) (arbitration.Grant, error) {
	var out sessionv1.ReclaimResponse
	if err := c.post(ctx, "reclaim", c.cfg.ReclaimPath, credential, &out); err != nil {
		return arbitration.Grant{}, err
	}
	if !out.Success {
		return arbitration.Grant{}, &arbitration.RemoteError{Status: http.StatusOK, Message: out.Message}
	}
	if strings.TrimSpace(out.NewCredential) == "" {
		return arbitration.Grant{}, &arbitration.TransportError{Op: "reclaim", Err: errOutsideContract}
	}
	return arbitration.Grant{Credential: out.NewCredential, Message: out.Message}, nil
}

// Reactivate asks the backend to lift the suspension of the caller's session.
func (c *Client) Reactivate(ctx context.Context, credential string) (arbitration.Grant, error) {
	var out sessionv1.ReactivateResponse
	if err := c.post(ctx, "reactivate", c.cfg.ReactivatePath, credential, &out); err != nil {
		return arbitration.Grant{}, err
	}
	if !out.Success {
		return arbitration.Grant{}, &arbitration.RemoteError{Status: http.StatusOK, Message: out.Message}
	}
	return arbitration.Grant{Credential: out.Credential, Message: out.Message}, nil
}

// Probe calls the verification endpoint, retrying transport failures with
// exponential backoff for at most ProbeMaxElapsed.
func (c *Client) Probe(ctx context.Context, credential string) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = c.cfg.ProbeMaxElapsed

	attempt := 0
	op := func() error {
		attempt++
		err := c.probeOnce(ctx, credential)
		if err == nil {
			return nil
		}
		if errors.Is(err, arbitration.ErrTransport) {
			c.log.Debug("reconcile.probe.retry", "attempt", attempt, "err", err)
			return err
		}
		return backoff.Permanent(err)
	}
	return backoff.Retry(op, backoff.WithContext(b, ctx))
}

func (c *Client) probeOnce(ctx context.Context, credential string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.ServerURL+c.cfg.ProbePath, nil)
	if err != nil {
		return &arbitration.TransportError{Op: "probe", Err: err}
	}
	setBearer(req, credential)

	resp, err := c.http.Do(req)
	if err != nil {
		return &arbitration.TransportError{Op: "probe", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return &arbitration.TransportError{Op: "probe", Err: err}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		if sig, ok := bridge.Classify(resp.StatusCode, body); ok {
			return &arbitration.SignalError{Signal: sig}
		}
		if resp.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf("probe: %w", arbitration.ErrTerminalAuth)
		}
		return &arbitration.RemoteError{Status: resp.StatusCode, Message: remoteMessage(body)}
	default:
		return &arbitration.TransportError{Op: "probe", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
}

func (c *Client) post(ctx context.Context, op, path, credential string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.ServerURL+path, nil)
	if err != nil {
		return &arbitration.TransportError{Op: op, Err: err}
	}
	setBearer(req, credential)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &arbitration.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return &arbitration.TransportError{Op: op, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		c.log.Info("reconcile.terminal", "op", op)
		return fmt.Errorf("%s: %w", op, arbitration.ErrTerminalAuth)

	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if err := json.Unmarshal(body, out); err != nil {
			return &arbitration.TransportError{Op: op, Err: fmt.Errorf("%w: %v", errOutsideContract, err)}
		}
		return nil

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		msg := remoteMessage(body)
		if msg == "" && !json.Valid(body) {
			return &arbitration.TransportError{Op: op, Err: fmt.Errorf("status %d", resp.StatusCode)}
		}
		return &arbitration.RemoteError{Status: resp.StatusCode, Message: msg}

	default:
		if msg := remoteMessage(body); msg != "" {
			return &arbitration.RemoteError{Status: resp.StatusCode, Message: msg}
		}
		return &arbitration.TransportError{Op: op, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
}

// remoteMessage extracts a user-facing message from either a {success,message}
// body or the {"error":{...}} envelope.
func remoteMessage(body []byte) string {
	var flat struct {
		Message string          `json:"message"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &flat); err != nil {
		return ""
	}
	if m := strings.TrimSpace(flat.Message); m != "" {
		return m
	}
	var nested sessionv1.Error
	if len(flat.Error) > 0 && json.Unmarshal(flat.Error, &nested) == nil {
		return strings.TrimSpace(nested.Message)
	}
	return ""
}

func setBearer(req *http.Request, credential string) {
	if credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}
}
