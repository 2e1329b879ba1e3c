package device

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"arbiter/cmd/internal/arbitration"
	"arbiter/cmd/internal/arbitration/flagstore"
	sessionv1 "arbiter/contracts/session/v1"
)

// poller calls the probe endpoint through the bridged client. Arbitration
// failures reach the machine through the bus, never through its return values.
// The last /me answer is session-scoped and dropped on every reset.
type poller struct {
	url      string
	interval time.Duration
	http     *http.Client
	store    flagstore.Store
	log      *slog.Logger

	mu sync.Mutex
	me *sessionv1.MeResponse
}

var _ arbitration.ScopedCache = (*poller)(nil)

func (p *poller) Run(ctx context.Context) error {
	t := time.NewTicker(p.interval)
	defer t.Stop()

	for {
		if err := p.tick(ctx); err != nil && ctx.Err() == nil {
			p.log.Debug("poll.fail", "err", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

func (p *poller) tick(ctx context.Context) error {
	snap, err := p.store.Load(ctx)
	if err != nil {
		return err
	}
	// A surface is already up; the machine would discard the signal.
	if !snap.HasCredential() || snap.AnyFlag() {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+snap.Credential)

	resp, err := p.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("probe: status %d", resp.StatusCode)
	}

	var me sessionv1.MeResponse
	if err := json.NewDecoder(resp.Body).Decode(&me); err != nil {
		return fmt.Errorf("probe: decode: %w", err)
	}
	p.mu.Lock()
	p.me = &me
	p.mu.Unlock()
	return nil
}

// Me returns the last successful probe answer.
func (p *poller) Me() (sessionv1.MeResponse, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.me == nil {
		return sessionv1.MeResponse{}, false
	}
	return *p.me, true
}

func (p *poller) PurgeSessionScoped(context.Context) error {
	p.mu.Lock()
	p.me = nil
	p.mu.Unlock()
	return nil
}
