package device

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"arbiter/cmd/internal/arbitration"
	"arbiter/cmd/internal/arbitration/bridge"
	"arbiter/cmd/internal/presenter"
	sessionv1 "arbiter/contracts/session/v1"
)

var (
	errQuit    = errors.New("quit")
	errEvicted = errors.New("evicted")
)

const intentHelp = "keys: c continue, x close, q quit"

// Run drives the arbitration machine until the user quits, the session is
// evicted or ctx ends. Intents are read line by line from in.
func (a *App) Run(ctx context.Context, in io.Reader) error {
	snap, err := a.store.Load(ctx)
	if err != nil {
		return err
	}
	if !snap.HasCredential() && strings.TrimSpace(a.cfg.Credential) == "" {
		return ErrNotLoggedIn
	}

	bus := arbitration.NewBus(a.log)
	defer bus.Close()

	timeout := a.cfg.Arbitration.RequestTimeout
	if timeout <= 0 {
		timeout = arbitration.DefaultRequestTimeout
	}
	interval := a.cfg.PollInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}

	md := newMedia(a.cfg.MediaURL(), a.store, bus, a.log)
	pl := &poller{
		url:      a.serverURL() + a.probePath(),
		interval: interval,
		http:     bridge.NewClient(nil, bus, timeout, a.log),
		store:    a.store,
		log:      a.log,
	}

	m := a.newMachine(
		arbitration.WithMedia(md),
		arbitration.WithScopedCache(pl),
		arbitration.WithMetrics(arbitration.NewMetrics(a.registry)),
	)

	evicted := make(chan struct{})
	var evictOnce sync.Once
	m.Resetter().Register("media", md.Reset)
	m.Resetter().Register("landing", func(_ context.Context, reason arbitration.ResetReason) error {
		if reason == arbitration.ResetEvicted {
			evictOnce.Do(func() { close(evicted) })
		}
		return nil
	})

	p := presenter.New(m, presenter.NewTextRenderer(a.out), a.log)
	m.Observe(p)

	signals, unsubscribe := bus.Subscribe(0)
	defer unsubscribe()

	if err := m.Rehydrate(ctx); err != nil {
		return fmt.Errorf("rehydrate: %w", err)
	}
	if m.State() == arbitration.StateIdle {
		if err := md.Connect(ctx); err != nil {
			a.log.Warn("media.connect.fail", "err", err)
		}
	}
	a.log.Info("device.run", "state", m.State().String(), "server", a.serverURL())

	stop := make(chan struct{})
	defer close(stop)
	lines := readLines(in, stop)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.Run(gctx, signals) })
	g.Go(func() error { return pl.Run(gctx) })
	g.Go(func() error { return a.intents(gctx, g, p, lines) })
	g.Go(func() error {
		select {
		case <-evicted:
			return errEvicted
		case <-gctx.Done():
			return nil
		}
	})
	if a.cfg.MetricsAddr != "" {
		a.serveMetrics(gctx, g)
	}

	err = g.Wait()

	stopCtx, cancel := context.WithTimeout(context.Background(), arbitration.DefaultMediaStopTimeout)
	defer cancel()
	if serr := md.Stop(stopCtx); serr != nil {
		a.log.Debug("media.stop.fail", "err", serr)
	}

	switch {
	case errors.Is(err, errQuit), errors.Is(err, errEvicted):
		return nil
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		return nil
	default:
		return err
	}
}

// intents maps input lines onto presenter actions. Continue runs on its own
// goroutine so a close typed while a request is in flight reaches Dismiss
// without waiting for the response.
func (a *App) intents(ctx context.Context, g *errgroup.Group, p *presenter.Presenter, lines <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				// No more input; keep serving signals.
				lines = nil
				continue
			}
			switch strings.ToLower(line) {
			case "":
			case "q":
				return errQuit
			case "c":
				g.Go(func() error {
					a.intentDone(line, p.Continue(ctx))
					return nil
				})
			case "x":
				a.intentDone(line, p.Close(ctx))
			default:
				fmt.Fprintln(a.out, intentHelp)
			}
		}
	}
}

func (a *App) intentDone(intent string, err error) {
	switch {
	case err == nil, errors.Is(err, arbitration.ErrInFlight), errors.Is(err, arbitration.ErrStale):
	case errors.Is(err, presenter.ErrNoSurface):
		fmt.Fprintln(a.out, "nothing to confirm")
	default:
		// The surface already shows the failure.
		a.log.Debug("device.intent.fail", "intent", intent, "err", err)
	}
}

func (a *App) serveMetrics(ctx context.Context, g *errgroup.Group) {
	srv := &http.Server{
		Addr:              a.cfg.MetricsAddr,
		Handler:           promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

func (a *App) probePath() string {
	if p := strings.TrimSpace(a.cfg.Reconcile.ProbePath); p != "" {
		return p
	}
	return sessionv1.PathMe
}

func readLines(in io.Reader, stop <-chan struct{}) <-chan string {
	ch := make(chan string)
	if in == nil {
		close(ch)
		return ch
	}
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case ch <- strings.TrimSpace(sc.Text()):
			case <-stop:
				return
			}
		}
	}()
	return ch
}
