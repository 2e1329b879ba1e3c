// Package app wires the sessiond runtime: config, logging, session store,
// HTTP routes and the realtime media gateway.
package app

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"arbiter/cmd/internal/auth/accounts"
	authapi "arbiter/cmd/internal/auth/api"
	"arbiter/cmd/internal/auth/session"
	"arbiter/cmd/internal/realtime"
	"arbiter/cmd/security/password"

	paseto "aidanwoods.dev/go-paseto"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// App owns the HTTP server and its dependencies.
type App struct {
	cfg Config
	log *slog.Logger

	pool     *pgxpool.Pool
	registry *prometheus.Registry

	sessions *session.Service
	gateway  *realtime.Gateway
	auth     *authapi.Handler
}

// New constructs a fully wired App.
func New(ctx context.Context, cfg Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	sessCfg, err := loadSessionConfig(cfg, log)
	if err != nil {
		return nil, err
	}
	tokens, err := session.NewPasetoV4PublicManager(sessCfg)
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, log: log, registry: reg}

	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}

	pwCfg, err := password.FromEnv(password.DevConfig())
	if err != nil {
		a.closePool()
		return nil, err
	}
	accts, err := accounts.LoadFromEnv(pwCfg)
	if err != nil {
		a.closePool()
		return nil, err
	}
	if accts.Len() == 0 {
		log.Warn("accounts.empty", "hint", "set "+accounts.EnvDevAccounts+"=name:password,...")
	}

	media := &mediaAuth{}
	a.gateway = realtime.NewGateway(log, media, realtime.LoadGatewayConfigFromEnv())
	a.sessions = session.NewService(sessCfg, store, tokens,
		session.WithLogger(log),
		session.WithMetrics(session.NewMetrics(reg)),
		session.WithNotifier(gatewayNotifier{gw: a.gateway}),
	)
	media.sessions = a.sessions

	a.auth, err = authapi.NewHandler(log, authapi.LoadConfigFromEnv(), accts, a.sessions)
	if err != nil {
		a.closePool()
		return nil, err
	}
	return a, nil
}

// loadSessionConfig reads the session config, falling back to a throwaway
// signing key in dev mode when none is configured.
func loadSessionConfig(cfg Config, log *slog.Logger) (session.Config, error) {
	sessCfg, err := session.LoadConfigFromEnv()
	if err == nil {
		return sessCfg, nil
	}
	if !cfg.DevEphemeralKey || os.Getenv("ARBITER_PASETO_V4_SECRET_KEY_HEX") != "" {
		return session.Config{}, err
	}

	sessCfg = session.DefaultConfig()
	sessCfg.PasetoV4SecretKeyHex = paseto.NewV4AsymmetricSecretKey().ExportHex()
	log.Warn("session.signing_key.ephemeral")
	return sessCfg, nil
}

// openStore decides between Postgres-backed persistence and the in-memory store.
func (a *App) openStore(ctx context.Context) (session.Store, error) {
	if a.cfg.DatabaseURL == "" {
		a.log.Info("db.disabled.inmemory_store")
		return session.NewMemoryStore(), nil
	}

	pool, err := NewDBPool(ctx, a.cfg)
	if err != nil {
		return nil, err
	}
	store := session.NewPostgresStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	a.pool = pool
	a.log.Info("db.enabled.postgres_store")
	return store, nil
}

func (a *App) closePool() {
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
}

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler { return a.routes() }

// Run starts the HTTP server and blocks until context cancellation or a fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.routes(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	base := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"base_url", base,
		"ws_url", wsBaseURL(base)+"/ws",
		"db_enabled", a.pool != nil,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		a.closePool()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	err := srv.Shutdown(shutdownCtx)
	if err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
	}
	a.closePool()

	a.log.Info("server.stopped", "media_connections", a.gateway.Connections())
	return err
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// runtimeBaseURL turns a listen address into a URL a local client can dial.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return "http://" + addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func wsBaseURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return "ws://" + base
	}
}
