package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"arbiter/cmd/internal/logging"
)

// Run is the entrypoint used by cmd/sessiond.
// It returns an error instead of calling os.Exit so defers run.
func Run() error {
	cfg := LoadConfig()
	log := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)

	if err := ValidateSecurityConfig(cfg); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := New(ctx, cfg, log)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}
