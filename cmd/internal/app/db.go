package app

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"
)

// dbConnectMaxElapsed bounds how long startup waits for Postgres to accept
// connections.
const dbConnectMaxElapsed = 20 * time.Second

// NewDBPool builds a pgxpool from cfg and waits until it can hand out a
// connection. Schema setup is left to the stores (session.PostgresStore.EnsureSchema).
func NewDBPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("db: parse url: %w", err)
	}
	if cfg.DBMaxConns > 0 {
		pcfg.MaxConns = cfg.DBMaxConns
	}
	if cfg.DBMinConns >= 0 {
		pcfg.MinConns = cfg.DBMinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("db: pool: %w", err)
	}

	// Postgres commonly comes up after us in compose setups.
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = dbConnectMaxElapsed
	ping := func() error { return PingDB(ctx, pool, 3*time.Second) }
	if err := backoff.Retry(ping, backoff.WithContext(b, ctx)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db: unreachable: %w", err)
	}
	return pool, nil
}

// PingDB checks if a connection can be acquired within timeout.
func PingDB(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	conn.Release()
	return nil
}
