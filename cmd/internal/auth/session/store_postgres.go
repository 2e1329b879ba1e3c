package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store using PostgreSQL (arbiter.sessions).
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed session store. The pool is owned by the caller.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const schemaSQL = `
CREATE SCHEMA IF NOT EXISTS arbiter;

CREATE TABLE IF NOT EXISTS arbiter.sessions (
	id           text PRIMARY KEY,
	account_id   text NOT NULL,
	device_id    text NOT NULL,
	status       text NOT NULL,
	created_at   timestamptz NOT NULL,
	updated_at   timestamptz NOT NULL,
	expires_at   timestamptz NOT NULL,
	suspended_at timestamptz NULL,
	ended_by     text NULL
);

CREATE INDEX IF NOT EXISTS sessions_account_status_idx
	ON arbiter.sessions (account_id, status);
`

// EnsureSchema creates the arbiter schema and sessions table when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("session schema: %w", err)
	}
	return nil
}

const selectColumns = `
	id, account_id, device_id, status,
	created_at, updated_at, expires_at, suspended_at, ended_by
`

func scanRow(row pgx.Row) (Row, error) {
	var r Row
	var status string
	err := row.Scan(
		&r.ID,
		&r.AccountID,
		&r.DeviceID,
		&status,
		&r.CreatedAt,
		&r.UpdatedAt,
		&r.ExpiresAt,
		&r.SuspendedAt,
		&r.EndedBy,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Row{}, ErrSessionNotFound
	}
	if err != nil {
		return Row{}, err
	}
	r.Status = Status(status)
	return r, nil
}

// Get loads a session row by ID.
func (s *PostgresStore) Get(ctx context.Context, sessionID string) (Row, error) {
	return scanRow(s.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM arbiter.sessions WHERE id = $1`, sessionID))
}

// WithAccount runs fn inside one transaction holding an advisory lock on the
// account. The lock also covers accounts that have no rows yet, which FOR
// UPDATE alone cannot.
func (s *PostgresStore) WithAccount(ctx context.Context, accountID string, fn func(tx AccountTx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, accountID); err != nil {
		return err
	}

	if err := fn(pgAccountTx{tx: tx, accountID: accountID}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type pgAccountTx struct {
	tx        pgx.Tx
	accountID string
}

func (t pgAccountTx) Sessions(ctx context.Context) ([]Row, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+selectColumns+`
		FROM arbiter.sessions
		WHERE account_id = $1
		  AND status NOT IN ('superseded', 'revoked')
		ORDER BY created_at
		FOR UPDATE
	`, t.accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (t pgAccountTx) Get(ctx context.Context, sessionID string) (Row, error) {
	return scanRow(t.tx.QueryRow(ctx, `
		SELECT `+selectColumns+`
		FROM arbiter.sessions
		WHERE id = $1 AND account_id = $2
		FOR UPDATE
	`, sessionID, t.accountID))
}

func (t pgAccountTx) Insert(ctx context.Context, r Row) error {
	if r.AccountID != t.accountID {
		return ErrInvalidInput
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO arbiter.sessions (
			id, account_id, device_id, status,
			created_at, updated_at, expires_at, suspended_at, ended_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, r.ID, r.AccountID, r.DeviceID, string(r.Status),
		r.CreatedAt, r.UpdatedAt, r.ExpiresAt, r.SuspendedAt, r.EndedBy)
	return err
}

func (t pgAccountTx) Update(ctx context.Context, r Row) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE arbiter.sessions
		SET status = $3,
		    updated_at = $4,
		    expires_at = $5,
		    suspended_at = $6,
		    ended_by = $7
		WHERE id = $1 AND account_id = $2
	`, r.ID, t.accountID, string(r.Status), r.UpdatedAt, r.ExpiresAt, r.SuspendedAt, r.EndedBy)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}
