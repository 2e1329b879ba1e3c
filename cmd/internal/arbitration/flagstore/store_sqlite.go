package flagstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS arbitration_kv (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// SQLiteStore implements Store over a single SQLite file.
//
// All three keys live in one table so a purge is a single transaction.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (or creates) the store at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("flagstore: storage path is required")
	}

	dsn := sqliteDSN(path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer keeps SQLite from returning SQLITE_BUSY under our own concurrency.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

// sqliteDSN enables WAL with full fsync. The modernc driver only honors
// pragmas passed as _pragma parameters.
func sqliteDSN(path string) string {
	return filepath.Clean(path) +
		"?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(5000)"
}

// JournalMode reports the journal mode the connection runs with.
func (s *SQLiteStore) JournalMode(ctx context.Context) (string, error) {
	var mode string
	if err := s.db.QueryRowContext(ctx, `PRAGMA journal_mode`).Scan(&mode); err != nil {
		return "", fmt.Errorf("journal mode: %w", err)
	}
	return mode, nil
}

func (s *SQLiteStore) Load(ctx context.Context) (Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM arbitration_kv`)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load flags: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snap Snapshot
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return Snapshot{}, fmt.Errorf("scan flag: %w", err)
		}
		switch key {
		case KeyCredential:
			snap.Credential = value
		case KeyClosedByOther:
			snap.ClosedByOther = value == "true"
		case KeySuspended:
			snap.Suspended = value == "true"
		}
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("load flags: %w", err)
	}
	return snap, nil
}

func (s *SQLiteStore) SetCredential(ctx context.Context, credential string) error {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return ErrEmptyCredential
	}
	return s.put(ctx, KeyCredential, credential)
}

func (s *SQLiteStore) SetFlag(ctx context.Context, flag Flag, on bool) error {
	if !validFlag(flag) {
		return ErrUnknownFlag
	}
	if !on {
		return s.del(ctx, string(flag))
	}
	return s.put(ctx, string(flag), "true")
}

func (s *SQLiteStore) ClearFlags(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM arbitration_kv WHERE key IN (?, ?)`,
		KeyClosedByOther, KeySuspended,
	)
	if err != nil {
		return fmt.Errorf("clear flags: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Purge(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("purge: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM arbitration_kv WHERE key IN (?, ?, ?)`,
		KeyCredential, KeyClosedByOther, KeySuspended,
	); err != nil {
		return fmt.Errorf("purge: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("purge commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) put(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO arbitration_kv (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, s.now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) del(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM arbitration_kv WHERE key = ?`, key)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}
