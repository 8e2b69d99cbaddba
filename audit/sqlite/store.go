// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/absmach/virgil/audit"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_entries (
  id          TEXT PRIMARY KEY,
  recorded_at INTEGER NOT NULL,
  operation   TEXT NOT NULL,
  queue       TEXT NOT NULL,
  fingerprint TEXT NOT NULL,
  success     INTEGER NOT NULL,
  detail      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_recorded ON audit_entries(recorded_at);
`

var _ audit.Store = (*Store)(nil)

// Store persists audit entries in a SQLite database.
type Store struct {
	db *sql.DB
}

// New opens or creates the database at path.
func New(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("empty db path")
	}

	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	var journalMode string
	if err := s.db.QueryRowContext(ctx, "PRAGMA journal_mode=WAL;").Scan(&journalMode); err != nil {
		return fmt.Errorf("sqlite: set journal_mode=wal: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout=5000;"); err != nil {
		return fmt.Errorf("sqlite: set busy_timeout: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("sqlite: create schema: %w", err)
	}
	return nil
}

// Record stores e.
func (s *Store) Record(ctx context.Context, e audit.Entry) error {
	success := 0
	if e.Success {
		success = 1
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO audit_entries (id, recorded_at, operation, queue, fingerprint, success, detail)
VALUES (?, ?, ?, ?, ?, ?, ?);`,
		e.ID, e.Time.UnixNano(), string(e.Operation), e.Queue, e.Fingerprint, success, e.Detail)
	if err != nil {
		return s.mapErr(err)
	}
	return nil
}

// List returns entries newest first.
func (s *Store) List(ctx context.Context, limit int) ([]audit.Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, recorded_at, operation, queue, fingerprint, success, detail
FROM audit_entries
ORDER BY recorded_at DESC, rowid DESC
LIMIT ?;`, limit)
	if err != nil {
		return nil, s.mapErr(err)
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		var (
			e       audit.Entry
			nanos   int64
			op      string
			success int
		)
		if err := rows.Scan(&e.ID, &nanos, &op, &e.Queue, &e.Fingerprint, &success, &e.Detail); err != nil {
			return nil, err
		}
		e.Time = time.Unix(0, nanos).UTC()
		e.Operation = audit.Operation(op)
		e.Success = success == 1
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) mapErr(err error) error {
	if strings.Contains(err.Error(), "sql: database is closed") {
		return audit.ErrClosed
	}
	return err
}
