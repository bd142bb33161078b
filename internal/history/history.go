// Copyright (c) 2025 open-claude contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package history persists tool-invocation audit records.
package history

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("history store closed")

// Invocation is one persisted invocation record.
type Invocation struct {
	ID         string
	ServerID   string
	Capability string
	Arguments  string
	Output     string
	Error      string
	DurationMs int64
	CreatedAt  time.Time
}

// =============================================================================
// STORE
// =============================================================================

// Store is a SQLite-backed invocation log. SQLite only supports a single
// writer, so the connection pool is capped at one.
type Store struct {
	db *sql.DB
}

// Open creates or opens the history database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	const schema = `
CREATE TABLE IF NOT EXISTS invocations (
	id          TEXT PRIMARY KEY,
	server_id   TEXT NOT NULL,
	capability  TEXT NOT NULL,
	arguments   TEXT NOT NULL DEFAULT '',
	output      TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL DEFAULT 0,
	created_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_invocations_created_at ON invocations(created_at);
`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Record persists one invocation.
func (s *Store) Record(inv Invocation) error {
	if s.db == nil {
		return ErrClosed
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now()
	}

	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO invocations
		 (id, server_id, capability, arguments, output, error, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.ServerID, inv.Capability, inv.Arguments,
		inv.Output, inv.Error, inv.DurationMs, inv.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record invocation: %w", err)
	}
	return nil
}

// Recent returns up to limit invocations, newest first.
func (s *Store) Recent(limit int) ([]Invocation, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(
		`SELECT id, server_id, capability, arguments, output, error, duration_ms, created_at
		 FROM invocations ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query invocations: %w", err)
	}
	defer rows.Close()

	var out []Invocation
	for rows.Next() {
		var inv Invocation
		if err := rows.Scan(
			&inv.ID, &inv.ServerID, &inv.Capability, &inv.Arguments,
			&inv.Output, &inv.Error, &inv.DurationMs, &inv.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan invocation: %w", err)
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// Close releases the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
