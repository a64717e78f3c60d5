// Package storage provides the embedded SQLite storage layer for the gateway.
//
// It owns every persistent row: tenants, intents, the audit trail
// (audit_events + decisions), credentials, token bindings, and the atomic
// rate counters. All other components receive a *DB handle and call typed
// operations; nothing else touches SQL.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"

	_ "modernc.org/sqlite"
)

// DB wraps a database/sql handle over an embedded SQLite file.
//
// SQLite permits a single writer at a time; MaxOpenConns(1) serializes
// writes at the pool level so concurrent handlers queue instead of
// returning SQLITE_BUSY.
type DB struct {
	db     *sql.DB
	logger *slog.Logger
}

// New opens (creating if necessary) the SQLite database at path and applies
// the connection pragmas. An unopenable file is fatal; callers abort startup.
func New(ctx context.Context, path string, logger *slog.Logger) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?%s", path, url.Values{
		"_pragma": []string{
			"journal_mode(WAL)",
			"busy_timeout(5000)",
			"foreign_keys(ON)",
			"synchronous(NORMAL)",
		},
	}.Encode())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: ping %s: %w", path, err)
	}

	return &DB{db: db, logger: logger}, nil
}

// Ping checks connectivity to the database file.
func (db *DB) Ping(ctx context.Context) error {
	return db.db.PingContext(ctx)
}

// Close closes the underlying handle.
func (db *DB) Close() error {
	return db.db.Close()
}

// Handle returns the raw *sql.DB for tests and migrations tooling.
func (db *DB) Handle() *sql.DB {
	return db.db
}
