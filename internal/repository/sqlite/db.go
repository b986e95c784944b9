// Package sqlite implements internal/repository's ports on top of
// modernc.org/sqlite, a pure-Go SQLite driver requiring no cgo toolchain.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps the pooled connection shared by all repository implementations.
type DB struct {
	conn *sql.DB
}

// Open creates the database file's parent directory if needed, opens a
// WAL-mode connection with foreign keys enforced, and applies Schema.
func Open(path string) (*DB, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	}

	conn, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	conn.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers anyway; avoid SQLITE_BUSY churn.

	if err := InitSchema(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Conn exposes the pooled *sql.DB that the New*Repository constructors take
// (internal/di passes it to each of them).
func (d *DB) Conn() *sql.DB { return d.conn }

func (d *DB) Close() error { return d.conn.Close() }
