package db

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/raworc/raworc/internal/db/dialect"
)

const (
	sqliteBusyTimeout = 5 * time.Second

	// Readers run on WAL snapshots; four connections is plenty for the
	// control plane's read traffic.
	sqliteReaderConns = 4
)

// sqliteDSN renders a file: DSN for the go-sqlite3 driver. mode is "rwc" for
// the writer and "ro" for readers; journal_mode and synchronous are database
// level settings the writer alone establishes.
func sqliteDSN(path, mode string) string {
	params := url.Values{}
	params.Set("_foreign_keys", "on")
	params.Set("_mode", mode)
	params.Set("_busy_timeout", fmt.Sprint(int(sqliteBusyTimeout/time.Millisecond)))
	params.Set("_cache", "shared")
	if mode == "rwc" {
		params.Set("_journal_mode", "WAL")
		params.Set("_synchronous", "NORMAL")
	}
	return "file:" + path + "?" + params.Encode()
}

// openSQLiteWriter opens the single write connection. One connection
// serializes writes and keeps SQLITE_BUSY out of the write path.
func openSQLiteWriter(path string) (*sqlx.DB, error) {
	abs := absSQLitePath(path)
	if dir := filepath.Dir(abs); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to prepare database path: %w", err)
		}
	}
	if err := touchFile(abs); err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}

	conn, err := sql.Open(dialect.SQLite3, sqliteDSN(abs, "rwc"))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	return sqlx.NewDb(conn, dialect.SQLite3), nil
}

// openSQLiteReader opens the read-only pool. The writer must have created the
// file and set WAL first.
func openSQLiteReader(path string) (*sqlx.DB, error) {
	conn, err := sql.Open(dialect.SQLite3, sqliteDSN(absSQLitePath(path), "ro"))
	if err != nil {
		return nil, fmt.Errorf("failed to open read-only database: %w", err)
	}
	conn.SetMaxOpenConns(sqliteReaderConns)
	conn.SetMaxIdleConns(sqliteReaderConns)
	return sqlx.NewDb(conn, dialect.SQLite3), nil
}

// openPostgres opens a pgx-backed pool and verifies the server is reachable.
func openPostgres(dsn string, maxConns, minConns int) (*sqlx.DB, error) {
	conn, err := sql.Open(dialect.PGX, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}

	if maxConns <= 0 {
		maxConns = 25
	}
	if minConns <= 0 {
		minConns = 5
	}
	conn.SetMaxOpenConns(maxConns)
	conn.SetMaxIdleConns(minConns)

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping postgres database: %w", err)
	}
	return sqlx.NewDb(conn, dialect.PGX), nil
}

func absSQLitePath(path string) string {
	if path == "" {
		return path
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

func touchFile(path string) error {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	return file.Close()
}
