// Package db opens the database behind the control plane. A single
// DATABASE_URL selects the backend: sqlite:// for an embedded file database,
// postgres:// for a server.
package db

import (
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/raworc/raworc/internal/common/config"
)

// Pool is the pair of handles the store runs on. With SQLite the writer is a
// single WAL-mode connection and the reader a small read-only pool, so reads
// never queue behind writes. With Postgres pgx pools internally and both
// handles are the same *sqlx.DB.
type Pool struct {
	writer *sqlx.DB
	reader *sqlx.DB
}

// Open builds a Pool from the configured DATABASE_URL.
func Open(cfg config.DatabaseConfig) (*Pool, error) {
	if cfg.IsPostgres() {
		pg, err := openPostgres(cfg.URL, cfg.MaxConns, cfg.MinConns)
		if err != nil {
			return nil, err
		}
		return &Pool{writer: pg, reader: pg}, nil
	}

	path := cfg.SQLitePath()
	if path == "" {
		return nil, fmt.Errorf("sqlite database path is empty")
	}

	writer, err := openSQLiteWriter(path)
	if err != nil {
		return nil, err
	}
	reader, err := openSQLiteReader(path)
	if err != nil {
		_ = writer.Close()
		return nil, err
	}
	return &Pool{writer: writer, reader: reader}, nil
}

// Writer returns the handle for INSERT, UPDATE, DELETE, and transactions.
func (p *Pool) Writer() *sqlx.DB { return p.writer }

// Reader returns the handle for SELECT queries.
func (p *Pool) Reader() *sqlx.DB { return p.reader }

// Close closes both handles. They are the same object under Postgres.
func (p *Pool) Close() error {
	err := p.writer.Close()
	if p.reader != p.writer {
		if rerr := p.reader.Close(); rerr != nil && err == nil {
			err = rerr
		}
	}
	return err
}
