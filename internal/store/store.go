// Package store provides the relational storage layer over sqlx. It supports
// SQLite (single-writer WAL) and PostgreSQL through the db pool and the
// dialect helpers.
package store

import (
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/raworc/raworc/internal/db"
	"github.com/raworc/raworc/internal/db/dialect"
)

// Store provides durable storage for principals, policy, agents, sessions,
// messages, and the lifecycle task queue.
type Store struct {
	db *sqlx.DB // writer
	ro *sqlx.DB // reader (read-only pool for SQLite)
}

// New creates a Store on the given pool and initializes the schema.
func New(pool *db.Pool) (*Store, error) {
	s := &Store{db: pool.Writer(), ro: pool.Reader()}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Driver returns the underlying driver name (sqlite3 or pgx).
func (s *Store) Driver() string {
	return s.db.DriverName()
}

func (s *Store) isPostgres() bool {
	return dialect.IsPostgres(s.db.DriverName())
}

// initSchema creates the tables if they don't exist.
func (s *Store) initSchema() error {
	jsonType := dialect.JSONType(s.db.DriverName())

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS service_accounts (
			id TEXT PRIMARY KEY,
			"user" TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			description TEXT,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			last_login_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS roles (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			rules ` + jsonType + ` NOT NULL,
			description TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS role_bindings (
			id TEXT PRIMARY KEY,
			role_name TEXT NOT NULL,
			principal_name TEXT NOT NULL,
			principal_type TEXT NOT NULL,
			workspace TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS agents (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			workspace TEXT NOT NULL,
			description TEXT,
			instructions TEXT NOT NULL,
			model TEXT NOT NULL,
			tools ` + jsonType + ` NOT NULL,
			routes ` + jsonType + ` NOT NULL,
			guardrails ` + jsonType + ` NOT NULL,
			knowledge_bases ` + jsonType + ` NOT NULL,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			UNIQUE (name, workspace)
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			workspace TEXT NOT NULL,
			starting_prompt TEXT,
			state TEXT NOT NULL,
			waiting_timeout_seconds BIGINT,
			container_id TEXT,
			persistent_volume_id TEXT,
			created_by TEXT NOT NULL,
			parent_session_id TEXT,
			created_at TIMESTAMP NOT NULL,
			started_at TIMESTAMP,
			last_activity_at TIMESTAMP,
			terminated_at TIMESTAMP,
			termination_reason TEXT,
			metadata ` + jsonType + ` NOT NULL,
			deleted_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS session_agents (
			session_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			assigned_at TIMESTAMP NOT NULL,
			configuration ` + jsonType + ` NOT NULL,
			PRIMARY KEY (session_id, agent_id)
		)`,
		`CREATE TABLE IF NOT EXISTS session_messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			agent_id TEXT,
			metadata ` + jsonType + ` NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS session_tasks (
			id TEXT PRIMARY KEY,
			task_type TEXT NOT NULL,
			session_id TEXT NOT NULL,
			payload ` + jsonType + ` NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			error TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			started_at TIMESTAMP,
			completed_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS command_results (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			task_id TEXT NOT NULL,
			command TEXT NOT NULL,
			stdout TEXT NOT NULL DEFAULT '',
			stderr TEXT NOT NULL DEFAULT '',
			exit_code INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_workspace ON sessions(workspace)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_state ON sessions(state)`,
		`CREATE INDEX IF NOT EXISTS idx_session_messages_session ON session_messages(session_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_session_tasks_status ON session_tasks(status, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_role_bindings_principal ON role_bindings(principal_name, principal_type)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}
