package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	apperrors "github.com/raworc/raworc/internal/common/errors"
	"github.com/raworc/raworc/internal/session"
)

// sqlxIn expands an IN (?) clause for a slice argument.
func sqlxIn(query string, args ...any) (string, []any, error) {
	return sqlx.In(query, args...)
}

// CreateCommandResult records the output of one execute_command task.
func (s *Store) CreateCommandResult(ctx context.Context, result *session.CommandResult) error {
	if result.ID == "" {
		result.ID = uuid.New().String()
	}
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO command_results (id, session_id, task_id, command, stdout, stderr, exit_code, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`), result.ID, result.SessionID, result.TaskID, result.Command, result.Stdout, result.Stderr, result.ExitCode, result.CreatedAt)
	if err != nil {
		return apperrors.Database(err)
	}
	return nil
}

// ListCommandResults returns the command results for a session, oldest first.
func (s *Store) ListCommandResults(ctx context.Context, sessionID string) ([]session.CommandResult, error) {
	results := []session.CommandResult{}
	err := s.ro.SelectContext(ctx, &results, s.ro.Rebind(`
		SELECT id, session_id, task_id, command, stdout, stderr, exit_code, created_at
		FROM command_results WHERE session_id = ? ORDER BY created_at ASC
	`), sessionID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return results, nil
}
