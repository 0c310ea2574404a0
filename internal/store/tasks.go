package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"

	apperrors "github.com/raworc/raworc/internal/common/errors"
	"github.com/raworc/raworc/internal/db/dialect"
	"github.com/raworc/raworc/internal/session"
)

const taskColumns = `id, task_type, session_id, payload, status, error, created_at, updated_at, started_at, completed_at`

// EnqueueTask inserts a pending task for the lifecycle worker.
func (s *Store) EnqueueTask(ctx context.Context, taskType session.TaskType, sessionID string, payload json.RawMessage) (*session.Task, error) {
	task := &session.Task{
		ID:        uuid.New().String(),
		Type:      taskType,
		SessionID: sessionID,
		Payload:   types.JSONText(emptyJSONObject(payload)),
		Status:    session.TaskPending,
	}
	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO session_tasks (id, task_type, session_id, payload, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), task.ID, string(task.Type), task.SessionID, string(task.Payload), string(task.Status), task.CreatedAt, task.UpdatedAt)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return task, nil
}

// ClaimPendingTasks atomically moves up to limit pending tasks to processing
// and returns them, oldest first. This is the at-least-once boundary.
//
// Postgres claims in one statement with FOR UPDATE SKIP LOCKED so concurrent
// workers never double-claim. SQLite runs the select and update inside one
// transaction on the single writer connection, which serializes claimers.
func (s *Store) ClaimPendingTasks(ctx context.Context, limit int) ([]session.Task, error) {
	if limit <= 0 {
		limit = 1
	}
	now := time.Now().UTC()

	if s.isPostgres() {
		query := s.db.Rebind(`
			UPDATE session_tasks
			SET status = ?, started_at = ?, updated_at = ?
			WHERE id IN (
				SELECT id FROM session_tasks
				WHERE status = ?
				ORDER BY created_at ASC
				LIMIT ?` + dialect.SkipLocked(s.db.DriverName()) + `
			)
			RETURNING ` + taskColumns)
		tasks := []session.Task{}
		err := s.db.SelectContext(ctx, &tasks, query,
			string(session.TaskProcessing), now, now, string(session.TaskPending), limit)
		if err != nil {
			return nil, apperrors.Database(err)
		}
		return tasks, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	defer func() { _ = tx.Rollback() }()

	ids := []string{}
	err = tx.SelectContext(ctx, &ids, tx.Rebind(`
		SELECT id FROM session_tasks WHERE status = ? ORDER BY created_at ASC LIMIT ?
	`), string(session.TaskPending), limit)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	for _, id := range ids {
		_, err = tx.ExecContext(ctx, tx.Rebind(`
			UPDATE session_tasks SET status = ?, started_at = ?, updated_at = ? WHERE id = ?
		`), string(session.TaskProcessing), now, now, id)
		if err != nil {
			return nil, apperrors.Database(err)
		}
	}

	query, args, err := sqlxIn(`SELECT `+taskColumns+` FROM session_tasks WHERE id IN (?) ORDER BY created_at ASC`, ids)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	tasks := []session.Task{}
	if err := tx.SelectContext(ctx, &tasks, tx.Rebind(query), args...); err != nil {
		return nil, apperrors.Database(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apperrors.Database(err)
	}
	return tasks, nil
}

// CompleteTask finalizes a task as completed.
func (s *Store) CompleteTask(ctx context.Context, id string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE session_tasks SET status = ?, completed_at = ?, updated_at = ? WHERE id = ?
	`), string(session.TaskCompleted), now, now, id)
	if err != nil {
		return apperrors.Database(err)
	}
	return nil
}

// FailTask finalizes a task as failed with the error text.
func (s *Store) FailTask(ctx context.Context, id string, taskErr error) error {
	now := time.Now().UTC()
	msg := taskErr.Error()
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE session_tasks SET status = ?, error = ?, completed_at = ?, updated_at = ? WHERE id = ?
	`), string(session.TaskFailed), msg, now, now, id)
	if err != nil {
		return apperrors.Database(err)
	}
	return nil
}

// GetTask returns a task by id.
func (s *Store) GetTask(ctx context.Context, id string) (*session.Task, error) {
	var task session.Task
	err := s.ro.GetContext(ctx, &task, s.ro.Rebind(`
		SELECT `+taskColumns+` FROM session_tasks WHERE id = ?
	`), id)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return &task, nil
}

// HasActiveTask reports whether the session has a pending or processing task.
// The health loop uses this to avoid racing in-flight lifecycle work.
func (s *Store) HasActiveTask(ctx context.Context, sessionID string) (bool, error) {
	var count int
	err := s.ro.GetContext(ctx, &count, s.ro.Rebind(`
		SELECT COUNT(*) FROM session_tasks WHERE session_id = ? AND status IN (?, ?)
	`), sessionID, string(session.TaskPending), string(session.TaskProcessing))
	if err != nil {
		return false, apperrors.Database(err)
	}
	return count > 0, nil
}

// ListTasks returns the tasks for a session, oldest first.
func (s *Store) ListTasks(ctx context.Context, sessionID string) ([]session.Task, error) {
	tasks := []session.Task{}
	err := s.ro.SelectContext(ctx, &tasks, s.ro.Rebind(`
		SELECT `+taskColumns+` FROM session_tasks WHERE session_id = ? ORDER BY created_at ASC
	`), sessionID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return tasks, nil
}
