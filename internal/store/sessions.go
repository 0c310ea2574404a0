package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"

	apperrors "github.com/raworc/raworc/internal/common/errors"
	"github.com/raworc/raworc/internal/db/dialect"
	"github.com/raworc/raworc/internal/session"
)

const sessionColumns = `id, name, workspace, starting_prompt, state, waiting_timeout_seconds, container_id, persistent_volume_id,
	created_by, parent_session_id, created_at, started_at, last_activity_at, terminated_at, termination_reason, metadata, deleted_at`

func emptyJSONObject(raw []byte) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}

// CreateSession inserts a new session row in INIT state.
func (s *Store) CreateSession(ctx context.Context, sess *session.Session) error {
	if sess.ID == "" {
		sess.ID = uuid.New().String()
	}
	if sess.Workspace == "" {
		sess.Workspace = session.DefaultWorkspace
	}
	if sess.State == "" {
		sess.State = session.StateInit
	}
	if sess.WaitingTimeoutSeconds == nil {
		timeout := int64(session.DefaultWaitingTimeoutSeconds)
		sess.WaitingTimeoutSeconds = &timeout
	}
	now := time.Now().UTC()
	sess.CreatedAt = now
	sess.LastActivityAt = &now
	sess.Metadata = types.JSONText(emptyJSONObject(sess.Metadata))

	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO sessions (id, name, workspace, starting_prompt, state, waiting_timeout_seconds, created_by, parent_session_id, created_at, last_activity_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), sess.ID, sess.Name, sess.Workspace, sess.StartingPrompt, sess.State, sess.WaitingTimeoutSeconds,
		sess.CreatedBy, sess.ParentSessionID, sess.CreatedAt, sess.LastActivityAt, string(sess.Metadata))
	if err != nil {
		return apperrors.Database(err)
	}
	return nil
}

// GetSession returns a non-deleted session by id.
func (s *Store) GetSession(ctx context.Context, id string) (*session.Session, error) {
	var sess session.Session
	err := s.ro.GetContext(ctx, &sess, s.ro.Rebind(`
		SELECT `+sessionColumns+` FROM sessions WHERE id = ? AND deleted_at IS NULL
	`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFoundf("session not found: %s", id)
	}
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return &sess, nil
}

// GetSessionIncludingDeleted returns a session row regardless of soft
// deletion. The destroy task handler needs the row after the API has
// soft-deleted it.
func (s *Store) GetSessionIncludingDeleted(ctx context.Context, id string) (*session.Session, error) {
	var sess session.Session
	err := s.ro.GetContext(ctx, &sess, s.ro.Rebind(`
		SELECT `+sessionColumns+` FROM sessions WHERE id = ?
	`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFoundf("session not found: %s", id)
	}
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return &sess, nil
}

// SessionFilter narrows ListSessions.
type SessionFilter struct {
	Workspace *string
	CreatedBy *string
	State     *session.State
}

// ListSessions returns non-deleted sessions matching the filter, newest first.
func (s *Store) ListSessions(ctx context.Context, filter SessionFilter) ([]session.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE deleted_at IS NULL`
	args := []any{}
	if filter.Workspace != nil {
		query += ` AND workspace = ?`
		args = append(args, *filter.Workspace)
	}
	if filter.CreatedBy != nil {
		query += ` AND created_by = ?`
		args = append(args, *filter.CreatedBy)
	}
	if filter.State != nil {
		query += ` AND state = ?`
		args = append(args, string(*filter.State))
	}
	query += ` ORDER BY created_at DESC`

	sessions := []session.Session{}
	if err := s.ro.SelectContext(ctx, &sessions, s.ro.Rebind(query), args...); err != nil {
		return nil, apperrors.Database(err)
	}
	return sessions, nil
}

// UpdateSessionState performs a conditional state transition: the write only
// lands when the row is still in fromState, closing the read-then-write race.
// Side-column effects (started_at, terminated_at, container ids) are applied
// in the same statement.
func (s *Store) UpdateSessionState(ctx context.Context, id string, fromState, toState session.State, upd session.StateUpdate) (*session.Session, error) {
	now := time.Now().UTC()

	query := `UPDATE sessions SET state = ?, last_activity_at = ?`
	args := []any{string(toState), now}

	if toState == session.StateReady {
		query += `, started_at = COALESCE(started_at, ?)`
		args = append(args, now)
	}
	if toState == session.StateError {
		query += `, terminated_at = ?, termination_reason = ?`
		args = append(args, now, upd.TerminationReason)
	}
	if upd.ContainerID != nil {
		query += `, container_id = ?`
		args = append(args, *upd.ContainerID)
	}
	if upd.PersistentVolumeID != nil {
		query += `, persistent_volume_id = ?`
		args = append(args, *upd.PersistentVolumeID)
	}
	query += ` WHERE id = ? AND state = ? AND deleted_at IS NULL`
	args = append(args, id, string(fromState))

	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, apperrors.Conflict("session state changed concurrently")
	}
	return s.GetSession(ctx, id)
}

// SessionUpdate carries the optional fields of a general session update.
type SessionUpdate struct {
	Name                  *string
	WaitingTimeoutSeconds *int64
	Metadata              types.JSONText
}

// UpdateSession applies the non-nil fields and returns the updated row. An
// update with no fields is rejected rather than silently succeeding.
func (s *Store) UpdateSession(ctx context.Context, id string, upd SessionUpdate) (*session.Session, error) {
	sets := []string{}
	args := []any{}
	if upd.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *upd.Name)
	}
	if upd.WaitingTimeoutSeconds != nil {
		sets = append(sets, "waiting_timeout_seconds = ?")
		args = append(args, *upd.WaitingTimeoutSeconds)
	}
	if upd.Metadata != nil {
		sets = append(sets, "metadata = ?")
		args = append(args, string(upd.Metadata))
	}
	if len(sets) == 0 {
		return nil, apperrors.BadRequest("no fields to update")
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE sessions SET `+strings.Join(sets, ", ")+` WHERE id = ? AND deleted_at IS NULL
	`), args...)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, apperrors.NotFoundf("session not found: %s", id)
	}
	return s.GetSession(ctx, id)
}

// ClearContainer removes the container and volume references, used on destroy.
func (s *Store) ClearContainer(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE sessions SET container_id = NULL, persistent_volume_id = NULL WHERE id = ?
	`), id)
	if err != nil {
		return apperrors.Database(err)
	}
	return nil
}

// TouchSessionActivity advances last_activity_at.
func (s *Store) TouchSessionActivity(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE sessions SET last_activity_at = ? WHERE id = ? AND deleted_at IS NULL
	`), time.Now().UTC(), id)
	if err != nil {
		return apperrors.Database(err)
	}
	return nil
}

// SoftDeleteSession marks a session deleted. Read paths filter it out from
// then on; the row is retained.
func (s *Store) SoftDeleteSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE sessions SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL
	`), time.Now().UTC(), id)
	if err != nil {
		return apperrors.Database(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFoundf("session not found: %s", id)
	}
	return nil
}

// AssignAgents links agent definitions to a session.
func (s *Store) AssignAgents(ctx context.Context, sessionID string, agentIDs []string) error {
	now := time.Now().UTC()
	for _, agentID := range agentIDs {
		_, err := s.db.ExecContext(ctx, s.db.Rebind(`
			INSERT INTO session_agents (session_id, agent_id, assigned_at, configuration)
			VALUES (?, ?, ?, '{}')
		`), sessionID, agentID, now)
		if isUniqueViolation(err) {
			continue
		}
		if err != nil {
			return apperrors.Database(err)
		}
	}
	return nil
}

// CopyAgentAssignments copies the parent's agent assignments onto a remixed
// session in a single statement.
func (s *Store) CopyAgentAssignments(ctx context.Context, fromSessionID, toSessionID string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO session_agents (session_id, agent_id, assigned_at, configuration)
		SELECT ?, agent_id, ?, configuration FROM session_agents WHERE session_id = ?
	`), toSessionID, time.Now().UTC(), fromSessionID)
	if err != nil {
		return apperrors.Database(err)
	}
	return nil
}

// ListAgentAssignments returns the agents assigned to a session.
func (s *Store) ListAgentAssignments(ctx context.Context, sessionID string) ([]session.AgentAssignment, error) {
	assignments := []session.AgentAssignment{}
	err := s.ro.SelectContext(ctx, &assignments, s.ro.Rebind(`
		SELECT session_id, agent_id, assigned_at, configuration FROM session_agents WHERE session_id = ? ORDER BY assigned_at ASC
	`), sessionID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return assignments, nil
}

// ListSessionsRequiringContainer returns READY and BUSY sessions that carry a
// container id, for the health loop.
func (s *Store) ListSessionsRequiringContainer(ctx context.Context) ([]session.Session, error) {
	sessions := []session.Session{}
	err := s.ro.SelectContext(ctx, &sessions, s.ro.Rebind(`
		SELECT `+sessionColumns+` FROM sessions
		WHERE state IN (?, ?) AND container_id IS NOT NULL AND deleted_at IS NULL
	`), string(session.StateReady), string(session.StateBusy))
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return sessions, nil
}

// ListExpiredWaitingSessions returns READY sessions whose inactivity window
// has elapsed, for the idle sweep.
func (s *Store) ListExpiredWaitingSessions(ctx context.Context) ([]session.Session, error) {
	driver := s.ro.DriverName()
	query := `
		SELECT ` + sessionColumns + ` FROM sessions
		WHERE state = ?
		  AND waiting_timeout_seconds IS NOT NULL
		  AND ` + dialect.PlusSeconds(driver, "last_activity_at", "waiting_timeout_seconds") + ` < ` + dialect.Now(driver) + `
		  AND deleted_at IS NULL
	`
	sessions := []session.Session{}
	if err := s.ro.SelectContext(ctx, &sessions, s.ro.Rebind(query), string(session.StateReady)); err != nil {
		return nil, apperrors.Database(err)
	}
	return sessions, nil
}
