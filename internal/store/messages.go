package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"

	apperrors "github.com/raworc/raworc/internal/common/errors"
	"github.com/raworc/raworc/internal/session"
)

// CreateMessage persists a message. The agent-message invariant (AGENT role
// requires agent_id) is enforced here as well as at the API layer.
func (s *Store) CreateMessage(ctx context.Context, msg *session.Message) error {
	if msg.Role == session.RoleAgent && msg.AgentID == nil {
		return apperrors.BadRequest("agent messages require an agent_id")
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	msg.Metadata = types.JSONText(emptyJSONObject(msg.Metadata))

	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO session_messages (id, session_id, role, content, agent_id, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), msg.ID, msg.SessionID, string(msg.Role), msg.Content, msg.AgentID, string(msg.Metadata), msg.CreatedAt)
	if err != nil {
		return apperrors.Database(err)
	}
	return nil
}

const messageColumns = `m.id, m.session_id, m.role, m.content, m.agent_id, a.name AS agent_name, m.metadata, m.created_at`

// GetMessage returns a message by id with the agent name joined in.
func (s *Store) GetMessage(ctx context.Context, id string) (*session.Message, error) {
	var msg session.Message
	err := s.ro.GetContext(ctx, &msg, s.ro.Rebind(`
		SELECT `+messageColumns+` FROM session_messages m
		LEFT JOIN agents a ON a.id = m.agent_id
		WHERE m.id = ?
	`), id)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return &msg, nil
}

// ListMessages returns a page of messages ordered by creation time ascending,
// with agent names joined in.
func (s *Store) ListMessages(ctx context.Context, sessionID string, limit, offset int) ([]session.Message, error) {
	limit = session.ClampMessageLimit(limit)
	if offset < 0 {
		offset = 0
	}

	messages := []session.Message{}
	err := s.ro.SelectContext(ctx, &messages, s.ro.Rebind(`
		SELECT `+messageColumns+` FROM session_messages m
		LEFT JOIN agents a ON a.id = m.agent_id
		WHERE m.session_id = ?
		ORDER BY m.created_at ASC
		LIMIT ? OFFSET ?
	`), sessionID, limit, offset)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return messages, nil
}

// CountMessages returns the number of messages in a session.
func (s *Store) CountMessages(ctx context.Context, sessionID string) (int64, error) {
	var count int64
	err := s.ro.GetContext(ctx, &count, s.ro.Rebind(`
		SELECT COUNT(*) FROM session_messages WHERE session_id = ?
	`), sessionID)
	if err != nil {
		return 0, apperrors.Database(err)
	}
	return count, nil
}

// ClearMessages deletes every message in a session and returns the count.
func (s *Store) ClearMessages(ctx context.Context, sessionID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		DELETE FROM session_messages WHERE session_id = ?
	`), sessionID)
	if err != nil {
		return 0, apperrors.Database(err)
	}
	deleted, _ := res.RowsAffected()
	return deleted, nil
}
