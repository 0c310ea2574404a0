// Package service implements the session domain operations: create, remix,
// state transitions with their task side effects, soft delete, and the
// message/liveness coupling.
package service

import (
	"context"
	"encoding/json"

	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	apperrors "github.com/raworc/raworc/internal/common/errors"
	"github.com/raworc/raworc/internal/common/logger"
	"github.com/raworc/raworc/internal/events"
	"github.com/raworc/raworc/internal/events/bus"
	"github.com/raworc/raworc/internal/session"
	"github.com/raworc/raworc/internal/store"
)

// Service coordinates session state with the task queue. All cross-component
// coordination goes through storage; the service holds no session state.
type Service struct {
	store  *store.Store
	bus    bus.EventBus
	logger *logger.Logger
}

// New creates a session Service.
func New(st *store.Store, eventBus bus.EventBus, log *logger.Logger) *Service {
	return &Service{store: st, bus: eventBus, logger: log}
}

// Store exposes the underlying store for read paths.
func (s *Service) Store() *store.Store {
	return s.store
}

// CreateRequest carries the fields of a session create call.
type CreateRequest struct {
	Name                  string         `json:"name" binding:"required"`
	Workspace             string         `json:"workspace"`
	StartingPrompt        *string        `json:"starting_prompt,omitempty"`
	WaitingTimeoutSeconds *int64         `json:"waiting_timeout_seconds,omitempty"`
	AgentIDs              []string       `json:"agent_ids,omitempty"`
	Metadata              types.JSONText `json:"metadata,omitempty"`
}

// createTaskPayload is recorded on create_session tasks for traceability.
type createTaskPayload struct {
	UserID   string   `json:"user_id"`
	AgentIDs []string `json:"agent_ids,omitempty"`
}

// Create validates the request, inserts the session in INIT, assigns agents,
// and enqueues the create_session task. Container placement happens out of
// band; the API returns as soon as the row and task are durable.
func (s *Service) Create(ctx context.Context, req CreateRequest, createdBy string) (*session.Session, error) {
	workspace := req.Workspace
	if workspace == "" {
		workspace = session.DefaultWorkspace
	}

	// Agent ids must reference active agents before the session exists.
	for _, agentID := range req.AgentIDs {
		if _, err := s.store.GetAgent(ctx, agentID, workspace); err != nil {
			if apperrors.IsNotFound(err) {
				return nil, apperrors.BadRequestf("unknown agent: %s", agentID)
			}
			return nil, err
		}
	}

	sess := &session.Session{
		Name:                  req.Name,
		Workspace:             workspace,
		StartingPrompt:        req.StartingPrompt,
		WaitingTimeoutSeconds: req.WaitingTimeoutSeconds,
		CreatedBy:             createdBy,
		Metadata:              req.Metadata,
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}

	if len(req.AgentIDs) > 0 {
		if err := s.store.AssignAgents(ctx, sess.ID, req.AgentIDs); err != nil {
			return nil, err
		}
	}

	if err := s.enqueue(ctx, session.TaskCreateSession, sess.ID, createTaskPayload{
		UserID:   createdBy,
		AgentIDs: req.AgentIDs,
	}); err != nil {
		return nil, err
	}

	s.logger.Info("Session created",
		zap.String("session_id", sess.ID),
		zap.String("workspace", sess.Workspace),
		zap.String("created_by", createdBy),
	)
	return sess, nil
}

// RemixRequest carries the overridable fields of a remix call.
type RemixRequest struct {
	Name           string  `json:"name" binding:"required"`
	StartingPrompt *string `json:"starting_prompt,omitempty"`
}

// Remix copies a parent session's configuration into a new session: the
// workspace is inherited, agents are copied, and the prompt may be replaced.
func (s *Service) Remix(ctx context.Context, parentID string, req RemixRequest, createdBy string) (*session.Session, error) {
	parent, err := s.store.GetSession(ctx, parentID)
	if err != nil {
		return nil, err
	}

	prompt := parent.StartingPrompt
	if req.StartingPrompt != nil {
		prompt = req.StartingPrompt
	}

	sess := &session.Session{
		Name:                  req.Name,
		Workspace:             parent.Workspace,
		StartingPrompt:        prompt,
		WaitingTimeoutSeconds: parent.WaitingTimeoutSeconds,
		CreatedBy:             createdBy,
		ParentSessionID:       &parent.ID,
		Metadata:              parent.Metadata,
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	if err := s.store.CopyAgentAssignments(ctx, parent.ID, sess.ID); err != nil {
		return nil, err
	}

	if err := s.enqueue(ctx, session.TaskCreateSession, sess.ID, createTaskPayload{UserID: createdBy}); err != nil {
		return nil, err
	}

	s.logger.Info("Session remixed",
		zap.String("session_id", sess.ID),
		zap.String("parent_session_id", parent.ID),
	)
	return sess, nil
}

// UpdateState applies a caller-requested transition and enqueues the
// resulting lifecycle task. Invalid transitions are rejected before any
// write.
func (s *Service) UpdateState(ctx context.Context, id string, target session.State) (*session.Session, error) {
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sess.State.CanTransitionTo(target) {
		return nil, apperrors.BadRequestf("invalid state transition: %s -> %s", sess.State, target)
	}

	updated, err := s.store.UpdateSessionState(ctx, id, sess.State, target, session.StateUpdate{})
	if err != nil {
		return nil, err
	}

	// Transition side effects cross the API/worker boundary as tasks.
	switch {
	case target == session.StateIdle:
		err = s.enqueue(ctx, session.TaskStopSession, id, nil)
	case target == session.StateReady && sess.ContainerID == nil:
		err = s.enqueue(ctx, session.TaskCreateSession, id, nil)
	case target == session.StateReady && sess.State == session.StateIdle:
		err = s.enqueue(ctx, session.TaskReactivateSession, id, nil)
	}
	if err != nil {
		return nil, err
	}

	s.publishStateChange(ctx, id, sess.State, target)
	return updated, nil
}

// Complete marks a BUSY session READY after the agent finishes a turn.
func (s *Service) Complete(ctx context.Context, id string) (*session.Session, error) {
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.State != session.StateBusy {
		return nil, apperrors.BadRequestf("session is not busy (state %s)", sess.State)
	}
	updated, err := s.store.UpdateSessionState(ctx, id, session.StateBusy, session.StateReady, session.StateUpdate{})
	if err != nil {
		return nil, err
	}
	s.publishStateChange(ctx, id, session.StateBusy, session.StateReady)
	return updated, nil
}

// Delete enqueues the destroy task and soft deletes the row. The worker
// removes the container and volume afterwards.
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := s.store.GetSession(ctx, id); err != nil {
		return err
	}
	if err := s.enqueue(ctx, session.TaskDestroySession, id, nil); err != nil {
		return err
	}
	return s.store.SoftDeleteSession(ctx, id)
}

// ExecuteCommand enqueues an execute_command task for a running session.
func (s *Service) ExecuteCommand(ctx context.Context, id, command string) (*session.Task, error) {
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sess.State.RequiresContainer() {
		return nil, apperrors.BadRequestf("session is not running (state %s)", sess.State)
	}
	payload, _ := json.Marshal(map[string]string{"command": command})
	return s.store.EnqueueTask(ctx, session.TaskExecuteCommand, id, payload)
}

// MessageRequest carries an inbound message.
type MessageRequest struct {
	Role     string         `json:"role" binding:"required"`
	Content  string         `json:"content" binding:"required"`
	AgentID  *string        `json:"agent_id,omitempty"`
	Metadata types.JSONText `json:"metadata,omitempty"`
}

// PostMessage couples message arrival to session liveness: an IDLE session
// is woken (reactivate task, READY, then BUSY), a READY session goes BUSY,
// and the message is persisted afterwards.
func (s *Service) PostMessage(ctx context.Context, sessionID string, req MessageRequest) (*session.Message, error) {
	role, err := session.ParseMessageRole(req.Role)
	if err != nil {
		return nil, apperrors.BadRequest(err.Error())
	}
	if role == session.RoleAgent && req.AgentID == nil {
		return nil, apperrors.BadRequest("agent messages require an agent_id")
	}

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	switch sess.State {
	case session.StateIdle:
		if err := s.enqueue(ctx, session.TaskReactivateSession, sessionID, nil); err != nil {
			return nil, err
		}
		if _, err := s.store.UpdateSessionState(ctx, sessionID, session.StateIdle, session.StateReady, session.StateUpdate{}); err != nil {
			return nil, err
		}
		if _, err := s.store.UpdateSessionState(ctx, sessionID, session.StateReady, session.StateBusy, session.StateUpdate{}); err != nil {
			return nil, err
		}
		s.publishStateChange(ctx, sessionID, session.StateIdle, session.StateBusy)
	case session.StateReady:
		if _, err := s.store.UpdateSessionState(ctx, sessionID, session.StateReady, session.StateBusy, session.StateUpdate{}); err != nil {
			return nil, err
		}
		s.publishStateChange(ctx, sessionID, session.StateReady, session.StateBusy)
	default:
		// INIT, BUSY, ERROR: persist without a state change.
	}

	msg := &session.Message{
		SessionID: sessionID,
		Role:      role,
		Content:   req.Content,
		AgentID:   req.AgentID,
		Metadata:  req.Metadata,
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}

	stored, err := s.store.GetMessage(ctx, msg.ID)
	if err != nil {
		return nil, err
	}

	if s.bus != nil {
		event := bus.NewEvent(events.MessageAdded, events.EventSource, map[string]interface{}{
			"session_id": sessionID,
			"message_id": stored.ID,
			"role":       string(stored.Role),
		})
		_ = s.bus.Publish(ctx, events.MessageAdded, event)
	}
	return stored, nil
}

func (s *Service) enqueue(ctx context.Context, taskType session.TaskType, sessionID string, payload any) error {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return apperrors.Internal(err)
		}
		raw = data
	}
	_, err := s.store.EnqueueTask(ctx, taskType, sessionID, raw)
	return err
}

func (s *Service) publishStateChange(ctx context.Context, sessionID string, from, to session.State) {
	if s.bus == nil {
		return
	}
	event := bus.NewEvent(events.SessionStateChanged, events.EventSource, map[string]interface{}{
		"session_id": sessionID,
		"from":       string(from),
		"to":         string(to),
	})
	_ = s.bus.Publish(ctx, events.SessionStateChanged, event)
}
