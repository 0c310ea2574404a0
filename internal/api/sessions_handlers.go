package api

import (
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	apperrors "github.com/raworc/raworc/internal/common/errors"
	"github.com/raworc/raworc/internal/session"
	"github.com/raworc/raworc/internal/session/service"
	"github.com/raworc/raworc/internal/store"
)

// handleListSessions lists sessions in a workspace. Principals with the
// list-all verb see every session; plain list is narrowed to sessions the
// caller created. Optional created_by and state filters apply on top.
func (s *Server) handleListSessions(c *gin.Context) {
	workspace := requestWorkspace(c.Query("workspace"))
	principal, ok := s.currentPrincipal(c)
	if !ok {
		return
	}

	all, err := s.hasPermission(c, principal, workspacePerm(resourceSessions, "list-all", workspace))
	if err != nil {
		respondError(c, err)
		return
	}
	if !all {
		granted, err := s.hasPermission(c, principal, workspacePerm(resourceSessions, "list", workspace))
		if err != nil {
			respondError(c, err)
			return
		}
		if !granted {
			respondError(c, apperrors.Forbidden("permission denied"))
			return
		}
	}

	filter := store.SessionFilter{Workspace: &workspace}
	if !all {
		owner := principal.PrincipalName()
		filter.CreatedBy = &owner
	} else if createdBy := c.Query("created_by"); createdBy != "" {
		filter.CreatedBy = &createdBy
	}
	if rawState := c.Query("state"); rawState != "" {
		state, err := session.ParseState(rawState)
		if err != nil {
			respondError(c, apperrors.BadRequest(err.Error()))
			return
		}
		filter.State = &state
	}

	sessions, err := s.store.ListSessions(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(200, sessions)
}

func (s *Server) handleCreateSession(c *gin.Context) {
	var req service.CreateRequest
	if !bindJSON(c, &req) {
		return
	}
	workspace := requestWorkspace(req.Workspace)
	req.Workspace = workspace

	principal, ok := s.authorize(c, workspacePerm(resourceSessions, "create", workspace))
	if !ok {
		return
	}

	sess, err := s.sessions.Create(c.Request.Context(), req, principal.PrincipalName())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(201, sess)
}

func (s *Server) handleGetSession(c *gin.Context) {
	sess, _, ok := s.getAuthorizedSession(c, "get")
	if !ok {
		return
	}
	c.JSON(200, sess)
}

func (s *Server) handleDeleteSession(c *gin.Context) {
	sess, _, ok := s.getAuthorizedSession(c, "delete")
	if !ok {
		return
	}
	if err := s.sessions.Delete(c.Request.Context(), sess.ID); err != nil {
		respondError(c, err)
		return
	}
	s.logger.Info("Session deleted", zap.String("session_id", sess.ID))
	c.Status(204)
}

type updateSessionRequest struct {
	Name                  *string        `json:"name,omitempty"`
	WaitingTimeoutSeconds *int64         `json:"waiting_timeout_seconds,omitempty"`
	Metadata              types.JSONText `json:"metadata,omitempty"`
}

func (s *Server) handleUpdateSession(c *gin.Context) {
	sess, _, ok := s.getAuthorizedSession(c, "update")
	if !ok {
		return
	}
	var req updateSessionRequest
	if !bindJSON(c, &req) {
		return
	}

	updated, err := s.store.UpdateSession(c.Request.Context(), sess.ID, store.SessionUpdate{
		Name:                  req.Name,
		WaitingTimeoutSeconds: req.WaitingTimeoutSeconds,
		Metadata:              req.Metadata,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(200, updated)
}

type updateStateRequest struct {
	State string `json:"state" binding:"required"`
}

func (s *Server) handleUpdateSessionState(c *gin.Context) {
	sess, _, ok := s.getAuthorizedSession(c, "update")
	if !ok {
		return
	}
	var req updateStateRequest
	if !bindJSON(c, &req) {
		return
	}
	target, err := session.ParseState(req.State)
	if err != nil {
		respondError(c, apperrors.BadRequest(err.Error()))
		return
	}

	updated, err := s.sessions.UpdateState(c.Request.Context(), sess.ID, target)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(200, updated)
}

func (s *Server) handleRemixSession(c *gin.Context) {
	sess, principal, ok := s.getAuthorizedSession(c, "remix")
	if !ok {
		return
	}
	var req service.RemixRequest
	if !bindJSON(c, &req) {
		return
	}

	remixed, err := s.sessions.Remix(c.Request.Context(), sess.ID, req, principal.PrincipalName())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(201, remixed)
}

func (s *Server) handleCompleteSession(c *gin.Context) {
	sess, _, ok := s.getAuthorizedSession(c, "update")
	if !ok {
		return
	}
	updated, err := s.sessions.Complete(c.Request.Context(), sess.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(200, updated)
}

func (s *Server) handleListSessionTasks(c *gin.Context) {
	sess, _, ok := s.getAuthorizedSession(c, "get")
	if !ok {
		return
	}
	tasks, err := s.store.ListTasks(c.Request.Context(), sess.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(200, tasks)
}

type executeCommandRequest struct {
	Command string `json:"command" binding:"required"`
}

func (s *Server) handleExecuteCommand(c *gin.Context) {
	sess, _, ok := s.getAuthorizedSession(c, "update")
	if !ok {
		return
	}
	var req executeCommandRequest
	if !bindJSON(c, &req) {
		return
	}
	task, err := s.sessions.ExecuteCommand(c.Request.Context(), sess.ID, req.Command)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(202, task)
}

func (s *Server) handleListCommandResults(c *gin.Context) {
	sess, _, ok := s.getAuthorizedSession(c, "get")
	if !ok {
		return
	}
	results, err := s.store.ListCommandResults(c.Request.Context(), sess.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(200, results)
}
