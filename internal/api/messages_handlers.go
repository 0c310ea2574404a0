package api

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/raworc/raworc/internal/session"
	"github.com/raworc/raworc/internal/session/service"
)

func (s *Server) handleListMessages(c *gin.Context) {
	sess, _, ok := s.getAuthorizedSession(c, "get")
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))
	if offset < 0 {
		offset = 0
	}

	messages, err := s.store.ListMessages(c.Request.Context(), sess.ID, session.ClampMessageLimit(limit), offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(200, messages)
}

// handleCreateMessage appends a message and wakes the session when needed.
func (s *Server) handleCreateMessage(c *gin.Context) {
	sess, _, ok := s.getAuthorizedSession(c, "update")
	if !ok {
		return
	}
	var req service.MessageRequest
	if !bindJSON(c, &req) {
		return
	}

	msg, err := s.sessions.PostMessage(c.Request.Context(), sess.ID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(201, msg)
}

func (s *Server) handleCountMessages(c *gin.Context) {
	sess, _, ok := s.getAuthorizedSession(c, "get")
	if !ok {
		return
	}
	count, err := s.store.CountMessages(c.Request.Context(), sess.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(200, gin.H{"count": count, "session_id": sess.ID})
}

func (s *Server) handleClearMessages(c *gin.Context) {
	sess, _, ok := s.getAuthorizedSession(c, "update")
	if !ok {
		return
	}
	deleted, err := s.store.ClearMessages(c.Request.Context(), sess.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	s.logger.Info("Session messages cleared",
		zap.String("session_id", sess.ID),
		zap.Int64("deleted", deleted))
	c.JSON(200, gin.H{"deleted": deleted, "session_id": sess.ID})
}
