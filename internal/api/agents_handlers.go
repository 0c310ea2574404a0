package api

import (
	"encoding/json"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	"github.com/raworc/raworc/internal/agents"
	"github.com/raworc/raworc/internal/session"
	"github.com/raworc/raworc/internal/store"
)

// requestWorkspace resolves the workspace of an agent request: explicit query
// or body value, otherwise the default workspace.
func requestWorkspace(value string) string {
	if value == "" {
		return session.DefaultWorkspace
	}
	return value
}

func (s *Server) handleListAgents(c *gin.Context) {
	workspace := requestWorkspace(c.Query("workspace"))
	if _, ok := s.authorize(c, workspacePerm(resourceAgents, "list", workspace)); !ok {
		return
	}
	list, err := s.store.ListAgents(c.Request.Context(), &workspace)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(200, list)
}

type createAgentRequest struct {
	Name           string          `json:"name" binding:"required"`
	Workspace      string          `json:"workspace"`
	Description    *string         `json:"description,omitempty"`
	Instructions   string          `json:"instructions"`
	Model          string          `json:"model"`
	Tools          json.RawMessage `json:"tools,omitempty"`
	Routes         json.RawMessage `json:"routes,omitempty"`
	Guardrails     json.RawMessage `json:"guardrails,omitempty"`
	KnowledgeBases json.RawMessage `json:"knowledge_bases,omitempty"`
}

func (s *Server) handleCreateAgent(c *gin.Context) {
	var req createAgentRequest
	if !bindJSON(c, &req) {
		return
	}
	workspace := requestWorkspace(req.Workspace)
	if _, ok := s.authorize(c, workspacePerm(resourceAgents, "create", workspace)); !ok {
		return
	}

	agent := &agents.Agent{
		Name:           req.Name,
		Workspace:      workspace,
		Description:    req.Description,
		Instructions:   req.Instructions,
		Model:          req.Model,
		Tools:          types.JSONText(req.Tools),
		Routes:         types.JSONText(req.Routes),
		Guardrails:     types.JSONText(req.Guardrails),
		KnowledgeBases: types.JSONText(req.KnowledgeBases),
	}
	if err := s.store.CreateAgent(c.Request.Context(), agent); err != nil {
		respondError(c, err)
		return
	}
	s.logger.Info("Agent created",
		zap.String("agent", agent.Name),
		zap.String("workspace", agent.Workspace))
	c.JSON(201, agent)
}

func (s *Server) handleGetAgent(c *gin.Context) {
	workspace := requestWorkspace(c.Query("workspace"))
	agent, err := s.store.GetAgent(c.Request.Context(), c.Param("id"), workspace)
	if err != nil {
		respondError(c, err)
		return
	}
	if _, ok := s.authorize(c, workspacePerm(resourceAgents, "get", agent.Workspace)); !ok {
		return
	}
	c.JSON(200, agent)
}

type updateAgentRequest struct {
	Name           *string         `json:"name,omitempty"`
	Description    *string         `json:"description,omitempty"`
	Instructions   *string         `json:"instructions,omitempty"`
	Model          *string         `json:"model,omitempty"`
	Tools          json.RawMessage `json:"tools,omitempty"`
	Routes         json.RawMessage `json:"routes,omitempty"`
	Guardrails     json.RawMessage `json:"guardrails,omitempty"`
	KnowledgeBases json.RawMessage `json:"knowledge_bases,omitempty"`
	Active         *bool           `json:"active,omitempty"`
}

func (s *Server) handleUpdateAgent(c *gin.Context) {
	agent, err := s.store.GetAgent(c.Request.Context(), c.Param("id"), "")
	if err != nil {
		respondError(c, err)
		return
	}
	if _, ok := s.authorize(c, workspacePerm(resourceAgents, "update", agent.Workspace)); !ok {
		return
	}

	var req updateAgentRequest
	if !bindJSON(c, &req) {
		return
	}
	updated, err := s.store.UpdateAgent(c.Request.Context(), agent.ID, store.AgentUpdate{
		Name:           req.Name,
		Description:    req.Description,
		Instructions:   req.Instructions,
		Model:          req.Model,
		Tools:          req.Tools,
		Routes:         req.Routes,
		Guardrails:     req.Guardrails,
		KnowledgeBases: req.KnowledgeBases,
		Active:         req.Active,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(200, updated)
}

func (s *Server) handleDeleteAgent(c *gin.Context) {
	agent, err := s.store.GetAgent(c.Request.Context(), c.Param("id"), "")
	if err != nil {
		respondError(c, err)
		return
	}
	if _, ok := s.authorize(c, workspacePerm(resourceAgents, "delete", agent.Workspace)); !ok {
		return
	}
	if err := s.store.DeleteAgent(c.Request.Context(), agent.ID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(204)
}
