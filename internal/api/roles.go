package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/raworc/raworc/internal/common/errors"
	"github.com/raworc/raworc/internal/rbac"
)

func (s *Server) handleListRoles(c *gin.Context) {
	if _, ok := s.authorize(c, globalPerm(resourceRoles, "list")); !ok {
		return
	}
	roles, err := s.store.ListRoles(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(200, roles)
}

type createRoleRequest struct {
	Name        string      `json:"name" binding:"required"`
	Rules       []rbac.Rule `json:"rules" binding:"required"`
	Description *string     `json:"description,omitempty"`
}

func (s *Server) handleCreateRole(c *gin.Context) {
	if _, ok := s.authorize(c, globalPerm(resourceRoles, "create")); !ok {
		return
	}
	var req createRoleRequest
	if !bindJSON(c, &req) {
		return
	}
	if len(req.Rules) == 0 {
		respondError(c, apperrors.BadRequest("role must have at least one rule"))
		return
	}

	role := &rbac.Role{Name: req.Name, Rules: req.Rules, Description: req.Description}
	if err := s.store.CreateRole(c.Request.Context(), role); err != nil {
		respondError(c, err)
		return
	}
	s.logger.Info("Role created", zap.String("role", role.Name))
	c.JSON(201, role)
}

func (s *Server) handleGetRole(c *gin.Context) {
	if _, ok := s.authorize(c, globalPerm(resourceRoles, "get")); !ok {
		return
	}
	role, err := s.store.GetRole(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(200, role)
}

func (s *Server) handleDeleteRole(c *gin.Context) {
	if _, ok := s.authorize(c, globalPerm(resourceRoles, "delete")); !ok {
		return
	}
	if err := s.store.DeleteRole(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(204)
}
