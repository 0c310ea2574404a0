package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/raworc/raworc/internal/common/errors"
	"github.com/raworc/raworc/internal/rbac"
)

func (s *Server) handleListRoleBindings(c *gin.Context) {
	if _, ok := s.authorize(c, globalPerm(resourceRoleBindings, "list")); !ok {
		return
	}
	bindings, err := s.store.ListRoleBindings(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(200, bindings)
}

type createBindingRequest struct {
	RoleName      string  `json:"role_name" binding:"required"`
	PrincipalName string  `json:"principal_name" binding:"required"`
	PrincipalType string  `json:"principal_type" binding:"required"`
	Workspace     *string `json:"workspace,omitempty"`
}

func (s *Server) handleCreateRoleBinding(c *gin.Context) {
	if _, ok := s.authorize(c, globalPerm(resourceRoleBindings, "create")); !ok {
		return
	}
	var req createBindingRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.PrincipalType != rbac.StoredTypeServiceAccount && req.PrincipalType != rbac.StoredTypeUser {
		respondError(c, apperrors.BadRequestf("unknown principal type: %s", req.PrincipalType))
		return
	}
	// The role must exist; bindings to phantom roles grant nothing and are
	// almost always a typo.
	if _, err := s.store.GetRole(c.Request.Context(), req.RoleName); err != nil {
		respondError(c, err)
		return
	}

	binding := &rbac.Binding{
		RoleName:      req.RoleName,
		PrincipalName: req.PrincipalName,
		PrincipalType: req.PrincipalType,
		Workspace:     req.Workspace,
	}
	if err := s.store.CreateRoleBinding(c.Request.Context(), binding); err != nil {
		respondError(c, err)
		return
	}
	s.logger.Info("Role binding created",
		zap.String("role", binding.RoleName),
		zap.String("principal", binding.PrincipalName))
	c.JSON(201, binding)
}

func (s *Server) handleGetRoleBinding(c *gin.Context) {
	if _, ok := s.authorize(c, globalPerm(resourceRoleBindings, "get")); !ok {
		return
	}
	binding, err := s.store.GetRoleBinding(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(200, binding)
}

func (s *Server) handleDeleteRoleBinding(c *gin.Context) {
	if _, ok := s.authorize(c, globalPerm(resourceRoleBindings, "delete")); !ok {
		return
	}
	if err := s.store.DeleteRoleBinding(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(204)
}
