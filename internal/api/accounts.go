package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/raworc/raworc/internal/auth"
	apperrors "github.com/raworc/raworc/internal/common/errors"
	"github.com/raworc/raworc/internal/rbac"
)

func (s *Server) handleListServiceAccounts(c *gin.Context) {
	if _, ok := s.authorize(c, globalPerm(resourceServiceAccounts, "list")); !ok {
		return
	}
	accounts, err := s.store.ListServiceAccounts(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(200, accounts)
}

type createAccountRequest struct {
	User        string  `json:"user" binding:"required"`
	Password    string  `json:"password" binding:"required"`
	Description *string `json:"description,omitempty"`
}

func (s *Server) handleCreateServiceAccount(c *gin.Context) {
	if _, ok := s.authorize(c, globalPerm(resourceServiceAccounts, "create")); !ok {
		return
	}
	var req createAccountRequest
	if !bindJSON(c, &req) {
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	account := &rbac.ServiceAccount{
		User:         req.User,
		PasswordHash: hash,
		Description:  req.Description,
		Active:       true,
	}
	if err := s.store.CreateServiceAccount(c.Request.Context(), account); err != nil {
		respondError(c, err)
		return
	}
	s.logger.Info("Service account created", zap.String("user", account.User))
	c.JSON(201, account)
}

func (s *Server) handleGetServiceAccount(c *gin.Context) {
	if _, ok := s.authorize(c, globalPerm(resourceServiceAccounts, "get")); !ok {
		return
	}
	account, err := s.store.GetServiceAccount(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(200, account)
}

type updateAccountRequest struct {
	Description *string `json:"description,omitempty"`
	Active      *bool   `json:"active,omitempty"`
}

func (s *Server) handleUpdateServiceAccount(c *gin.Context) {
	if _, ok := s.authorize(c, globalPerm(resourceServiceAccounts, "update")); !ok {
		return
	}
	var req updateAccountRequest
	if !bindJSON(c, &req) {
		return
	}
	account, err := s.store.UpdateServiceAccount(c.Request.Context(), c.Param("id"), req.Description, req.Active)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(200, account)
}

func (s *Server) handleDeleteServiceAccount(c *gin.Context) {
	if _, ok := s.authorize(c, globalPerm(resourceServiceAccounts, "delete")); !ok {
		return
	}
	if err := s.store.DeleteServiceAccount(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(204)
}

type changePasswordRequest struct {
	CurrentPassword *string `json:"current_password,omitempty"`
	NewPassword     string  `json:"new_password" binding:"required"`
}

// handleChangePassword rotates a service account password. Accounts may
// change their own password by proving the current one; changing someone
// else's requires the update permission.
func (s *Server) handleChangePassword(c *gin.Context) {
	principal, ok := s.currentPrincipal(c)
	if !ok {
		return
	}
	var req changePasswordRequest
	if !bindJSON(c, &req) {
		return
	}

	account, err := s.store.GetServiceAccount(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	self := principal.PrincipalType() == rbac.PrincipalTypeServiceAccount &&
		principal.PrincipalName() == account.User
	if self {
		if req.CurrentPassword == nil || !auth.VerifyPassword(account.PasswordHash, *req.CurrentPassword) {
			respondError(c, apperrors.Forbidden("current password does not match"))
			return
		}
	} else {
		granted, err := s.hasPermission(c, principal, globalPerm(resourceServiceAccounts, "update"))
		if err != nil {
			respondError(c, err)
			return
		}
		if !granted {
			respondError(c, apperrors.Forbidden("permission denied"))
			return
		}
	}

	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := s.store.UpdateServiceAccountPassword(c.Request.Context(), account.ID, hash); err != nil {
		respondError(c, err)
		return
	}
	s.logger.Info("Service account password changed",
		zap.String("user", account.User),
		zap.Bool("self_service", self))
	c.Status(204)
}
