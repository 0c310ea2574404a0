package api

import (
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/raworc/raworc/internal/auth"
	apperrors "github.com/raworc/raworc/internal/common/errors"
	"github.com/raworc/raworc/internal/rbac"
)

type internalLoginRequest struct {
	User string `json:"user" binding:"required"`
	Pass string `json:"pass" binding:"required"`
}

// handleInternalLogin exchanges service account credentials for a token.
func (s *Server) handleInternalLogin(c *gin.Context) {
	var req internalLoginRequest
	if !bindJSON(c, &req) {
		return
	}

	account, err := s.store.GetServiceAccount(c.Request.Context(), req.User)
	if err != nil || !account.Active || !auth.VerifyPassword(account.PasswordHash, req.Pass) {
		// A missing account and a wrong password are indistinguishable to the
		// caller.
		respondError(c, apperrors.Unauthorized())
		return
	}

	token, err := s.issuer.IssueServiceAccountToken(account)
	if err != nil {
		respondError(c, err)
		return
	}

	if err := s.store.UpdateLastLogin(c.Request.Context(), account.ID); err != nil {
		s.logger.WithError(err).Warn("Failed to record last login",
			zap.String("user", account.User))
	}

	s.logger.Info("Service account logged in", zap.String("user", account.User))
	c.JSON(200, token)
}

type externalLoginRequest struct {
	Subject   string  `json:"subject" binding:"required"`
	Workspace *string `json:"workspace,omitempty"`
}

// handleExternalLogin mints a subject token for an external identity. The
// route is outside the auth middleware, so the caller's service account
// token is verified here; minting requires create on the subjects resource.
func (s *Server) handleExternalLogin(c *gin.Context) {
	header := c.GetHeader("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if header == "" || !ok {
		respondError(c, apperrors.Unauthorized())
		return
	}
	claims, err := s.issuer.Decode(raw)
	if err != nil || claims.SubType != auth.SubjectTypeServiceAccount {
		respondError(c, apperrors.Unauthorized())
		return
	}
	account, err := s.store.GetServiceAccount(c.Request.Context(), claims.Subject)
	if err != nil || !account.Active {
		respondError(c, apperrors.Unauthorized())
		return
	}

	granted, err := s.hasPermission(c, account, globalPerm(resourceSubjects, "create"))
	if err != nil {
		respondError(c, err)
		return
	}
	if !granted {
		respondError(c, apperrors.Forbidden("permission denied"))
		return
	}

	var req externalLoginRequest
	if !bindJSON(c, &req) {
		return
	}

	token, err := s.issuer.IssueSubjectToken(req.Subject, req.Workspace)
	if err != nil {
		respondError(c, err)
		return
	}

	s.logger.Info("Subject token issued",
		zap.String("subject", req.Subject),
		zap.String("issued_by", account.User))
	c.JSON(200, token)
}

// handleWhoAmI returns the authenticated principal.
func (s *Server) handleWhoAmI(c *gin.Context) {
	authCtx, ok := auth.FromContext(c)
	if !ok {
		respondError(c, apperrors.Unauthorized())
		return
	}

	body := gin.H{
		"user": authCtx.Principal.PrincipalName(),
		"type": authCtx.Principal.PrincipalType(),
	}
	if account, ok := authCtx.Principal.(*rbac.ServiceAccount); ok {
		body["id"] = account.ID
		body["last_login_at"] = account.LastLoginAt
	}
	if authCtx.Claims.Workspace != nil {
		body["namespace"] = *authCtx.Claims.Workspace
	}
	c.JSON(200, body)
}
