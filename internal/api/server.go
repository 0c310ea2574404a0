// Package api exposes the control plane over HTTP. All routes live under
// /api/v0 behind bearer-token auth and RBAC; health, version, and the auth
// endpoints are public.
package api

import (
	"github.com/gin-gonic/gin"

	"github.com/raworc/raworc/internal/auth"
	"github.com/raworc/raworc/internal/common/httpmw"
	"github.com/raworc/raworc/internal/common/logger"
	"github.com/raworc/raworc/internal/session/service"
	"github.com/raworc/raworc/internal/store"
)

// Server holds the dependencies shared by every handler.
type Server struct {
	store    *store.Store
	sessions *service.Service
	issuer   *auth.TokenIssuer
	logger   *logger.Logger
	version  string
}

// NewServer creates a Server.
func NewServer(st *store.Store, sessions *service.Service, issuer *auth.TokenIssuer, log *logger.Logger, version string) *Server {
	return &Server{
		store:    st,
		sessions: sessions,
		issuer:   issuer,
		logger:   log,
		version:  version,
	}
}

// Router builds the gin engine with the full route table.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpmw.RequestLogger(s.logger, "raworc-api"))
	router.Use(auth.Middleware(s.issuer, s.store, s.logger))

	v0 := router.Group("/api/v0")
	{
		v0.GET("/health", s.handleHealth)
		v0.GET("/version", s.handleVersion)

		v0.POST("/auth/internal", s.handleInternalLogin)
		v0.POST("/auth/external", s.handleExternalLogin)
		v0.GET("/auth/me", s.handleWhoAmI)

		v0.GET("/service-accounts", s.handleListServiceAccounts)
		v0.POST("/service-accounts", s.handleCreateServiceAccount)
		v0.GET("/service-accounts/:id", s.handleGetServiceAccount)
		v0.PUT("/service-accounts/:id", s.handleUpdateServiceAccount)
		v0.DELETE("/service-accounts/:id", s.handleDeleteServiceAccount)
		v0.PUT("/service-accounts/:id/password", s.handleChangePassword)

		v0.GET("/roles", s.handleListRoles)
		v0.POST("/roles", s.handleCreateRole)
		v0.GET("/roles/:id", s.handleGetRole)
		v0.DELETE("/roles/:id", s.handleDeleteRole)

		v0.GET("/role-bindings", s.handleListRoleBindings)
		v0.POST("/role-bindings", s.handleCreateRoleBinding)
		v0.GET("/role-bindings/:id", s.handleGetRoleBinding)
		v0.DELETE("/role-bindings/:id", s.handleDeleteRoleBinding)

		v0.GET("/agents", s.handleListAgents)
		v0.POST("/agents", s.handleCreateAgent)
		v0.GET("/agents/:id", s.handleGetAgent)
		v0.PUT("/agents/:id", s.handleUpdateAgent)
		v0.DELETE("/agents/:id", s.handleDeleteAgent)

		v0.GET("/sessions", s.handleListSessions)
		v0.POST("/sessions", s.handleCreateSession)
		v0.GET("/sessions/:id", s.handleGetSession)
		v0.PUT("/sessions/:id", s.handleUpdateSession)
		v0.DELETE("/sessions/:id", s.handleDeleteSession)
		v0.PUT("/sessions/:id/state", s.handleUpdateSessionState)
		v0.POST("/sessions/:id/remix", s.handleRemixSession)
		v0.POST("/sessions/:id/complete", s.handleCompleteSession)

		v0.GET("/sessions/:id/messages", s.handleListMessages)
		v0.POST("/sessions/:id/messages", s.handleCreateMessage)
		v0.GET("/sessions/:id/messages/count", s.handleCountMessages)
		v0.DELETE("/sessions/:id/messages", s.handleClearMessages)

		v0.GET("/sessions/:id/tasks", s.handleListSessionTasks)
		v0.POST("/sessions/:id/execute", s.handleExecuteCommand)
		v0.GET("/sessions/:id/command-results", s.handleListCommandResults)
	}

	return router
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(200, gin.H{"status": "ok"})
}

func (s *Server) handleVersion(c *gin.Context) {
	c.JSON(200, gin.H{"version": s.version, "api": "v0"})
}
