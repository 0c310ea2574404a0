package api

import (
	"github.com/gin-gonic/gin"

	"github.com/raworc/raworc/internal/auth"
	apperrors "github.com/raworc/raworc/internal/common/errors"
	"github.com/raworc/raworc/internal/rbac"
	"github.com/raworc/raworc/internal/session"
)

// apiGroup is the single api group this service exposes.
const apiGroup = "api"

// Resource names used in permission rules.
const (
	resourceServiceAccounts = "service-accounts"
	resourceRoles           = "roles"
	resourceRoleBindings    = "role-bindings"
	resourceAgents          = "agents"
	resourceSessions        = "sessions"
	resourceSubjects        = "subjects"
)

// currentPrincipal returns the authenticated principal or aborts with 401.
func (s *Server) currentPrincipal(c *gin.Context) (rbac.Principal, bool) {
	authCtx, ok := auth.FromContext(c)
	if !ok {
		respondError(c, apperrors.Unauthorized())
		return nil, false
	}
	return authCtx.Principal, true
}

// hasPermission evaluates the RBAC decision for the current principal. Roles
// and the principal's bindings are loaded fresh on every check.
func (s *Server) hasPermission(c *gin.Context, principal rbac.Principal, permCtx rbac.Context) (bool, error) {
	bindings, err := s.store.ListBindingsForPrincipal(c.Request.Context(), principal)
	if err != nil {
		return false, err
	}
	if len(bindings) == 0 {
		return false, nil
	}
	roles, err := s.store.ListRoles(c.Request.Context())
	if err != nil {
		return false, err
	}
	return rbac.HasPermission(principal, roles, bindings, permCtx), nil
}

// authorize aborts with 403 when the principal lacks the permission. The
// returned principal is nil when the request was aborted.
func (s *Server) authorize(c *gin.Context, permCtx rbac.Context) (rbac.Principal, bool) {
	principal, ok := s.currentPrincipal(c)
	if !ok {
		return nil, false
	}
	granted, err := s.hasPermission(c, principal, permCtx)
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	if !granted {
		respondError(c, apperrors.Forbidden("permission denied"))
		return nil, false
	}
	return principal, true
}

// globalPerm builds an unscoped permission context.
func globalPerm(resource, verb string) rbac.Context {
	return rbac.Context{APIGroup: apiGroup, Resource: resource, Verb: verb}
}

// workspacePerm builds a workspace-scoped permission context.
func workspacePerm(resource, verb string, workspace string) rbac.Context {
	return rbac.Context{APIGroup: apiGroup, Resource: resource, Verb: verb, Workspace: &workspace}
}

// authorizeSessionAccess enforces the ownership rule on a single session:
// the "<verb>-all" verb grants access to any session in the workspace, the
// plain verb only to sessions the principal created. A session's own
// container token bypasses RBAC for that one session.
func (s *Server) authorizeSessionAccess(c *gin.Context, sess *session.Session, verb string) (rbac.Principal, bool) {
	principal, ok := s.currentPrincipal(c)
	if !ok {
		return nil, false
	}

	// The container's own token authenticates as the session subject. It has
	// no role bindings; its access is exactly its own session.
	if _, isSubject := principal.(rbac.Subject); isSubject &&
		principal.PrincipalName() == auth.SessionPrincipalName(sess.ID) {
		return principal, true
	}

	all, err := s.hasPermission(c, principal, workspacePerm(resourceSessions, verb+"-all", sess.Workspace))
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	if all {
		return principal, true
	}

	granted, err := s.hasPermission(c, principal, workspacePerm(resourceSessions, verb, sess.Workspace))
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	if !granted || sess.CreatedBy != principal.PrincipalName() {
		respondError(c, apperrors.Forbidden("permission denied"))
		return nil, false
	}
	return principal, true
}

// getAuthorizedSession loads a session and applies the ownership rule.
func (s *Server) getAuthorizedSession(c *gin.Context, verb string) (*session.Session, rbac.Principal, bool) {
	sess, err := s.store.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return nil, nil, false
	}
	principal, ok := s.authorizeSessionAccess(c, sess, verb)
	if !ok {
		return nil, nil, false
	}
	return sess, principal, true
}
