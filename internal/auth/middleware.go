package auth

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/raworc/raworc/internal/common/errors"
	"github.com/raworc/raworc/internal/common/logger"
	"github.com/raworc/raworc/internal/rbac"
)

// AuthContext carries the verified principal and raw claims for a request.
type AuthContext struct {
	Principal rbac.Principal
	Claims    *Claims
}

const contextKey = "raworc.auth"

// AccountLookup resolves a service account by user name.
type AccountLookup interface {
	GetServiceAccount(ctx context.Context, idOrUser string) (*rbac.ServiceAccount, error)
}

// publicPath reports whether the request path skips authentication.
func publicPath(path string) bool {
	return path == "/api/v0/health" ||
		path == "/api/v0/version" ||
		strings.HasPrefix(path, "/api/v0/auth/internal") ||
		strings.HasPrefix(path, "/api/v0/auth/external") ||
		strings.HasPrefix(path, "/swagger-ui") ||
		path == "/api-docs/openapi.json"
}

// Middleware validates the bearer token, resolves the principal, and stores
// the AuthContext in the gin context. Requests outside the public allow-list
// without a valid token are rejected with 401.
func Middleware(issuer *TokenIssuer, accounts AccountLookup, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if publicPath(c.Request.URL.Path) {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if header == "" || !ok {
			abortUnauthorized(c)
			return
		}

		claims, err := issuer.Decode(token)
		if err != nil {
			abortUnauthorized(c)
			return
		}

		var principal rbac.Principal
		switch claims.SubType {
		case SubjectTypeServiceAccount:
			account, err := accounts.GetServiceAccount(c.Request.Context(), claims.Subject)
			if err != nil || !account.Active {
				abortUnauthorized(c)
				return
			}
			principal = account
		case SubjectTypeSubject:
			principal = rbac.Subject{Name: claims.Subject}
		default:
			abortUnauthorized(c)
			return
		}

		c.Set(contextKey, &AuthContext{Principal: principal, Claims: claims})

		log.Debug("API request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("user", principal.PrincipalName()),
		)

		c.Next()
	}
}

func abortUnauthorized(c *gin.Context) {
	appErr := apperrors.Unauthorized()
	c.AbortWithStatusJSON(appErr.HTTPStatus, gin.H{
		"error": gin.H{"code": appErr.Code, "message": appErr.Message},
	})
}

// FromContext returns the AuthContext attached by the middleware.
func FromContext(c *gin.Context) (*AuthContext, bool) {
	value, exists := c.Get(contextKey)
	if !exists {
		return nil, false
	}
	authCtx, ok := value.(*AuthContext)
	return authCtx, ok
}
