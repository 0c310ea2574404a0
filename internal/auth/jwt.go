// Package auth implements bearer-token authentication: HS256 token issue and
// verification, password hashing, and the gin middleware that attaches an
// auth context to each request.
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/raworc/raworc/internal/common/errors"
	"github.com/raworc/raworc/internal/rbac"
)

// Issuer is the iss claim on every token this service mints.
const Issuer = "raworc-rbac"

// SubjectType is the sub_type claim value.
type SubjectType string

const (
	SubjectTypeServiceAccount SubjectType = "ServiceAccount"
	SubjectTypeSubject        SubjectType = "Subject"
)

// Claims is the token payload.
type Claims struct {
	SubType   SubjectType `json:"sub_type"`
	Workspace *string     `json:"workspace,omitempty"`
	jwt.RegisteredClaims
}

// TokenResponse is the wire form of an issued token.
type TokenResponse struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
	ExpiresAt string `json:"expires_at"`
}

// Issuer mints and verifies tokens with a single shared secret.
type TokenIssuer struct {
	secret   []byte
	duration time.Duration
}

// NewTokenIssuer creates a TokenIssuer. duration is the token lifetime.
func NewTokenIssuer(secret string, duration time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), duration: duration}
}

// IssueServiceAccountToken mints a token for a service account.
func (i *TokenIssuer) IssueServiceAccountToken(account *rbac.ServiceAccount) (*TokenResponse, error) {
	return i.issue(account.User, SubjectTypeServiceAccount, nil)
}

// IssueSubjectToken mints a token for an external subject name.
func (i *TokenIssuer) IssueSubjectToken(subject string, workspace *string) (*TokenResponse, error) {
	return i.issue(subject, SubjectTypeSubject, workspace)
}

// SessionPrincipalName is the subject name on the token injected into a
// session's container. The in-container agent authenticates as this subject
// and is granted access to its own session without role bindings.
func SessionPrincipalName(sessionID string) string {
	return "session-" + sessionID
}

func (i *TokenIssuer) issue(sub string, subType SubjectType, workspace *string) (*TokenResponse, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(i.duration)

	claims := Claims{
		SubType:   subType,
		Workspace: workspace,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			Issuer:    Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return nil, apperrors.JWT(err)
	}

	return &TokenResponse{
		Token:     signed,
		TokenType: "Bearer",
		ExpiresAt: expiresAt.Format(time.RFC3339),
	}, nil
}

// Decode verifies a token and returns its claims. Expired, malformed, or
// wrongly signed tokens are rejected.
func (i *TokenIssuer) Decode(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return i.secret, nil
	}, jwt.WithIssuer(Issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, apperrors.JWT(err)
	}
	if !token.Valid {
		return nil, apperrors.JWT(jwt.ErrTokenUnverifiable)
	}
	return claims, nil
}
