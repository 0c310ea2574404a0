package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raworc/raworc/internal/rbac"
)

func TestServiceAccountTokenRoundTrip(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Hour)

	resp, err := issuer.IssueServiceAccountToken(&rbac.ServiceAccount{User: "admin"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.NotEmpty(t, resp.Token)

	claims, err := issuer.Decode(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Subject)
	assert.Equal(t, SubjectTypeServiceAccount, claims.SubType)
	assert.Equal(t, Issuer, claims.Issuer)
	assert.Nil(t, claims.Workspace)
}

func TestSubjectTokenCarriesWorkspace(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Hour)
	ws := "dev"

	resp, err := issuer.IssueSubjectToken("alice", &ws)
	require.NoError(t, err)

	claims, err := issuer.Decode(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, SubjectTypeSubject, claims.SubType)
	require.NotNil(t, claims.Workspace)
	assert.Equal(t, "dev", *claims.Workspace)
}

func TestDecodeRejectsWrongSecret(t *testing.T) {
	issuer := NewTokenIssuer("secret-a", time.Hour)
	other := NewTokenIssuer("secret-b", time.Hour)

	resp, err := issuer.IssueServiceAccountToken(&rbac.ServiceAccount{User: "admin"})
	require.NoError(t, err)

	_, err = other.Decode(resp.Token)
	assert.Error(t, err)
}

func TestDecodeRejectsExpiredToken(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", -time.Minute)

	resp, err := issuer.IssueServiceAccountToken(&rbac.ServiceAccount{User: "admin"})
	require.NoError(t, err)

	_, err = issuer.Decode(resp.Token)
	assert.Error(t, err)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Hour)
	_, err := issuer.Decode("not-a-token")
	assert.Error(t, err)
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter2", hash)

	assert.True(t, VerifyPassword(hash, "hunter2"))
	assert.False(t, VerifyPassword(hash, "wrong"))
	assert.False(t, VerifyPassword("not-a-hash", "hunter2"))
}

func TestPublicPath(t *testing.T) {
	assert.True(t, publicPath("/api/v0/health"))
	assert.True(t, publicPath("/api/v0/version"))
	assert.True(t, publicPath("/api/v0/auth/internal"))
	assert.True(t, publicPath("/api/v0/auth/external"))
	assert.False(t, publicPath("/api/v0/sessions"))
	assert.False(t, publicPath("/api/v0/auth/me"))
}
