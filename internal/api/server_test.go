package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raworc/raworc/internal/auth"
	"github.com/raworc/raworc/internal/common/config"
	"github.com/raworc/raworc/internal/common/logger"
	"github.com/raworc/raworc/internal/db"
	"github.com/raworc/raworc/internal/events/bus"
	"github.com/raworc/raworc/internal/rbac"
	"github.com/raworc/raworc/internal/session/service"
	"github.com/raworc/raworc/internal/store"
)

type testEnv struct {
	router *gin.Engine
	store  *store.Store
	issuer *auth.TokenIssuer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	pool, err := db.Open(config.DatabaseConfig{
		URL: "sqlite://" + filepath.Join(t.TempDir(), "api-test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	st, err := store.New(pool)
	require.NoError(t, err)

	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "text"})
	require.NoError(t, err)
	require.NoError(t, st.SeedRBAC(context.Background(), log))

	issuer := auth.NewTokenIssuer("test-secret", time.Hour)
	sessions := service.New(st, bus.NewMemoryEventBus(log), log)
	server := NewServer(st, sessions, issuer, log, "test")

	return &testEnv{router: server.Router(), store: st, issuer: issuer}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) adminToken(t *testing.T) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v0/auth/internal", "", map[string]string{
		"user": "admin", "pass": "admin",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp auth.TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Token
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, target any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), target))
}

func TestPublicEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v0/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v0/version", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test")
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v0/sessions", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v0/sessions", "garbage-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestInternalLoginRejectsBadCredentials(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v0/auth/internal", "", map[string]string{
		"user": "admin", "pass": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v0/auth/internal", "", map[string]string{
		"user": "ghost", "pass": "admin",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// The old field name is not accepted.
	rec = env.do(t, http.MethodPost, "/api/v0/auth/internal", "", map[string]string{
		"user": "admin", "password": "admin",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWhoAmI(t *testing.T) {
	env := newTestEnv(t)
	token := env.adminToken(t)

	rec := env.do(t, http.MethodGet, "/api/v0/auth/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	decodeJSON(t, rec, &body)
	assert.Equal(t, "admin", body["user"])
	assert.Equal(t, "ServiceAccount", body["type"])

	// A workspace-scoped subject token reports its namespace.
	ws := "dev"
	subjToken, err := env.issuer.IssueSubjectToken("alice", &ws)
	require.NoError(t, err)
	rec = env.do(t, http.MethodGet, "/api/v0/auth/me", subjToken.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeJSON(t, rec, &body)
	assert.Equal(t, "alice", body["user"])
	assert.Equal(t, "Subject", body["type"])
	assert.Equal(t, "dev", body["namespace"])
}

func TestSessionLifecycleOverAPI(t *testing.T) {
	env := newTestEnv(t)
	token := env.adminToken(t)

	rec := env.do(t, http.MethodPost, "/api/v0/sessions", token, map[string]any{
		"name": "demo",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created map[string]any
	decodeJSON(t, rec, &created)
	sessionID := created["id"].(string)
	assert.Equal(t, "INIT", created["state"])
	assert.Equal(t, "default", created["workspace"])
	assert.Equal(t, "admin", created["created_by"])

	rec = env.do(t, http.MethodGet, "/api/v0/sessions/"+sessionID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v0/sessions", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []map[string]any
	decodeJSON(t, rec, &list)
	require.Len(t, list, 1)

	// Invalid transition is rejected at the API boundary.
	rec = env.do(t, http.MethodPut, "/api/v0/sessions/"+sessionID+"/state", token, map[string]string{
		"state": "BUSY",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/v0/sessions/"+sessionID, token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v0/sessions/"+sessionID, token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateSessionOverAPI(t *testing.T) {
	env := newTestEnv(t)
	token := env.adminToken(t)

	rec := env.do(t, http.MethodPost, "/api/v0/sessions", token, map[string]any{"name": "demo"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created map[string]any
	decodeJSON(t, rec, &created)
	sessionID := created["id"].(string)

	rec = env.do(t, http.MethodPut, "/api/v0/sessions/"+sessionID, token, map[string]any{
		"name":                    "renamed",
		"waiting_timeout_seconds": 42,
		"metadata":                map[string]string{"env": "prod"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated map[string]any
	decodeJSON(t, rec, &updated)
	assert.Equal(t, "renamed", updated["name"])
	assert.EqualValues(t, 42, updated["waiting_timeout_seconds"])

	// An update without any fields is rejected.
	rec = env.do(t, http.MethodPut, "/api/v0/sessions/"+sessionID, token, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPut, "/api/v0/sessions/nope", token, map[string]any{"name": "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionContainerTokenAccessesOwnSession(t *testing.T) {
	env := newTestEnv(t)
	admin := env.adminToken(t)

	createSession := func(name string) string {
		rec := env.do(t, http.MethodPost, "/api/v0/sessions", admin, map[string]any{"name": name})
		require.Equal(t, http.StatusCreated, rec.Code)
		var created map[string]any
		decodeJSON(t, rec, &created)
		return created["id"].(string)
	}
	own := createSession("own")
	other := createSession("other")

	// The token a container receives: a subject named after its session,
	// with no role bindings.
	minted, err := env.issuer.IssueSubjectToken(auth.SessionPrincipalName(own), nil)
	require.NoError(t, err)
	token := minted.Token

	rec := env.do(t, http.MethodPost, "/api/v0/sessions/"+own+"/messages", token, map[string]any{
		"role": "USER", "content": "hello from inside",
	})
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/v0/sessions/"+own+"/messages", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v0/sessions/"+own, token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Any other session stays out of reach.
	rec = env.do(t, http.MethodGet, "/api/v0/sessions/"+other, token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = env.do(t, http.MethodPost, "/api/v0/sessions/"+other+"/messages", token, map[string]any{
		"role": "USER", "content": "nope",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMessagesOverAPI(t *testing.T) {
	env := newTestEnv(t)
	token := env.adminToken(t)

	rec := env.do(t, http.MethodPost, "/api/v0/sessions", token, map[string]any{"name": "demo"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created map[string]any
	decodeJSON(t, rec, &created)
	sessionID := created["id"].(string)

	rec = env.do(t, http.MethodPost, "/api/v0/sessions/"+sessionID+"/messages", token, map[string]any{
		"role": "USER", "content": "hello",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// Agent messages without an agent id are rejected.
	rec = env.do(t, http.MethodPost, "/api/v0/sessions/"+sessionID+"/messages", token, map[string]any{
		"role": "AGENT", "content": "hi",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v0/sessions/"+sessionID+"/messages/count", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var count map[string]any
	decodeJSON(t, rec, &count)
	assert.EqualValues(t, 1, count["count"])
	assert.Equal(t, sessionID, count["session_id"])

	rec = env.do(t, http.MethodDelete, "/api/v0/sessions/"+sessionID+"/messages", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v0/sessions/"+sessionID+"/messages", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var msgs []map[string]any
	decodeJSON(t, rec, &msgs)
	assert.Empty(t, msgs)
}

func TestRBACForbidsUnboundAccount(t *testing.T) {
	env := newTestEnv(t)
	admin := env.adminToken(t)

	rec := env.do(t, http.MethodPost, "/api/v0/service-accounts", admin, map[string]string{
		"user": "limited", "password": "secret123",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/v0/auth/internal", "", map[string]string{
		"user": "limited", "pass": "secret123",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp auth.TokenResponse
	decodeJSON(t, rec, &resp)

	// Authenticated but with no bindings: everything is forbidden.
	rec = env.do(t, http.MethodGet, "/api/v0/service-accounts", resp.Token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/v0/sessions", resp.Token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWorkspaceScopedRole(t *testing.T) {
	env := newTestEnv(t)
	admin := env.adminToken(t)
	ctx := context.Background()

	rec := env.do(t, http.MethodPost, "/api/v0/service-accounts", admin, map[string]string{
		"user": "dev-bot", "password": "secret123",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	role := &rbac.Role{Name: "session-user", Rules: []rbac.Rule{
		{APIGroups: []string{"api"}, Resources: []string{"sessions"}, Verbs: []string{"create", "get", "list", "update"}},
	}}
	require.NoError(t, env.store.CreateRole(ctx, role))
	dev := "dev"
	require.NoError(t, env.store.CreateRoleBinding(ctx, &rbac.Binding{
		RoleName: "session-user", PrincipalName: "dev-bot",
		PrincipalType: rbac.StoredTypeServiceAccount, Workspace: &dev,
	}))

	rec = env.do(t, http.MethodPost, "/api/v0/auth/internal", "", map[string]string{
		"user": "dev-bot", "pass": "secret123",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp auth.TokenResponse
	decodeJSON(t, rec, &resp)

	// Creating in the bound workspace succeeds.
	rec = env.do(t, http.MethodPost, "/api/v0/sessions", resp.Token, map[string]any{
		"name": "ok", "workspace": "dev",
	})
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// Creating in another workspace is forbidden.
	rec = env.do(t, http.MethodPost, "/api/v0/sessions", resp.Token, map[string]any{
		"name": "nope", "workspace": "prod",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestOwnershipScopedListing(t *testing.T) {
	env := newTestEnv(t)
	admin := env.adminToken(t)
	ctx := context.Background()

	// Two plain accounts sharing a workspace role without the -all verbs.
	for _, user := range []string{"alice", "bob"} {
		rec := env.do(t, http.MethodPost, "/api/v0/service-accounts", admin, map[string]string{
			"user": user, "password": "secret123",
		})
		require.Equal(t, http.StatusCreated, rec.Code)
	}
	role := &rbac.Role{Name: "member", Rules: []rbac.Rule{
		{APIGroups: []string{"api"}, Resources: []string{"sessions"}, Verbs: []string{"create", "get", "list"}},
	}}
	require.NoError(t, env.store.CreateRole(ctx, role))
	for _, user := range []string{"alice", "bob"} {
		require.NoError(t, env.store.CreateRoleBinding(ctx, &rbac.Binding{
			RoleName: "member", PrincipalName: user, PrincipalType: rbac.StoredTypeServiceAccount,
		}))
	}

	login := func(user string) string {
		rec := env.do(t, http.MethodPost, "/api/v0/auth/internal", "", map[string]string{
			"user": user, "pass": "secret123",
		})
		require.Equal(t, http.StatusOK, rec.Code)
		var resp auth.TokenResponse
		decodeJSON(t, rec, &resp)
		return resp.Token
	}
	aliceToken := login("alice")
	bobToken := login("bob")

	rec := env.do(t, http.MethodPost, "/api/v0/sessions", aliceToken, map[string]any{"name": "alices"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created map[string]any
	decodeJSON(t, rec, &created)
	sessionID := created["id"].(string)

	// Bob's plain list does not include Alice's session.
	rec = env.do(t, http.MethodGet, "/api/v0/sessions", bobToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []map[string]any
	decodeJSON(t, rec, &list)
	assert.Empty(t, list)

	// Bob cannot read Alice's session directly.
	rec = env.do(t, http.MethodGet, "/api/v0/sessions/"+sessionID, bobToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// The admin's wildcard role covers list-all and sees it.
	rec = env.do(t, http.MethodGet, "/api/v0/sessions", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeJSON(t, rec, &list)
	assert.Len(t, list, 1)
}

func TestSelfServicePasswordChange(t *testing.T) {
	env := newTestEnv(t)
	admin := env.adminToken(t)

	rec := env.do(t, http.MethodPost, "/api/v0/service-accounts", admin, map[string]string{
		"user": "worker", "password": "oldpass",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created map[string]any
	decodeJSON(t, rec, &created)
	accountID := created["id"].(string)

	rec = env.do(t, http.MethodPost, "/api/v0/auth/internal", "", map[string]string{
		"user": "worker", "pass": "oldpass",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp auth.TokenResponse
	decodeJSON(t, rec, &resp)

	// Wrong current password fails.
	rec = env.do(t, http.MethodPut, "/api/v0/service-accounts/"+accountID+"/password", resp.Token, map[string]string{
		"current_password": "wrong", "new_password": "newpass",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Correct current password rotates without any RBAC binding.
	rec = env.do(t, http.MethodPut, "/api/v0/service-accounts/"+accountID+"/password", resp.Token, map[string]string{
		"current_password": "oldpass", "new_password": "newpass",
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v0/auth/internal", "", map[string]string{
		"user": "worker", "pass": "newpass",
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	// Admin can rotate anyone's password without the current one.
	rec = env.do(t, http.MethodPut, "/api/v0/service-accounts/"+accountID+"/password", admin, map[string]string{
		"new_password": "adminset",
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestExternalLoginRequiresAdminToken(t *testing.T) {
	env := newTestEnv(t)
	admin := env.adminToken(t)

	// Unauthenticated calls are rejected even though the route is public.
	rec := env.do(t, http.MethodPost, "/api/v0/auth/external", "", map[string]string{"subject": "alice"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v0/auth/external", admin, map[string]any{
		"subject": "alice", "workspace": "dev",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp auth.TokenResponse
	decodeJSON(t, rec, &resp)
	claims, err := env.issuer.Decode(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, auth.SubjectTypeSubject, claims.SubType)
}

func TestErrorEnvelopeShape(t *testing.T) {
	env := newTestEnv(t)
	token := env.adminToken(t)

	rec := env.do(t, http.MethodGet, "/api/v0/sessions/nope", token, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	var body map[string]map[string]any
	decodeJSON(t, rec, &body)
	require.Contains(t, body, "error")
	assert.Equal(t, "NOT_FOUND", body["error"]["code"])
	assert.NotEmpty(t, body["error"]["message"])
}
