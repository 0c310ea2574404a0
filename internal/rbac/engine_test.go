package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string { return &s }

func TestHasPermissionAdminWildcard(t *testing.T) {
	account := &ServiceAccount{User: "admin"}
	roles := []Role{AdminRole()}
	bindings := []Binding{
		{RoleName: "admin", PrincipalName: "admin", PrincipalType: StoredTypeServiceAccount},
	}

	assert.True(t, HasPermission(account, roles, bindings, Context{
		APIGroup: "api", Resource: "sessions", Verb: "delete",
	}))
	assert.True(t, HasPermission(account, roles, bindings, Context{
		APIGroup: "api", Resource: "roles", Verb: "create", Workspace: strPtr("dev"),
	}))
}

func TestHasPermissionNoBindings(t *testing.T) {
	account := &ServiceAccount{User: "nobody"}
	roles := []Role{AdminRole()}

	assert.False(t, HasPermission(account, roles, nil, Context{
		APIGroup: "api", Resource: "sessions", Verb: "get",
	}))
}

func TestHasPermissionPrincipalMismatch(t *testing.T) {
	roles := []Role{AdminRole()}
	bindings := []Binding{
		{RoleName: "admin", PrincipalName: "alice", PrincipalType: StoredTypeServiceAccount},
	}

	// Same name but different principal type must not match.
	subject := Subject{Name: "alice"}
	assert.False(t, HasPermission(subject, roles, bindings, Context{
		APIGroup: "api", Resource: "sessions", Verb: "get",
	}))

	// Different name must not match.
	other := &ServiceAccount{User: "bob"}
	assert.False(t, HasPermission(other, roles, bindings, Context{
		APIGroup: "api", Resource: "sessions", Verb: "get",
	}))
}

func TestHasPermissionSubjectStoredAsUser(t *testing.T) {
	subject := Subject{Name: "alice"}
	roles := []Role{AdminRole()}
	bindings := []Binding{
		{RoleName: "admin", PrincipalName: "alice", PrincipalType: StoredTypeUser},
	}

	assert.True(t, HasPermission(subject, roles, bindings, Context{
		APIGroup: "api", Resource: "sessions", Verb: "list",
	}))
}

func TestHasPermissionWorkspaceScoping(t *testing.T) {
	account := &ServiceAccount{User: "dev"}
	roles := []Role{
		{Name: "operator", Rules: []Rule{
			{APIGroups: []string{"api"}, Resources: []string{"sessions"}, Verbs: []string{"get", "list", "create"}},
		}},
	}
	bindings := []Binding{
		{RoleName: "operator", PrincipalName: "dev", PrincipalType: StoredTypeServiceAccount, Workspace: strPtr("dev")},
	}

	// Matching workspace grants.
	assert.True(t, HasPermission(account, roles, bindings, Context{
		APIGroup: "api", Resource: "sessions", Verb: "get", Workspace: strPtr("dev"),
	}))
	// Different workspace does not.
	assert.False(t, HasPermission(account, roles, bindings, Context{
		APIGroup: "api", Resource: "sessions", Verb: "get", Workspace: strPtr("prod"),
	}))
}

func TestHasPermissionGlobalBindingCoversAllWorkspaces(t *testing.T) {
	account := &ServiceAccount{User: "dev"}
	roles := []Role{
		{Name: "reader", Rules: []Rule{
			{APIGroups: []string{"api"}, Resources: []string{"sessions"}, Verbs: []string{"get"}},
		}},
	}
	bindings := []Binding{
		{RoleName: "reader", PrincipalName: "dev", PrincipalType: StoredTypeServiceAccount},
	}

	assert.True(t, HasPermission(account, roles, bindings, Context{
		APIGroup: "api", Resource: "sessions", Verb: "get", Workspace: strPtr("any"),
	}))
}

func TestHasPermissionVerbAndResourceAxes(t *testing.T) {
	account := &ServiceAccount{User: "dev"}
	roles := []Role{
		{Name: "reader", Rules: []Rule{
			{APIGroups: []string{"api"}, Resources: []string{"sessions", "agents"}, Verbs: []string{"get", "list"}},
		}},
	}
	bindings := []Binding{
		{RoleName: "reader", PrincipalName: "dev", PrincipalType: StoredTypeServiceAccount},
	}

	assert.True(t, HasPermission(account, roles, bindings, Context{
		APIGroup: "api", Resource: "agents", Verb: "list",
	}))
	assert.False(t, HasPermission(account, roles, bindings, Context{
		APIGroup: "api", Resource: "sessions", Verb: "delete",
	}))
	assert.False(t, HasPermission(account, roles, bindings, Context{
		APIGroup: "other", Resource: "sessions", Verb: "get",
	}))
}

func TestHasPermissionResourceNames(t *testing.T) {
	account := &ServiceAccount{User: "dev"}
	roles := []Role{
		{Name: "narrow", Rules: []Rule{
			{APIGroups: []string{"api"}, Resources: []string{"roles"}, Verbs: []string{"get"}, ResourceNames: []string{"admin"}},
		}},
	}
	bindings := []Binding{
		{RoleName: "narrow", PrincipalName: "dev", PrincipalType: StoredTypeServiceAccount},
	}

	assert.True(t, HasPermission(account, roles, bindings, Context{
		APIGroup: "api", Resource: "roles", Verb: "get", ResourceName: strPtr("admin"),
	}))
	assert.False(t, HasPermission(account, roles, bindings, Context{
		APIGroup: "api", Resource: "roles", Verb: "get", ResourceName: strPtr("other"),
	}))
	// A name-restricted rule never grants an unnamed request.
	assert.False(t, HasPermission(account, roles, bindings, Context{
		APIGroup: "api", Resource: "roles", Verb: "get",
	}))
}

func TestHasPermissionBindingToMissingRole(t *testing.T) {
	account := &ServiceAccount{User: "dev"}
	bindings := []Binding{
		{RoleName: "ghost", PrincipalName: "dev", PrincipalType: StoredTypeServiceAccount},
	}

	assert.False(t, HasPermission(account, nil, bindings, Context{
		APIGroup: "api", Resource: "sessions", Verb: "get",
	}))
}

func TestStorageForm(t *testing.T) {
	assert.Equal(t, "ServiceAccount", PrincipalTypeServiceAccount.StorageForm())
	assert.Equal(t, "User", PrincipalTypeSubject.StorageForm())
}
