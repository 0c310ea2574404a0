// Package rbac implements the role-based access control model: principals,
// permission rules, roles, role bindings, and the permission evaluation
// engine. Evaluation is pure; callers load roles and bindings from storage
// and pass them in.
package rbac

import "time"

// PrincipalType discriminates the two kinds of authenticated principal.
type PrincipalType string

const (
	PrincipalTypeServiceAccount PrincipalType = "ServiceAccount"
	PrincipalTypeSubject        PrincipalType = "Subject"
)

// Stored principal type literals. Subjects are persisted as "User"; the
// domain name and the stored name diverge for historical reasons and the
// stored form is part of the wire contract.
const (
	StoredTypeServiceAccount = "ServiceAccount"
	StoredTypeUser           = "User"
)

// StorageForm returns the literal persisted in role_bindings rows.
func (t PrincipalType) StorageForm() string {
	if t == PrincipalTypeSubject {
		return StoredTypeUser
	}
	return StoredTypeServiceAccount
}

// Principal is the authenticated actor of a request: either a service
// account (stored credential) or a subject (external identity).
type Principal interface {
	PrincipalName() string
	PrincipalType() PrincipalType
}

// Subject is an external identity presented via a signed token. No server
// side record exists for it.
type Subject struct {
	Name string `json:"name"`
}

func (s Subject) PrincipalName() string        { return s.Name }
func (s Subject) PrincipalType() PrincipalType { return PrincipalTypeSubject }

// ServiceAccount is a principal with a stored bcrypt credential.
type ServiceAccount struct {
	ID           string     `db:"id" json:"id"`
	User         string     `db:"user" json:"user"`
	PasswordHash string     `db:"password_hash" json:"-"`
	Description  *string    `db:"description" json:"description,omitempty"`
	Active       bool       `db:"active" json:"active"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
	LastLoginAt  *time.Time `db:"last_login_at" json:"last_login_at,omitempty"`
}

func (a *ServiceAccount) PrincipalName() string        { return a.User }
func (a *ServiceAccount) PrincipalType() PrincipalType { return PrincipalTypeServiceAccount }

// Rule grants the cross product of its api groups, resources, and verbs.
// "*" in any list matches everything. A non-empty ResourceNames narrows the
// rule to specific object names.
type Rule struct {
	APIGroups     []string `json:"apiGroups"`
	Resources     []string `json:"resources"`
	Verbs         []string `json:"verbs"`
	ResourceNames []string `json:"resourceNames,omitempty"`
}

// Role is a named bundle of permission rules. Roles are global.
type Role struct {
	ID          string    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Rules       []Rule    `json:"rules"`
	Description *string   `db:"description" json:"description,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Binding associates a role with a principal, optionally scoped to a
// workspace. A nil Workspace binds globally.
type Binding struct {
	ID            string    `db:"id" json:"id"`
	RoleName      string    `db:"role_name" json:"role_name"`
	PrincipalName string    `db:"principal_name" json:"principal_name"`
	PrincipalType string    `db:"principal_type" json:"principal_type"`
	Workspace     *string   `db:"workspace" json:"workspace,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// Context describes the action being authorized.
type Context struct {
	APIGroup     string
	Resource     string
	Verb         string
	ResourceName *string
	Workspace    *string
}

// AdminRole returns the role seeded on a fresh installation: a single rule
// granting every verb on every resource in every api group.
func AdminRole() Role {
	return Role{
		Name: "admin",
		Rules: []Rule{
			{APIGroups: []string{"*"}, Resources: []string{"*"}, Verbs: []string{"*"}},
		},
	}
}
