package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/raworc/raworc/internal/common/errors"
	"github.com/raworc/raworc/internal/rbac"
)

const bindingColumns = `id, role_name, principal_name, principal_type, workspace, created_at`

// CreateRoleBinding inserts a new role binding.
func (s *Store) CreateRoleBinding(ctx context.Context, binding *rbac.Binding) error {
	if binding.ID == "" {
		binding.ID = uuid.New().String()
	}
	binding.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO role_bindings (id, role_name, principal_name, principal_type, workspace, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`), binding.ID, binding.RoleName, binding.PrincipalName, binding.PrincipalType, binding.Workspace, binding.CreatedAt)
	if err != nil {
		return apperrors.Database(err)
	}
	return nil
}

// GetRoleBinding looks up a binding by id.
func (s *Store) GetRoleBinding(ctx context.Context, id string) (*rbac.Binding, error) {
	var binding rbac.Binding
	err := s.ro.GetContext(ctx, &binding, s.ro.Rebind(`
		SELECT `+bindingColumns+` FROM role_bindings WHERE id = ?
	`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFoundf("role binding not found: %s", id)
	}
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return &binding, nil
}

// ListRoleBindings returns all role bindings ordered by creation time.
func (s *Store) ListRoleBindings(ctx context.Context) ([]rbac.Binding, error) {
	bindings := []rbac.Binding{}
	err := s.ro.SelectContext(ctx, &bindings, `
		SELECT `+bindingColumns+` FROM role_bindings ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return bindings, nil
}

// ListBindingsForPrincipal returns the bindings naming the given principal.
// The engine applies workspace scoping; this only narrows by identity.
func (s *Store) ListBindingsForPrincipal(ctx context.Context, principal rbac.Principal) ([]rbac.Binding, error) {
	bindings := []rbac.Binding{}
	err := s.ro.SelectContext(ctx, &bindings, s.ro.Rebind(`
		SELECT `+bindingColumns+` FROM role_bindings
		WHERE principal_name = ? AND principal_type = ?
	`), principal.PrincipalName(), principal.PrincipalType().StorageForm())
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return bindings, nil
}

// DeleteRoleBinding removes a binding permanently.
func (s *Store) DeleteRoleBinding(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM role_bindings WHERE id = ?`), id)
	if err != nil {
		return apperrors.Database(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFoundf("role binding not found: %s", id)
	}
	return nil
}
