package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/raworc/raworc/internal/common/errors"
	"github.com/raworc/raworc/internal/rbac"
)

type roleRow struct {
	ID          string    `db:"id"`
	Name        string    `db:"name"`
	Rules       string    `db:"rules"`
	Description *string   `db:"description"`
	CreatedAt   time.Time `db:"created_at"`
}

func (r roleRow) toRole() (rbac.Role, error) {
	var rules []rbac.Rule
	if err := json.Unmarshal([]byte(r.Rules), &rules); err != nil {
		return rbac.Role{}, apperrors.Internal(err)
	}
	return rbac.Role{
		ID:          r.ID,
		Name:        r.Name,
		Rules:       rules,
		Description: r.Description,
		CreatedAt:   r.CreatedAt,
	}, nil
}

// CreateRole inserts a new role. Role names are globally unique.
func (s *Store) CreateRole(ctx context.Context, role *rbac.Role) error {
	if role.ID == "" {
		role.ID = uuid.New().String()
	}
	role.CreatedAt = time.Now().UTC()

	rulesJSON, err := json.Marshal(role.Rules)
	if err != nil {
		return apperrors.Internal(err)
	}

	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO roles (id, name, rules, description, created_at)
		VALUES (?, ?, ?, ?, ?)
	`), role.ID, role.Name, string(rulesJSON), role.Description, role.CreatedAt)
	if isUniqueViolation(err) {
		return apperrors.Conflict("role already exists: " + role.Name)
	}
	if err != nil {
		return apperrors.Database(err)
	}
	return nil
}

// GetRole looks up a role by id or name.
func (s *Store) GetRole(ctx context.Context, idOrName string) (*rbac.Role, error) {
	var row roleRow
	err := s.ro.GetContext(ctx, &row, s.ro.Rebind(`
		SELECT id, name, rules, description, created_at FROM roles WHERE id = ? OR name = ?
	`), idOrName, idOrName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFoundf("role not found: %s", idOrName)
	}
	if err != nil {
		return nil, apperrors.Database(err)
	}
	role, err := row.toRole()
	if err != nil {
		return nil, err
	}
	return &role, nil
}

// ListRoles returns all roles ordered by name.
func (s *Store) ListRoles(ctx context.Context) ([]rbac.Role, error) {
	rows := []roleRow{}
	err := s.ro.SelectContext(ctx, &rows, `
		SELECT id, name, rules, description, created_at FROM roles ORDER BY name ASC
	`)
	if err != nil {
		return nil, apperrors.Database(err)
	}

	roles := make([]rbac.Role, 0, len(rows))
	for _, row := range rows {
		role, err := row.toRole()
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, nil
}

// DeleteRole removes a role permanently. Bindings referencing it become
// inert; evaluation skips bindings whose role cannot be resolved.
func (s *Store) DeleteRole(ctx context.Context, idOrName string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM roles WHERE id = ? OR name = ?`), idOrName, idOrName)
	if err != nil {
		return apperrors.Database(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFoundf("role not found: %s", idOrName)
	}
	return nil
}
