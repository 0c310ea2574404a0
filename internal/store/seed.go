package store

import (
	"context"

	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/raworc/raworc/internal/common/errors"
	"github.com/raworc/raworc/internal/common/logger"
	"github.com/raworc/raworc/internal/rbac"
)

// SeedRBAC bootstraps a fresh installation. When the service_accounts table
// is empty it inserts the admin account (password "admin"), the admin role
// granting */*/*, and a global binding between them. Existing installations
// are left untouched.
func (s *Store) SeedRBAC(ctx context.Context, log *logger.Logger) error {
	count, err := s.CountServiceAccounts(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte("admin"), bcrypt.DefaultCost)
	if err != nil {
		return apperrors.Crypto(err)
	}

	description := "Bootstrap administrator account"
	admin := &rbac.ServiceAccount{
		User:         "admin",
		PasswordHash: string(hash),
		Description:  &description,
		Active:       true,
	}
	if err := s.CreateServiceAccount(ctx, admin); err != nil {
		return err
	}

	role := rbac.AdminRole()
	if err := s.CreateRole(ctx, &role); err != nil {
		return err
	}

	binding := &rbac.Binding{
		RoleName:      role.Name,
		PrincipalName: admin.User,
		PrincipalType: rbac.StoredTypeServiceAccount,
	}
	if err := s.CreateRoleBinding(ctx, binding); err != nil {
		return err
	}

	log.Warn("Seeded default admin service account; change the password immediately")
	return nil
}
