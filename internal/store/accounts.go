package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/raworc/raworc/internal/common/errors"
	"github.com/raworc/raworc/internal/rbac"
)

// isUniqueViolation detects uniqueness constraint failures for both drivers.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || // sqlite
		strings.Contains(msg, "duplicate key value") // postgres
}

const serviceAccountColumns = `id, "user", password_hash, description, active, created_at, updated_at, last_login_at`

// CreateServiceAccount inserts a new service account.
func (s *Store) CreateServiceAccount(ctx context.Context, account *rbac.ServiceAccount) error {
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO service_accounts (id, "user", password_hash, description, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), account.ID, account.User, account.PasswordHash, account.Description, account.Active, account.CreatedAt, account.UpdatedAt)
	if isUniqueViolation(err) {
		return apperrors.Conflict("service account already exists: " + account.User)
	}
	if err != nil {
		return apperrors.Database(err)
	}
	return nil
}

// GetServiceAccount looks up a service account by id or by user name.
func (s *Store) GetServiceAccount(ctx context.Context, idOrUser string) (*rbac.ServiceAccount, error) {
	var account rbac.ServiceAccount
	err := s.ro.GetContext(ctx, &account, s.ro.Rebind(`
		SELECT `+serviceAccountColumns+` FROM service_accounts WHERE id = ? OR "user" = ?
	`), idOrUser, idOrUser)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFoundf("service account not found: %s", idOrUser)
	}
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return &account, nil
}

// ListServiceAccounts returns all service accounts ordered by user name.
func (s *Store) ListServiceAccounts(ctx context.Context) ([]rbac.ServiceAccount, error) {
	accounts := []rbac.ServiceAccount{}
	err := s.ro.SelectContext(ctx, &accounts, `
		SELECT `+serviceAccountColumns+` FROM service_accounts ORDER BY "user" ASC
	`)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return accounts, nil
}

// CountServiceAccounts returns the number of stored service accounts.
func (s *Store) CountServiceAccounts(ctx context.Context) (int, error) {
	var count int
	if err := s.ro.GetContext(ctx, &count, `SELECT COUNT(*) FROM service_accounts`); err != nil {
		return 0, apperrors.Database(err)
	}
	return count, nil
}

// UpdateServiceAccount updates description and active flags.
func (s *Store) UpdateServiceAccount(ctx context.Context, id string, description *string, active *bool) (*rbac.ServiceAccount, error) {
	account, err := s.GetServiceAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if description != nil {
		account.Description = description
	}
	if active != nil {
		account.Active = *active
	}
	account.UpdatedAt = time.Now().UTC()

	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE service_accounts SET description = ?, active = ?, updated_at = ? WHERE id = ?
	`), account.Description, account.Active, account.UpdatedAt, account.ID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return account, nil
}

// UpdateServiceAccountPassword replaces the stored password hash.
func (s *Store) UpdateServiceAccountPassword(ctx context.Context, id, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE service_accounts SET password_hash = ?, updated_at = ? WHERE id = ?
	`), passwordHash, time.Now().UTC(), id)
	if err != nil {
		return apperrors.Database(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFoundf("service account not found: %s", id)
	}
	return nil
}

// UpdateLastLogin records a successful authentication, matching by id or by
// user name like GetServiceAccount.
func (s *Store) UpdateLastLogin(ctx context.Context, idOrUser string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE service_accounts SET last_login_at = ? WHERE id = ? OR "user" = ?
	`), time.Now().UTC(), idOrUser, idOrUser)
	if err != nil {
		return apperrors.Database(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFoundf("service account not found: %s", idOrUser)
	}
	return nil
}

// DeleteServiceAccount removes a service account permanently.
func (s *Store) DeleteServiceAccount(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM service_accounts WHERE id = ?`), id)
	if err != nil {
		return apperrors.Database(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFoundf("service account not found: %s", id)
	}
	return nil
}
