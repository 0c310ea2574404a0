package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/raworc/raworc/internal/common/config"
	"github.com/raworc/raworc/internal/common/logger"
	"github.com/raworc/raworc/internal/db"
)

// newTestStore opens a throwaway SQLite-backed store.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	pool, err := db.Open(config.DatabaseConfig{
		URL: "sqlite://" + filepath.Join(t.TempDir(), "raworc-test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	st, err := New(pool)
	require.NoError(t, err)
	return st
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "text"})
	require.NoError(t, err)
	return log
}

func TestSeedRBAC(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	log := testLogger(t)

	require.NoError(t, st.SeedRBAC(ctx, log))

	account, err := st.GetServiceAccount(ctx, "admin")
	require.NoError(t, err)
	require.True(t, account.Active)

	role, err := st.GetRole(ctx, "admin")
	require.NoError(t, err)
	require.Len(t, role.Rules, 1)
	require.Equal(t, []string{"*"}, role.Rules[0].Verbs)

	bindings, err := st.ListBindingsForPrincipal(ctx, account)
	require.NoError(t, err)
	require.Len(t, bindings, 1)
	require.Nil(t, bindings[0].Workspace)

	// Seeding again is a no-op.
	require.NoError(t, st.SeedRBAC(ctx, log))
	accounts, err := st.ListServiceAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
}
