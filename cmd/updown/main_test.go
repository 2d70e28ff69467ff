package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dukerupert/updown/internal/database"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("LOG_DIR", "")
	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func appliedVersions(t *testing.T, path string) []int64 {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, path, database.DefaultOptions())
	require.NoError(t, err)
	defer db.Close()
	m, err := database.NewMigrator(db, zap.NewNop())
	require.NoError(t, err)
	versions, err := m.Applied(ctx)
	require.NoError(t, err)
	return versions
}

func TestMigrateCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cli.db")

	_, err := run(t, "migrate", "--db", "sqlite://"+path)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, appliedVersions(t, path))

	_, err = run(t, "migrate", "--db", path)
	require.NoError(t, err, "migrate is idempotent")
}

func TestRollbackCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cli.db")
	_, err := run(t, "migrate", "--db", path)
	require.NoError(t, err)

	out, err := run(t, "rollback", "--db", path)
	require.NoError(t, err)
	assert.Contains(t, out, "rolled back migration 00005")
	assert.Equal(t, []int64{1, 2, 3, 4}, appliedVersions(t, path))

	_, err = run(t, "rollback", "--db", path)
	require.Error(t, err)
	assert.ErrorIs(t, err, database.ErrNothingToRollback)
	assert.Equal(t, []int64{1, 2, 3, 4}, appliedVersions(t, path))
}

func TestInvalidConfigFails(t *testing.T) {
	t.Setenv("PROBE_CONCURRENCY", "0")
	_, err := run(t, "watch", "--db", filepath.Join(t.TempDir(), "cli.db"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestSubSecondIntervalRejected(t *testing.T) {
	_, err := run(t, "watch", "--db", filepath.Join(t.TempDir(), "cli.db"), "--interval", "500ms")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "probe interval must be at least 1s")
}

func TestServeRejectsBadTrustedProxies(t *testing.T) {
	t.Setenv("TRUSTED_PROXIES", "not-an-address")
	_, err := run(t, "serve", "--db", filepath.Join(t.TempDir(), "cli.db"), "--addr", "127.0.0.1:0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trusted proxy")
}
