package migrate_test

import (
	"context"
	"testing"

	"github.com/cuemby/syncbase/pkg/migrate"
	"github.com/cuemby/syncbase/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdapter(t *testing.T) *storage.SQLiteAdapter {
	t.Helper()
	a, err := storage.OpenSQLiteAdapter(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestOpenSeedsMigrationLogToLatestVersion(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	tx, err := a.Begin(ctx)
	require.NoError(t, err)
	version, err := migrate.CurrentVersion(ctx, tx)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	assert.Equal(t, migrate.LatestVersion, version)
}

func TestReopeningDatabaseLeavesMigrationLogUnchanged(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	a, err := storage.OpenSQLiteAdapter(dir)
	require.NoError(t, err)
	a.Close()

	// Reopening the same database file re-runs EnsureLatest; it must be a
	// no-op once the log already reaches LatestVersion.
	a, err = storage.OpenSQLiteAdapter(dir)
	require.NoError(t, err)
	defer a.Close()

	tx, err := a.Begin(ctx)
	require.NoError(t, err)
	var count int
	require.NoError(t, tx.QueryRowContext(ctx, `SELECT count(*) FROM ps_migration`).Scan(&count))
	require.NoError(t, tx.Commit())

	assert.Equal(t, migrate.LatestVersion, count)
}

// TestDowngradePastPlaceholderFails documents a known limitation inherited
// from the reference implementation: version 11's down migration is a
// literal placeholder, not valid SQL, so any downgrade below 11 fails when
// it reaches that step (spec.md §9, Open Question #2).
func TestDowngradePastPlaceholderFails(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	tx, err := a.Begin(ctx)
	require.NoError(t, err)
	err = migrate.Downgrade(ctx, tx, 10)
	require.Error(t, err)
	require.NoError(t, tx.Rollback())
}

// TestDowngradeStopsAtRequestedVersion exercises a downgrade chain that
// never touches the version 11 placeholder, using a log seeded only up to
// version 9 so the loop runs real, valid down scripts.
func TestDowngradeStopsAtRequestedVersion(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	tx, err := a.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.ExecContext(ctx, `DELETE FROM ps_migration WHERE id >= 10`)
	require.NoError(t, err)
	require.NoError(t, migrate.Downgrade(ctx, tx, 7))
	version, err := migrate.CurrentVersion(ctx, tx)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	assert.Equal(t, 7, version)
}
