// Package migrate maintains ps_migration, the append-only log of schema
// versions a database has passed through (spec.md §4.1, §9.1). Forward
// migrations are applied once, when a fresh database is opened, by seeding
// the log entries for every version up to LatestVersion alongside the
// already-current schema storage.OpenSQLiteAdapter creates; downgrading
// replays the stored down-migration scripts version by version, the way
// the reference implementation's powersync_migrate does it.
package migrate

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/cuemby/syncbase/pkg/syncerr"
)

// LatestVersion is the highest schema version this module knows how to
// reach and reverse out of (spec.md §9, Open Question #1: the repository's
// older, divergent migration path is not ported — this is the canonical
// one).
const LatestVersion = 11

// downStatement mirrors the {"sql": "...", "params": [...]} shape the
// reference implementation stores in down_migrations; params is always
// empty for every migration this module ships, so it is dropped on
// marshal and ignored on unmarshal.
type downStatement struct {
	SQL string `json:"sql"`
}

// migration describes one schema version's reversal script. Forward
// scripts are not modeled here: storage.OpenSQLiteAdapter already creates
// the schema at LatestVersion directly, so EnsureLatest only needs to seed
// the log, not replay eleven versions of ALTER TABLE history.
type migration struct {
	id   int
	down []downStatement
}

// migrations holds the down-migration script for every version from 2 to
// LatestVersion. Version 1 has no down migration: there is nothing below
// it to return to.
var migrations = []migration{
	{id: 2, down: []downStatement{
		{SQL: "DELETE FROM ps_migration WHERE id >= 2"},
		{SQL: "DROP TABLE ps_tx"},
		{SQL: "ALTER TABLE ps_crud DROP COLUMN tx_id"},
	}},
	{id: 3, down: []downStatement{
		{SQL: "DELETE FROM ps_migration WHERE id >= 3"},
		{SQL: "DROP TABLE ps_kv"},
	}},
	{id: 4, down: []downStatement{
		{SQL: "DELETE FROM ps_migration WHERE id >= 4"},
		{SQL: "ALTER TABLE ps_buckets DROP COLUMN op_checksum"},
	}},
	{id: 5, down: []downStatement{
		{SQL: "SELECT powersync_drop_view(view.name) FROM sqlite_master view WHERE view.type = 'view' AND view.sql GLOB '*-- powersync-auto-generated'"},
		{SQL: "DELETE FROM ps_migration WHERE id >= 5"},
	}},
	{id: 6, down: []downStatement{
		{SQL: "DELETE FROM ps_migration WHERE id >= 6"},
	}},
	{id: 7, down: []downStatement{
		{SQL: "DROP TABLE ps_sync_state"},
		{SQL: "DELETE FROM ps_migration WHERE id >= 7"},
	}},
	{id: 8, down: []downStatement{
		{SQL: "DELETE FROM ps_migration WHERE id >= 8"},
	}},
	{id: 9, down: []downStatement{
		{SQL: "ALTER TABLE ps_buckets DROP COLUMN count_at_last"},
		{SQL: "ALTER TABLE ps_buckets DROP COLUMN count_since_last"},
		{SQL: "DELETE FROM ps_migration WHERE id >= 9"},
	}},
	{id: 10, down: []downStatement{
		{SQL: "SELECT powersync_drop_view(view.name) FROM sqlite_master view WHERE view.type = 'view' AND view.sql GLOB '*-- powersync-auto-generated'"},
		{SQL: "DELETE FROM ps_migration WHERE id >= 10"},
	}},
	{id: 11, down: []downStatement{
		// The reference implementation ships this migration's down script
		// as a literal placeholder ("todo down migration"); spec.md §9,
		// Open Question #2 directs preserving it as-is rather than
		// inventing a real reversal for ps_stream_subscriptions.
		{SQL: "todo down migration"},
		{SQL: "DELETE FROM ps_migration WHERE id >= 11"},
	}},
}

// CurrentVersion returns the highest id in ps_migration, or 0 if the table
// is empty or does not exist yet.
func CurrentVersion(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}) (int, error) {
	var version int
	err := q.QueryRowContext(ctx, `SELECT ifnull(max(id), 0) FROM ps_migration`).Scan(&version)
	if err != nil {
		return 0, syncerr.Storagef("read migration version", err)
	}
	return version, nil
}

// EnsureLatest seeds ps_migration up to LatestVersion on a freshly created
// database. It is a no-op once the log already reaches LatestVersion, and
// is not a substitute for a real incremental migration runner: the schema
// it is seeding a log for has already been created at its final shape by
// storage.OpenSQLiteAdapter.
func EnsureLatest(ctx context.Context, db *sql.DB) error {
	current, err := CurrentVersion(ctx, db)
	if err != nil {
		return err
	}
	if current >= LatestVersion {
		return nil
	}

	now := time.Now().Unix()
	if current < 1 {
		if _, err := db.ExecContext(ctx, `INSERT INTO ps_migration(id, down_migrations, applied_at) VALUES (1, '[]', ?)`, now); err != nil {
			return syncerr.Storagef("seed migration 1", err)
		}
	}
	for _, m := range migrations {
		if m.id <= current {
			continue
		}
		encoded, err := json.Marshal(m.down)
		if err != nil {
			return syncerr.Storagef("encode down migration", err)
		}
		if _, err := db.ExecContext(ctx, `INSERT INTO ps_migration(id, down_migrations, applied_at) VALUES (?, ?, ?)`, m.id, string(encoded), now); err != nil {
			return syncerr.Storagef("seed migration", err)
		}
	}
	return nil
}

// Downgrade replays down-migration scripts until ps_migration's version
// reaches target, mirroring powersync_migrate's down-migration loop: each
// step runs the statements stored against the highest version above
// target, then requires the version to have strictly decreased before
// continuing (spec.md §9, "Down-migration did not update version").
func Downgrade(ctx context.Context, tx *sql.Tx, target int) error {
	current, err := CurrentVersion(ctx, tx)
	if err != nil {
		return err
	}

	for current > target {
		var id int
		var downJSON string
		err := tx.QueryRowContext(ctx,
			`SELECT id, down_migrations FROM ps_migration WHERE id > ? ORDER BY id DESC LIMIT 1`, target).
			Scan(&id, &downJSON)
		if err != nil {
			return syncerr.Storagef("find down migration", err)
		}

		var steps []downStatement
		if err := json.Unmarshal([]byte(downJSON), &steps); err != nil {
			return syncerr.LocalDataf("decode down migration", err)
		}
		for _, step := range steps {
			if _, err := tx.ExecContext(ctx, step.SQL); err != nil {
				return syncerr.Storagef("run down migration for version "+strconv.Itoa(id), err)
			}
		}

		next, err := CurrentVersion(ctx, tx)
		if err != nil {
			return err
		}
		if next >= current {
			return syncerr.Wrap(syncerr.KindDownMigration, "", fmt.Errorf("down migration from version %d did not update schema version", current))
		}
		current = next
	}
	return nil
}
