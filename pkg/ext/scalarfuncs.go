package ext

import (
	"database/sql/driver"
	"fmt"

	"github.com/cuemby/syncbase/pkg/jsonmerge"
	"github.com/cuemby/syncbase/pkg/priority"
	"github.com/cuemby/syncbase/pkg/schema"
	"github.com/cuemby/syncbase/pkg/syncerr"
	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

// Register installs the conn-local scalar functions of spec.md §6 on conn.
// Call it from a mattn/go-sqlite3 ConnectHook alongside crud.Register.
func Register(conn *sqlite3.SQLiteConn) error {
	funcs := map[string]interface{}{
		"powersync_diff":                         powersyncDiff,
		"powersync_json_merge":                   powersyncJSONMerge,
		"powersync_remove_duplicate_key_encoding": powersyncRemoveDuplicateKeyEncoding,
		"uuid":                     uuidFunc,
		"gen_random_uuid":          uuidFunc,
		"powersync_client_id":      connFuncs{conn}.clientID,
		"powersync_last_synced_at": connFuncs{conn}.lastSyncedAt,
		"powersync_clear":          connFuncs{conn}.clear,
		"powersync_init":           connFuncs{conn}.init,
	}
	for name, impl := range funcs {
		if err := conn.RegisterFunc(name, impl, true); err != nil {
			return fmt.Errorf("register %s: %w", name, err)
		}
	}
	return nil
}

func powersyncDiff(oldJSON, newJSON string, ignoreRemoved ...int64) (string, error) {
	ignore := len(ignoreRemoved) > 0 && ignoreRemoved[0] != 0
	return schema.Diff(oldJSON, newJSON, ignore)
}

func powersyncJSONMerge(args ...string) (string, error) {
	return jsonmerge.Merge(args)
}

func uuidFunc() (string, error) {
	return uuid.NewString(), nil
}

// connFuncs binds the functions that only need the raw connection's own
// Exec/Query (no cross-statement transaction semantics beyond what SQLite
// already gives a single statement) to that connection.
type connFuncs struct {
	conn *sqlite3.SQLiteConn
}

func (c connFuncs) clientID() (string, error) {
	rows, err := c.conn.Query(`SELECT value FROM ps_kv WHERE key = 'client_id'`, nil)
	if err != nil {
		return "", fmt.Errorf("read client_id: %w", err)
	}
	defer rows.Close()

	dest := make([]driver.Value, 1)
	if err := rows.Next(dest); err != nil {
		return "", syncerr.ErrMissingClientID
	}
	s, ok := dest[0].(string)
	if !ok {
		return "", syncerr.ErrMissingClientID
	}
	return s, nil
}

// lastSyncedAt returns the decimal unix-seconds text of the last full
// sync completion, or "" when nothing has synced yet (spec.md §6's
// "optional text").
func (c connFuncs) lastSyncedAt() (string, error) {
	rows, err := c.conn.Query(`SELECT last_synced_at FROM ps_sync_state WHERE priority = ?`, []driver.Value{int64(priority.Sentinel)})
	if err != nil {
		return "", fmt.Errorf("read last_synced_at: %w", err)
	}
	defer rows.Close()

	dest := make([]driver.Value, 1)
	if err := rows.Next(dest); err != nil {
		return "", nil
	}
	return fmt.Sprint(dest[0]), nil
}

// clear implements powersync_clear(include_local_only): wipe oplog, CRUD,
// buckets, untyped and sync-state data, preserving client_id; when
// includeLocalOnly is non-zero also truncate every ps_data_local__ table.
func (c connFuncs) clear(includeLocalOnly int64) (int64, error) {
	stmts := []string{
		`DELETE FROM ps_oplog`,
		`DELETE FROM ps_crud`,
		`DELETE FROM ps_buckets`,
		`DELETE FROM ps_untyped`,
		`DELETE FROM ps_updated_rows`,
		`DELETE FROM ps_sync_state`,
		`UPDATE ps_tx SET next_tx = 1, current_tx = NULL WHERE id = 1`,
	}
	for _, stmt := range stmts {
		if _, err := c.conn.Exec(stmt, nil); err != nil {
			return 0, fmt.Errorf("powersync_clear: %w", err)
		}
	}

	if includeLocalOnly != 0 {
		rows, err := c.conn.Query(`SELECT name FROM sqlite_master WHERE type = 'table' AND name LIKE 'ps_data_local__%'`, nil)
		if err != nil {
			return 0, fmt.Errorf("powersync_clear: list local-only tables: %w", err)
		}
		var names []string
		dest := make([]driver.Value, 1)
		for rows.Next(dest) == nil {
			if name, ok := dest[0].(string); ok {
				names = append(names, name)
			}
		}
		rows.Close()
		for _, name := range names {
			if _, err := c.conn.Exec(fmt.Sprintf(`DELETE FROM %q`, name), nil); err != nil {
				return 0, fmt.Errorf("powersync_clear: truncate %s: %w", name, err)
			}
		}
	}
	return 1, nil
}

// init ensures the ps_tx seed row exists. Everything else powersync_init
// covers in the reference implementation (creating internal tables,
// running migrations to the latest version) already happens eagerly in
// storage.OpenSQLiteAdapter, so this is an idempotent no-op on a database
// opened through this module's own adapter.
func (c connFuncs) init() (int64, error) {
	if _, err := c.conn.Exec(`INSERT OR IGNORE INTO ps_tx (id, next_tx, current_tx) VALUES (1, 1, NULL)`, nil); err != nil {
		return 0, fmt.Errorf("powersync_init: %w", err)
	}
	return 1, nil
}
