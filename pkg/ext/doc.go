// Package ext wires spec.md §6's external interface onto a SQLite
// connection: scalar functions and the powersync_operations virtual table.
//
// mattn/go-sqlite3's RegisterFunc callbacks only receive the arguments
// SQLite passed them, not a handle back to the owning connection or
// transaction. Functions whose job is a self-contained read or write
// against the raw connection (powersync_client_id, powersync_last_synced_at,
// powersync_init, powersync_clear, the pure powersync_diff/
// powersync_json_merge/uuid functions) are wired as real SQLite scalar
// functions here, following the same conn.Exec/conn.Query pattern
// pkg/crud/vtab.go uses for its lazy tx_id assignment.
//
// powersync_replace_schema, powersync_validate_checkpoint and
// powersync_control need the full storage.Adapter/*sql.Tx machinery
// pkg/schema, pkg/materialize and pkg/syncengine already provide against
// database/sql — reimplementing that against the raw driver connection
// would duplicate it. Those three are exposed as plain Go functions for a
// host process to call directly (ReplaceSchema, ValidateCheckpoint,
// Control), the same boundary pkg/syncengine.Engine's own Handle* methods
// sit behind.
package ext
