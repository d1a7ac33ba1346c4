// Package model holds the plain domain structs shared across syncbase's
// storage, oplog, materialization and sync-engine packages, in the flat
// struct style warren's pkg/types uses for its cluster domain.
package model

import (
	"time"

	"github.com/cuemby/syncbase/pkg/checksum"
	"github.com/cuemby/syncbase/pkg/priority"
)

// Bucket is a named, per-client partition of the oplog (spec.md §3).
type Bucket struct {
	ID   int64
	Name string

	// LastOp is the highest op_id received for this bucket so far; the
	// op_id materialized by sync_local is tracked separately as
	// last_applied_op.
	LastOp int64

	// AddChecksum/OpChecksum mirror checksum.BucketSum's two accumulators,
	// stored separately because SQLite has no native 32-bit unsigned type.
	AddChecksum checksum.Checksum
	OpChecksum  checksum.Checksum

	// PendingDelete marks a bucket queued for deletion once its oplog rows
	// have been purged (spec.md §4.4).
	PendingDelete bool

	// CountAtLast/CountSinceLast track progress display between
	// checkpoints. A full sync_local pass folds CountSinceLast into
	// CountAtLast and zeroes CountSinceLast; both are zeroed when a new
	// checkpoint's target count is below their sum.
	CountAtLast   int64
	CountSinceLast int64
}

// Sum returns the bucket's checksum accumulator pair.
func (b Bucket) Sum() checksum.BucketSum {
	return checksum.BucketSum{Add: b.AddChecksum, Op: b.OpChecksum}
}

// OpType enumerates the oplog entry operations (spec.md §3).
type OpType string

const (
	OpPut    OpType = "PUT"
	OpRemove OpType = "REMOVE"
	OpMove   OpType = "MOVE"
	OpClear  OpType = "CLEAR"
)

// OplogEntry is one row of a bucket's oplog (spec.md §3, §4.5).
type OplogEntry struct {
	BucketID int64
	OpID     int64
	Op       OpType

	// RowType/RowID identify the logical row this entry mutates; both are
	// empty for CLEAR entries, which carry no row identity.
	RowType string
	RowID   string

	// Data is the raw JSON payload for PUT entries, nil otherwise.
	Data []byte

	Checksum checksum.Checksum
}

// UpdatedRow marks a (row_type, row_id) pair touched during the current
// sync_local pass, the set materialize.SyncLocal uses to decide which
// views need their underlying rows refreshed (spec.md §4.6).
type UpdatedRow struct {
	BucketID int64
	RowType  string
	RowID    string
}

// KV is a single key/value row in the local, non-synced key-value table
// (ps_kv), used for client_id and other local bookkeeping (spec.md §4.9).
type KV struct {
	Key   string
	Value string
}

// MigrationRecord is one applied migration (spec.md §4.1, §9.1).
type MigrationRecord struct {
	ID            int64
	Version       int
	DownMigration []byte // JSON-encoded list of down-migration SQL statements
	AppliedAt     time.Time
}

// CRUDEntry is a single queued local write awaiting upload (spec.md §4.9).
type CRUDEntry struct {
	ID   int64
	TxID int64
	Data []byte // JSON-encoded {op, type, id, data, metadata}
}

// SyncState is the per-priority sync progress record surfaced to the host
// as part of the status line (spec.md §4.7).
type SyncState struct {
	Priority     priority.Priority
	LastSyncedAt time.Time
	HasSynced    bool
}

// TableFlags are the per-table modifiers a declarative schema can set
// (spec.md §4.8).
type TableFlags struct {
	LocalOnly              bool
	InsertOnly             bool
	IncludeMetadata        bool
	IncludeOldOnlyWhenChanged bool
}

// ColumnInfo describes one column of a declarative schema table.
type ColumnInfo struct {
	Name string
	Type ColumnType
}

// ColumnType is the declared SQLite storage class for a schema column.
type ColumnType string

const (
	ColumnText     ColumnType = "TEXT"
	ColumnInteger  ColumnType = "INTEGER"
	ColumnReal     ColumnType = "REAL"
)

// IndexInfo describes one index over a schema table's columns.
type IndexInfo struct {
	Name    string
	Columns []IndexedColumn
}

// IndexedColumn is one column participating in an index, in the order it
// appears in the index definition.
type IndexedColumn struct {
	Name       string
	Ascending  bool
}

// TableInfo is one table of a declarative schema (spec.md §4.8).
type TableInfo struct {
	Name    string
	Columns []ColumnInfo
	Indexes []IndexInfo
	Flags   TableFlags
}

// Schema is the full declarative schema supplied by the host application.
type Schema struct {
	Tables []TableInfo
}

// InternalName returns the ps_data__<name> (or ps_data_local__<name> for
// local-only tables) table name this schema table is materialized from,
// per spec.md §4.8's naming convention.
func (t TableInfo) InternalName() string {
	if t.Flags.LocalOnly {
		return "ps_data_local__" + t.Name
	}
	return "ps_data__" + t.Name
}
