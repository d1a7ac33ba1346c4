package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/cuemby/syncbase/pkg/checksum"
	"github.com/cuemby/syncbase/pkg/model"
	"github.com/cuemby/syncbase/pkg/priority"
)

// LocalBucketName is the sentinel bucket used to block downloads behind
// unacknowledged uploads (spec.md §3).
const LocalBucketName = "$local"

// Adapter defines the storage operations the sync engine needs (spec.md
// §4.4). It is implemented by SQLiteAdapter; the interface exists so
// pkg/oplog, pkg/materialize and pkg/syncengine can be tested against a
// fake without a real database file.
type Adapter interface {
	// LookupBucket atomically upserts a bucket by name and returns its
	// identity; it must be idempotent under repeat calls.
	LookupBucket(ctx context.Context, tx *sql.Tx, name string) (id int64, lastAppliedOp int64, err error)

	BucketSum(ctx context.Context, tx *sql.Tx, bucketID int64) (checksum.BucketSum, error)
	SetBucketSum(ctx context.Context, tx *sql.Tx, bucketID int64, sum checksum.BucketSum) error
	SetBucketLastOp(ctx context.Context, tx *sql.Tx, bucketID, lastOp int64) error
	SetBucketLastAppliedOp(ctx context.Context, tx *sql.Tx, bucketID, lastAppliedOp int64) error
	IncrementBucketCountSinceLast(ctx context.Context, tx *sql.Tx, bucketID int64, by int64) error
	ResetBucketProgress(ctx context.Context, tx *sql.Tx) error
	RolloverBucketProgress(ctx context.Context, tx *sql.Tx, bucketID int64) error

	// BucketProgress returns the progress counters a Checkpoint line uses
	// to detect bucket defrag/shrink (spec.md §4.7): count_at_last is the
	// op count as of the last rollover, count_since_last is how many have
	// arrived since.
	BucketProgress(ctx context.Context, tx *sql.Tx, bucketID int64) (countAtLast, countSinceLast int64, err error)

	// DeleteSupersededOplogRows deletes all oplog rows matching
	// (bucket, row_type, row_id, subkey) and returns the checksum hashes
	// of the deleted rows (spec.md §4.5's "supersede" step).
	DeleteSupersededOplogRows(ctx context.Context, tx *sql.Tx, bucketID int64, rowType, rowID, subkey string) ([]checksum.Checksum, error)
	InsertOplogEntry(ctx context.Context, tx *sql.Tx, entry model.OplogEntry) error
	DeleteBucketOplog(ctx context.Context, tx *sql.Tx, bucketID int64) error
	BucketRowIdentities(ctx context.Context, tx *sql.Tx, bucketID int64) ([]model.UpdatedRow, error)

	MarkUpdatedRow(ctx context.Context, tx *sql.Tx, rowType, rowID string) error
	UpdatedRows(ctx context.Context, tx *sql.Tx) ([]model.UpdatedRow, error)
	ClearUpdatedRows(ctx context.Context, tx *sql.Tx) error

	// RowsChangedSince returns (row_type, row_id) pairs with at least one
	// oplog entry whose op_id exceeds the bucket's last_applied_op,
	// restricted to the given bucket ids when non-empty.
	RowsChangedSince(ctx context.Context, tx *sql.Tx, bucketIDs []int64) ([]model.UpdatedRow, error)

	// LatestOplogData returns the data of the highest-op_id oplog row for
	// (rowType, rowID), scoped to bucketIDs when non-empty (empty means
	// "all buckets"). Returns ok=false when no such row exists.
	LatestOplogData(ctx context.Context, tx *sql.Tx, rowType, rowID string, bucketIDs []int64) (data []byte, ok bool, err error)

	// KnownDataTable reports whether rowType has a generated ps_data__
	// table (vs. falling back to ps_untyped).
	KnownDataTable(ctx context.Context, tx *sql.Tx, rowType string) (bool, error)
	UpsertDataRow(ctx context.Context, tx *sql.Tx, rowType, rowID string, data []byte) error
	DeleteDataRow(ctx context.Context, tx *sql.Tx, rowType, rowID string) error
	UpsertUntypedRow(ctx context.Context, tx *sql.Tx, rowType, rowID string, data []byte) error
	DeleteUntypedRow(ctx context.Context, tx *sql.Tx, rowType, rowID string) error

	DeleteBucketsNotIn(ctx context.Context, tx *sql.Tx, names []string) ([]string, error)
	DeleteBucketByName(ctx context.Context, tx *sql.Tx, name string) error
	AllBucketNames(ctx context.Context, tx *sql.Tx) ([]string, error)

	SetSyncState(ctx context.Context, tx *sql.Tx, pr priority.Priority, at time.Time) error
	DeleteSyncStateAbove(ctx context.Context, tx *sql.Tx, pr priority.Priority) error
	LastSyncedAt(ctx context.Context, tx *sql.Tx, pr priority.Priority) (time.Time, bool, error)

	CRUDQueueEmpty(ctx context.Context, tx *sql.Tx) (bool, error)

	ClientID(ctx context.Context, tx *sql.Tx) (string, bool, error)
	SetClientID(ctx context.Context, tx *sql.Tx, id string) error

	WallClockSeconds() int64

	// Begin starts a host transaction; commit/rollback is the caller's
	// responsibility.
	Begin(ctx context.Context) (*sql.Tx, error)

	Close() error
}
