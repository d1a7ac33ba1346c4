package oplog

import (
	"context"
	"testing"

	"github.com/cuemby/syncbase/pkg/model"
	"github.com/cuemby/syncbase/pkg/storage"
	"github.com/cuemby/syncbase/pkg/syncline"
	"github.com/stretchr/testify/require"
)

func newTestAdapter(t *testing.T) *storage.SQLiteAdapter {
	t.Helper()
	a, err := storage.OpenSQLiteAdapter(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func ptr(s string) *string { return &s }

// TestInsertPutAccumulatesOpChecksum covers spec.md §8's basic checkpoint
// scenario: a single PUT contributes its hash to op_checksum only.
func TestInsertPutAccumulatesOpChecksum(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()
	tx, err := a.Begin(ctx)
	require.NoError(t, err)

	entries := []syncline.OplogEntry{
		{OpID: 1, Op: model.OpPut, ObjectType: ptr("todos"), ObjectID: ptr("t1"), Checksum: 10, Data: ptr(`{"a":1}`)},
	}
	require.NoError(t, InsertBucketOperations(ctx, a, tx, "bucket1", entries))

	id, lastAppliedOp, err := a.LookupBucket(ctx, tx, "bucket1")
	require.NoError(t, err)
	require.Equal(t, int64(0), lastAppliedOp) // insertion never advances last_applied_op

	sum, err := a.BucketSum(ctx, tx, id)
	require.NoError(t, err)
	require.Equal(t, int64(10), int64(int32(sum.Op.Uint32())))
	require.Equal(t, int64(0), int64(int32(sum.Add.Uint32())))
	require.NoError(t, tx.Commit())
}

// TestInsertRemoveSupersedesEarlierPut matches spec.md §8's REMOVE checksum
// scenario: PUT(10) then PUT(20) (superseding the first) then REMOVE(5)
// leaves add_checksum == 10+20+5 == 35 and op_checksum == 0.
func TestInsertRemoveSupersedesEarlierPut(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()
	tx, err := a.Begin(ctx)
	require.NoError(t, err)

	entries := []syncline.OplogEntry{
		{OpID: 1, Op: model.OpPut, ObjectType: ptr("todos"), ObjectID: ptr("t1"), Checksum: 10, Data: ptr(`{"a":1}`)},
		{OpID: 2, Op: model.OpPut, ObjectType: ptr("todos"), ObjectID: ptr("t1"), Checksum: 20, Data: ptr(`{"a":2}`)},
		{OpID: 3, Op: model.OpRemove, ObjectType: ptr("todos"), ObjectID: ptr("t1"), Checksum: 5},
	}
	require.NoError(t, InsertBucketOperations(ctx, a, tx, "bucket1", entries))

	id, _, err := a.LookupBucket(ctx, tx, "bucket1")
	require.NoError(t, err)
	sum, err := a.BucketSum(ctx, tx, id)
	require.NoError(t, err)
	require.Equal(t, int64(35), int64(int32(sum.Add.Uint32())))
	require.Equal(t, int64(0), int64(int32(sum.Op.Uint32())))

	rows, err := a.BucketRowIdentities(ctx, tx, id)
	require.NoError(t, err)
	require.Empty(t, rows, "REMOVE deletes the superseded oplog row, leaving nothing live")
	require.NoError(t, tx.Commit())
}

// TestInsertClearResetsAccumulatorsAndMarksRowsUpdated covers the CLEAR
// branch: every previously-live row is queued for re-materialization and
// the bucket's checksum accumulators reset to just the CLEAR hash.
func TestInsertClearResetsAccumulatorsAndMarksRowsUpdated(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()
	tx, err := a.Begin(ctx)
	require.NoError(t, err)

	require.NoError(t, InsertBucketOperations(ctx, a, tx, "bucket1", []syncline.OplogEntry{
		{OpID: 1, Op: model.OpPut, ObjectType: ptr("todos"), ObjectID: ptr("t1"), Checksum: 10, Data: ptr(`{"a":1}`)},
	}))
	require.NoError(t, InsertBucketOperations(ctx, a, tx, "bucket1", []syncline.OplogEntry{
		{OpID: 2, Op: model.OpClear, Checksum: 7},
	}))

	id, lastAppliedOp, err := a.LookupBucket(ctx, tx, "bucket1")
	require.NoError(t, err)
	require.Equal(t, int64(0), lastAppliedOp)

	sum, err := a.BucketSum(ctx, tx, id)
	require.NoError(t, err)
	require.Equal(t, int64(7), int64(int32(sum.Add.Uint32())))
	require.Equal(t, int64(0), int64(int32(sum.Op.Uint32())))

	rows, err := a.BucketRowIdentities(ctx, tx, id)
	require.NoError(t, err)
	require.Empty(t, rows, "CLEAR wipes the bucket's oplog rows")

	updated, err := a.UpdatedRows(ctx, tx)
	require.NoError(t, err)
	require.Len(t, updated, 1)
	require.Equal(t, "todos", updated[0].RowType)
	require.Equal(t, "t1", updated[0].RowID)
	require.NoError(t, tx.Commit())
}

// TestInsertTracksLastOpAcrossBatch verifies last_op advances to the
// highest op_id seen in the batch regardless of entry order in storage.
func TestInsertTracksLastOpAcrossBatch(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()
	tx, err := a.Begin(ctx)
	require.NoError(t, err)

	require.NoError(t, InsertBucketOperations(ctx, a, tx, "bucket1", []syncline.OplogEntry{
		{OpID: 5, Op: model.OpPut, ObjectType: ptr("todos"), ObjectID: ptr("t1"), Checksum: 1, Data: ptr(`{}`)},
		{OpID: 9, Op: model.OpMove, Checksum: 2},
	}))

	id, _, err := a.LookupBucket(ctx, tx, "bucket1")
	require.NoError(t, err)
	var lastOp int64
	require.NoError(t, tx.QueryRowContext(ctx, `SELECT last_op FROM ps_buckets WHERE id = ?`, id).Scan(&lastOp))
	require.Equal(t, int64(9), lastOp)
	require.NoError(t, tx.Commit())
}
