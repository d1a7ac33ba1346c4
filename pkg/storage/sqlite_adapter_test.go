package storage

import (
	"context"
	"database/sql"
	"testing"

	"github.com/cuemby/syncbase/pkg/checksum"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdapter(t *testing.T) *SQLiteAdapter {
	t.Helper()
	db, err := sql.Open("sqlite3", "file::memory:?cache=shared&_foreign_keys=off")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	_, err = db.Exec(schemaDDL)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO ps_tx (id, next_tx) SELECT 1, 1 WHERE NOT EXISTS (SELECT 1 FROM ps_tx WHERE id = 1)`)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &SQLiteAdapter{db: db, stmtCache: newStatementCache(db)}
}

func TestLookupBucketIsIdempotent(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	tx, err := a.Begin(ctx)
	require.NoError(t, err)
	id1, lastOp1, err := a.LookupBucket(ctx, tx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(0), lastOp1)

	id2, _, err := a.LookupBucket(ctx, tx, "a")
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
	require.NoError(t, tx.Commit())
}

func TestBucketSumRoundTrip(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()
	tx, err := a.Begin(ctx)
	require.NoError(t, err)

	id, _, err := a.LookupBucket(ctx, tx, "b")
	require.NoError(t, err)

	want := checksum.BucketSum{Add: checksum.FromInt64(-1), Op: 42}
	require.NoError(t, a.SetBucketSum(ctx, tx, id, want))

	got, err := a.BucketSum(ctx, tx, id)
	require.NoError(t, err)
	assert.Equal(t, want.Add, got.Add)
	assert.Equal(t, want.Op, got.Op)
	require.NoError(t, tx.Commit())
}
