package ext

import (
	"context"
	"testing"

	"github.com/cuemby/syncbase/pkg/storage"
	"github.com/cuemby/syncbase/pkg/syncengine"
	"github.com/stretchr/testify/require"
)

func newTestAdapter(t *testing.T) *storage.SQLiteAdapter {
	t.Helper()
	a, err := storage.OpenSQLiteAdapter(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestReplaceSchemaAppliesParsedTables(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	tx, err := a.Begin(ctx)
	require.NoError(t, err)

	err = ReplaceSchema(ctx, tx, `{
		"tables": [
			{"name": "todos", "columns": [{"name": "title", "type": "TEXT"}]}
		]
	}`)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	tx, err = a.Begin(ctx)
	require.NoError(t, err)
	var name string
	require.NoError(t, tx.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'ps_data__todos'`).Scan(&name))
	require.Equal(t, "ps_data__todos", name)
	require.NoError(t, tx.Commit())
}

func TestReplaceSchemaRejectsUnknownColumnType(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()
	tx, err := a.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	err = ReplaceSchema(ctx, tx, `{"tables":[{"name":"t","columns":[{"name":"x","type":"BLOB"}]}]}`)
	require.Error(t, err)
}

func TestValidateCheckpointReportsFailedBuckets(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()
	tx, err := a.Begin(ctx)
	require.NoError(t, err)

	_, _, err = a.LookupBucket(ctx, tx, "bucket1")
	require.NoError(t, err)

	out, err := ValidateCheckpoint(ctx, a, tx, `{"last_op_id":"1","buckets":[{"bucket":"bucket1","checksum":42}]}`)
	require.NoError(t, err)
	require.Contains(t, out, `"valid":false`)
	require.Contains(t, out, "bucket1")
	require.NoError(t, tx.Commit())
}

func TestValidateCheckpointAllMatchingIsValid(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()
	tx, err := a.Begin(ctx)
	require.NoError(t, err)

	out, err := ValidateCheckpoint(ctx, a, tx, `{"last_op_id":"0","buckets":[]}`)
	require.NoError(t, err)
	require.Contains(t, out, `"valid":true`)
	require.NoError(t, tx.Commit())
}

func TestControlStartEmitsEstablishSyncStream(t *testing.T) {
	a := newTestAdapter(t)
	engine := syncengine.New(a)

	out, err := Control(context.Background(), engine, "start", nil)
	require.NoError(t, err)
	require.Contains(t, out, "EstablishSyncStream")
}

func TestControlUnknownOpIsArgumentError(t *testing.T) {
	a := newTestAdapter(t)
	engine := syncengine.New(a)

	_, err := Control(context.Background(), engine, "bogus", nil)
	require.Error(t, err)
}

func TestControlLineTextKeepAlive(t *testing.T) {
	a := newTestAdapter(t)
	engine := syncengine.New(a)

	out, err := Control(context.Background(), engine, "line_text", []byte(`{"token_expires_in": 0}`))
	require.NoError(t, err)
	require.Contains(t, out, "FetchCredentials")
	require.Contains(t, out, "CloseSyncStream")
}
