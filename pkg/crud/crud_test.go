package crud_test

import (
	"context"
	"testing"

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

func TestCrudInsertsShareOneTxIDPerTransaction(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	tx, err := a.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.ExecContext(ctx, `INSERT INTO powersync_crud_(data) VALUES (?)`, `{"op":"PUT","type":"todos","id":"a"}`)
	require.NoError(t, err)
	_, err = tx.ExecContext(ctx, `INSERT INTO powersync_crud_(data) VALUES (?)`, `{"op":"PUT","type":"todos","id":"b"}`)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	tx, err = a.Begin(ctx)
	require.NoError(t, err)
	rows, err := tx.QueryContext(ctx, `SELECT DISTINCT tx_id FROM ps_crud ORDER BY tx_id`)
	require.NoError(t, err)
	var txIDs []int64
	for rows.Next() {
		var id int64
		require.NoError(t, rows.Scan(&id))
		txIDs = append(txIDs, id)
	}
	rows.Close()
	require.NoError(t, tx.Commit())

	assert.Equal(t, []int64{1}, txIDs)
}

func TestCrudTxIDAdvancesAcrossTransactions(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		tx, err := a.Begin(ctx)
		require.NoError(t, err)
		_, err = tx.ExecContext(ctx, `INSERT INTO powersync_crud_(data) VALUES (?)`, `{"op":"PUT","type":"todos","id":"x"}`)
		require.NoError(t, err)
		require.NoError(t, tx.Commit())
	}

	tx, err := a.Begin(ctx)
	require.NoError(t, err)
	var n int
	require.NoError(t, tx.QueryRowContext(ctx, `SELECT count(DISTINCT tx_id) FROM ps_crud`).Scan(&n))
	require.NoError(t, tx.Commit())
	assert.Equal(t, 2, n)
}

func TestCrudTransactionWithNoWritesConsumesNoTxID(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	tx, err := a.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	tx, err = a.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.ExecContext(ctx, `INSERT INTO powersync_crud_(data) VALUES (?)`, `{"op":"PUT","type":"todos","id":"y"}`)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	tx, err = a.Begin(ctx)
	require.NoError(t, err)
	var txID int64
	require.NoError(t, tx.QueryRowContext(ctx, `SELECT tx_id FROM ps_crud`).Scan(&txID))
	require.NoError(t, tx.Commit())

	assert.Equal(t, int64(1), txID)
}

func TestCrudTableItselfIsNeverReadable(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	tx, err := a.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.ExecContext(ctx, `INSERT INTO powersync_crud_(data) VALUES (?)`, `{}`)
	require.NoError(t, err)

	var n int
	require.NoError(t, tx.QueryRowContext(ctx, `SELECT count(*) FROM powersync_crud_`).Scan(&n))
	require.NoError(t, tx.Commit())
	assert.Equal(t, 0, n)
}
