package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/cuemby/syncbase/pkg/checksum"
	"github.com/cuemby/syncbase/pkg/crud"
	"github.com/cuemby/syncbase/pkg/migrate"
	"github.com/cuemby/syncbase/pkg/model"
	"github.com/cuemby/syncbase/pkg/priority"
	"github.com/cuemby/syncbase/pkg/syncerr"
	"github.com/mattn/go-sqlite3"
)

// sqliteDriverName is registered once with a ConnectHook that installs the
// powersync_crud_ virtual table module on every new connection, since
// mattn/go-sqlite3 only exposes that hook at driver-registration time.
const sqliteDriverName = "syncbase-sqlite3"

// ExtraConnectHooks lets packages built on top of storage (pkg/ext)
// install additional scalar functions and virtual tables on every new
// connection. storage can't import pkg/ext directly: pkg/ext's
// Adapter-based functions need to import pkg/storage, and that import
// would cycle back. pkg/ext's own init() appends to this slice instead.
var ExtraConnectHooks []func(*sqlite3.SQLiteConn) error

func init() {
	sql.Register(sqliteDriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			if err := crud.Register(conn); err != nil {
				return err
			}
			for _, hook := range ExtraConnectHooks {
				if err := hook(conn); err != nil {
					return err
				}
			}
			return nil
		},
	})
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS ps_buckets (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	last_applied_op INTEGER NOT NULL DEFAULT 0,
	last_op INTEGER NOT NULL DEFAULT 0,
	add_checksum INTEGER NOT NULL DEFAULT 0,
	op_checksum INTEGER NOT NULL DEFAULT 0,
	count_at_last INTEGER NOT NULL DEFAULT 0,
	count_since_last INTEGER NOT NULL DEFAULT 0,
	pending_delete INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS ps_oplog (
	bucket_id INTEGER NOT NULL,
	op_id INTEGER NOT NULL,
	row_type TEXT NOT NULL,
	row_id TEXT NOT NULL,
	subkey TEXT NOT NULL DEFAULT '',
	data TEXT,
	hash INTEGER NOT NULL,
	PRIMARY KEY (bucket_id, op_id)
);
CREATE INDEX IF NOT EXISTS ps_oplog_by_row ON ps_oplog(bucket_id, row_type, row_id, subkey);
CREATE TABLE IF NOT EXISTS ps_updated_rows (
	row_type TEXT NOT NULL,
	row_id TEXT NOT NULL,
	PRIMARY KEY (row_type, row_id)
);
CREATE TABLE IF NOT EXISTS ps_kv (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS ps_migration (
	id INTEGER PRIMARY KEY,
	down_migrations TEXT NOT NULL,
	applied_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS ps_crud (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	tx_id INTEGER NOT NULL,
	data TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS ps_tx (
	id INTEGER NOT NULL DEFAULT 1,
	next_tx INTEGER NOT NULL,
	current_tx INTEGER
);
CREATE TABLE IF NOT EXISTS ps_sync_state (
	priority INTEGER PRIMARY KEY,
	last_synced_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS ps_untyped (
	type TEXT NOT NULL,
	id TEXT NOT NULL,
	data TEXT,
	PRIMARY KEY (type, id)
);
CREATE VIRTUAL TABLE IF NOT EXISTS powersync_crud_ USING powersync_crud_();
`

// SQLiteAdapter implements Adapter against a SQLite database file opened
// through mattn/go-sqlite3, the way warren's BoltStore wraps a bbolt *DB
// with one Go method per storage operation.
type SQLiteAdapter struct {
	db        *sql.DB
	stmtCache *statementCache
}

// OpenSQLiteAdapter opens (creating if absent) the database file at
// <dataDir>/syncbase.db and ensures the internal tables exist.
func OpenSQLiteAdapter(dataDir string) (*SQLiteAdapter, error) {
	dbPath := filepath.Join(dataDir, "syncbase.db")

	db, err := sql.Open(sqliteDriverName, dbPath+"?_journal_mode=WAL&_foreign_keys=off")
	if err != nil {
		return nil, syncerr.Storagef("open database", err)
	}
	db.SetMaxOpenConns(1) // SQLite allows one writer; serialize through database/sql.

	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, syncerr.Storagef("create internal tables", err)
	}
	if _, err := db.Exec(`INSERT INTO ps_tx (id, next_tx) SELECT 1, 1 WHERE NOT EXISTS (SELECT 1 FROM ps_tx WHERE id = 1)`); err != nil {
		db.Close()
		return nil, syncerr.Storagef("seed transaction counter", err)
	}
	if err := migrate.EnsureLatest(context.Background(), db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteAdapter{db: db, stmtCache: newStatementCache(db)}, nil
}

// Begin starts a host transaction and clears any CRUD tx_id left over from
// the previous one, so powersync_crud_'s lazy tx_id assignment (pkg/crud)
// starts fresh for each new transaction (spec.md §4.9).
func (a *SQLiteAdapter) Begin(ctx context.Context) (*sql.Tx, error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, syncerr.Storagef("begin transaction", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE ps_tx SET current_tx = NULL WHERE id = 1`); err != nil {
		tx.Rollback()
		return nil, syncerr.Storagef("reset crud tx marker", err)
	}
	return tx, nil
}

func (a *SQLiteAdapter) Close() error {
	return a.db.Close()
}

func (a *SQLiteAdapter) WallClockSeconds() int64 {
	return time.Now().Unix()
}

func (a *SQLiteAdapter) LookupBucket(ctx context.Context, tx *sql.Tx, name string) (int64, int64, error) {
	_, err := tx.ExecContext(ctx, `INSERT INTO ps_buckets (name) VALUES (?) ON CONFLICT(name) DO NOTHING`, name)
	if err != nil {
		return 0, 0, syncerr.Storagef("upsert bucket", err)
	}
	var id, lastAppliedOp int64
	err = tx.QueryRowContext(ctx, `SELECT id, last_applied_op FROM ps_buckets WHERE name = ?`, name).Scan(&id, &lastAppliedOp)
	if err != nil {
		return 0, 0, syncerr.Storagef("lookup bucket", err)
	}
	return id, lastAppliedOp, nil
}

func (a *SQLiteAdapter) BucketSum(ctx context.Context, tx *sql.Tx, bucketID int64) (checksum.BucketSum, error) {
	var add, op int64
	err := tx.QueryRowContext(ctx, `SELECT add_checksum, op_checksum FROM ps_buckets WHERE id = ?`, bucketID).Scan(&add, &op)
	if err != nil {
		return checksum.BucketSum{}, syncerr.Storagef("read bucket checksum", err)
	}
	return checksum.BucketSum{Add: checksum.FromInt64(add), Op: checksum.FromInt64(op)}, nil
}

func (a *SQLiteAdapter) SetBucketSum(ctx context.Context, tx *sql.Tx, bucketID int64, sum checksum.BucketSum) error {
	_, err := tx.ExecContext(ctx, `UPDATE ps_buckets SET add_checksum = ?, op_checksum = ? WHERE id = ?`,
		int64(int32(sum.Add.Uint32())), int64(int32(sum.Op.Uint32())), bucketID)
	return syncerr.Storagef("update bucket checksum", err)
}

func (a *SQLiteAdapter) SetBucketLastOp(ctx context.Context, tx *sql.Tx, bucketID, lastOp int64) error {
	_, err := tx.ExecContext(ctx, `UPDATE ps_buckets SET last_op = ? WHERE id = ?`, lastOp, bucketID)
	return syncerr.Storagef("update bucket last_op", err)
}

func (a *SQLiteAdapter) SetBucketLastAppliedOp(ctx context.Context, tx *sql.Tx, bucketID, lastAppliedOp int64) error {
	_, err := tx.ExecContext(ctx, `UPDATE ps_buckets SET last_applied_op = ? WHERE id = ?`, lastAppliedOp, bucketID)
	return syncerr.Storagef("update bucket last_applied_op", err)
}

func (a *SQLiteAdapter) IncrementBucketCountSinceLast(ctx context.Context, tx *sql.Tx, bucketID int64, by int64) error {
	_, err := tx.ExecContext(ctx, `UPDATE ps_buckets SET count_since_last = count_since_last + ? WHERE id = ?`, by, bucketID)
	return syncerr.Storagef("increment bucket progress", err)
}

func (a *SQLiteAdapter) ResetBucketProgress(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `UPDATE ps_buckets SET count_at_last = 0, count_since_last = 0`)
	return syncerr.Storagef("reset bucket progress", err)
}

func (a *SQLiteAdapter) RolloverBucketProgress(ctx context.Context, tx *sql.Tx, bucketID int64) error {
	_, err := tx.ExecContext(ctx, `UPDATE ps_buckets SET count_at_last = count_at_last + count_since_last, count_since_last = 0 WHERE id = ?`, bucketID)
	return syncerr.Storagef("rollover bucket progress", err)
}

func (a *SQLiteAdapter) BucketProgress(ctx context.Context, tx *sql.Tx, bucketID int64) (int64, int64, error) {
	var atLast, sinceLast int64
	err := tx.QueryRowContext(ctx, `SELECT count_at_last, count_since_last FROM ps_buckets WHERE id = ?`, bucketID).Scan(&atLast, &sinceLast)
	if err != nil {
		return 0, 0, syncerr.Storagef("read bucket progress", err)
	}
	return atLast, sinceLast, nil
}

func (a *SQLiteAdapter) DeleteSupersededOplogRows(ctx context.Context, tx *sql.Tx, bucketID int64, rowType, rowID, subkey string) ([]checksum.Checksum, error) {
	rows, err := tx.QueryContext(ctx, `SELECT hash FROM ps_oplog WHERE bucket_id = ? AND row_type = ? AND row_id = ? AND subkey = ?`,
		bucketID, rowType, rowID, subkey)
	if err != nil {
		return nil, syncerr.Storagef("select superseded oplog rows", err)
	}
	var hashes []checksum.Checksum
	for rows.Next() {
		var h int64
		if err := rows.Scan(&h); err != nil {
			rows.Close()
			return nil, syncerr.Storagef("scan superseded oplog row", err)
		}
		hashes = append(hashes, checksum.FromInt64(h))
	}
	rows.Close()

	if _, err := tx.ExecContext(ctx, `DELETE FROM ps_oplog WHERE bucket_id = ? AND row_type = ? AND row_id = ? AND subkey = ?`,
		bucketID, rowType, rowID, subkey); err != nil {
		return nil, syncerr.Storagef("delete superseded oplog rows", err)
	}
	return hashes, nil
}

func (a *SQLiteAdapter) InsertOplogEntry(ctx context.Context, tx *sql.Tx, entry model.OplogEntry) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO ps_oplog (bucket_id, op_id, row_type, row_id, subkey, data, hash) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.BucketID, entry.OpID, entry.RowType, entry.RowID, "", entry.Data, int64(int32(entry.Checksum.Uint32())))
	return syncerr.Storagef("insert oplog entry", err)
}

func (a *SQLiteAdapter) DeleteBucketOplog(ctx context.Context, tx *sql.Tx, bucketID int64) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM ps_oplog WHERE bucket_id = ?`, bucketID)
	return syncerr.Storagef("delete bucket oplog", err)
}

func (a *SQLiteAdapter) BucketRowIdentities(ctx context.Context, tx *sql.Tx, bucketID int64) ([]model.UpdatedRow, error) {
	rows, err := tx.QueryContext(ctx, `SELECT DISTINCT row_type, row_id FROM ps_oplog WHERE bucket_id = ?`, bucketID)
	if err != nil {
		return nil, syncerr.Storagef("select bucket row identities", err)
	}
	defer rows.Close()
	var out []model.UpdatedRow
	for rows.Next() {
		var r model.UpdatedRow
		if err := rows.Scan(&r.RowType, &r.RowID); err != nil {
			return nil, syncerr.Storagef("scan row identity", err)
		}
		r.BucketID = bucketID
		out = append(out, r)
	}
	return out, nil
}

func (a *SQLiteAdapter) MarkUpdatedRow(ctx context.Context, tx *sql.Tx, rowType, rowID string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO ps_updated_rows (row_type, row_id) VALUES (?, ?)`, rowType, rowID)
	return syncerr.Storagef("mark updated row", err)
}

func (a *SQLiteAdapter) UpdatedRows(ctx context.Context, tx *sql.Tx) ([]model.UpdatedRow, error) {
	rows, err := tx.QueryContext(ctx, `SELECT row_type, row_id FROM ps_updated_rows`)
	if err != nil {
		return nil, syncerr.Storagef("select updated rows", err)
	}
	defer rows.Close()
	var out []model.UpdatedRow
	for rows.Next() {
		var r model.UpdatedRow
		if err := rows.Scan(&r.RowType, &r.RowID); err != nil {
			return nil, syncerr.Storagef("scan updated row", err)
		}
		out = append(out, r)
	}
	return out, nil
}

func (a *SQLiteAdapter) ClearUpdatedRows(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM ps_updated_rows`)
	return syncerr.Storagef("clear updated rows", err)
}

func (a *SQLiteAdapter) RowsChangedSince(ctx context.Context, tx *sql.Tx, bucketIDs []int64) ([]model.UpdatedRow, error) {
	query := `
		SELECT DISTINCT o.row_type, o.row_id
		FROM ps_oplog o
		JOIN ps_buckets b ON b.id = o.bucket_id
		WHERE o.op_id > b.last_applied_op`
	args := []any{}
	if len(bucketIDs) > 0 {
		query += " AND o.bucket_id IN (" + placeholders(len(bucketIDs)) + ")"
		for _, id := range bucketIDs {
			args = append(args, id)
		}
	}
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, syncerr.Storagef("select rows changed since last applied op", err)
	}
	defer rows.Close()
	var out []model.UpdatedRow
	for rows.Next() {
		var r model.UpdatedRow
		if err := rows.Scan(&r.RowType, &r.RowID); err != nil {
			return nil, syncerr.Storagef("scan changed row", err)
		}
		out = append(out, r)
	}
	return out, nil
}

func (a *SQLiteAdapter) LatestOplogData(ctx context.Context, tx *sql.Tx, rowType, rowID string, bucketIDs []int64) ([]byte, bool, error) {
	query := `SELECT data FROM ps_oplog WHERE row_type = ? AND row_id = ?`
	args := []any{rowType, rowID}
	if len(bucketIDs) > 0 {
		query += " AND bucket_id IN (" + placeholders(len(bucketIDs)) + ")"
		for _, id := range bucketIDs {
			args = append(args, id)
		}
	}
	query += " ORDER BY op_id DESC LIMIT 1"

	var data sql.NullString
	err := tx.QueryRowContext(ctx, query, args...).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, syncerr.Storagef("select latest oplog data", err)
	}
	if !data.Valid {
		return nil, true, nil
	}
	return []byte(data.String), true, nil
}

func (a *SQLiteAdapter) KnownDataTable(ctx context.Context, tx *sql.Tx, rowType string) (bool, error) {
	var name string
	err := tx.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, model.TableInfo{Name: rowType}.InternalName()).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, syncerr.Storagef("check for data table", err)
	}
	return true, nil
}

func (a *SQLiteAdapter) UpsertDataRow(ctx context.Context, tx *sql.Tx, rowType, rowID string, data []byte) error {
	table := model.TableInfo{Name: rowType}.InternalName()
	_, err := tx.ExecContext(ctx, fmt.Sprintf(`INSERT OR REPLACE INTO %s (id, data) VALUES (?, ?)`, quoteIdent(table)), rowID, string(data))
	return syncerr.Storagef("upsert data row", err)
}

func (a *SQLiteAdapter) DeleteDataRow(ctx context.Context, tx *sql.Tx, rowType, rowID string) error {
	table := model.TableInfo{Name: rowType}.InternalName()
	_, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, quoteIdent(table)), rowID)
	return syncerr.Storagef("delete data row", err)
}

func (a *SQLiteAdapter) UpsertUntypedRow(ctx context.Context, tx *sql.Tx, rowType, rowID string, data []byte) error {
	_, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO ps_untyped (type, id, data) VALUES (?, ?, ?)`, rowType, rowID, string(data))
	return syncerr.Storagef("upsert untyped row", err)
}

func (a *SQLiteAdapter) DeleteUntypedRow(ctx context.Context, tx *sql.Tx, rowType, rowID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM ps_untyped WHERE type = ? AND id = ?`, rowType, rowID)
	return syncerr.Storagef("delete untyped row", err)
}

func (a *SQLiteAdapter) DeleteBucketsNotIn(ctx context.Context, tx *sql.Tx, names []string) ([]string, error) {
	query := `SELECT id, name FROM ps_buckets`
	args := []any{}
	if len(names) > 0 {
		query += " WHERE name NOT IN (" + placeholders(len(names)) + ")"
		for _, n := range names {
			args = append(args, n)
		}
	}
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, syncerr.Storagef("select buckets to drop", err)
	}
	type victim struct {
		id   int64
		name string
	}
	var victims []victim
	for rows.Next() {
		var v victim
		if err := rows.Scan(&v.id, &v.name); err != nil {
			rows.Close()
			return nil, syncerr.Storagef("scan bucket to drop", err)
		}
		victims = append(victims, v)
	}
	rows.Close()

	var dropped []string
	for _, v := range victims {
		if err := a.deleteBucket(ctx, tx, v.id); err != nil {
			return nil, err
		}
		dropped = append(dropped, v.name)
	}
	return dropped, nil
}

func (a *SQLiteAdapter) DeleteBucketByName(ctx context.Context, tx *sql.Tx, name string) error {
	var id int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM ps_buckets WHERE name = ?`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return syncerr.Storagef("lookup bucket to delete", err)
	}
	return a.deleteBucket(ctx, tx, id)
}

func (a *SQLiteAdapter) deleteBucket(ctx context.Context, tx *sql.Tx, id int64) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM ps_oplog WHERE bucket_id = ?`, id); err != nil {
		return syncerr.Storagef("delete bucket oplog on bucket removal", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM ps_buckets WHERE id = ?`, id); err != nil {
		return syncerr.Storagef("delete bucket", err)
	}
	return nil
}

func (a *SQLiteAdapter) AllBucketNames(ctx context.Context, tx *sql.Tx) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT name FROM ps_buckets`)
	if err != nil {
		return nil, syncerr.Storagef("select bucket names", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, syncerr.Storagef("scan bucket name", err)
		}
		names = append(names, n)
	}
	return names, nil
}

func (a *SQLiteAdapter) SetSyncState(ctx context.Context, tx *sql.Tx, pr priority.Priority, at time.Time) error {
	_, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO ps_sync_state (priority, last_synced_at) VALUES (?, ?)`, int32(pr), at.Unix())
	return syncerr.Storagef("set sync state", err)
}

func (a *SQLiteAdapter) DeleteSyncStateAbove(ctx context.Context, tx *sql.Tx, pr priority.Priority) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM ps_sync_state WHERE priority < ?`, int32(pr))
	return syncerr.Storagef("delete sync state for higher priorities", err)
}

func (a *SQLiteAdapter) LastSyncedAt(ctx context.Context, tx *sql.Tx, pr priority.Priority) (time.Time, bool, error) {
	var at int64
	err := tx.QueryRowContext(ctx, `SELECT last_synced_at FROM ps_sync_state WHERE priority = ?`, int32(pr)).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, syncerr.Storagef("read sync state", err)
	}
	return time.Unix(at, 0).UTC(), true, nil
}

func (a *SQLiteAdapter) CRUDQueueEmpty(ctx context.Context, tx *sql.Tx) (bool, error) {
	var n int
	if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM ps_crud`).Scan(&n); err != nil {
		return false, syncerr.Storagef("count crud queue", err)
	}
	return n == 0, nil
}

func (a *SQLiteAdapter) ClientID(ctx context.Context, tx *sql.Tx) (string, bool, error) {
	var v string
	err := tx.QueryRowContext(ctx, `SELECT value FROM ps_kv WHERE key = 'client_id'`).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, syncerr.Storagef("read client_id", err)
	}
	return v, true, nil
}

func (a *SQLiteAdapter) SetClientID(ctx context.Context, tx *sql.Tx, id string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO ps_kv (key, value) VALUES ('client_id', ?)`, id)
	return syncerr.Storagef("set client_id", err)
}

func placeholders(n int) string {
	out := make([]byte, 0, n*2)
	for i := 0; i < n; i++ {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, '?')
	}
	return string(out)
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
