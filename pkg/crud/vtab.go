// Package crud implements the powersync_crud_ insert-only virtual table
// (spec.md §4.9): every row written through it is appended to ps_crud
// tagged with the tx_id of the host transaction it was written in, with at
// most one tx_id consumed per host transaction regardless of how many CRUD
// rows that transaction captures.
//
// mattn/go-sqlite3's Go-level virtual table API exposes Create/Connect and
// per-row Update hooks but not the xBegin/xCommit/xRollback callbacks the
// reference SQLite implementation uses to allocate a tx_id exactly once per
// transaction. This package gets the same guarantee a different way: a
// nullable ps_tx.current_tx column is cleared by storage.SQLiteAdapter.Begin
// at the start of every host transaction, and the first CRUD row written
// within it lazily claims the next tx_id with a single idempotent
// UPDATE ... RETURNING statement; later rows in the same transaction see
// current_tx already set and reuse it.
package crud

import (
	"database/sql/driver"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

// ModuleName is the SQLite virtual table module name the table is created
// under: CREATE VIRTUAL TABLE powersync_crud_ USING powersync_crud_(data).
const ModuleName = "powersync_crud_"

// Register installs the powersync_crud_ module on conn. Call it from a
// mattn/go-sqlite3 ConnectHook.
func Register(conn *sqlite3.SQLiteConn) error {
	return conn.CreateModule(ModuleName, module{})
}

type module struct{}

func (module) Create(c *sqlite3.SQLiteConn, args []string) (sqlite3.VTab, error) {
	if err := c.DeclareVTab(fmt.Sprintf(`CREATE TABLE %s (data TEXT)`, ModuleName)); err != nil {
		return nil, err
	}
	return &vtab{conn: c}, nil
}

func (m module) Connect(c *sqlite3.SQLiteConn, args []string) (sqlite3.VTab, error) {
	return m.Create(c, args)
}

func (module) DestroyModule() {}

type vtab struct {
	conn *sqlite3.SQLiteConn
}

func (*vtab) Open() (sqlite3.VTabCursor, error) {
	return &cursor{}, nil
}

// BestIndex has nothing to optimize: the table never returns rows, so every
// scan is a full (empty) scan.
func (*vtab) BestIndex(cst []sqlite3.InfoConstraint, ob []sqlite3.InfoOrderBy) (*sqlite3.IndexResult, error) {
	return &sqlite3.IndexResult{Used: make([]bool, len(cst))}, nil
}

func (*vtab) Disconnect() error { return nil }
func (*vtab) Destroy() error    { return nil }

// Update implements sqlite3.VTabUpdater. xUpdate argv conventions: len==1 is
// a DELETE of argv[0]; otherwise argv[0]==nil is an INSERT and a non-nil
// argv[0] is an UPDATE of that rowid. powersync_crud_ only accepts inserts.
func (v *vtab) Update(argv []interface{}) (int64, error) {
	if len(argv) == 1 {
		return 0, fmt.Errorf("powersync_crud_ is insert-only: delete not supported")
	}
	if argv[0] != nil {
		return 0, fmt.Errorf("powersync_crud_ is insert-only: update not supported")
	}

	var data interface{}
	if len(argv) > 2 {
		data = argv[2]
	}

	txID, err := v.currentTxID()
	if err != nil {
		return 0, err
	}
	if _, err := v.conn.Exec(`INSERT INTO ps_crud(tx_id, data) VALUES (?, ?)`, []driver.Value{txID, data}); err != nil {
		return 0, fmt.Errorf("insert crud row: %w", err)
	}
	return 0, nil
}

// currentTxID lazily claims the tx_id for the transaction currently open on
// this connection. The CASE/COALESCE pair makes the statement idempotent
// within a transaction: the first call advances next_tx and records the
// claimed value in current_tx, every later call in the same transaction
// just re-reads current_tx.
func (v *vtab) currentTxID() (int64, error) {
	rows, err := v.conn.Query(`UPDATE ps_tx
		SET current_tx = COALESCE(current_tx, next_tx),
		    next_tx = CASE WHEN current_tx IS NULL THEN next_tx + 1 ELSE next_tx END
		WHERE id = 1
		RETURNING current_tx`, nil)
	if err != nil {
		return 0, fmt.Errorf("assign crud tx id: %w", err)
	}
	defer rows.Close()

	dest := make([]driver.Value, 1)
	if err := rows.Next(dest); err != nil {
		return 0, fmt.Errorf("read assigned crud tx id: %w", err)
	}
	switch id := dest[0].(type) {
	case int64:
		return id, nil
	default:
		return 0, fmt.Errorf("unexpected ps_tx.current_tx value type %T", dest[0])
	}
}

// cursor always reports an empty result set: powersync_crud_ is write-only,
// nothing is ever materialized to read back.
type cursor struct {
	done bool
}

func (*cursor) Close() error { return nil }

func (c *cursor) Filter(idxNum int, idxStr string, vals []interface{}) error {
	c.done = true
	return nil
}

func (c *cursor) Next() error { c.done = true; return nil }
func (c *cursor) EOF() bool   { return c.done }

func (*cursor) Column(ctx *sqlite3.SQLiteContext, col int) error {
	ctx.ResultNull()
	return nil
}

func (*cursor) Rowid() (int64, error) { return 0, nil }
