package ext

import (
	"database/sql/driver"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

// OperationsModuleName is the virtual table module name for
// powersync_operations (spec.md §6).
const OperationsModuleName = "powersync_operations"

// RegisterOperations installs the powersync_operations module on conn.
//
// Only the three ops that are pure raw-SQL housekeeping in the reference
// implementation (crates/core/src/operations.rs: clear_remove_ops and
// delete_pending_buckets are no-ops there already; delete_bucket is a
// couple of DELETE statements) are implemented here. "save" and
// "sync_local" need the full storage.Adapter/*sql.Tx machinery pkg/oplog
// and pkg/materialize provide against database/sql — joining that from
// inside an xUpdate callback, which only ever sees the raw driver
// connection mid-statement, would mean either duplicating that machinery
// against raw SQL or opening a second *sql.Tx against the same file from
// inside the first one's write, which risks deadlocking a single-writer
// SQLite handle. Hosts reach the same functionality through
// pkg/ext.Control's "line_text"/"line_binary" and "completed_upload" ops,
// which run through pkg/syncengine.Engine's transactional handlers
// instead.
func RegisterOperations(conn *sqlite3.SQLiteConn) error {
	return conn.CreateModule(OperationsModuleName, operationsModule{})
}

type operationsModule struct{}

func (operationsModule) Create(c *sqlite3.SQLiteConn, args []string) (sqlite3.VTab, error) {
	if err := c.DeclareVTab(fmt.Sprintf(`CREATE TABLE %s (op TEXT, data TEXT)`, OperationsModuleName)); err != nil {
		return nil, err
	}
	return &operationsVTab{conn: c}, nil
}

func (m operationsModule) Connect(c *sqlite3.SQLiteConn, args []string) (sqlite3.VTab, error) {
	return m.Create(c, args)
}

func (operationsModule) DestroyModule() {}

type operationsVTab struct {
	conn *sqlite3.SQLiteConn
}

func (*operationsVTab) Open() (sqlite3.VTabCursor, error) {
	return &operationsCursor{}, nil
}

func (*operationsVTab) BestIndex(cst []sqlite3.InfoConstraint, ob []sqlite3.InfoOrderBy) (*sqlite3.IndexResult, error) {
	return &sqlite3.IndexResult{Used: make([]bool, len(cst))}, nil
}

func (*operationsVTab) Disconnect() error { return nil }
func (*operationsVTab) Destroy() error    { return nil }

// Update implements the insert-only xUpdate convention pkg/crud/vtab.go
// documents: len(argv)==1 is a delete (rejected), a nil argv[0] is an
// insert, anything else is an update (rejected).
func (v *operationsVTab) Update(argv []interface{}) (int64, error) {
	if len(argv) == 1 {
		return 0, fmt.Errorf("powersync_operations is insert-only: delete not supported")
	}
	if argv[0] != nil {
		return 0, fmt.Errorf("powersync_operations is insert-only: update not supported")
	}

	var op, data string
	if len(argv) > 2 {
		if s, ok := argv[2].(string); ok {
			op = s
		}
	}
	if len(argv) > 3 {
		if s, ok := argv[3].(string); ok {
			data = s
		}
	}

	switch op {
	case "clear_remove_ops", "delete_pending_buckets":
		return 0, nil
	case "delete_bucket":
		return 0, v.deleteBucket(data)
	case "save", "sync_local":
		return 0, fmt.Errorf("powersync_operations op %q is not available at the vtab layer in this port; use powersync_control's line_text/line_binary/completed_upload ops instead", op)
	default:
		return 0, fmt.Errorf("powersync_operations: unknown op %q", op)
	}
}

func (v *operationsVTab) deleteBucket(name string) error {
	rows, err := v.conn.Query(`DELETE FROM ps_buckets WHERE name = ? RETURNING id`, []driver.Value{name})
	if err != nil {
		return fmt.Errorf("delete_bucket: %w", err)
	}
	defer rows.Close()

	dest := make([]driver.Value, 1)
	if err := rows.Next(dest); err != nil {
		return nil
	}
	bucketID := dest[0]

	if _, err := v.conn.Exec(`INSERT OR IGNORE INTO ps_updated_rows(row_type, row_id)
		SELECT row_type, row_id FROM ps_oplog WHERE bucket_id = ?`, []driver.Value{bucketID}); err != nil {
		return fmt.Errorf("delete_bucket: mark updated rows: %w", err)
	}
	if _, err := v.conn.Exec(`DELETE FROM ps_oplog WHERE bucket_id = ?`, []driver.Value{bucketID}); err != nil {
		return fmt.Errorf("delete_bucket: delete oplog: %w", err)
	}
	return nil
}

type operationsCursor struct {
	done bool
}

func (*operationsCursor) Close() error { return nil }

func (c *operationsCursor) Filter(idxNum int, idxStr string, vals []interface{}) error {
	c.done = true
	return nil
}

func (c *operationsCursor) Next() error { c.done = true; return nil }
func (c *operationsCursor) EOF() bool   { return c.done }

func (*operationsCursor) Column(ctx *sqlite3.SQLiteContext, col int) error {
	ctx.ResultNull()
	return nil
}

func (*operationsCursor) Rowid() (int64, error) { return 0, nil }
