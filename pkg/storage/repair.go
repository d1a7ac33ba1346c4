package storage

import (
	"context"
	"database/sql"
	"strings"

	"github.com/cuemby/syncbase/pkg/syncerr"
)

// RepairDanglingDataRows finds ps_data__ rows with no backing oplog entry —
// a state the supersede/CLEAR bookkeeping should make unreachable, but one
// an earlier storage bug could have left behind — and marks them in
// ps_updated_rows so the next sync_local pass deletes them. Grounded on the
// original implementation's v0.3.5 data-repair migration.
func RepairDanglingDataRows(ctx context.Context, tx *sql.Tx) (int64, error) {
	rows, err := tx.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name GLOB 'ps_data__*'`)
	if err != nil {
		return 0, syncerr.Storagef("list data tables", err)
	}
	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return 0, syncerr.Storagef("scan data table name", err)
		}
		tables = append(tables, name)
	}
	rows.Close()

	var total int64
	for _, table := range tables {
		rowType := strings.TrimPrefix(table, "ps_data__")
		quoted := quoteIdent(table)
		res, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO ps_updated_rows (row_type, row_id)
			SELECT ?, id FROM `+quoted+`
			WHERE NOT EXISTS (SELECT 1 FROM ps_oplog WHERE row_type = ? AND row_id = `+quoted+`.id)`,
			rowType, rowType)
		if err != nil {
			return total, syncerr.Storagef("repair dangling rows in "+table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}
