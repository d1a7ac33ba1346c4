package schema

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/cuemby/syncbase/pkg/model"
	"github.com/cuemby/syncbase/pkg/syncerr"
)

// updateViews drops every generated view and recreates the ones the new
// schema still wants, the simplest correct reconciliation given SQLite has
// no "CREATE OR REPLACE VIEW" and trigger bodies are cheap to regenerate
// (spec.md §4.8).
func updateViews(ctx context.Context, tx *sql.Tx, newSchema model.Schema) error {
	existing, err := existingViews(ctx, tx)
	if err != nil {
		return err
	}
	wanted := make(map[string]struct{}, len(newSchema.Tables))
	for _, t := range newSchema.Tables {
		wanted[t.Name] = struct{}{}
	}

	for name := range existing {
		if _, ok := wanted[name]; !ok {
			if err := dropView(ctx, tx, name); err != nil {
				return err
			}
		}
	}

	for _, t := range newSchema.Tables {
		if err := dropView(ctx, tx, t.Name); err != nil {
			return err
		}
		if err := createView(ctx, tx, t); err != nil {
			return err
		}
	}
	return nil
}

func existingViews(ctx context.Context, tx *sql.Tx) (map[string]struct{}, error) {
	rows, err := tx.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'view'`)
	if err != nil {
		return nil, syncerr.Storagef("list existing views", err)
	}
	defer rows.Close()
	out := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, syncerr.Storagef("scan view name", err)
		}
		out[name] = struct{}{}
	}
	return out, nil
}

func dropView(ctx context.Context, tx *sql.Tx, name string) error {
	if _, err := tx.ExecContext(ctx, "DROP VIEW IF EXISTS "+quoteIdent(name)); err != nil {
		return syncerr.Storagef("drop view "+name, err)
	}
	for _, suffix := range []string{"_insert", "_update", "_update_metadata_delete", "_delete"} {
		if _, err := tx.ExecContext(ctx, "DROP TRIGGER IF EXISTS "+quoteIdent("ps_view_"+name+suffix)); err != nil {
			return syncerr.Storagef("drop trigger for view "+name, err)
		}
	}
	return nil
}

func createView(ctx context.Context, tx *sql.Tx, t model.TableInfo) error {
	cols := make([]string, 0, len(t.Columns)+1)
	cols = append(cols, "id")
	for _, c := range t.Columns {
		cols = append(cols, fmt.Sprintf("CAST(json_extract(data, '$.%s') AS %s) AS %s", c.Name, c.Type, quoteIdent(c.Name)))
	}
	sqlText := fmt.Sprintf("CREATE VIEW %s AS SELECT %s FROM %s", quoteIdent(t.Name), strings.Join(cols, ", "), quoteIdent(t.InternalName()))
	if _, err := tx.ExecContext(ctx, sqlText); err != nil {
		return syncerr.Storagef("create view "+t.Name, err)
	}

	for _, trig := range generateTriggers(t) {
		if _, err := tx.ExecContext(ctx, trig); err != nil {
			return syncerr.Storagef("create trigger for view "+t.Name, err)
		}
	}
	return nil
}
