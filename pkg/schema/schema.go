// Package schema turns a declarative schema (spec.md §4.8) into the
// generated tables, indexes, views and triggers the host database serves
// reads and writes through.
package schema

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/cuemby/syncbase/pkg/model"
	"github.com/cuemby/syncbase/pkg/syncerr"
)

// Apply reconciles the database's generated objects with newSchema: tables
// are created/dropped (migrating rows to/from ps_untyped), indexes are
// created/recreated/dropped, and views plus their instead-of triggers are
// regenerated for every table (spec.md §4.8). It must run inside tx.
func Apply(ctx context.Context, tx *sql.Tx, newSchema model.Schema) error {
	if err := updateTables(ctx, tx, newSchema); err != nil {
		return err
	}
	if err := updateIndexes(ctx, tx, newSchema); err != nil {
		return err
	}
	if err := updateViews(ctx, tx, newSchema); err != nil {
		return err
	}
	return nil
}

func updateTables(ctx context.Context, tx *sql.Tx, newSchema model.Schema) error {
	wanted := make(map[string]model.TableInfo, len(newSchema.Tables))
	for _, t := range newSchema.Tables {
		wanted[t.Name] = t
	}

	existing, err := existingDataTables(ctx, tx)
	if err != nil {
		return err
	}

	for name, t := range wanted {
		if _, ok := existing[t.InternalName()]; ok {
			continue
		}
		if err := createDataTable(ctx, tx, t); err != nil {
			return err
		}
		if !t.Flags.LocalOnly {
			if err := migrateFromUntyped(ctx, tx, name, t.InternalName()); err != nil {
				return err
			}
		}
	}

	for internalName, rowType := range existing {
		t, stillWanted := wanted[rowType]
		if stillWanted && t.InternalName() == internalName {
			continue
		}
		if !strings.HasPrefix(internalName, "ps_data_local__") {
			if err := migrateToUntyped(ctx, tx, rowType, internalName); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, "DROP TABLE "+quoteIdent(internalName)); err != nil {
			return syncerr.Storagef("drop obsolete data table "+internalName, err)
		}
	}
	return nil
}

// existingDataTables maps ps_data__*/ps_data_local__* table names to the
// row_type they materialize.
func existingDataTables(ctx context.Context, tx *sql.Tx) (map[string]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND (name GLOB 'ps_data__*' OR name GLOB 'ps_data_local__*')`)
	if err != nil {
		return nil, syncerr.Storagef("list data tables", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, syncerr.Storagef("scan data table name", err)
		}
		switch {
		case strings.HasPrefix(name, "ps_data_local__"):
			out[name] = strings.TrimPrefix(name, "ps_data_local__")
		case strings.HasPrefix(name, "ps_data__"):
			out[name] = strings.TrimPrefix(name, "ps_data__")
		}
	}
	return out, nil
}

func createDataTable(ctx context.Context, tx *sql.Tx, t model.TableInfo) error {
	_, err := tx.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE %s (id TEXT PRIMARY KEY NOT NULL, data TEXT)`, quoteIdent(t.InternalName())))
	return syncerr.Storagef("create data table "+t.InternalName(), err)
}

func migrateFromUntyped(ctx context.Context, tx *sql.Tx, rowType, internalName string) error {
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s (id, data) SELECT id, data FROM ps_untyped WHERE type = ?`, quoteIdent(internalName)), rowType); err != nil {
		return syncerr.Storagef("migrate rows from ps_untyped into "+internalName, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM ps_untyped WHERE type = ?`, rowType); err != nil {
		return syncerr.Storagef("clear migrated ps_untyped rows", err)
	}
	return nil
}

func migrateToUntyped(ctx context.Context, tx *sql.Tx, rowType, internalName string) error {
	_, err := tx.ExecContext(ctx, fmt.Sprintf(`INSERT INTO ps_untyped(type, id, data) SELECT ?, id, data FROM %s`, quoteIdent(internalName)), rowType)
	return syncerr.Storagef("migrate rows from "+internalName+" to ps_untyped", err)
}

func updateIndexes(ctx context.Context, tx *sql.Tx, newSchema model.Schema) error {
	var statements []string
	expected := make(map[string]struct{})

	findIndex, err := tx.PrepareContext(ctx, `SELECT sql FROM sqlite_master WHERE name = ? AND type = 'index'`)
	if err != nil {
		return syncerr.Storagef("prepare index lookup", err)
	}
	defer findIndex.Close()

	for _, t := range newSchema.Tables {
		for _, idx := range t.Indexes {
			indexName := t.InternalName() + "__" + idx.Name

			var existingSQL sql.NullString
			err := findIndex.QueryRowContext(ctx, indexName).Scan(&existingSQL)
			if err != nil && err != sql.ErrNoRows {
				return syncerr.Storagef("lookup existing index "+indexName, err)
			}

			wantSQL := indexDDL(t, idx, indexName)
			if !existingSQL.Valid {
				statements = append(statements, wantSQL)
			} else if existingSQL.String != wantSQL {
				statements = append(statements, "DROP INDEX "+quoteIdent(indexName), wantSQL)
			}
			expected[indexName] = struct{}{}
		}
	}

	rows, err := tx.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'index' AND name GLOB 'ps_data_*'`)
	if err != nil {
		return syncerr.Storagef("list existing indexes", err)
	}
	var obsolete []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return syncerr.Storagef("scan index name", err)
		}
		if _, ok := expected[name]; !ok {
			obsolete = append(obsolete, name)
		}
	}
	rows.Close()
	for _, name := range obsolete {
		statements = append(statements, "DROP INDEX "+quoteIdent(name))
	}

	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return syncerr.Storagef("apply index statement: "+stmt, err)
		}
	}
	return nil
}

func indexDDL(t model.TableInfo, idx model.IndexInfo, indexName string) string {
	cols := make([]string, 0, len(idx.Columns))
	for _, c := range idx.Columns {
		expr := fmt.Sprintf("CAST(json_extract(data, '$.%s') AS %s)", c.Name, columnTypeFor(t, c.Name))
		if !c.Ascending {
			expr += " DESC"
		}
		cols = append(cols, expr)
	}
	return fmt.Sprintf("CREATE INDEX %s ON %s(%s)", quoteIdent(indexName), quoteIdent(t.InternalName()), strings.Join(cols, ", "))
}

func columnTypeFor(t model.TableInfo, column string) string {
	for _, c := range t.Columns {
		if c.Name == column {
			return string(c.Type)
		}
	}
	return string(model.ColumnText)
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
