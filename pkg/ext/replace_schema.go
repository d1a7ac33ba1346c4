package ext

import (
	"context"
	"database/sql"

	"github.com/cuemby/syncbase/pkg/model"
	"github.com/cuemby/syncbase/pkg/schema"
	"github.com/cuemby/syncbase/pkg/syncerr"
	"github.com/tidwall/gjson"
)

// ReplaceSchema implements powersync_replace_schema(json_schema) (spec.md
// §6, §4.8): parse the wire JSON schema and hand it to schema.Apply.
//
// model.Schema carries no json struct tags (it is an internal domain type,
// not a wire type), so the wire shape is parsed field-by-field with gjson
// here, the way pkg/syncline parses sync lines, rather than by
// encoding/json.Unmarshal into model.Schema directly.
func ReplaceSchema(ctx context.Context, tx *sql.Tx, jsonSchema string) error {
	if !gjson.Valid(jsonSchema) {
		return syncerr.Argumentf("powersync_replace_schema: not valid JSON")
	}
	root := gjson.Parse(jsonSchema)
	parsed, err := parseSchema(root)
	if err != nil {
		return err
	}
	return schema.Apply(ctx, tx, parsed)
}

func parseSchema(root gjson.Result) (model.Schema, error) {
	var out model.Schema
	for _, t := range root.Get("tables").Array() {
		table, err := parseTable(t)
		if err != nil {
			return model.Schema{}, err
		}
		out.Tables = append(out.Tables, table)
	}
	return out, nil
}

func parseTable(v gjson.Result) (model.TableInfo, error) {
	name := v.Get("name").String()
	if name == "" {
		return model.TableInfo{}, syncerr.Argumentf("powersync_replace_schema: table is missing a name")
	}
	table := model.TableInfo{
		Name: name,
		Flags: model.TableFlags{
			LocalOnly:                 v.Get("local_only").Bool(),
			InsertOnly:                v.Get("insert_only").Bool(),
			IncludeMetadata:           v.Get("include_metadata").Bool(),
			IncludeOldOnlyWhenChanged: v.Get("include_old_only_when_changed").Bool(),
		},
	}
	for _, c := range v.Get("columns").Array() {
		col, err := parseColumn(c)
		if err != nil {
			return model.TableInfo{}, err
		}
		table.Columns = append(table.Columns, col)
	}
	for _, idx := range v.Get("indexes").Array() {
		table.Indexes = append(table.Indexes, parseIndex(idx))
	}
	return table, nil
}

func parseColumn(v gjson.Result) (model.ColumnInfo, error) {
	name := v.Get("name").String()
	typ := v.Get("type").String()
	switch model.ColumnType(typ) {
	case model.ColumnText, model.ColumnInteger, model.ColumnReal:
	default:
		return model.ColumnInfo{}, syncerr.Argumentf("powersync_replace_schema: column %q has unknown type %q", name, typ)
	}
	return model.ColumnInfo{Name: name, Type: model.ColumnType(typ)}, nil
}

func parseIndex(v gjson.Result) model.IndexInfo {
	idx := model.IndexInfo{Name: v.Get("name").String()}
	for _, col := range v.Get("columns").Array() {
		if col.Type == gjson.String {
			idx.Columns = append(idx.Columns, model.IndexedColumn{Name: col.String(), Ascending: true})
			continue
		}
		idx.Columns = append(idx.Columns, model.IndexedColumn{
			Name:      col.Get("name").String(),
			Ascending: !col.Get("ascending").Exists() || col.Get("ascending").Bool(),
		})
	}
	return idx
}
