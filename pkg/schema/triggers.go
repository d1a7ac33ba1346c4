package schema

import (
	"fmt"
	"strings"

	"github.com/cuemby/syncbase/pkg/model"
)

// generateTriggers builds the INSTEAD OF INSERT/UPDATE/DELETE triggers a
// generated view needs to forward writes to its backing ps_data__ table
// and, for synced tables, to the CRUD queue (spec.md §4.8).
func generateTriggers(t model.TableInfo) []string {
	if t.Flags.InsertOnly {
		return insertOnlyTriggers(t)
	}

	var out []string
	out = append(out, insertTrigger(t))
	out = append(out, updateTrigger(t))
	out = append(out, deleteTrigger(t))
	if t.Flags.IncludeMetadata {
		out = append(out, metadataDeleteTrigger(t))
	}
	return out
}

func rowAsJSONObject(alias string, t model.TableInfo) string {
	parts := make([]string, 0, len(t.Columns)*2)
	for _, c := range t.Columns {
		parts = append(parts, fmt.Sprintf("'%s', %s.%s", c.Name, alias, quoteIdent(c.Name)))
	}
	return "json_object(" + strings.Join(parts, ", ") + ")"
}

func crudInsert(t model.TableInfo, op, idExpr, dataExpr string, withMetadata bool) string {
	fields := []string{
		fmt.Sprintf("'op', '%s'", op),
		fmt.Sprintf("'type', '%s'", t.Name),
		fmt.Sprintf("'id', %s", idExpr),
	}
	if dataExpr != "" {
		fields = append(fields, fmt.Sprintf("'data', %s", dataExpr))
	}
	if withMetadata {
		fields = append(fields, "'metadata', NEW._metadata")
	}
	return fmt.Sprintf("INSERT INTO powersync_crud_(data) VALUES (json_object(%s));", strings.Join(fields, ", "))
}

func insertTrigger(t model.TableInfo) string {
	name := "ps_view_" + t.Name + "_insert"
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TRIGGER %s INSTEAD OF INSERT ON %s BEGIN\n", quoteIdent(name), quoteIdent(t.Name))
	b.WriteString("  SELECT RAISE(FAIL, 'id should not be null') WHERE NEW.id IS NULL;\n")
	b.WriteString("  SELECT RAISE(FAIL, 'id should be text') WHERE typeof(NEW.id) != 'text';\n")
	fmt.Fprintf(&b, "  INSERT INTO %s (id, data) VALUES (NEW.id, %s);\n", quoteIdent(t.InternalName()), rowAsJSONObject("NEW", t))
	if !t.Flags.LocalOnly {
		newData := rowAsJSONObject("NEW", t)
		diffExpr := fmt.Sprintf("json(powersync_diff('{}', %s))", newData)
		b.WriteString("  " + crudInsert(t, "PUT", "NEW.id", diffExpr, t.Flags.IncludeMetadata) + "\n")
	}
	b.WriteString("END;")
	return b.String()
}

func updateTrigger(t model.TableInfo) string {
	name := "ps_view_" + t.Name + "_update"
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TRIGGER %s INSTEAD OF UPDATE ON %s BEGIN\n", quoteIdent(name), quoteIdent(t.Name))
	b.WriteString("  SELECT RAISE(FAIL, 'id should not be changed') WHERE OLD.id != NEW.id;\n")
	fmt.Fprintf(&b, "  UPDATE %s SET data = %s WHERE id = NEW.id;\n", quoteIdent(t.InternalName()), rowAsJSONObject("NEW", t))
	if !t.Flags.LocalOnly {
		diffExpr := fmt.Sprintf("json(powersync_diff(%s, %s))", rowAsJSONObject("OLD", t), rowAsJSONObject("NEW", t))
		b.WriteString("  " + crudInsert(t, "PATCH", "NEW.id", diffExpr, t.Flags.IncludeMetadata) + "\n")
	}
	b.WriteString("END;")
	return b.String()
}

func deleteTrigger(t model.TableInfo) string {
	name := "ps_view_" + t.Name + "_delete"
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TRIGGER %s INSTEAD OF DELETE ON %s BEGIN\n", quoteIdent(name), quoteIdent(t.Name))
	fmt.Fprintf(&b, "  DELETE FROM %s WHERE id = OLD.id;\n", quoteIdent(t.InternalName()))
	if !t.Flags.LocalOnly {
		b.WriteString("  " + crudInsert(t, "DELETE", "OLD.id", "", false) + "\n")
	}
	b.WriteString("END;")
	return b.String()
}

// metadataDeleteTrigger implements the second INSTEAD OF UPDATE trigger
// spec.md §4.8 calls for when include_metadata is set: a delete disguised
// as an UPDATE so the host can attach metadata to it (NEW._deleted IS
// TRUE). It fires before the ordinary update trigger's effects matter
// because SQLite runs matching INSTEAD OF triggers in creation order and
// this one raises no conflicting writes — it only runs the delete path.
func metadataDeleteTrigger(t model.TableInfo) string {
	name := "ps_view_" + t.Name + "_update_metadata_delete"
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TRIGGER %s INSTEAD OF UPDATE ON %s WHEN NEW._deleted IS TRUE BEGIN\n", quoteIdent(name), quoteIdent(t.Name))
	fmt.Fprintf(&b, "  DELETE FROM %s WHERE id = OLD.id;\n", quoteIdent(t.InternalName()))
	b.WriteString("  " + crudInsert(t, "DELETE", "OLD.id", "", true) + "\n")
	b.WriteString("END;")
	return b.String()
}

func insertOnlyTriggers(t model.TableInfo) []string {
	insertName := "ps_view_" + t.Name + "_insert"
	updateName := "ps_view_" + t.Name + "_update"
	deleteName := "ps_view_" + t.Name + "_delete"

	var ins strings.Builder
	fmt.Fprintf(&ins, "CREATE TRIGGER %s INSTEAD OF INSERT ON %s BEGIN\n", quoteIdent(insertName), quoteIdent(t.Name))
	ins.WriteString("  " + crudInsert(t, "PUT", "NEW.id", rowAsJSONObject("NEW", t), t.Flags.IncludeMetadata) + "\n")
	ins.WriteString("END;")

	reject := func(triggerName, event string) string {
		return fmt.Sprintf("CREATE TRIGGER %s INSTEAD OF %s ON %s BEGIN\n  SELECT RAISE(FAIL, 'Table is insert-only');\nEND;",
			quoteIdent(triggerName), event, quoteIdent(t.Name))
	}

	return []string{ins.String(), reject(updateName, "UPDATE"), reject(deleteName, "DELETE")}
}
