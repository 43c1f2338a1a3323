package backend

import (
	"fmt"
	"sort"
	"strings"

	"entitycore/pkg/relational"
)

// Builders produce Commands carrying both SQL text and the structured form.
// Parameter placeholders use the :name style; RenderPositional converts for
// drivers that want ordinals.

// BuildSelectByKey fetches one record by primary key.
func BuildSelectByKey(schema TableSchema, key any) Command {
	cols := columnNames(schema)
	return Command{
		Text: fmt.Sprintf("SELECT %s FROM %s WHERE %s = :key",
			strings.Join(cols, ", "), schema.Name, schema.PrimaryKey),
		Params:  []Param{{Name: "key", Value: key}},
		Op:      OpSelect,
		Table:   schema.Name,
		Columns: cols,
		Filter:  &Filter{Column: schema.PrimaryKey, Param: "key"},
	}
}

// BuildSelectAll fetches every record of a table.
func BuildSelectAll(schema TableSchema) Command {
	cols := columnNames(schema)
	return Command{
		Text:    fmt.Sprintf("SELECT %s FROM %s", strings.Join(cols, ", "), schema.Name),
		Op:      OpSelect,
		Table:   schema.Name,
		Columns: cols,
	}
}

// BuildSelectWhere fetches records whose foreign-key column matches a value.
func BuildSelectWhere(schema TableSchema, column string, value any) Command {
	cols := columnNames(schema)
	return Command{
		Text: fmt.Sprintf("SELECT %s FROM %s WHERE %s = :filter",
			strings.Join(cols, ", "), schema.Name, column),
		Params:  []Param{{Name: "filter", Value: value}},
		Op:      OpSelect,
		Table:   schema.Name,
		Columns: cols,
		Filter:  &Filter{Column: column, Param: "filter"},
	}
}

// BuildInsert inserts one row. For IntegerAutoIncrement tables the command
// requests the server-assigned key back via ScalarReturn and omits the
// placeholder key from the column list.
func BuildInsert(tbl *relational.Table, row int) (Command, error) {
	schema := SchemaOf(tbl)
	values := make(map[string]any, len(schema.Columns))
	var cols []string
	for _, c := range schema.Columns {
		if schema.KeyType == relational.KeyIntegerAutoIncrement && c.Name == schema.PrimaryKey {
			continue
		}
		v, err := tbl.Value(row, c.Name)
		if err != nil {
			return Command{}, err
		}
		cols = append(cols, c.Name)
		values[c.Name] = v
	}
	placeholders := make([]string, len(cols))
	params := make([]Param, len(cols))
	for i, c := range cols {
		placeholders[i] = ":" + c
		params[i] = Param{Name: c, Value: values[c]}
	}
	cmd := Command{
		Text: fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			schema.Name, strings.Join(cols, ", "), strings.Join(placeholders, ", ")),
		Params:  params,
		Op:      OpInsert,
		Table:   schema.Name,
		Columns: cols,
		Values:  values,
	}
	if schema.KeyType == relational.KeyIntegerAutoIncrement {
		cmd.ScalarReturn = schema.PrimaryKey
		cmd.Text += fmt.Sprintf(" RETURNING %s", schema.PrimaryKey)
	}
	return cmd, nil
}

// BuildUpdate updates one row by key. UpdateChangedFields carries only the
// row's dirty columns; UpdateAllFields carries every non-key column.
// MethodStoredProcedure renders a CALL to sp_update_<table> with the same
// parameters instead of an UPDATE statement.
func BuildUpdate(tbl *relational.Table, row int, mode UpdateMode, method UpdateMethod) (Command, error) {
	schema := SchemaOf(tbl)
	key, err := tbl.Key(row)
	if err != nil {
		return Command{}, err
	}
	var cols []string
	switch mode {
	case UpdateChangedFields:
		cols = tbl.DirtyColumns(row)
	default:
		for _, c := range schema.Columns {
			if c.Name != schema.PrimaryKey {
				cols = append(cols, c.Name)
			}
		}
	}
	// Keys never appear in a SET list, even when dirty from a remap.
	filtered := cols[:0]
	for _, c := range cols {
		if c != schema.PrimaryKey {
			filtered = append(filtered, c)
		}
	}
	cols = filtered
	sort.Strings(cols)

	values := make(map[string]any, len(cols))
	params := make([]Param, 0, len(cols)+1)
	for _, c := range cols {
		v, err := tbl.Value(row, c)
		if err != nil {
			return Command{}, err
		}
		values[c] = v
		params = append(params, Param{Name: c, Value: v})
	}
	params = append(params, Param{Name: "key", Value: key})

	cmd := Command{
		Params:  params,
		Table:   schema.Name,
		Columns: cols,
		Values:  values,
		Filter:  &Filter{Column: schema.PrimaryKey, Param: "key"},
	}
	if method == MethodStoredProcedure {
		args := make([]string, 0, len(cols)+1)
		for _, c := range cols {
			args = append(args, ":"+c)
		}
		args = append(args, ":key")
		cmd.Op = OpCall
		cmd.Text = fmt.Sprintf("CALL sp_update_%s(%s)", schema.Name, strings.Join(args, ", "))
		return cmd, nil
	}
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = fmt.Sprintf("%s = :%s", c, c)
	}
	cmd.Op = OpUpdate
	cmd.Text = fmt.Sprintf("UPDATE %s SET %s WHERE %s = :key",
		schema.Name, strings.Join(sets, ", "), schema.PrimaryKey)
	return cmd, nil
}

// BuildDeleteByKey deletes one record by primary key.
func BuildDeleteByKey(schema TableSchema, key any) Command {
	return Command{
		Text:   fmt.Sprintf("DELETE FROM %s WHERE %s = :key", schema.Name, schema.PrimaryKey),
		Params: []Param{{Name: "key", Value: key}},
		Op:     OpDelete,
		Table:  schema.Name,
		Filter: &Filter{Column: schema.PrimaryKey, Param: "key"},
	}
}

func columnNames(schema TableSchema) []string {
	cols := make([]string, 0, len(schema.Columns))
	for _, c := range schema.Columns {
		cols = append(cols, c.Name)
	}
	return cols
}

// RenderPositional rewrites :name placeholders to the driver's positional
// style and returns the arguments in placeholder-appearance order. Style is
// "?" for sqlite and "$" for postgres. Placeholders are scanned as maximal
// identifier runs, so one parameter name being a prefix of another is safe.
func RenderPositional(cmd Command, style string) (string, []any, error) {
	byName := make(map[string]any, len(cmd.Params))
	for _, p := range cmd.Params {
		byName[p.Name] = p.Value
	}
	var b strings.Builder
	var args []any
	text := cmd.Text
	for i := 0; i < len(text); i++ {
		if text[i] != ':' || i+1 >= len(text) || !isIdentByte(text[i+1]) {
			b.WriteByte(text[i])
			continue
		}
		j := i + 1
		for j < len(text) && isIdentByte(text[j]) {
			j++
		}
		name := text[i+1 : j]
		v, ok := byName[name]
		if !ok {
			return "", nil, fmt.Errorf("backend: command references unbound parameter %q", name)
		}
		args = append(args, v)
		if style == "$" {
			fmt.Fprintf(&b, "$%d", len(args))
		} else {
			b.WriteByte('?')
		}
		i = j - 1
	}
	return b.String(), args, nil
}

func isIdentByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
