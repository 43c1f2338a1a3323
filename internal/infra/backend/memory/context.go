// Package memory implements the backend.DataContext contract over in-process
// tables. It interprets the structured form of commands rather than their
// SQL text, which makes it both the test double for the core and the proof
// that commands stay executable without a SQL dialect. Transactions snapshot
// the full state and restore it on abort.
package memory

import (
	"fmt"
	"sync/atomic"

	"entitycore/pkg/backend"
	"entitycore/pkg/relational"
)

var contextSeq uint64

type storedRow map[string]any

type table struct {
	rows    []storedRow
	nextKey int64
}

// Context is an in-memory DataContext. Not safe for concurrent use, matching
// the core's single-threaded model.
type Context struct {
	identity string
	tables   map[string]*table
	tx       map[string]*table // nil when no transaction is open
}

// NewContext constructs an empty context with a unique identity.
func NewContext() *Context {
	id := atomic.AddUint64(&contextSeq, 1)
	return &Context{
		identity: fmt.Sprintf("memory-%d", id),
		tables:   make(map[string]*table),
	}
}

// Identity implements backend.DataContext.
func (c *Context) Identity() string { return c.identity }

// InTransaction implements backend.DataContext.
func (c *Context) InTransaction() bool { return c.tx != nil }

// BeginTransaction snapshots the current state for rollback.
func (c *Context) BeginTransaction() error {
	if c.tx != nil {
		return backend.TransactionError{Phase: "begin", Err: fmt.Errorf("transaction already open")}
	}
	c.tx = make(map[string]*table, len(c.tables))
	for name, t := range c.tables {
		c.tx[name] = t.clone()
	}
	return nil
}

// CommitTransaction discards the rollback snapshot.
func (c *Context) CommitTransaction() error {
	if c.tx == nil {
		return backend.TransactionError{Phase: "commit", Err: fmt.Errorf("no open transaction")}
	}
	c.tx = nil
	return nil
}

// AbortTransaction restores the state captured at begin.
func (c *Context) AbortTransaction() error {
	if c.tx == nil {
		return backend.TransactionError{Phase: "abort", Err: fmt.Errorf("no open transaction")}
	}
	c.tables = c.tx
	c.tx = nil
	return nil
}

func (t *table) clone() *table {
	out := &table{nextKey: t.nextKey, rows: make([]storedRow, len(t.rows))}
	for i, r := range t.rows {
		cp := make(storedRow, len(r))
		for k, v := range r {
			cp[k] = v
		}
		out.rows[i] = cp
	}
	return out
}

func (c *Context) table(name string) *table {
	t, ok := c.tables[name]
	if !ok {
		t = &table{}
		c.tables[name] = t
	}
	return t
}

// Rows returns a copy of a table's stored rows, for tests and seeding.
func (c *Context) Rows(name string) []map[string]any {
	t, ok := c.tables[name]
	if !ok {
		return nil
	}
	out := make([]map[string]any, len(t.rows))
	for i, r := range t.rows {
		cp := make(map[string]any, len(r))
		for k, v := range r {
			cp[k] = v
		}
		out[i] = cp
	}
	return out
}

// Seed inserts rows directly, bypassing the command path.
func (c *Context) Seed(name string, rows ...map[string]any) {
	t := c.table(name)
	for _, r := range rows {
		cp := make(storedRow, len(r))
		for k, v := range r {
			cp[k] = v
		}
		t.rows = append(t.rows, cp)
	}
}

// ExecuteNonQuery interprets insert, update, and delete commands.
func (c *Context) ExecuteNonQuery(cmd backend.Command) (int64, error) {
	switch cmd.Op {
	case backend.OpInsert:
		t := c.table(cmd.Table)
		row := make(storedRow, len(cmd.Values))
		for k, v := range cmd.Values {
			row[k] = v
		}
		t.rows = append(t.rows, row)
		return 1, nil
	case backend.OpUpdate, backend.OpCall:
		t := c.table(cmd.Table)
		matched, err := c.match(t, cmd, cmd.Filter)
		if err != nil {
			return 0, err
		}
		var n int64
		for _, i := range matched {
			for k, v := range cmd.Values {
				t.rows[i][k] = v
			}
			n++
		}
		return n, nil
	case backend.OpDelete:
		t := c.table(cmd.Table)
		matched, err := c.match(t, cmd, cmd.Filter)
		if err != nil {
			return 0, err
		}
		keep := t.rows[:0]
		drop := make(map[int]struct{}, len(matched))
		for _, i := range matched {
			drop[i] = struct{}{}
		}
		for i, r := range t.rows {
			if _, gone := drop[i]; !gone {
				keep = append(keep, r)
			}
		}
		n := int64(len(t.rows) - len(keep))
		t.rows = keep
		return n, nil
	default:
		return 0, fmt.Errorf("%w: non-query op %q", backend.ErrUnsupported, cmd.Op)
	}
}

// ExecuteScalar interprets counts and key-returning inserts. An insert with
// ScalarReturn set allocates the next positive key for the table, stores it,
// and returns it — the server side of the placeholder-key protocol.
func (c *Context) ExecuteScalar(cmd backend.Command) (any, error) {
	switch cmd.Op {
	case backend.OpCount:
		t := c.table(cmd.Table)
		matched, err := c.match(t, cmd, cmd.Filter)
		if err != nil {
			return nil, err
		}
		return int64(len(matched)), nil
	case backend.OpInsert:
		if cmd.ScalarReturn == "" {
			return nil, fmt.Errorf("%w: scalar insert without return column", backend.ErrUnsupported)
		}
		t := c.table(cmd.Table)
		t.nextKey++
		row := make(storedRow, len(cmd.Values)+1)
		for k, v := range cmd.Values {
			row[k] = v
		}
		row[cmd.ScalarReturn] = t.nextKey
		t.rows = append(t.rows, row)
		return t.nextKey, nil
	default:
		return nil, fmt.Errorf("%w: scalar op %q", backend.ErrUnsupported, cmd.Op)
	}
}

// ExecuteQuery interprets selects and materializes matches as a snapshot
// holding one table of Unchanged rows.
func (c *Context) ExecuteQuery(cmd backend.Command, entityName string) (*relational.Snapshot, error) {
	if cmd.Op != backend.OpSelect {
		return nil, fmt.Errorf("%w: query op %q", backend.ErrUnsupported, cmd.Op)
	}
	t := c.table(cmd.Table)
	matched, err := c.match(t, cmd, cmd.Filter)
	if err != nil {
		return nil, err
	}
	snap := relational.NewSnapshot()
	cols := cmd.Columns
	if len(cols) == 0 && len(matched) > 0 {
		for k := range t.rows[matched[0]] {
			cols = append(cols, k)
		}
	}
	var schema []relational.Column
	for _, name := range cols {
		kind := relational.KindString
		for _, i := range matched {
			if v, ok := t.rows[i][name]; ok && v != nil {
				kind = kindOf(v)
				break
			}
		}
		schema = append(schema, relational.Column{Name: name, Kind: kind})
	}
	out := snap.AddTable(entityName, "", "", schema...)
	for _, i := range matched {
		row := out.NewRow()
		for _, name := range cols {
			if v, ok := t.rows[i][name]; ok {
				if err := out.LoadValue(row, name, v); err != nil {
					return nil, err
				}
			}
		}
	}
	out.Accept()
	return snap, nil
}

func kindOf(v any) relational.Kind {
	switch v.(type) {
	case int, int32, int64:
		return relational.KindInt
	case float32, float64:
		return relational.KindFloat
	case bool:
		return relational.KindBool
	default:
		return relational.KindString
	}
}

// match resolves a filter to the indices of matching rows. A nil filter
// matches everything; a Sub filter first resolves the nested command to its
// key set, mirroring the SQL IN-subquery shape.
func (c *Context) match(t *table, cmd backend.Command, f *backend.Filter) ([]int, error) {
	if f == nil {
		out := make([]int, len(t.rows))
		for i := range t.rows {
			out[i] = i
		}
		return out, nil
	}
	var accept func(v any) bool
	if f.Sub != nil {
		keys, err := c.keySet(*f.Sub)
		if err != nil {
			return nil, err
		}
		accept = func(v any) bool {
			for _, k := range keys {
				if equalValue(v, k) {
					return true
				}
			}
			return false
		}
	} else {
		want, ok := cmd.Param(f.Param)
		if !ok {
			return nil, fmt.Errorf("memory: command references unbound parameter %q", f.Param)
		}
		accept = func(v any) bool { return equalValue(v, want) }
	}
	var out []int
	for i, r := range t.rows {
		if accept(r[f.Column]) {
			out = append(out, i)
		}
	}
	return out, nil
}

// keySet evaluates a Rows subcommand to the list of key values it selects.
func (c *Context) keySet(cmd backend.Command) ([]any, error) {
	t := c.table(cmd.Table)
	matched, err := c.match(t, cmd, cmd.Filter)
	if err != nil {
		return nil, err
	}
	// A Rows command selects exactly the node's key column.
	keyCol := ""
	if len(cmd.Columns) > 0 {
		keyCol = cmd.Columns[0]
	}
	if keyCol == "" {
		// Fall back to parsing the select list from the text shape
		// "SELECT <col> FROM ...".
		var col string
		if _, err := fmt.Sscanf(cmd.Text, "SELECT %s FROM", &col); err == nil {
			keyCol = col
		}
	}
	out := make([]any, 0, len(matched))
	for _, i := range matched {
		out = append(out, t.rows[i][keyCol])
	}
	return out, nil
}

func equalValue(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if ai, ok := toInt(a); ok {
		if bi, ok := toInt(b); ok {
			return ai == bi
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func toInt(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	default:
		return 0, false
	}
}
