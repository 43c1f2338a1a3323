// Package relational implements the change-tracked, multi-table snapshot that
// the rest of the core reads and mutates. A Snapshot owns named Tables; each
// Table is a growable vector of rows addressed by index. Rows carry a state
// tag (Added/Unchanged/Modified/Deleted/Detached) advanced only through the
// defined operations, plus a per-column dirty set used by changed-fields-only
// updates. Nothing in this package talks to a backend.
package relational

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// RowState tracks a row's persistence status.
type RowState string

const (
	// StateDetached marks a row that is no longer part of the live table
	// (an Added row that was deleted before ever being saved).
	StateDetached RowState = "detached"
	// StateAdded marks a freshly inserted row not yet persisted.
	StateAdded RowState = "added"
	// StateUnchanged marks a row matching the backing store.
	StateUnchanged RowState = "unchanged"
	// StateModified marks a persisted row with local edits.
	StateModified RowState = "modified"
	// StateDeleted marks a persisted row scheduled for removal.
	StateDeleted RowState = "deleted"
)

// KeyType selects the primary-key strategy for a table.
type KeyType string

const (
	KeyGuid                 KeyType = "guid"
	KeyInteger              KeyType = "integer"
	KeyIntegerAutoIncrement KeyType = "integer_auto_increment"
	KeyString               KeyType = "string"
)

// Kind identifies the declared value type of a column.
type Kind string

const (
	KindString Kind = "string"
	KindInt    Kind = "int"
	KindFloat  Kind = "float"
	KindBool   Kind = "bool"
	KindTime   Kind = "time"
	KindGuid   Kind = "guid"
)

// Column describes one column of a table schema.
type Column struct {
	Name      string
	Kind      Kind
	MaxLength int  // 0 = unbounded; applies to KindString only
	ReadOnly  bool // writes outside key remapping are refused
}

// BrokenRulesTable is the reserved pseudo-table holding rule findings. It
// lives inside the same snapshot as the data it describes so the two travel
// together, and it is excluded from HasChanges and from save passes.
const BrokenRulesTable = "broken_rules"

// ChangeFunc is invoked after a value write flips row state or dirties a
// column. It receives the row index and the column written.
type ChangeFunc func(row int, column string)

type rowData struct {
	state  RowState
	values []any
	dirty  map[string]struct{}
}

// Table is a named, ordered collection of rows sharing a column schema.
type Table struct {
	name       string
	primaryKey string
	keyType    KeyType
	keyGen     KeyGenerator
	columns    []Column
	colIndex   map[string]int
	rows       []rowData
	onChange   ChangeFunc
}

// Snapshot is an arena of tables addressed by name.
type Snapshot struct {
	tables []*Table
	index  map[string]*Table
}

// NewSnapshot constructs an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{index: make(map[string]*Table)}
}

// AddTable declares a table with its primary-key column and key strategy.
// Adding a table whose name is already present replaces nothing and returns
// the existing table; schemas are widened on demand, never redeclared.
func (s *Snapshot) AddTable(name, primaryKey string, keyType KeyType, columns ...Column) *Table {
	if t, ok := s.index[name]; ok {
		return t
	}
	t := &Table{
		name:       name,
		primaryKey: primaryKey,
		keyType:    keyType,
		colIndex:   make(map[string]int),
	}
	if primaryKey != "" {
		t.addColumn(Column{Name: primaryKey, Kind: kindForKey(keyType)})
	}
	for _, c := range columns {
		if _, exists := t.colIndex[c.Name]; !exists {
			t.addColumn(c)
		}
	}
	s.tables = append(s.tables, t)
	s.index[name] = t
	return t
}

// Table returns the named table.
func (s *Snapshot) Table(name string) (*Table, bool) {
	t, ok := s.index[name]
	return t, ok
}

// Tables returns the table names in declaration order.
func (s *Snapshot) Tables() []string {
	names := make([]string, 0, len(s.tables))
	for _, t := range s.tables {
		names = append(names, t.name)
	}
	return names
}

// HasChanges reports whether any table except the broken-rules pseudo-table
// holds a row in a non-Unchanged state.
func (s *Snapshot) HasChanges() bool {
	for _, t := range s.tables {
		if t.name == BrokenRulesTable {
			continue
		}
		if t.HasChanges() {
			return true
		}
	}
	return false
}

// AcceptAll runs Accept on every data table. The broken-rules pseudo-table is
// left alone; the ledger is rebuilt by the next verify, not by accept.
func (s *Snapshot) AcceptAll() {
	for _, t := range s.tables {
		if t.name == BrokenRulesTable {
			continue
		}
		t.Accept()
	}
}

func kindForKey(kt KeyType) Kind {
	switch kt {
	case KeyGuid:
		return KindGuid
	case KeyInteger, KeyIntegerAutoIncrement:
		return KindInt
	default:
		return KindString
	}
}

// Name returns the table name.
func (t *Table) Name() string { return t.name }

// PrimaryKey returns the declared primary-key column.
func (t *Table) PrimaryKey() string { return t.primaryKey }

// KeyType returns the declared key strategy.
func (t *Table) KeyType() KeyType { return t.keyType }

// Columns returns a copy of the column schema in declaration order.
func (t *Table) Columns() []Column {
	out := make([]Column, len(t.columns))
	copy(out, t.columns)
	return out
}

// OnChange installs the change-notification callback for this table.
func (t *Table) OnChange(fn ChangeFunc) { t.onChange = fn }

func (t *Table) addColumn(c Column) {
	t.colIndex[c.Name] = len(t.columns)
	t.columns = append(t.columns, c)
	for i := range t.rows {
		t.rows[i].values = append(t.rows[i].values, defaultFor(c.Kind))
	}
}

// defaultFor yields the declared-type default used when a column is widened
// onto existing rows or a row is created: empty string, zero, false, the zero
// time, the nil UUID.
func defaultFor(k Kind) any {
	switch k {
	case KindString:
		return ""
	case KindInt:
		return int64(0)
	case KindFloat:
		return float64(0)
	case KindBool:
		return false
	case KindTime:
		return time.Time{}
	case KindGuid:
		return uuid.Nil
	default:
		return nil
	}
}

// NewRow appends a row in Added state, every column at its declared default,
// and returns its index. Row handles are indices, never pointers.
func (t *Table) NewRow() int {
	values := make([]any, len(t.columns))
	for i, c := range t.columns {
		values[i] = defaultFor(c.Kind)
	}
	t.rows = append(t.rows, rowData{
		state:  StateAdded,
		values: values,
		dirty:  make(map[string]struct{}),
	})
	return len(t.rows) - 1
}

// RowCount returns the number of row slots, including Deleted and Detached.
func (t *Table) RowCount() int { return len(t.rows) }

// LiveRowCount counts rows that are neither Deleted nor Detached.
func (t *Table) LiveRowCount() int {
	n := 0
	for i := range t.rows {
		if t.rows[i].state != StateDeleted && t.rows[i].state != StateDetached {
			n++
		}
	}
	return n
}

// State returns the row's state tag.
func (t *Table) State(row int) (RowState, error) {
	if row < 0 || row >= len(t.rows) {
		return "", RowIndexError{Table: t.name, Index: row}
	}
	return t.rows[row].state, nil
}

// Value reads a column. Reading an undeclared column is a ColumnError; the
// auto-widening applied on writes does not apply to reads.
func (t *Table) Value(row int, column string) (any, error) {
	if row < 0 || row >= len(t.rows) {
		return nil, RowIndexError{Table: t.name, Index: row}
	}
	idx, ok := t.colIndex[column]
	if !ok {
		return nil, ColumnError{Table: t.name, Column: column}
	}
	return t.rows[row].values[idx], nil
}

// SetValue writes a column with change detection: a value equal to the
// current one is a no-op. See SetValueForce for the forced-dirty variant.
func (t *Table) SetValue(row int, column string, value any) error {
	return t.set(row, column, value, false, false)
}

// SetValueForce writes a column and dirties it even when the value is
// unchanged.
func (t *Table) SetValueForce(row int, column string, value any) error {
	return t.set(row, column, value, true, false)
}

func (t *Table) set(row int, column string, value any, forceDirty, allowReadOnly bool) error {
	if row < 0 || row >= len(t.rows) {
		return RowIndexError{Table: t.name, Index: row}
	}
	r := &t.rows[row]
	if r.state == StateDeleted || r.state == StateDetached {
		return RowStateError{Table: t.name, Index: row, State: r.state}
	}
	idx, ok := t.colIndex[column]
	if !ok {
		// On-demand schema widening: first write to an unknown column
		// declares it with the kind inferred from the value.
		norm, kind, err := normalize(value, "")
		if err != nil {
			return ValueTypeError{Table: t.name, Column: column, Value: value}
		}
		t.addColumn(Column{Name: column, Kind: kind})
		idx = t.colIndex[column]
		r = &t.rows[row]
		value = norm
	} else {
		col := t.columns[idx]
		if col.ReadOnly && !allowReadOnly {
			return ColumnReadOnlyError{Table: t.name, Column: column}
		}
		norm, _, err := normalize(value, col.Kind)
		if err != nil {
			return ValueTypeError{Table: t.name, Column: column, Value: value}
		}
		value = norm
	}
	if !forceDirty && valuesEqual(r.values[idx], value) {
		return nil
	}
	r.values[idx] = value
	r.dirty[column] = struct{}{}
	if r.state == StateUnchanged {
		r.state = StateModified
	}
	if t.onChange != nil {
		t.onChange(row, column)
	}
	return nil
}

// normalize coerces a written value to the canonical runtime type of its
// kind. When declared is empty, the kind is inferred. nil stays nil and
// means "unset".
func normalize(value any, declared Kind) (any, Kind, error) {
	if value == nil {
		if declared == "" {
			return nil, KindString, nil
		}
		return nil, declared, nil
	}
	var norm any
	var kind Kind
	switch v := value.(type) {
	case string:
		norm, kind = v, KindString
	case int:
		norm, kind = int64(v), KindInt
	case int32:
		norm, kind = int64(v), KindInt
	case int64:
		norm, kind = v, KindInt
	case float32:
		norm, kind = float64(v), KindFloat
	case float64:
		norm, kind = v, KindFloat
	case bool:
		norm, kind = v, KindBool
	case time.Time:
		norm, kind = v, KindTime
	case uuid.UUID:
		norm, kind = v, KindGuid
	default:
		return nil, "", ValueTypeError{Value: value}
	}
	if declared != "" && kind != declared {
		// Permitted crossings. The first covers integer literals written
		// into float columns; the rest cover values coming back from SQL
		// backends in their storage representation (guids and times as
		// TEXT, bools as INTEGER).
		switch {
		case declared == KindFloat && kind == KindInt:
			return float64(norm.(int64)), KindFloat, nil
		case declared == KindGuid && kind == KindString:
			id, err := uuid.Parse(norm.(string))
			if err != nil {
				return nil, "", ValueTypeError{Value: value}
			}
			return id, KindGuid, nil
		case declared == KindTime && kind == KindString:
			ts, err := parseStoredTime(norm.(string))
			if err != nil {
				return nil, "", ValueTypeError{Value: value}
			}
			return ts, KindTime, nil
		case declared == KindBool && kind == KindInt:
			return norm.(int64) != 0, KindBool, nil
		}
		return nil, "", ValueTypeError{Value: value}
	}
	return norm, kind, nil
}

// parseStoredTime accepts the textual time forms SQL backends hand back.
func parseStoredTime(s string) (time.Time, error) {
	for _, layout := range []string{
		time.RFC3339Nano,
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999 -0700 MST",
		"2006-01-02 15:04:05",
	} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("relational: unrecognized time literal %q", s)
}

// valuesEqual compares by value with explicit unset handling: nil equals only
// nil, never a typed zero.
func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	at, aok := a.(time.Time)
	bt, bok := b.(time.Time)
	if aok && bok {
		return at.Equal(bt)
	}
	return a == b
}

// Dirty reports whether the column was written since the last Accept.
func (t *Table) Dirty(row int, column string) bool {
	if row < 0 || row >= len(t.rows) {
		return false
	}
	_, ok := t.rows[row].dirty[column]
	return ok
}

// DirtyColumns returns the row's dirty column names sorted for determinism.
func (t *Table) DirtyColumns(row int) []string {
	if row < 0 || row >= len(t.rows) {
		return nil
	}
	out := make([]string, 0, len(t.rows[row].dirty))
	for c := range t.rows[row].dirty {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// MarkDeleted advances the row toward removal: Added rows become Detached
// (they never existed in the store), persisted rows become Deleted. Marking
// an already Deleted or Detached row is a no-op.
func (t *Table) MarkDeleted(row int) error {
	if row < 0 || row >= len(t.rows) {
		return RowIndexError{Table: t.name, Index: row}
	}
	r := &t.rows[row]
	switch r.state {
	case StateAdded:
		r.state = StateDetached
	case StateUnchanged, StateModified:
		r.state = StateDeleted
	}
	return nil
}

// Accept acknowledges persistence: Added and Modified rows become Unchanged
// with dirty sets cleared, Deleted and Detached rows are physically dropped.
// Row indices are invalidated by the drop; callers holding indices across an
// Accept must re-locate their rows.
func (t *Table) Accept() {
	kept := t.rows[:0]
	for i := range t.rows {
		r := t.rows[i]
		switch r.state {
		case StateDeleted, StateDetached:
			continue
		case StateAdded, StateModified:
			r.state = StateUnchanged
			r.dirty = make(map[string]struct{})
		}
		kept = append(kept, r)
	}
	t.rows = kept
}

// HasChanges reports whether any row is in a non-Unchanged state.
func (t *Table) HasChanges() bool {
	for i := range t.rows {
		if t.rows[i].state != StateUnchanged {
			return true
		}
	}
	return false
}

// Find returns the index of the first row, in any live state, whose column
// equals value.
func (t *Table) Find(column string, value any) (int, bool) {
	idx, ok := t.colIndex[column]
	if !ok {
		return -1, false
	}
	norm, _, err := normalize(value, t.columns[idx].Kind)
	if err != nil {
		return -1, false
	}
	for i := range t.rows {
		if t.rows[i].state == StateDetached {
			continue
		}
		if valuesEqual(t.rows[i].values[idx], norm) {
			return i, true
		}
	}
	return -1, false
}

// HasColumn reports whether the column is declared.
func (t *Table) HasColumn(column string) bool {
	_, ok := t.colIndex[column]
	return ok
}

// Column returns the declared column definition.
func (t *Table) Column(name string) (Column, bool) {
	idx, ok := t.colIndex[name]
	if !ok {
		return Column{}, false
	}
	return t.columns[idx], true
}
