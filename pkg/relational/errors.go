package relational

import "fmt"

// RowIndexError reports a row handle outside the table's row vector.
type RowIndexError struct {
	Table string
	Index int
}

func (e RowIndexError) Error() string {
	return fmt.Sprintf("relational: table %q has no row %d", e.Table, e.Index)
}

// ColumnError reports access to an undeclared column.
type ColumnError struct {
	Table  string
	Column string
}

func (e ColumnError) Error() string {
	return fmt.Sprintf("relational: table %q has no column %q", e.Table, e.Column)
}

// ColumnReadOnlyError reports a write to a read-only column outside key
// remapping.
type ColumnReadOnlyError struct {
	Table  string
	Column string
}

func (e ColumnReadOnlyError) Error() string {
	return fmt.Sprintf("relational: column %q of table %q is read-only", e.Column, e.Table)
}

// ValueTypeError reports a value whose runtime type does not match the
// column's declared kind, or a type the snapshot cannot hold at all.
type ValueTypeError struct {
	Table  string
	Column string
	Value  any
}

func (e ValueTypeError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("relational: unsupported value type %T", e.Value)
	}
	return fmt.Sprintf("relational: value %v (%T) does not fit column %q of table %q", e.Value, e.Value, e.Column, e.Table)
}

// RowStateError reports an operation illegal for the row's current state,
// such as writing a Deleted row.
type RowStateError struct {
	Table string
	Index int
	State RowState
}

func (e RowStateError) Error() string {
	return fmt.Sprintf("relational: row %d of table %q is %s", e.Index, e.Table, e.State)
}

// KeyTypeError reports a key operation unsupported for the table's declared
// key strategy.
type KeyTypeError struct {
	Table   string
	KeyType KeyType
}

func (e KeyTypeError) Error() string {
	return fmt.Sprintf("relational: key type %q of table %q does not support this operation", e.KeyType, e.Table)
}
