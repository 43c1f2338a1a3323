// Package backend declares the persistence collaborator the core writes
// through. The core never inspects a wire protocol: it hands a DataContext
// opaque Commands that carry both ANSI SQL text with named parameters and a
// structured form, so SQL backends execute the text while non-SQL backends
// interpret the structure.
package backend

import (
	"errors"
	"fmt"

	"entitycore/pkg/relational"
)

// UpdateMode selects which columns an update command carries.
type UpdateMode string

const (
	// UpdateChangedFields writes only the row's dirty columns.
	UpdateChangedFields UpdateMode = "changed_fields"
	// UpdateAllFields writes every non-key column.
	UpdateAllFields UpdateMode = "all_fields"
)

// UpdateMethod selects how write commands are issued.
type UpdateMethod string

const (
	// MethodIndividualCommands issues one parameterized statement per row.
	MethodIndividualCommands UpdateMethod = "individual_commands"
	// MethodStoredProcedure routes writes through a stored procedure named
	// after the table. Backends without procedure support return
	// ErrUnsupported.
	MethodStoredProcedure UpdateMethod = "stored_procedure"
)

// Op identifies the structured operation a command performs.
type Op string

const (
	OpSelect Op = "select"
	OpCount  Op = "count"
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
	OpCall   Op = "call"
)

// Param is one named command parameter.
type Param struct {
	Name  string
	Value any
}

// Filter restricts a structured command to rows whose column matches either
// a literal parameter or the key set produced by a nested subcommand. Exactly
// one of Param and Sub is set.
type Filter struct {
	Column string
	Param  string
	Sub    *Command
}

// Command is the unit of work handed to a DataContext. Text plus Params is
// the SQL rendering; the remaining fields are the structured rendering used
// by backends that do not speak SQL. Both describe the same operation.
type Command struct {
	Text    string
	Params  []Param
	Op      Op
	Table   string
	Columns []string
	Values  map[string]any
	Filter  *Filter
	OrderBy string
	// ScalarReturn names the column whose value the backend must return
	// from ExecuteScalar after an insert (server-assigned keys).
	ScalarReturn string
}

// Param returns the named parameter value.
func (c Command) Param(name string) (any, bool) {
	for _, p := range c.Params {
		if p.Name == name {
			return p.Value, true
		}
	}
	return nil, false
}

// InsertFailedSentinel is the scalar a backend returns when a key-returning
// insert did not produce a row.
const InsertFailedSentinel = int64(-1)

// ErrUnsupported reports a command shape the backend cannot execute, such as
// stored-procedure updates on an embedded engine.
var ErrUnsupported = errors.New("backend: unsupported command")

// TransactionError wraps a failure of the transactional protocol itself.
type TransactionError struct {
	Phase string // begin, commit, abort
	Err   error
}

func (e TransactionError) Error() string {
	return fmt.Sprintf("backend: transaction %s failed: %v", e.Phase, e.Err)
}

func (e TransactionError) Unwrap() error { return e.Err }

// OwnershipError reports an operation that must commit or abort a
// transaction but found one already open that its caller did not start.
type OwnershipError struct {
	Identity string
}

func (e OwnershipError) Error() string {
	return fmt.Sprintf("backend: context %s does not own the open transaction", e.Identity)
}

// DataContext is the synchronous persistence collaborator. A context may be
// shared across entities for atomic batches; Identity distinguishes contexts
// for the exact-match compatibility check, and ownership of an open
// transaction is tracked by the caller, not the context.
type DataContext interface {
	// Identity returns a stable identifier for the underlying connection.
	Identity() string
	// BeginTransaction opens a transaction. Opening while one is already
	// open is a TransactionError.
	BeginTransaction() error
	// CommitTransaction commits the open transaction.
	CommitTransaction() error
	// AbortTransaction rolls back the open transaction.
	AbortTransaction() error
	// InTransaction reports whether a transaction is open.
	InTransaction() bool
	// ExecuteNonQuery runs a write command and returns the affected count.
	ExecuteNonQuery(cmd Command) (int64, error)
	// ExecuteScalar runs a command returning a single value, such as a
	// key-returning insert or a count.
	ExecuteScalar(cmd Command) (any, error)
	// ExecuteQuery runs a select and materializes the result as a snapshot
	// holding one table named entityName, rows in Unchanged state.
	ExecuteQuery(cmd Command, entityName string) (*relational.Snapshot, error)
}

// TableSchema is the slice of table metadata command builders need.
type TableSchema struct {
	Name       string
	PrimaryKey string
	KeyType    relational.KeyType
	Columns    []relational.Column
}

// SchemaOf extracts builder metadata from a live table.
func SchemaOf(t *relational.Table) TableSchema {
	return TableSchema{
		Name:       t.Name(),
		PrimaryKey: t.PrimaryKey(),
		KeyType:    t.KeyType(),
		Columns:    t.Columns(),
	}
}
