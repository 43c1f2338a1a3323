// Package rules implements the validation engine and the broken-rule ledger.
// Rules are registered explicitly against table names and run in registration
// order; there is no priority system and no reflective discovery. Findings
// are recorded in the snapshot's reserved broken-rules pseudo-table so they
// travel with the data they describe.
package rules

import (
	"strings"

	"entitycore/pkg/relational"
)

// Severity classifies a recorded finding.
type Severity string

const (
	// SeverityViolation blocks a save unless the entity policy allows it.
	SeverityViolation Severity = "violation"
	// SeverityWarning is advisory and gates saves only under a strict policy.
	SeverityWarning Severity = "warning"
)

// RowView is the read-only surface a rule sees for one row.
type RowView interface {
	// Table returns the owning table name.
	Table() string
	// Index returns the row handle inside the table.
	Index() int
	// State returns the row's lifecycle tag.
	State() relational.RowState
	// Value reads a column; ok is false for undeclared columns.
	Value(column string) (v any, ok bool)
}

// Finding is one failed check reported by a rule for a row. An empty Field
// means the finding concerns the whole row (or, with row index -1 in the
// ledger, the whole entity).
type Finding struct {
	Field   string
	Message string
}

// RowRule verifies one row at a time. Implementations must not mutate the
// snapshot.
type RowRule interface {
	Name() string
	VerifyRow(row RowView, index int) []Finding
}

// Binding attaches a rule to a table with its severity and options.
type Binding struct {
	Table          string
	Rule           RowRule
	Severity       Severity
	IncludeDeleted bool   // opt in to verifying Deleted rows
	Class          string // optional grouping used by the apply filter
}

// BindOption customizes a binding at registration.
type BindOption func(*Binding)

// IncludeDeleted opts the rule in to seeing Deleted rows.
func IncludeDeleted() BindOption {
	return func(b *Binding) { b.IncludeDeleted = true }
}

// WithClass tags the binding with a rule class usable as an apply filter.
func WithClass(class string) BindOption {
	return func(b *Binding) { b.Class = class }
}

// Engine holds the registered bindings. The standard set runs on every
// verify; the deletion set runs only on the deletion path and is keyed by
// table name case-insensitively.
type Engine struct {
	bindings []Binding
	deletion map[string][]Binding
}

// NewEngine constructs an empty engine.
func NewEngine() *Engine {
	return &Engine{deletion: make(map[string][]Binding)}
}

// Register appends a standard binding. Order of registration is order of
// evaluation.
func (e *Engine) Register(table string, rule RowRule, severity Severity, opts ...BindOption) {
	b := Binding{Table: table, Rule: rule, Severity: severity}
	for _, opt := range opts {
		opt(&b)
	}
	e.bindings = append(e.bindings, b)
}

// RegisterDeletion appends a deletion-only binding. Deletion bindings are
// looked up by table name case-insensitively.
func (e *Engine) RegisterDeletion(table string, rule RowRule, severity Severity, opts ...BindOption) {
	b := Binding{Table: table, Rule: rule, Severity: severity}
	for _, opt := range opts {
		opt(&b)
	}
	key := strings.ToLower(table)
	e.deletion[key] = append(e.deletion[key], b)
}

// Bindings returns the standard bindings in registration order.
func (e *Engine) Bindings() []Binding {
	out := make([]Binding, len(e.bindings))
	copy(out, e.bindings)
	return out
}

// DeletionBindings returns the deletion-only bindings registered for the
// table, looked up case-insensitively.
func (e *Engine) DeletionBindings(table string) []Binding {
	src := e.deletion[strings.ToLower(table)]
	out := make([]Binding, len(src))
	copy(out, src)
	return out
}

// Apply clears the ledger for every table present in the snapshot, then runs
// each matching binding against each row, in registration order, appending
// findings to the ledger. Deleted rows are skipped unless the binding opted
// in; Detached rows are never verified. classFilter narrows evaluation to
// bindings of that class; empty means all. The ledger is rebuilt from
// scratch on every call, never merged.
func (e *Engine) Apply(snap *relational.Snapshot, classFilter string) (*Ledger, error) {
	ledger := OpenLedger(snap)
	ledger.Clear(snap.Tables()...)
	for _, b := range e.bindings {
		if classFilter != "" && b.Class != classFilter {
			continue
		}
		if err := runBinding(snap, ledger, b); err != nil {
			return nil, err
		}
	}
	return ledger, nil
}

// ApplyDeletion runs the deletion-only rule set for one table with the same
// clear-then-apply discipline as Apply: the ledger is reset for every table
// present in the snapshot, so rerunning deletion verification never
// accumulates entries.
func (e *Engine) ApplyDeletion(snap *relational.Snapshot, table string) (*Ledger, error) {
	ledger := OpenLedger(snap)
	ledger.Clear(snap.Tables()...)
	for _, b := range e.deletion[strings.ToLower(table)] {
		bound := b
		bound.Table = table
		if err := runBinding(snap, ledger, bound); err != nil {
			return nil, err
		}
	}
	return ledger, nil
}

func runBinding(snap *relational.Snapshot, ledger *Ledger, b Binding) error {
	tbl, ok := snap.Table(b.Table)
	if !ok {
		return nil
	}
	for i := 0; i < tbl.RowCount(); i++ {
		state, err := tbl.State(i)
		if err != nil {
			return err
		}
		if state == relational.StateDetached {
			continue
		}
		if state == relational.StateDeleted && !b.IncludeDeleted {
			continue
		}
		view := rowView{table: tbl, index: i, state: state}
		for _, f := range b.Rule.VerifyRow(view, i) {
			ledger.Add(Entry{
				Table:    b.Table,
				Field:    f.Field,
				RowIndex: i,
				Severity: b.Severity,
				Message:  f.Message,
				Rule:     b.Rule.Name(),
			})
		}
	}
	return nil
}

type rowView struct {
	table *relational.Table
	index int
	state relational.RowState
}

func (v rowView) Table() string              { return v.table.Name() }
func (v rowView) Index() int                 { return v.index }
func (v rowView) State() relational.RowState { return v.state }
func (v rowView) Value(column string) (any, bool) {
	val, err := v.table.Value(v.index, column)
	if err != nil {
		return nil, false
	}
	return val, true
}
