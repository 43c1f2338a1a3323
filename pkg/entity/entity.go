package entity

import (
	"errors"
	"fmt"
	"time"

	"entitycore/pkg/backend"
	"entitycore/pkg/relational"
	"entitycore/pkg/rules"
)

// Diagnostic is a non-fatal report raised by the reject policy when a field
// write is refused.
type Diagnostic struct {
	Table   string
	Field   string
	Message string
}

// Entity is a live aggregate: a snapshot holding the master table with its
// single identity row, the declared secondary tables, and the broken-rules
// ledger. All mutation goes through the validated field writers.
type Entity struct {
	def         *Definition
	snap        *relational.Snapshot
	engine      *rules.Engine
	ctx         backend.DataContext
	removed     bool
	diagnostics []Diagnostic
}

// New creates an entity with an empty master row and an allocated key.
// KeyInteger tables start with a zero key the caller assigns via SetKey.
func New(def *Definition, engine *rules.Engine, ctx backend.DataContext) (*Entity, error) {
	e := &Entity{def: def, engine: engine, ctx: ctx, snap: buildSnapshot(def)}
	master, _ := e.snap.Table(def.Table)
	row := master.NewRow()
	key, err := master.AllocateKey()
	switch {
	case err == nil:
		if err := master.SetKey(row, key); err != nil {
			return nil, err
		}
	case errors.Is(err, relational.ErrCallerAssignedKey):
		// Caller supplies the key before save.
	default:
		return nil, err
	}
	if def.Build != nil {
		if err := def.Build(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Load populates an entity from the backing store by primary key.
func Load(def *Definition, engine *rules.Engine, ctx backend.DataContext, key any) (*Entity, error) {
	e := &Entity{def: def, engine: engine, ctx: ctx, snap: buildSnapshot(def)}
	master, _ := e.snap.Table(def.Table)
	fetched, err := ctx.ExecuteQuery(backend.BuildSelectByKey(backend.SchemaOf(master), key), def.Table)
	if err != nil {
		return nil, err
	}
	n, err := importRows(master, fetched, def.Table)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, NotFoundError{Table: def.Table, Key: key}
	}
	if n > 1 {
		return nil, StateError{Entity: def.Name, Op: "load", Reason: "more than one master row for key"}
	}
	for _, sec := range def.Secondaries {
		child, _ := e.snap.Table(sec.Name)
		fetched, err := ctx.ExecuteQuery(backend.BuildSelectWhere(backend.SchemaOf(child), sec.ForeignKey, key), sec.Name)
		if err != nil {
			return nil, err
		}
		if _, err := importRows(child, fetched, sec.Name); err != nil {
			return nil, err
		}
	}
	e.snap.AcceptAll()
	return e, nil
}

// FromSnapshot wraps an externally supplied snapshot. The snapshot must hold
// the definition's master table with at most one live row.
func FromSnapshot(def *Definition, engine *rules.Engine, ctx backend.DataContext, snap *relational.Snapshot) (*Entity, error) {
	master, ok := snap.Table(def.Table)
	if !ok {
		return nil, StateError{Entity: def.Name, Op: "from_snapshot", Reason: fmt.Sprintf("snapshot lacks master table %q", def.Table)}
	}
	if master.LiveRowCount() > 1 {
		return nil, StateError{Entity: def.Name, Op: "from_snapshot", Reason: "master table holds more than one live row"}
	}
	return &Entity{def: def, engine: engine, ctx: ctx, snap: snap}, nil
}

func buildSnapshot(def *Definition) *relational.Snapshot {
	snap := relational.NewSnapshot()
	snap.AddTable(def.Table, def.PrimaryKey, def.KeyType, columnsOf(def.Columns)...)
	for _, sec := range def.Secondaries {
		fkKind := relational.KindString
		switch def.KeyType {
		case relational.KeyGuid:
			fkKind = relational.KindGuid
		case relational.KeyInteger, relational.KeyIntegerAutoIncrement:
			fkKind = relational.KindInt
		}
		cols := append([]relational.Column{{Name: sec.ForeignKey, Kind: fkKind}}, columnsOf(sec.Columns)...)
		snap.AddTable(sec.Name, sec.PrimaryKey, sec.KeyType, cols...)
	}
	for _, cl := range def.CrossLinks {
		srcKind := relational.KindString
		switch def.KeyType {
		case relational.KeyGuid:
			srcKind = relational.KindGuid
		case relational.KeyInteger, relational.KeyIntegerAutoIncrement:
			srcKind = relational.KindInt
		}
		snap.AddTable(cl.LinkTable, cl.LinkKey, cl.LinkKeyType,
			relational.Column{Name: cl.SourceFK, Kind: srcKind},
			relational.Column{Name: cl.TargetFK, Kind: cl.TargetKind},
		)
	}
	return snap
}

func importRows(dst *relational.Table, src *relational.Snapshot, name string) (int, error) {
	tbl, ok := src.Table(name)
	if !ok {
		return 0, nil
	}
	n := 0
	for i := 0; i < tbl.RowCount(); i++ {
		row := dst.NewRow()
		for _, c := range tbl.Columns() {
			v, err := tbl.Value(i, c.Name)
			if err != nil {
				return n, err
			}
			if err := dst.LoadValue(row, c.Name, v); err != nil {
				return n, err
			}
		}
		n++
	}
	return n, nil
}

// Definition returns the entity's declaration.
func (e *Entity) Definition() *Definition { return e.def }

// Snapshot exposes the underlying snapshot. Mutating it directly bypasses
// the validated writers.
func (e *Entity) Snapshot() *relational.Snapshot { return e.snap }

// Context returns the entity's data context.
func (e *Entity) Context() backend.DataContext { return e.ctx }

// Removed reports whether the entity has been logically deleted. A removed
// entity is terminal: Verify, Save, and field writes fail.
func (e *Entity) Removed() bool { return e.removed }

// Diagnostics returns the non-fatal reports accumulated by the reject
// policy.
func (e *Entity) Diagnostics() []Diagnostic {
	out := make([]Diagnostic, len(e.diagnostics))
	copy(out, e.diagnostics)
	return out
}

// HasChanges reports whether any data table holds unsaved changes.
func (e *Entity) HasChanges() bool { return e.snap.HasChanges() }

func (e *Entity) masterTable() *relational.Table {
	t, _ := e.snap.Table(e.def.Table)
	return t
}

// masterRow locates the aggregate's single live identity row.
func (e *Entity) masterRow() (int, error) {
	t := e.masterTable()
	for i := 0; i < t.RowCount(); i++ {
		state, err := t.State(i)
		if err != nil {
			return -1, err
		}
		if state != relational.StateDeleted && state != relational.StateDetached {
			return i, nil
		}
	}
	return -1, StateError{Entity: e.def.Name, Op: "master_row", Reason: "no live master row"}
}

// Key returns the master primary-key value.
func (e *Entity) Key() (any, error) {
	row, err := e.masterRow()
	if err != nil {
		return nil, err
	}
	return e.masterTable().Key(row)
}

// SetKey assigns the master key on caller-assigned key types.
func (e *Entity) SetKey(key any) error {
	if e.removed {
		return StateError{Entity: e.def.Name, Op: "set_key", Reason: "entity is removed"}
	}
	row, err := e.masterRow()
	if err != nil {
		return err
	}
	return e.masterTable().SetKey(row, key)
}

// Field reads a master-table field.
func (e *Entity) Field(name string) (any, error) {
	row, err := e.masterRow()
	if err != nil {
		return nil, err
	}
	v, err := e.masterTable().Value(row, name)
	if err != nil {
		if _, ok := err.(relational.ColumnError); ok {
			return nil, FieldError{Entity: e.def.Name, Field: name}
		}
		return nil, err
	}
	return v, nil
}

// SetField writes a master-table field through the invalid-value policy.
func (e *Entity) SetField(name string, value any) error {
	if e.removed {
		return StateError{Entity: e.def.Name, Op: "set_field", Reason: "entity is removed"}
	}
	row, err := e.masterRow()
	if err != nil {
		return err
	}
	return e.writeField(e.masterTable(), row, name, value)
}

// writeField applies the per-entity invalid-value policy, then writes.
func (e *Entity) writeField(tbl *relational.Table, row int, name string, value any) error {
	col, declared := tbl.Column(name)
	if declared {
		switch e.def.invalidValuePolicy() {
		case PolicyAutoCorrect:
			value = e.correct(col, value)
		case PolicyReject:
			if msg, bad := e.invalid(col, value); bad {
				e.diagnostics = append(e.diagnostics, Diagnostic{Table: tbl.Name(), Field: name, Message: msg})
				return nil
			}
		}
	}
	if err := tbl.SetValue(row, name, value); err != nil {
		if _, ok := err.(relational.ColumnError); ok {
			return FieldError{Entity: e.def.Name, Field: name}
		}
		return err
	}
	return nil
}

func (e *Entity) correct(col relational.Column, value any) any {
	switch v := value.(type) {
	case string:
		if col.MaxLength > 0 && len(v) > col.MaxLength {
			return v[:col.MaxLength]
		}
	case time.Time:
		b := e.def.bounds()
		if v.Before(b.Min) {
			return b.Min
		}
		if v.After(b.Max) {
			return b.Max
		}
	}
	return value
}

func (e *Entity) invalid(col relational.Column, value any) (string, bool) {
	switch v := value.(type) {
	case string:
		if col.MaxLength > 0 && len(v) > col.MaxLength {
			return fmt.Sprintf("value exceeds maximum length %d", col.MaxLength), true
		}
	case time.Time:
		b := e.def.bounds()
		if v.Before(b.Min) || v.After(b.Max) {
			return "time outside backend range", true
		}
	}
	return "", false
}

// AddChild inserts a row into a secondary table, wires its foreign key to
// the master key, and allocates its own primary key. It returns the row
// handle.
func (e *Entity) AddChild(table string) (int, error) {
	if e.removed {
		return -1, StateError{Entity: e.def.Name, Op: "add_child", Reason: "entity is removed"}
	}
	sec, ok := e.def.secondary(table)
	if !ok {
		return -1, FieldError{Entity: e.def.Name, Field: table}
	}
	key, err := e.Key()
	if err != nil {
		return -1, err
	}
	child, _ := e.snap.Table(sec.Name)
	row := child.NewRow()
	if err := child.SetValue(row, sec.ForeignKey, key); err != nil {
		return -1, err
	}
	childKey, err := child.AllocateKey()
	switch {
	case err == nil:
		if err := child.SetKey(row, childKey); err != nil {
			return -1, err
		}
	case errors.Is(err, relational.ErrCallerAssignedKey):
	default:
		return -1, err
	}
	return row, nil
}

// SetChildField writes a secondary-table field through the invalid-value
// policy.
func (e *Entity) SetChildField(table string, row int, name string, value any) error {
	if e.removed {
		return StateError{Entity: e.def.Name, Op: "set_child_field", Reason: "entity is removed"}
	}
	child, ok := e.snap.Table(table)
	if !ok {
		return FieldError{Entity: e.def.Name, Field: table}
	}
	return e.writeField(child, row, name, value)
}

// ChildField reads a secondary-table field.
func (e *Entity) ChildField(table string, row int, name string) (any, error) {
	child, ok := e.snap.Table(table)
	if !ok {
		return nil, FieldError{Entity: e.def.Name, Field: table}
	}
	return child.Value(row, name)
}

// RemoveChild marks a secondary-table row deleted.
func (e *Entity) RemoveChild(table string, row int) error {
	if e.removed {
		return StateError{Entity: e.def.Name, Op: "remove_child", Reason: "entity is removed"}
	}
	child, ok := e.snap.Table(table)
	if !ok {
		return FieldError{Entity: e.def.Name, Field: table}
	}
	return child.MarkDeleted(row)
}

// Remove logically deletes the entity: the master row moves to Deleted and
// the object becomes terminal. Physical removal is Delete's job.
func (e *Entity) Remove() error {
	if e.removed {
		return StateError{Entity: e.def.Name, Op: "remove", Reason: "entity already removed"}
	}
	row, err := e.masterRow()
	if err != nil {
		return err
	}
	if err := e.masterTable().MarkDeleted(row); err != nil {
		return err
	}
	e.removed = true
	return nil
}

// Verify rebuilds the broken-rules ledger and returns the number of recorded
// entries of any severity. The ledger is cleared first; repeated verifies of
// unchanged data yield identical ledgers.
func (e *Entity) Verify() (int, error) {
	if e.removed {
		return 0, StateError{Entity: e.def.Name, Op: "verify", Reason: "entity is removed"}
	}
	if e.def.BeforeVerify != nil && e.def.BeforeVerify(e) == Cancel {
		return 0, ErrVetoed
	}
	ledger, err := e.engine.Apply(e.snap, "")
	if err != nil {
		return 0, err
	}
	return ledger.Count(), nil
}

// Ledger opens the entity's broken-rules ledger for inspection.
func (e *Entity) Ledger() *rules.Ledger {
	return rules.OpenLedger(e.snap)
}
