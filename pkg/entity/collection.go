package entity

import (
	"errors"
	"sort"

	"entitycore/pkg/relational"
)

// Collection is a read view over a secondary table: the rows linked to this
// entity's master key, optionally filtered and sorted. Indices remain valid
// only until the next structural edit of the table.
type Collection struct {
	entity *Entity
	table  *relational.Table
	fk     string
	filter func(row int) bool
	sortBy string
}

// Children opens a collection over the named secondary table.
func (e *Entity) Children(table string) (*Collection, error) {
	sec, ok := e.def.secondary(table)
	if !ok {
		return nil, FieldError{Entity: e.def.Name, Field: table}
	}
	tbl, _ := e.snap.Table(sec.Name)
	return &Collection{entity: e, table: tbl, fk: sec.ForeignKey}, nil
}

// Filtered returns a derived collection keeping only rows the predicate
// accepts.
func (c *Collection) Filtered(pred func(row int) bool) *Collection {
	out := *c
	out.filter = pred
	return &out
}

// SortedBy returns a derived collection ordered by the named column.
func (c *Collection) SortedBy(column string) *Collection {
	out := *c
	out.sortBy = column
	return &out
}

// Indices returns the row handles of the collection's members.
func (c *Collection) Indices() ([]int, error) {
	key, err := c.entity.Key()
	if err != nil {
		return nil, err
	}
	var rows []int
	for i := 0; i < c.table.RowCount(); i++ {
		state, err := c.table.State(i)
		if err != nil {
			return nil, err
		}
		if state == relational.StateDeleted || state == relational.StateDetached {
			continue
		}
		fk, err := c.table.Value(i, c.fk)
		if err != nil {
			return nil, err
		}
		if fk != key {
			continue
		}
		if c.filter != nil && !c.filter(i) {
			continue
		}
		rows = append(rows, i)
	}
	if c.sortBy != "" {
		var sortErr error
		sort.SliceStable(rows, func(a, b int) bool {
			va, err := c.table.Value(rows[a], c.sortBy)
			if err != nil {
				sortErr = err
				return false
			}
			vb, err := c.table.Value(rows[b], c.sortBy)
			if err != nil {
				sortErr = err
				return false
			}
			return lessValues(va, vb)
		})
		if sortErr != nil {
			return nil, sortErr
		}
	}
	return rows, nil
}

// Count returns the number of members.
func (c *Collection) Count() (int, error) {
	rows, err := c.Indices()
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

func lessValues(a, b any) bool {
	switch av := a.(type) {
	case string:
		bv, _ := b.(string)
		return av < bv
	case int64:
		bv, _ := b.(int64)
		return av < bv
	case float64:
		bv, _ := b.(float64)
		return av < bv
	default:
		return false
	}
}

// LinkTargets returns the target keys of a cross-link collection.
func (e *Entity) LinkTargets(link string) ([]any, error) {
	cl, ok := e.def.crossLink(link)
	if !ok {
		return nil, FieldError{Entity: e.def.Name, Field: link}
	}
	tbl, _ := e.snap.Table(cl.LinkTable)
	key, err := e.Key()
	if err != nil {
		return nil, err
	}
	var out []any
	for i := 0; i < tbl.RowCount(); i++ {
		state, err := tbl.State(i)
		if err != nil {
			return nil, err
		}
		if state == relational.StateDeleted || state == relational.StateDetached {
			continue
		}
		src, err := tbl.Value(i, cl.SourceFK)
		if err != nil {
			return nil, err
		}
		if src != key {
			continue
		}
		target, err := tbl.Value(i, cl.TargetFK)
		if err != nil {
			return nil, err
		}
		out = append(out, target)
	}
	return out, nil
}

// Link records a many-to-many association to the target key through the
// linking table. Linking an already linked target is a no-op.
func (e *Entity) Link(link string, targetKey any) error {
	if e.removed {
		return StateError{Entity: e.def.Name, Op: "link", Reason: "entity is removed"}
	}
	cl, ok := e.def.crossLink(link)
	if !ok {
		return FieldError{Entity: e.def.Name, Field: link}
	}
	existing, err := e.LinkTargets(link)
	if err != nil {
		return err
	}
	for _, t := range existing {
		if t == targetKey {
			return nil
		}
	}
	tbl, _ := e.snap.Table(cl.LinkTable)
	key, err := e.Key()
	if err != nil {
		return err
	}
	row := tbl.NewRow()
	linkKey, err := tbl.AllocateKey()
	switch {
	case err == nil:
		if err := tbl.SetKey(row, linkKey); err != nil {
			return err
		}
	case errors.Is(err, relational.ErrCallerAssignedKey):
	default:
		return err
	}
	if err := tbl.SetValue(row, cl.SourceFK, key); err != nil {
		return err
	}
	return tbl.SetValue(row, cl.TargetFK, targetKey)
}

// Unlink removes the association to the target key.
func (e *Entity) Unlink(link string, targetKey any) error {
	if e.removed {
		return StateError{Entity: e.def.Name, Op: "unlink", Reason: "entity is removed"}
	}
	cl, ok := e.def.crossLink(link)
	if !ok {
		return FieldError{Entity: e.def.Name, Field: link}
	}
	tbl, _ := e.snap.Table(cl.LinkTable)
	key, err := e.Key()
	if err != nil {
		return err
	}
	for i := 0; i < tbl.RowCount(); i++ {
		state, err := tbl.State(i)
		if err != nil {
			return err
		}
		if state == relational.StateDeleted || state == relational.StateDetached {
			continue
		}
		src, _ := tbl.Value(i, cl.SourceFK)
		target, _ := tbl.Value(i, cl.TargetFK)
		if src == key && target == targetKey {
			return tbl.MarkDeleted(i)
		}
	}
	return NotFoundError{Table: cl.LinkTable, Key: targetKey}
}
