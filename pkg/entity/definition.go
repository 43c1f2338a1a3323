// Package entity implements the aggregate layer over the relational
// snapshot: one master table holding the aggregate's single identity row,
// dependent secondary tables linked back by foreign key, validated field
// writers, the deletion dependency graph, and the transactional save
// coordinator.
package entity

import (
	"time"

	"entitycore/pkg/backend"
	"entitycore/pkg/relational"
)

// InvalidValuePolicy decides what a field writer does with a value that
// violates a declared constraint. The check runs on every write, independent
// of the rule engine.
type InvalidValuePolicy string

const (
	// PolicyAutoCorrect truncates over-long strings and clamps out-of-range
	// times to the backend bounds, then writes the corrected value.
	PolicyAutoCorrect InvalidValuePolicy = "auto_correct"
	// PolicyReject refuses the write, keeps the original value, and records
	// a non-fatal diagnostic on the entity.
	PolicyReject InvalidValuePolicy = "reject"
	// PolicyAccept writes the value as supplied.
	PolicyAccept InvalidValuePolicy = "accept"
)

// Decision is the outcome of a before-action hook.
type Decision int

const (
	// Proceed lets the operation continue.
	Proceed Decision = iota
	// Cancel vetoes the operation before any mutation occurs.
	Cancel
)

// Hook is a cooperative pre-action veto point. Hooks run synchronously
// before the mutating step; once a transaction is open they are not
// consulted again.
type Hook func(e *Entity) Decision

// ColumnDef declares one column of the master or a secondary table.
type ColumnDef struct {
	Name      string
	Kind      relational.Kind
	MaxLength int
	ReadOnly  bool
}

// SecondaryTable declares a dependent child table. ForeignKey names the
// column referencing the master's primary key.
type SecondaryTable struct {
	Name       string
	PrimaryKey string
	KeyType    relational.KeyType
	ForeignKey string
	Columns    []ColumnDef
}

// CrossLink declares a many-to-many association surfaced through an
// intermediate linking table plus a target table.
type CrossLink struct {
	Name        string
	LinkTable   string
	LinkKey     string
	LinkKeyType relational.KeyType
	SourceFK    string // linking-table column referencing this entity
	TargetFK    string // linking-table column referencing the target
	TargetTable string
	TargetKind  relational.Kind
}

// DependencyNode is one node of the deletion dependency tree rooted at the
// entity under deletion. Restrict marks the node as deletion-blocking when
// dependent rows exist at its depth.
type DependencyNode struct {
	Table          string
	PrimaryKey     string
	ForeignKey     string
	DisplayColumns []string
	OrderBy        string
	Restrict       bool
	Children       []DependencyNode
}

// TimeBounds are the backend's representable time range, used by the
// auto-correct policy to clamp out-of-range values.
type TimeBounds struct {
	Min time.Time
	Max time.Time
}

// DefaultTimeBounds covers the common SQL range.
func DefaultTimeBounds() TimeBounds {
	return TimeBounds{
		Min: time.Date(1753, 1, 1, 0, 0, 0, 0, time.UTC),
		Max: time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC),
	}
}

// PropagateFunc rewrites foreign keys in dependent tables after the master's
// placeholder key is remapped to the server-issued key. The hook is declared
// per entity, never discovered from schema: each entity must know its own
// dependent tables. Forgetting a table here silently strands its rows on the
// placeholder key.
type PropagateFunc func(snap *relational.Snapshot, oldKey, newKey any) error

// Definition is the explicit registry describing one entity type. It
// replaces reflective discovery: tables, columns, rule bindings, ordering,
// and hooks are all declared here.
type Definition struct {
	Name       string
	Table      string
	PrimaryKey string
	KeyType    relational.KeyType
	Columns    []ColumnDef

	Secondaries []SecondaryTable
	CrossLinks  []CrossLink

	// DeleteOrder sequences the delete pass across secondary tables
	// (grandchildren before children). SaveOrder sequences the insert and
	// update pass (parents before children). Empty means reverse
	// declaration order for deletes and declaration order for saves; the
	// coordinator never sorts topologically on its own.
	DeleteOrder []string
	SaveOrder   []string

	InvalidValue InvalidValuePolicy
	Bounds       TimeBounds

	AllowSaveWithViolations bool
	AllowSaveWithWarnings   bool

	UpdateMode   backend.UpdateMode
	UpdateMethod backend.UpdateMethod

	PropagateKey  PropagateFunc
	DeletionGraph *DependencyNode

	BeforeVerify Hook
	BeforeSave   Hook
	BeforeDelete Hook

	// Build customizes a freshly created entity after the master row and
	// key are in place.
	Build func(e *Entity) error
}

func (d *Definition) invalidValuePolicy() InvalidValuePolicy {
	if d.InvalidValue == "" {
		return PolicyAccept
	}
	return d.InvalidValue
}

func (d *Definition) bounds() TimeBounds {
	if d.Bounds.Min.IsZero() && d.Bounds.Max.IsZero() {
		return DefaultTimeBounds()
	}
	return d.Bounds
}

func (d *Definition) updateMode() backend.UpdateMode {
	if d.UpdateMode == "" {
		return backend.UpdateChangedFields
	}
	return d.UpdateMode
}

func (d *Definition) updateMethod() backend.UpdateMethod {
	if d.UpdateMethod == "" {
		return backend.MethodIndividualCommands
	}
	return d.UpdateMethod
}

func (d *Definition) deleteOrder() []string {
	if len(d.DeleteOrder) > 0 {
		return d.DeleteOrder
	}
	out := make([]string, 0, len(d.Secondaries))
	for i := len(d.Secondaries) - 1; i >= 0; i-- {
		out = append(out, d.Secondaries[i].Name)
	}
	return out
}

func (d *Definition) saveOrder() []string {
	if len(d.SaveOrder) > 0 {
		return d.SaveOrder
	}
	out := make([]string, 0, len(d.Secondaries))
	for _, sec := range d.Secondaries {
		out = append(out, sec.Name)
	}
	return out
}

func (d *Definition) secondary(name string) (SecondaryTable, bool) {
	for _, sec := range d.Secondaries {
		if sec.Name == name {
			return sec, true
		}
	}
	return SecondaryTable{}, false
}

func (d *Definition) crossLink(name string) (CrossLink, bool) {
	for _, cl := range d.CrossLinks {
		if cl.Name == name {
			return cl, true
		}
	}
	return CrossLink{}, false
}

func columnsOf(defs []ColumnDef) []relational.Column {
	out := make([]relational.Column, 0, len(defs))
	for _, c := range defs {
		out = append(out, relational.Column{
			Name:      c.Name,
			Kind:      c.Kind,
			MaxLength: c.MaxLength,
			ReadOnly:  c.ReadOnly,
		})
	}
	return out
}
