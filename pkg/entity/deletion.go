package entity

import (
	"fmt"
	"strings"

	"entitycore/pkg/backend"
	"entitycore/pkg/rules"
)

// VerifyLevel selects how much work VerifyForDeletion does beyond the
// pass/fail decision.
type VerifyLevel string

const (
	// LevelCounts runs only the count queries that decide the outcome.
	LevelCounts VerifyLevel = "counts"
	// LevelFull additionally materializes a dependent-rows report table per
	// node for presentation. The extra tables never change the outcome.
	LevelFull VerifyLevel = "full"
)

const topKeyParam = "top_key"

// rowsCommand selects the key column of a node's dependent rows, shaped for
// use as the IN-subquery of the node's children. The recursion nests
// subqueries instead of materializing intermediate result sets, so one
// command reaches dependents at any depth.
func rowsCommand(node DependencyNode, parent *backend.Command, topKey any) backend.Command {
	return nodeCommand(node, parent, topKey, []string{node.PrimaryKey}, "", backend.OpSelect)
}

// countCommand counts a node's dependent rows.
func countCommand(node DependencyNode, parent *backend.Command, topKey any) backend.Command {
	cmd := nodeCommand(node, parent, topKey, []string{fmt.Sprintf("COUNT(%s)", node.PrimaryKey)}, "", backend.OpCount)
	cmd.Columns = nil
	return cmd
}

// reportCommand selects a node's declared display columns for presentation.
func reportCommand(node DependencyNode, parent *backend.Command, topKey any) backend.Command {
	cols := node.DisplayColumns
	if len(cols) == 0 {
		cols = []string{node.PrimaryKey}
	}
	return nodeCommand(node, parent, topKey, cols, node.OrderBy, backend.OpSelect)
}

func nodeCommand(node DependencyNode, parent *backend.Command, topKey any, cols []string, orderBy string, op backend.Op) backend.Command {
	selectList := strings.Join(cols, ", ")
	cmd := backend.Command{
		Op:      op,
		Table:   node.Table,
		Columns: cols,
		Params:  []backend.Param{{Name: topKeyParam, Value: topKey}},
	}
	if parent == nil {
		cmd.Text = fmt.Sprintf("SELECT %s FROM %s WHERE %s = :%s", selectList, node.Table, node.ForeignKey, topKeyParam)
		cmd.Filter = &backend.Filter{Column: node.ForeignKey, Param: topKeyParam}
	} else {
		cmd.Text = fmt.Sprintf("SELECT %s FROM %s WHERE %s IN (%s)", selectList, node.Table, node.ForeignKey, parent.Text)
		cmd.Filter = &backend.Filter{Column: node.ForeignKey, Sub: parent}
	}
	if orderBy != "" {
		cmd.Text += " ORDER BY " + orderBy
	}
	return cmd
}

// VerifyForDeletion decides whether the entity may be physically deleted. It
// reruns the deletion-only rule set with the usual clear-then-apply
// discipline, then walks the dependency tree with count queries: any
// Restrict-flagged node with dependents at its depth records a
// deletion-blocking violation, logged with an empty field name and row index
// -1 to denote whole-entity scope. It returns true when violations exist.
func (e *Entity) VerifyForDeletion(level VerifyLevel) (bool, error) {
	if e.removed {
		return false, StateError{Entity: e.def.Name, Op: "verify_for_deletion", Reason: "entity is removed"}
	}
	ledger, err := e.engine.ApplyDeletion(e.snap, e.def.Table)
	if err != nil {
		return false, err
	}
	if e.def.DeletionGraph != nil {
		// Restrict findings are recorded under dependent-table names, which
		// need not be snapshot tables; clear them too so reruns never
		// accumulate. The root is left alone: its entries are the deletion
		// rules ApplyDeletion just recorded.
		for _, child := range e.def.DeletionGraph.Children {
			ledger.Clear(graphTables(child)...)
		}
		key, err := e.Key()
		if err != nil {
			return false, err
		}
		for _, child := range e.def.DeletionGraph.Children {
			if err := e.verifyNode(child, nil, key, level, ledger); err != nil {
				return false, err
			}
		}
	}
	return ledger.HasViolations(), nil
}

// graphTables lists every table the dependency tree names.
func graphTables(node DependencyNode) []string {
	out := []string{node.Table}
	for _, child := range node.Children {
		out = append(out, graphTables(child)...)
	}
	return out
}

func (e *Entity) verifyNode(node DependencyNode, parentRows *backend.Command, topKey any, level VerifyLevel, ledger *rules.Ledger) error {
	count, err := e.ctx.ExecuteScalar(countCommand(node, parentRows, topKey))
	if err != nil {
		return err
	}
	n, err := scalarToKey(count)
	if err != nil {
		return err
	}
	if node.Restrict && n > 0 {
		ledger.Add(rules.Entry{
			Table:    node.Table,
			RowIndex: -1,
			Severity: rules.SeverityViolation,
			Message:  fmt.Sprintf("cannot delete: %d dependent row(s) in %s", n, node.Table),
			Rule:     "deletion:restrict",
		})
	}
	if level == LevelFull && n > 0 {
		if err := e.populateReport(node, parentRows, topKey); err != nil {
			return err
		}
	}
	rows := rowsCommand(node, parentRows, topKey)
	for _, child := range node.Children {
		if err := e.verifyNode(child, &rows, topKey, level, ledger); err != nil {
			return err
		}
	}
	return nil
}

// populateReport materializes a node's dependent rows into a snapshot table
// named <table>_dependents. Strictly additive; the pass/fail outcome never
// depends on it.
func (e *Entity) populateReport(node DependencyNode, parentRows *backend.Command, topKey any) error {
	fetched, err := e.ctx.ExecuteQuery(reportCommand(node, parentRows, topKey), node.Table)
	if err != nil {
		return err
	}
	src, ok := fetched.Table(node.Table)
	if !ok {
		return nil
	}
	name := node.Table + "_dependents"
	dst := e.snap.AddTable(name, "", "", src.Columns()...)
	// Rebuild from scratch on every full verification.
	for i := 0; i < dst.RowCount(); i++ {
		_ = dst.MarkDeleted(i)
	}
	dst.Accept()
	_, err = importRows(dst, fetched, node.Table)
	if err != nil {
		return err
	}
	dst.Accept()
	return nil
}

// Delete physically removes the entity: deletion verification, then a
// transaction deleting the master row by key. Dependent-row deletion beyond
// the master is the entity author's job via the before-delete hook or
// explicit child removal followed by Save. On success the entity becomes
// terminal. It returns false, nil when deletion-blocking violations exist.
func (e *Entity) Delete() (bool, error) {
	if e.removed {
		return false, StateError{Entity: e.def.Name, Op: "delete", Reason: "entity is removed"}
	}
	if e.def.BeforeDelete != nil && e.def.BeforeDelete(e) == Cancel {
		return false, ErrVetoed
	}
	blocked, err := e.VerifyForDeletion(LevelCounts)
	if err != nil {
		return false, err
	}
	if blocked {
		return false, nil
	}
	key, err := e.Key()
	if err != nil {
		return false, err
	}
	borrowed := e.ctx.InTransaction()
	if !borrowed {
		if err := e.ctx.BeginTransaction(); err != nil {
			return false, err
		}
	}
	master := e.masterTable()
	if _, err := e.ctx.ExecuteNonQuery(backend.BuildDeleteByKey(backend.SchemaOf(master), key)); err != nil {
		if !borrowed {
			_ = e.ctx.AbortTransaction()
		}
		return false, err
	}
	if !borrowed {
		if err := e.ctx.CommitTransaction(); err != nil {
			_ = e.ctx.AbortTransaction()
			return false, err
		}
	}
	row, err := e.masterRow()
	if err == nil {
		_ = master.MarkDeleted(row)
		master.Accept()
	}
	e.removed = true
	return true, nil
}
