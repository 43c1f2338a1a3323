package memory

import (
	"errors"
	"testing"

	"entitycore/pkg/backend"
)

func TestIdentityIsUnique(t *testing.T) {
	a, b := NewContext(), NewContext()
	if a.Identity() == b.Identity() {
		t.Fatalf("identities collide: %s", a.Identity())
	}
}

func TestTransactionRollbackRestoresState(t *testing.T) {
	c := NewContext()
	c.Seed("invoices", map[string]any{"id": "a", "title": "before"})

	if err := c.BeginTransaction(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	_, err := c.ExecuteNonQuery(backend.Command{
		Op:     backend.OpInsert,
		Table:  "invoices",
		Values: map[string]any{"id": "b", "title": "inside"},
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	_, err = c.ExecuteNonQuery(backend.Command{
		Op:     backend.OpUpdate,
		Table:  "invoices",
		Values: map[string]any{"title": "mutated"},
		Params: []backend.Param{{Name: "key", Value: "a"}},
		Filter: &backend.Filter{Column: "id", Param: "key"},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := c.AbortTransaction(); err != nil {
		t.Fatalf("abort: %v", err)
	}

	rows := c.Rows("invoices")
	if len(rows) != 1 {
		t.Fatalf("rows after abort: %v", rows)
	}
	if rows[0]["title"] != "before" {
		t.Fatalf("update survived abort: %v", rows[0])
	}
	if c.InTransaction() {
		t.Fatal("transaction still open")
	}
}

func TestTransactionCommitKeepsState(t *testing.T) {
	c := NewContext()
	if err := c.BeginTransaction(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	_, err := c.ExecuteNonQuery(backend.Command{
		Op:     backend.OpInsert,
		Table:  "invoices",
		Values: map[string]any{"id": "a"},
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := c.CommitTransaction(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if got := len(c.Rows("invoices")); got != 1 {
		t.Fatalf("rows: %d", got)
	}
}

func TestNestedBeginRefused(t *testing.T) {
	c := NewContext()
	if err := c.BeginTransaction(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	err := c.BeginTransaction()
	var txErr backend.TransactionError
	if !errors.As(err, &txErr) || txErr.Phase != "begin" {
		t.Fatalf("expected begin-phase TransactionError, got %v", err)
	}
}

func TestScalarInsertAllocatesServerKeys(t *testing.T) {
	c := NewContext()
	cmd := backend.Command{
		Op:           backend.OpInsert,
		Table:        "orders",
		Values:       map[string]any{"customer": "acme"},
		ScalarReturn: "id",
	}
	first, err := c.ExecuteScalar(cmd)
	if err != nil {
		t.Fatalf("scalar insert: %v", err)
	}
	second, err := c.ExecuteScalar(cmd)
	if err != nil {
		t.Fatalf("scalar insert: %v", err)
	}
	if first != int64(1) || second != int64(2) {
		t.Fatalf("keys: %v, %v", first, second)
	}
	rows := c.Rows("orders")
	if len(rows) != 2 {
		t.Fatalf("rows: %v", rows)
	}
	if rows[0]["id"] != int64(1) || rows[1]["id"] != int64(2) {
		t.Fatalf("stored keys: %v", rows)
	}
}

func TestScalarInsertWithoutReturnColumnUnsupported(t *testing.T) {
	c := NewContext()
	_, err := c.ExecuteScalar(backend.Command{Op: backend.OpInsert, Table: "orders"})
	if !errors.Is(err, backend.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestCountWithFilter(t *testing.T) {
	c := NewContext()
	c.Seed("line_items",
		map[string]any{"id": "l1", "invoice_id": "a"},
		map[string]any{"id": "l2", "invoice_id": "a"},
		map[string]any{"id": "l3", "invoice_id": "b"},
	)
	n, err := c.ExecuteScalar(backend.Command{
		Op:     backend.OpCount,
		Table:  "line_items",
		Params: []backend.Param{{Name: "top_key", Value: "a"}},
		Filter: &backend.Filter{Column: "invoice_id", Param: "top_key"},
	})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != int64(2) {
		t.Fatalf("count: %v", n)
	}
}

func TestSubqueryFilterMatchesNestedDependents(t *testing.T) {
	c := NewContext()
	c.Seed("payments",
		map[string]any{"id": "p1", "invoice_id": "a"},
		map[string]any{"id": "p2", "invoice_id": "b"},
	)
	c.Seed("refunds",
		map[string]any{"id": "r1", "payment_id": "p1"},
		map[string]any{"id": "r2", "payment_id": "p2"},
		map[string]any{"id": "r3", "payment_id": "p1"},
	)
	// Count refunds whose payment belongs to invoice "a", via the same
	// nested-subquery shape the deletion walker builds.
	parent := backend.Command{
		Op:      backend.OpSelect,
		Table:   "payments",
		Columns: []string{"id"},
		Params:  []backend.Param{{Name: "top_key", Value: "a"}},
		Filter:  &backend.Filter{Column: "invoice_id", Param: "top_key"},
	}
	n, err := c.ExecuteScalar(backend.Command{
		Op:     backend.OpCount,
		Table:  "refunds",
		Params: []backend.Param{{Name: "top_key", Value: "a"}},
		Filter: &backend.Filter{Column: "payment_id", Sub: &parent},
	})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != int64(2) {
		t.Fatalf("nested count: %v", n)
	}
}

func TestExecuteQueryMaterializesSnapshot(t *testing.T) {
	c := NewContext()
	c.Seed("invoices",
		map[string]any{"id": "a", "title": "March", "total": 12.5},
		map[string]any{"id": "b", "title": "April", "total": 99.0},
	)
	snap, err := c.ExecuteQuery(backend.Command{
		Op:      backend.OpSelect,
		Table:   "invoices",
		Columns: []string{"id", "title", "total"},
		Params:  []backend.Param{{Name: "key", Value: "a"}},
		Filter:  &backend.Filter{Column: "id", Param: "key"},
	}, "invoices")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	tbl, ok := snap.Table("invoices")
	if !ok {
		t.Fatal("result table missing")
	}
	if tbl.RowCount() != 1 {
		t.Fatalf("rows: %d", tbl.RowCount())
	}
	v, err := tbl.Value(0, "title")
	if err != nil || v != "March" {
		t.Fatalf("title: %v %v", v, err)
	}
	if snap.HasChanges() {
		t.Fatal("materialized rows must be settled")
	}
}

func TestUpdateAppliesValuesToMatches(t *testing.T) {
	c := NewContext()
	c.Seed("invoices",
		map[string]any{"id": "a", "title": "old"},
		map[string]any{"id": "b", "title": "old"},
	)
	n, err := c.ExecuteNonQuery(backend.Command{
		Op:     backend.OpUpdate,
		Table:  "invoices",
		Values: map[string]any{"title": "new"},
		Params: []backend.Param{{Name: "key", Value: "b"}},
		Filter: &backend.Filter{Column: "id", Param: "key"},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if n != 1 {
		t.Fatalf("affected: %d", n)
	}
	rows := c.Rows("invoices")
	if rows[0]["title"] != "old" || rows[1]["title"] != "new" {
		t.Fatalf("rows: %v", rows)
	}
}

func TestDeleteRemovesMatches(t *testing.T) {
	c := NewContext()
	c.Seed("invoices",
		map[string]any{"id": "a"},
		map[string]any{"id": "b"},
	)
	n, err := c.ExecuteNonQuery(backend.Command{
		Op:     backend.OpDelete,
		Table:  "invoices",
		Params: []backend.Param{{Name: "key", Value: "a"}},
		Filter: &backend.Filter{Column: "id", Param: "key"},
	})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n != 1 {
		t.Fatalf("affected: %d", n)
	}
	rows := c.Rows("invoices")
	if len(rows) != 1 || rows[0]["id"] != "b" {
		t.Fatalf("rows: %v", rows)
	}
}

func TestIntegerValuesCompareAcrossWidths(t *testing.T) {
	c := NewContext()
	c.Seed("orders", map[string]any{"id": int64(7)})
	n, err := c.ExecuteScalar(backend.Command{
		Op:     backend.OpCount,
		Table:  "orders",
		Params: []backend.Param{{Name: "key", Value: int(7)}},
		Filter: &backend.Filter{Column: "id", Param: "key"},
	})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != int64(1) {
		t.Fatalf("count: %v", n)
	}
}
