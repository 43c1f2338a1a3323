package backend

import (
	"strings"
	"testing"

	"entitycore/pkg/relational"
)

func orderTable(t *testing.T) *relational.Table {
	t.Helper()
	s := relational.NewSnapshot()
	return s.AddTable("orders", "id", relational.KeyIntegerAutoIncrement,
		relational.Column{Name: "customer", Kind: relational.KindString},
		relational.Column{Name: "total", Kind: relational.KindFloat},
		relational.Column{Name: "total_due", Kind: relational.KindFloat},
	)
}

func TestBuildInsertAutoIncrementReturnsKey(t *testing.T) {
	tbl := orderTable(t)
	row := tbl.NewRow()
	if err := tbl.SetKey(row, int64(-1)); err != nil {
		t.Fatalf("set key: %v", err)
	}
	if err := tbl.SetValue(row, "customer", "ACME"); err != nil {
		t.Fatalf("set: %v", err)
	}
	cmd, err := BuildInsert(tbl, row)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if cmd.ScalarReturn != "id" {
		t.Fatalf("auto-increment insert must return the key, got %q", cmd.ScalarReturn)
	}
	if !strings.HasSuffix(cmd.Text, "RETURNING id") {
		t.Fatalf("text: %s", cmd.Text)
	}
	// The placeholder key must not be sent to the server.
	if _, ok := cmd.Param("id"); ok {
		t.Fatal("placeholder key leaked into insert parameters")
	}
	if _, ok := cmd.Values["customer"]; !ok {
		t.Fatal("structured values missing customer")
	}
}

func TestBuildUpdateChangedFieldsOnly(t *testing.T) {
	tbl := orderTable(t)
	row := tbl.NewRow()
	if err := tbl.SetKey(row, int64(7)); err != nil {
		t.Fatalf("set key: %v", err)
	}
	tbl.Accept()
	row, _ = tbl.Find("id", int64(7))
	if err := tbl.SetValue(row, "customer", "ACME"); err != nil {
		t.Fatalf("set: %v", err)
	}

	cmd, err := BuildUpdate(tbl, row, UpdateChangedFields, MethodIndividualCommands)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if cmd.Op != OpUpdate {
		t.Fatalf("op: %s", cmd.Op)
	}
	if len(cmd.Columns) != 1 || cmd.Columns[0] != "customer" {
		t.Fatalf("changed-fields mode carried %v", cmd.Columns)
	}
	if !strings.Contains(cmd.Text, "WHERE id = :key") {
		t.Fatalf("text: %s", cmd.Text)
	}
	key, ok := cmd.Param("key")
	if !ok || key != int64(7) {
		t.Fatalf("key param: %v", key)
	}
}

func TestBuildUpdateAllFieldsExcludesKey(t *testing.T) {
	tbl := orderTable(t)
	row := tbl.NewRow()
	cmd, err := BuildUpdate(tbl, row, UpdateAllFields, MethodIndividualCommands)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	for _, c := range cmd.Columns {
		if c == "id" {
			t.Fatal("key column in SET list")
		}
	}
	if len(cmd.Columns) != 3 {
		t.Fatalf("expected all non-key columns, got %v", cmd.Columns)
	}
}

func TestBuildUpdateStoredProcedure(t *testing.T) {
	tbl := orderTable(t)
	row := tbl.NewRow()
	cmd, err := BuildUpdate(tbl, row, UpdateAllFields, MethodStoredProcedure)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if cmd.Op != OpCall {
		t.Fatalf("op: %s", cmd.Op)
	}
	if !strings.HasPrefix(cmd.Text, "CALL sp_update_orders(") {
		t.Fatalf("text: %s", cmd.Text)
	}
}

func TestBuildDeleteByKey(t *testing.T) {
	tbl := orderTable(t)
	cmd := BuildDeleteByKey(SchemaOf(tbl), int64(9))
	if cmd.Text != "DELETE FROM orders WHERE id = :key" {
		t.Fatalf("text: %s", cmd.Text)
	}
	if cmd.Filter == nil || cmd.Filter.Column != "id" {
		t.Fatalf("filter: %+v", cmd.Filter)
	}
}

func TestRenderPositionalHandlesPrefixedNames(t *testing.T) {
	cmd := Command{
		Text: "UPDATE orders SET total = :total, total_due = :total_due WHERE id = :key",
		Params: []Param{
			{Name: "total", Value: 1.0},
			{Name: "total_due", Value: 2.0},
			{Name: "key", Value: int64(3)},
		},
	}
	text, args, err := RenderPositional(cmd, "$")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	want := "UPDATE orders SET total = $1, total_due = $2 WHERE id = $3"
	if text != want {
		t.Fatalf("text: %s", text)
	}
	if args[0] != 1.0 || args[1] != 2.0 || args[2] != int64(3) {
		t.Fatalf("args: %v", args)
	}

	text, args, err = RenderPositional(cmd, "?")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if strings.Count(text, "?") != 3 || len(args) != 3 {
		t.Fatalf("question style: %s %v", text, args)
	}
}

func TestRenderPositionalUnboundParameter(t *testing.T) {
	cmd := Command{Text: "SELECT 1 WHERE x = :missing"}
	if _, _, err := RenderPositional(cmd, "?"); err == nil {
		t.Fatal("expected unbound parameter error")
	}
}
