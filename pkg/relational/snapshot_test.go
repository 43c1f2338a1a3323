package relational

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newInvoiceTable(s *Snapshot) *Table {
	return s.AddTable("invoices", "id", KeyGuid,
		Column{Name: "title", Kind: KindString, MaxLength: 40},
		Column{Name: "total", Kind: KindFloat},
		Column{Name: "issued_at", Kind: KindTime},
	)
}

func TestNewRowStartsAddedWithDefaults(t *testing.T) {
	s := NewSnapshot()
	tbl := newInvoiceTable(s)
	row := tbl.NewRow()

	state, err := tbl.State(row)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state != StateAdded {
		t.Fatalf("expected added, got %s", state)
	}
	v, err := tbl.Value(row, "title")
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	if v != "" {
		t.Fatalf("expected empty default, got %v", v)
	}
	key, err := tbl.Key(row)
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	if key != uuid.Nil {
		t.Fatalf("expected nil uuid default, got %v", key)
	}
}

func TestSetValueFlipsStateAndDirty(t *testing.T) {
	s := NewSnapshot()
	tbl := newInvoiceTable(s)
	row := tbl.NewRow()
	tbl.Accept() // row now Unchanged

	if err := tbl.SetValue(row, "title", "March invoice"); err != nil {
		t.Fatalf("set: %v", err)
	}
	state, _ := tbl.State(row)
	if state != StateModified {
		t.Fatalf("expected modified, got %s", state)
	}
	if !tbl.Dirty(row, "title") {
		t.Fatal("title should be dirty")
	}
	if !s.HasChanges() {
		t.Fatal("snapshot should report changes")
	}
}

func TestSetValueIdenticalIsNoOp(t *testing.T) {
	s := NewSnapshot()
	tbl := newInvoiceTable(s)
	row := tbl.NewRow()
	if err := tbl.SetValue(row, "title", "same"); err != nil {
		t.Fatalf("set: %v", err)
	}
	tbl.Accept()
	row, _ = tbl.Find("title", "same")

	if err := tbl.SetValue(row, "title", "same"); err != nil {
		t.Fatalf("set: %v", err)
	}
	state, _ := tbl.State(row)
	if state != StateUnchanged {
		t.Fatalf("identical write must not dirty the row, got %s", state)
	}

	if err := tbl.SetValueForce(row, "title", "same"); err != nil {
		t.Fatalf("force set: %v", err)
	}
	state, _ = tbl.State(row)
	if state != StateModified {
		t.Fatalf("forced write must dirty the row, got %s", state)
	}
}

func TestChangeNotification(t *testing.T) {
	s := NewSnapshot()
	tbl := newInvoiceTable(s)
	var gotRow int
	var gotCol string
	tbl.OnChange(func(row int, column string) {
		gotRow, gotCol = row, column
	})
	row := tbl.NewRow()
	if err := tbl.SetValue(row, "title", "notify"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if gotRow != row || gotCol != "title" {
		t.Fatalf("notification mismatch: row=%d col=%q", gotRow, gotCol)
	}
}

func TestSchemaWideningOnFirstWrite(t *testing.T) {
	s := NewSnapshot()
	tbl := newInvoiceTable(s)
	first := tbl.NewRow()
	second := tbl.NewRow()

	if err := tbl.SetValue(second, "notes", "late payment"); err != nil {
		t.Fatalf("widening write: %v", err)
	}
	if !tbl.HasColumn("notes") {
		t.Fatal("notes column should have been declared")
	}
	// Existing rows get the declared-type default.
	v, err := tbl.Value(first, "notes")
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	if v != "" {
		t.Fatalf("expected default backfill, got %v", v)
	}
}

func TestValueTypeMismatchRejected(t *testing.T) {
	s := NewSnapshot()
	tbl := newInvoiceTable(s)
	row := tbl.NewRow()
	err := tbl.SetValue(row, "title", 12)
	var typeErr ValueTypeError
	if !errors.As(err, &typeErr) {
		t.Fatalf("expected ValueTypeError, got %v", err)
	}
}

func TestIntWidensToFloatColumn(t *testing.T) {
	s := NewSnapshot()
	tbl := newInvoiceTable(s)
	row := tbl.NewRow()
	if err := tbl.SetValue(row, "total", 10); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, _ := tbl.Value(row, "total")
	if v != float64(10) {
		t.Fatalf("expected float64(10), got %v (%T)", v, v)
	}
}

func TestMarkDeletedTransitions(t *testing.T) {
	s := NewSnapshot()
	tbl := newInvoiceTable(s)

	added := tbl.NewRow()
	if err := tbl.MarkDeleted(added); err != nil {
		t.Fatalf("mark: %v", err)
	}
	state, _ := tbl.State(added)
	if state != StateDetached {
		t.Fatalf("added row should detach, got %s", state)
	}

	persisted := tbl.NewRow()
	tbl.Accept()
	persisted = 0 // detached row was dropped by accept
	_ = persisted
	row, ok := tbl.Find("id", uuid.Nil)
	if !ok {
		t.Fatal("persisted row not found")
	}
	if err := tbl.MarkDeleted(row); err != nil {
		t.Fatalf("mark: %v", err)
	}
	state, _ = tbl.State(row)
	if state != StateDeleted {
		t.Fatalf("persisted row should delete, got %s", state)
	}
	// Second mark is a no-op.
	if err := tbl.MarkDeleted(row); err != nil {
		t.Fatalf("second mark: %v", err)
	}
	state, _ = tbl.State(row)
	if state != StateDeleted {
		t.Fatalf("state changed on second mark: %s", state)
	}
}

func TestWriteToDeletedRowRefused(t *testing.T) {
	s := NewSnapshot()
	tbl := newInvoiceTable(s)
	row := tbl.NewRow()
	tbl.Accept()
	row, _ = tbl.Find("id", uuid.Nil)
	if err := tbl.MarkDeleted(row); err != nil {
		t.Fatalf("mark: %v", err)
	}
	err := tbl.SetValue(row, "title", "too late")
	var stateErr RowStateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("expected RowStateError, got %v", err)
	}
}

func TestAcceptClearsDirtyAndDropsDeleted(t *testing.T) {
	s := NewSnapshot()
	tbl := newInvoiceTable(s)
	keep := tbl.NewRow()
	if err := tbl.SetValue(keep, "title", "keep"); err != nil {
		t.Fatalf("set: %v", err)
	}
	drop := tbl.NewRow()
	if err := tbl.SetValue(drop, "title", "drop"); err != nil {
		t.Fatalf("set: %v", err)
	}
	tbl.Accept()
	row, _ := tbl.Find("title", "drop")
	if err := tbl.MarkDeleted(row); err != nil {
		t.Fatalf("mark: %v", err)
	}
	tbl.Accept()

	if tbl.RowCount() != 1 {
		t.Fatalf("expected 1 row after accept, got %d", tbl.RowCount())
	}
	if _, ok := tbl.Find("title", "drop"); ok {
		t.Fatal("deleted row survived accept")
	}
	row, _ = tbl.Find("title", "keep")
	state, _ := tbl.State(row)
	if state != StateUnchanged {
		t.Fatalf("expected unchanged, got %s", state)
	}
	if len(tbl.DirtyColumns(row)) != 0 {
		t.Fatal("dirty set should be empty after accept")
	}
	if s.HasChanges() {
		t.Fatal("no changes expected after accept")
	}
}

func TestReadOnlyColumnRefusesWrites(t *testing.T) {
	s := NewSnapshot()
	tbl := s.AddTable("orders", "id", KeyIntegerAutoIncrement,
		Column{Name: "code", Kind: KindString, ReadOnly: true},
	)
	row := tbl.NewRow()
	err := tbl.SetValue(row, "code", "X1")
	var roErr ColumnReadOnlyError
	if !errors.As(err, &roErr) {
		t.Fatalf("expected ColumnReadOnlyError, got %v", err)
	}
}

func TestNullHandling(t *testing.T) {
	s := NewSnapshot()
	tbl := newInvoiceTable(s)
	row := tbl.NewRow()
	if err := tbl.SetValue(row, "title", "set"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := tbl.SetValue(row, "title", nil); err != nil {
		t.Fatalf("null write: %v", err)
	}
	v, _ := tbl.Value(row, "title")
	if v != nil {
		t.Fatalf("expected unset, got %v", v)
	}
	// nil equals only nil: a typed zero is a real change.
	if err := tbl.SetValue(row, "title", ""); err != nil {
		t.Fatalf("set empty: %v", err)
	}
	v, _ = tbl.Value(row, "title")
	if v != "" {
		t.Fatalf("expected empty string, got %v", v)
	}
}

func TestBrokenRulesTableExcludedFromHasChanges(t *testing.T) {
	s := NewSnapshot()
	ledger := s.AddTable(BrokenRulesTable, "", "",
		Column{Name: "message", Kind: KindString},
	)
	row := ledger.NewRow()
	if err := ledger.SetValue(row, "message", "broken"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if s.HasChanges() {
		t.Fatal("broken-rules entries must not count as data changes")
	}
}

func TestTimeEqualityUsesTimeEqual(t *testing.T) {
	s := NewSnapshot()
	tbl := newInvoiceTable(s)
	row := tbl.NewRow()
	loc := time.FixedZone("X", 3600)
	stamp := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := tbl.SetValue(row, "issued_at", stamp); err != nil {
		t.Fatalf("set: %v", err)
	}
	tbl.Accept()
	row, _ = tbl.Find("issued_at", stamp)
	if err := tbl.SetValue(row, "issued_at", stamp.In(loc)); err != nil {
		t.Fatalf("set same instant: %v", err)
	}
	state, _ := tbl.State(row)
	if state != StateUnchanged {
		t.Fatalf("same instant in another zone must be a no-op, got %s", state)
	}
}

func TestStorageLiteralsCoerceToDeclaredKinds(t *testing.T) {
	s := NewSnapshot()
	tbl := s.AddTable("invoices", "id", KeyGuid,
		Column{Name: "issued_at", Kind: KindTime},
		Column{Name: "paid", Kind: KindBool},
	)
	row := tbl.NewRow()

	id := uuid.New()
	if err := tbl.SetKey(row, id.String()); err != nil {
		t.Fatalf("guid text: %v", err)
	}
	got, _ := tbl.Key(row)
	if got != id {
		t.Fatalf("key = %v, want %v", got, id)
	}

	if err := tbl.SetValue(row, "issued_at", "2026-03-02 09:30:00"); err != nil {
		t.Fatalf("time text: %v", err)
	}
	v, _ := tbl.Value(row, "issued_at")
	if ts, ok := v.(time.Time); !ok || ts.Hour() != 9 {
		t.Fatalf("issued_at = %v", v)
	}

	if err := tbl.SetValue(row, "paid", int64(1)); err != nil {
		t.Fatalf("bool int: %v", err)
	}
	v, _ = tbl.Value(row, "paid")
	if v != true {
		t.Fatalf("paid = %v", v)
	}

	if err := tbl.SetKey(row, "not-a-guid"); err == nil {
		t.Fatalf("malformed guid text accepted")
	}
}
