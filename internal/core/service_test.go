package core

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"entitycore/internal/infra/backend/memory"
	"entitycore/pkg/entity"
	"entitycore/pkg/relational"
	"entitycore/pkg/rules"
)

func testRegistry(t *testing.T) *entity.Registry {
	t.Helper()
	reg := entity.NewRegistry()
	def := &entity.Definition{
		Name:       "Invoice",
		Table:      "invoices",
		PrimaryKey: "id",
		KeyType:    relational.KeyGuid,
		Columns: []entity.ColumnDef{
			{Name: "title", Kind: relational.KindString},
			{Name: "total", Kind: relational.KindFloat},
		},
		Secondaries: []entity.SecondaryTable{
			{
				Name:       "line_items",
				PrimaryKey: "id",
				KeyType:    relational.KeyGuid,
				ForeignKey: "invoice_id",
				Columns:    []entity.ColumnDef{{Name: "description", Kind: relational.KindString}},
			},
		},
	}
	if err := reg.Register(def); err != nil {
		t.Fatalf("register: %v", err)
	}
	return reg
}

func testEngine() *rules.Engine {
	engine := rules.NewEngine()
	engine.Register("invoices", rules.RequiredField{Field: "title"}, rules.SeverityViolation)
	return engine
}

func newTestService(t *testing.T, opts ...Option) (*Service, *memory.Context) {
	t.Helper()
	mem := memory.NewContext()
	svc := NewService(mem, testRegistry(t), testEngine(), opts...)
	return svc, mem
}

func TestServiceSaveAndLoadRoundTrip(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()

	e, err := svc.New(ctx, "Invoice")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := e.SetField("title", "March"); err != nil {
		t.Fatalf("set: %v", err)
	}
	row, err := e.AddChild("line_items")
	if err != nil {
		t.Fatalf("add child: %v", err)
	}
	if err := e.SetChildField("line_items", row, "description", "widgets"); err != nil {
		t.Fatalf("set child: %v", err)
	}
	outcome, err := svc.Save(ctx, e)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if outcome != entity.OutcomeSaved {
		t.Fatalf("outcome: %s", outcome)
	}
	if got := len(mem.Rows("invoices")); got != 1 {
		t.Fatalf("stored invoices: %d", got)
	}
	if got := len(mem.Rows("line_items")); got != 1 {
		t.Fatalf("stored line items: %d", got)
	}

	key, _ := e.Key()
	loaded, err := svc.Load(ctx, "Invoice", key)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	title, err := loaded.Field("title")
	if err != nil || title != "March" {
		t.Fatalf("title: %v %v", title, err)
	}
	children, err := loaded.Children("line_items")
	if err != nil {
		t.Fatalf("children: %v", err)
	}
	n, err := children.Count()
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("children: %d", n)
	}
}

func TestServiceVerifyCountsFindings(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	e, err := svc.New(ctx, "Invoice")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	count, err := svc.Verify(ctx, e)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if count != 1 {
		t.Fatalf("findings: %d", count)
	}
}

func TestServiceRejectedSaveAudited(t *testing.T) {
	audit := NewJSONAuditRecorder(nil)
	svc, _ := newTestService(t, WithAudit(audit))
	ctx := context.Background()
	e, err := svc.New(ctx, "Invoice")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	outcome, err := svc.Save(ctx, e)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if outcome != entity.OutcomeRejected {
		t.Fatalf("outcome: %s", outcome)
	}
	entries := audit.Entries()
	if len(entries) != 1 {
		t.Fatalf("audit entries: %v", entries)
	}
	if entries[0].Operation != "save" || entries[0].Outcome != "rejected" || entries[0].Entity != "Invoice" {
		t.Fatalf("entry: %+v", entries[0])
	}
}

func TestServiceDeleteAudited(t *testing.T) {
	audit := NewJSONAuditRecorder(nil)
	svc, mem := newTestService(t, WithAudit(audit))
	ctx := context.Background()
	e, err := svc.New(ctx, "Invoice")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := e.SetField("title", "doomed"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := svc.Save(ctx, e); err != nil {
		t.Fatalf("save: %v", err)
	}
	deleted, err := svc.Delete(ctx, e)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !deleted {
		t.Fatal("delete blocked without cause")
	}
	if got := len(mem.Rows("invoices")); got != 0 {
		t.Fatalf("rows after delete: %d", got)
	}
	entries := audit.Entries()
	last := entries[len(entries)-1]
	if last.Operation != "delete" || last.Outcome != "deleted" {
		t.Fatalf("entry: %+v", last)
	}
}

func TestServiceSaveAllSharesOneContext(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()
	a, err := svc.New(ctx, "Invoice")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	_ = a.SetField("title", "first")
	b, err := svc.New(ctx, "Invoice")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	_ = b.SetField("title", "second")

	outcome, err := svc.SaveAll(ctx, a, b)
	if err != nil {
		t.Fatalf("save all: %v", err)
	}
	if outcome != entity.OutcomeSaved {
		t.Fatalf("outcome: %s", outcome)
	}
	if got := len(mem.Rows("invoices")); got != 2 {
		t.Fatalf("stored invoices: %d", got)
	}
}

func TestServiceUnknownDefinition(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.New(context.Background(), "Ghost"); err == nil {
		t.Fatal("unknown definition must fail")
	}
}

func TestServiceInstrumentsOperations(t *testing.T) {
	metrics := NewExpvarMetricsRecorder("")
	var traceBuf bytes.Buffer
	tracer := NewJSONTracer(&traceBuf)
	svc, _ := newTestService(t, WithMetrics(metrics), WithTracer(tracer))
	ctx := context.Background()

	e, err := svc.New(ctx, "Invoice")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	_ = e.SetField("title", "seen")
	if _, err := svc.Save(ctx, e); err != nil {
		t.Fatalf("save: %v", err)
	}

	snap := metrics.Snapshot()
	if snap.Results["entity.new"]["success"] != 1 {
		t.Fatalf("new not observed: %+v", snap.Results)
	}
	if snap.Results["entity.save"]["success"] != 1 {
		t.Fatalf("save not observed: %+v", snap.Results)
	}
	spans := tracer.Entries()
	var sawSave bool
	for _, span := range spans {
		if span.Operation == "entity.save" && span.Status == "success" {
			sawSave = true
		}
	}
	if !sawSave {
		t.Fatalf("save span missing: %+v", spans)
	}
	if !strings.Contains(traceBuf.String(), "entity.save") {
		t.Fatal("trace lines not written")
	}
}

func TestInstallPackRegistersBindings(t *testing.T) {
	svc, _ := newTestService(t)
	pack := rules.NewPack("billing").
		Bind("invoices", rules.MaxLength{Field: "title", Limit: 5}, rules.SeverityWarning)
	before := len(svc.Engine().Bindings())
	svc.InstallPack(pack)
	if got := len(svc.Engine().Bindings()); got != before+1 {
		t.Fatalf("bindings: %d -> %d", before, got)
	}
}
