package archive

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"entitycore/internal/infra/backend/memory"
	"entitycore/pkg/entity"
	"entitycore/pkg/relational"
	"entitycore/pkg/rules"
)

func reportInvoice(t *testing.T) *entity.Entity {
	t.Helper()
	def := &entity.Definition{
		Name:       "Invoice",
		Table:      "invoices",
		PrimaryKey: "id",
		KeyType:    relational.KeyGuid,
		Columns: []entity.ColumnDef{
			{Name: "title", Kind: relational.KindString},
			{Name: "total", Kind: relational.KindFloat},
		},
	}
	engine := rules.NewEngine()
	engine.Register("invoices", rules.RequiredField{Field: "title"}, rules.SeverityViolation)
	e, err := entity.New(def, engine, memory.NewContext())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func TestReporterArchivesTextAndHTML(t *testing.T) {
	e := reportInvoice(t)
	if _, err := e.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if e.Ledger().Count() == 0 {
		t.Fatalf("expected a missing-title finding to report")
	}

	store := NewMemory()
	r := NewReporter(store)
	r.now = func() time.Time { return time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC) }

	infos, err := r.Archive(context.Background(), e)
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("archived %d objects, want 2", len(infos))
	}

	key, err := e.Key()
	if err != nil {
		t.Fatalf("Key: %v", err)
	}
	stamp := "20260301T093000.000000000Z"
	wantText := fmt.Sprintf("invoice/%v/%s.txt", key, stamp)
	wantHTML := fmt.Sprintf("invoice/%v/%s.html", key, stamp)
	if infos[0].Key != wantText || infos[1].Key != wantHTML {
		t.Fatalf("keys = %q, %q; want %q, %q", infos[0].Key, infos[1].Key, wantText, wantHTML)
	}
	if infos[0].ContentType != "text/plain; charset=utf-8" || infos[1].ContentType != "text/html; charset=utf-8" {
		t.Fatalf("content types = %q, %q", infos[0].ContentType, infos[1].ContentType)
	}
	if infos[0].Metadata["entity"] != "Invoice" || infos[0].Metadata["findings"] != "1" {
		t.Fatalf("metadata = %v", infos[0].Metadata)
	}

	_, body, err := store.Get(context.Background(), wantText)
	if err != nil {
		t.Fatalf("Get text: %v", err)
	}
	text, _ := io.ReadAll(body)
	_ = body.Close()
	if !strings.Contains(string(text), "title is required") {
		t.Fatalf("text report missing finding: %q", text)
	}
	_, body, err = store.Get(context.Background(), wantHTML)
	if err != nil {
		t.Fatalf("Get html: %v", err)
	}
	page, _ := io.ReadAll(body)
	_ = body.Close()
	if !strings.Contains(string(page), "<table class=\"broken-rules\">") {
		t.Fatalf("html report missing table: %q", page)
	}
}

func TestReporterListsEntityReports(t *testing.T) {
	e := reportInvoice(t)
	if _, err := e.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	r := NewReporter(NewMemory())
	base := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	r.now = func() time.Time {
		base = base.Add(time.Second)
		return base
	}
	for i := 0; i < 2; i++ {
		if _, err := r.Archive(context.Background(), e); err != nil {
			t.Fatalf("Archive %d: %v", i, err)
		}
	}

	infos, err := r.ListReports(context.Background(), "Invoice")
	if err != nil {
		t.Fatalf("ListReports: %v", err)
	}
	if len(infos) != 4 {
		t.Fatalf("listed %d reports, want 4", len(infos))
	}
	for i := 1; i < len(infos); i++ {
		if infos[i-1].Key > infos[i].Key {
			t.Fatalf("listing not sorted: %q before %q", infos[i-1].Key, infos[i].Key)
		}
	}
}
