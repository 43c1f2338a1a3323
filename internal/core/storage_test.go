package core

import (
	"path/filepath"
	"testing"

	"entitycore/internal/infra/backend/memory"
)

func TestOpenDataContextMemory(t *testing.T) {
	t.Setenv("ENTITYCORE_STORAGE_DRIVER", "memory")
	dc, err := OpenDataContext(testRegistry(t))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, ok := dc.(*memory.Context); !ok {
		t.Fatalf("driver: %T", dc)
	}
}

func TestOpenDataContextSQLiteAppliesSchema(t *testing.T) {
	t.Setenv("ENTITYCORE_STORAGE_DRIVER", "sqlite")
	t.Setenv("ENTITYCORE_SQLITE_PATH", filepath.Join(t.TempDir(), "core.db"))
	dc, err := OpenDataContext(testRegistry(t))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	// The generated schema is in place when the registry's tables accept
	// writes immediately.
	svc := NewService(dc, testRegistry(t), testEngine())
	e, err := svc.New(t.Context(), "Invoice")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := e.SetField("title", "March"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := svc.Save(t.Context(), e); err != nil {
		t.Fatalf("save: %v", err)
	}
}

func TestOpenDataContextUnknownDriver(t *testing.T) {
	t.Setenv("ENTITYCORE_STORAGE_DRIVER", "oracle")
	if _, err := OpenDataContext(testRegistry(t)); err == nil {
		t.Fatal("unknown driver must fail")
	}
}
