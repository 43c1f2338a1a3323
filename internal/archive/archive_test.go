package archive

import (
	"context"
	"strings"
	"testing"
)

func TestOpenSelectsMemoryDriver(t *testing.T) {
	t.Setenv("ENTITYCORE_ARCHIVE_DRIVER", "memory")
	store, err := Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if store.Driver() != DriverMemory {
		t.Fatalf("driver = %s", store.Driver())
	}
}

func TestOpenDefaultsToFilesystem(t *testing.T) {
	t.Setenv("ENTITYCORE_ARCHIVE_DRIVER", "")
	t.Setenv("ENTITYCORE_ARCHIVE_FS_ROOT", t.TempDir())
	store, err := Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if store.Driver() != DriverFilesystem {
		t.Fatalf("driver = %s", store.Driver())
	}
}

func TestOpenS3RequiresBucket(t *testing.T) {
	t.Setenv("ENTITYCORE_ARCHIVE_DRIVER", "s3")
	t.Setenv("ENTITYCORE_ARCHIVE_S3_BUCKET", "")
	_, err := Open(context.Background())
	if err == nil || !strings.Contains(err.Error(), "ENTITYCORE_ARCHIVE_S3_BUCKET") {
		t.Fatalf("expected bucket error, got %v", err)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	t.Setenv("ENTITYCORE_ARCHIVE_DRIVER", "tape")
	if _, err := Open(context.Background()); err == nil {
		t.Fatalf("unknown driver accepted")
	}
}
