package archive

import (
	"context"
	"io"
	"strings"
	"testing"
)

func TestS3PutGetRoundTrip(t *testing.T) {
	store := NewMockS3ForTests()
	ctx := context.Background()

	if store.Driver() != DriverS3 {
		t.Fatalf("driver = %s", store.Driver())
	}
	if _, err := store.Put(ctx, "invoice/a/r.txt", strings.NewReader("report body"), PutOptions{
		ContentType: "text/plain; charset=utf-8",
	}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	info, body, err := store.Get(ctx, "invoice/a/r.txt")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	data, _ := io.ReadAll(body)
	_ = body.Close()
	if string(data) != "report body" {
		t.Fatalf("body = %q", data)
	}
	if info.ContentType != "text/plain; charset=utf-8" {
		t.Fatalf("content type = %q", info.ContentType)
	}
	if info.Size != int64(len("report body")) {
		t.Fatalf("size = %d", info.Size)
	}
}

func TestS3PutIsCreateOnly(t *testing.T) {
	store := NewMockS3ForTests()
	ctx := context.Background()
	if _, err := store.Put(ctx, "k", strings.NewReader("first"), PutOptions{}); err != nil {
		t.Fatalf("first put: %v", err)
	}
	_, err := store.Put(ctx, "k", strings.NewReader("second"), PutOptions{})
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected create-only refusal, got %v", err)
	}
}

func TestS3ListWithPrefix(t *testing.T) {
	store := NewMockS3ForTests()
	ctx := context.Background()
	for _, key := range []string{"invoice/b/2.txt", "invoice/a/1.txt", "order/c/3.txt"} {
		if _, err := store.Put(ctx, key, strings.NewReader(key), PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	infos, err := store.List(ctx, "invoice/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 2 || infos[0].Key != "invoice/a/1.txt" || infos[1].Key != "invoice/b/2.txt" {
		t.Fatalf("unexpected listing: %+v", infos)
	}
}

func TestS3DeleteIsIdempotent(t *testing.T) {
	store := NewMockS3ForTests()
	ctx := context.Background()
	if _, err := store.Put(ctx, "k", strings.NewReader("x"), PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if removed, err := store.Delete(ctx, "k"); err != nil || !removed {
		t.Fatalf("delete = %v, %v", removed, err)
	}
	if _, err := store.Head(ctx, "k"); err == nil {
		t.Fatalf("Head succeeded after delete")
	}
	if _, err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("repeat delete errored: %v", err)
	}
}
