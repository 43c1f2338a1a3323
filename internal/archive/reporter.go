package archive

import (
	"context"
	"fmt"
	"strings"
	"time"

	"entitycore/pkg/entity"
)

// Reporter archives the current broken-rule ledger of an entity as a pair of
// immutable report objects, one plain text and one HTML.
type Reporter struct {
	store Store
	now   func() time.Time
}

// NewReporter wraps a store. The wall clock is used for key timestamps.
func NewReporter(store Store) *Reporter {
	return &Reporter{store: store, now: time.Now}
}

// keyTimeLayout keeps keys lexically sortable by creation time.
const keyTimeLayout = "20060102T150405.000000000Z"

// Archive renders the entity's ledger and writes both renderings. The
// returned infos cover the text report first, then the HTML one.
func (r *Reporter) Archive(ctx context.Context, e *entity.Entity) ([]Info, error) {
	key, err := e.Key()
	if err != nil {
		return nil, err
	}
	stamp := r.now().UTC().Format(keyTimeLayout)
	prefix := fmt.Sprintf("%s/%v/%s", strings.ToLower(e.Definition().Name), key, stamp)
	ledger := e.Ledger()
	md := map[string]string{
		"entity":     e.Definition().Name,
		"entity_key": fmt.Sprintf("%v", key),
		"findings":   fmt.Sprintf("%d", ledger.Count()),
	}

	var infos []Info
	textInfo, err := r.store.Put(ctx, prefix+".txt", strings.NewReader(ledger.RenderText()), PutOptions{
		ContentType: "text/plain; charset=utf-8",
		Metadata:    md,
	})
	if err != nil {
		return nil, err
	}
	infos = append(infos, textInfo)

	htmlInfo, err := r.store.Put(ctx, prefix+".html", strings.NewReader(ledger.RenderHTML()), PutOptions{
		ContentType: "text/html; charset=utf-8",
		Metadata:    md,
	})
	if err != nil {
		return nil, err
	}
	return append(infos, htmlInfo), nil
}

// ListReports returns the archived reports for one entity, oldest first.
func (r *Reporter) ListReports(ctx context.Context, entityName string) ([]Info, error) {
	return r.store.List(ctx, strings.ToLower(entityName)+"/")
}
