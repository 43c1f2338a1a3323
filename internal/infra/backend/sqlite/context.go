// Package sqlite opens file-backed data contexts using the pure Go SQLite
// driver. SQLite has no stored procedures, so commands carrying the
// stored-procedure update method fail with backend.ErrUnsupported.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"entitycore/internal/infra/backend/sqlctx"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// DefaultPath is used when Open is called with an empty path.
const DefaultPath = "entitycore.db"

// Open creates the database file if needed, applies the given schema
// statements, and returns a ready data context.
func Open(path string, ddl ...string) (*sqlctx.Context, error) {
	if path == "" {
		path = DefaultPath
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	ctx := sqlctx.New(db, sqlctx.Options{Name: "sqlite", Style: "?", SupportsCall: false})
	if err := ctx.ApplyDDL(ddl...); err != nil {
		_ = ctx.Close()
		return nil, err
	}
	return ctx, nil
}
