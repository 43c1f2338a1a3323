// Package postgres opens Postgres data contexts through the pgx stdlib
// driver. Postgres executes CALL statements, so the stored-procedure update
// method is fully supported.
package postgres

import (
	"database/sql"
	"fmt"
	"sync"

	"entitycore/internal/infra/backend/sqlctx"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

const (
	driverName = "pgx"
	// DefaultDSN keeps parity with the env factory defaults while allowing
	// overrides.
	DefaultDSN = "postgres://localhost/entitycore?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// OverrideSQLOpen swaps the opener for tests and returns a restore func.
func OverrideSQLOpen(fn func(driver, dsn string) (*sql.DB, error)) func() {
	openMu.Lock()
	prev := sqlOpen
	sqlOpen = fn
	openMu.Unlock()
	return func() {
		openMu.Lock()
		sqlOpen = prev
		openMu.Unlock()
	}
}

// Open connects with the given DSN (falls back to DefaultDSN), applies the
// given schema statements, and returns a ready data context.
func Open(dsn string, ddl ...string) (*sqlctx.Context, error) {
	if dsn == "" {
		dsn = DefaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(driverName, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	ctx := sqlctx.New(db, sqlctx.Options{Name: "postgres", Style: "$", SupportsCall: true})
	if err := ctx.ApplyDDL(ddl...); err != nil {
		_ = ctx.Close()
		return nil, err
	}
	return ctx, nil
}
