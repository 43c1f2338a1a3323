// Package sqlctx implements the backend.DataContext contract over a
// database/sql handle. The sqlite and postgres packages configure it with
// their placeholder style and capability set; execution itself is
// dialect-independent because commands carry ANSI SQL text with named
// parameters.
package sqlctx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"

	"entitycore/pkg/backend"
	"entitycore/pkg/relational"
)

var contextSeq uint64

// Options configures a Context for one SQL dialect.
type Options struct {
	// Name prefixes the context identity, e.g. "sqlite" or "postgres".
	Name string
	// Style is the positional placeholder style RenderPositional expects:
	// "?" or "$".
	Style string
	// SupportsCall reports whether the engine executes CALL statements.
	// Stored-procedure commands on an engine without it fail with
	// backend.ErrUnsupported.
	SupportsCall bool
}

// Context is a SQL-backed DataContext. Not safe for concurrent use.
type Context struct {
	opts     Options
	identity string
	db       *sql.DB
	tx       *sql.Tx
	ctx      context.Context
}

// New wraps an open database handle.
func New(db *sql.DB, opts Options) *Context {
	id := atomic.AddUint64(&contextSeq, 1)
	return &Context{
		opts:     opts,
		identity: fmt.Sprintf("%s-%d", opts.Name, id),
		db:       db,
		ctx:      context.Background(),
	}
}

// Identity implements backend.DataContext.
func (c *Context) Identity() string { return c.identity }

// InTransaction implements backend.DataContext.
func (c *Context) InTransaction() bool { return c.tx != nil }

// DB exposes the underlying handle for schema setup and integration tests.
func (c *Context) DB() *sql.DB { return c.db }

// Close releases the underlying handle.
func (c *Context) Close() error { return c.db.Close() }

// ApplyDDL executes schema statements outside any command transaction.
func (c *Context) ApplyDDL(statements ...string) error {
	for _, stmt := range statements {
		if _, err := c.db.ExecContext(c.ctx, stmt); err != nil {
			return fmt.Errorf("execute ddl: %w", err)
		}
	}
	return nil
}

// BeginTransaction implements backend.DataContext.
func (c *Context) BeginTransaction() error {
	if c.tx != nil {
		return backend.TransactionError{Phase: "begin", Err: fmt.Errorf("transaction already open")}
	}
	tx, err := c.db.BeginTx(c.ctx, nil)
	if err != nil {
		return backend.TransactionError{Phase: "begin", Err: err}
	}
	c.tx = tx
	return nil
}

// CommitTransaction implements backend.DataContext.
func (c *Context) CommitTransaction() error {
	if c.tx == nil {
		return backend.TransactionError{Phase: "commit", Err: fmt.Errorf("no open transaction")}
	}
	err := c.tx.Commit()
	c.tx = nil
	if err != nil {
		return backend.TransactionError{Phase: "commit", Err: err}
	}
	return nil
}

// AbortTransaction implements backend.DataContext.
func (c *Context) AbortTransaction() error {
	if c.tx == nil {
		return backend.TransactionError{Phase: "abort", Err: fmt.Errorf("no open transaction")}
	}
	err := c.tx.Rollback()
	c.tx = nil
	if err != nil {
		return backend.TransactionError{Phase: "abort", Err: err}
	}
	return nil
}

type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (c *Context) executor() executor {
	if c.tx != nil {
		return c.tx
	}
	return c.db
}

// ExecuteNonQuery renders the command positionally and executes it.
func (c *Context) ExecuteNonQuery(cmd backend.Command) (int64, error) {
	if cmd.Op == backend.OpCall && !c.opts.SupportsCall {
		return 0, fmt.Errorf("%w: stored procedures on %s", backend.ErrUnsupported, c.opts.Name)
	}
	text, args, err := backend.RenderPositional(cmd, c.opts.Style)
	if err != nil {
		return 0, err
	}
	res, err := c.executor().ExecContext(c.ctx, text, args...)
	if err != nil {
		return 0, fmt.Errorf("exec %s %s: %w", cmd.Op, cmd.Table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		// Some drivers cannot report a count; the write itself succeeded.
		return 0, nil
	}
	return n, nil
}

// ExecuteScalar runs a command returning one value. A key-returning insert
// that produces no row yields the insert-failed sentinel rather than an
// error, so the caller decides how to abort.
func (c *Context) ExecuteScalar(cmd backend.Command) (any, error) {
	text, args, err := backend.RenderPositional(cmd, c.opts.Style)
	if err != nil {
		return nil, err
	}
	var v any
	err = c.executor().QueryRowContext(c.ctx, text, args...).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		if cmd.Op == backend.OpInsert && cmd.ScalarReturn != "" {
			return backend.InsertFailedSentinel, nil
		}
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scalar %s %s: %w", cmd.Op, cmd.Table, err)
	}
	return normalizeValue(v), nil
}

// ExecuteQuery runs a select and materializes the result set as a snapshot
// holding one table of settled rows.
func (c *Context) ExecuteQuery(cmd backend.Command, entityName string) (*relational.Snapshot, error) {
	if cmd.Op != backend.OpSelect {
		return nil, fmt.Errorf("%w: query op %q", backend.ErrUnsupported, cmd.Op)
	}
	text, args, err := backend.RenderPositional(cmd, c.opts.Style)
	if err != nil {
		return nil, err
	}
	rows, err := c.executor().QueryContext(c.ctx, text, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", cmd.Table, err)
	}
	defer func() { _ = rows.Close() }()

	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var records [][]any
	for rows.Next() {
		values := make([]any, len(names))
		targets := make([]any, len(names))
		for i := range values {
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", cmd.Table, err)
		}
		for i, v := range values {
			values[i] = normalizeValue(v)
		}
		records = append(records, values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	snap := relational.NewSnapshot()
	schema := make([]relational.Column, len(names))
	for i, name := range names {
		kind := relational.KindString
		for _, rec := range records {
			if rec[i] != nil {
				kind = kindOf(rec[i])
				break
			}
		}
		schema[i] = relational.Column{Name: name, Kind: kind}
	}
	out := snap.AddTable(entityName, "", "", schema...)
	for _, rec := range records {
		row := out.NewRow()
		for i, name := range names {
			if rec[i] == nil {
				continue
			}
			if err := out.LoadValue(row, name, rec[i]); err != nil {
				return nil, err
			}
		}
	}
	out.Accept()
	return snap, nil
}

// normalizeValue maps driver representations onto snapshot value types.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case int32:
		return int64(x)
	case int:
		return int64(x)
	case float32:
		return float64(x)
	default:
		return v
	}
}

func kindOf(v any) relational.Kind {
	switch v.(type) {
	case int64:
		return relational.KindInt
	case float64:
		return relational.KindFloat
	case bool:
		return relational.KindBool
	default:
		return relational.KindString
	}
}
