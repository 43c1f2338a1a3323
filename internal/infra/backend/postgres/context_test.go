package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"io"
	"testing"

	"entitycore/pkg/backend"
)

// stubConn records statements so tests can assert the rendered SQL without a
// running server.
type stubConn struct {
	execs []string
	args  [][]driver.NamedValue
}

type stubConnector struct{ conn *stubConn }

func (c *stubConnector) Connect(context.Context) (driver.Conn, error) { return c.conn, nil }
func (c *stubConnector) Driver() driver.Driver                        { return stubDriver{c.conn} }

type stubDriver struct{ conn *stubConn }

func (d stubDriver) Open(string) (driver.Conn, error) { return d.conn, nil }

func (c *stubConn) Prepare(string) (driver.Stmt, error) { return nil, driver.ErrSkip }
func (c *stubConn) Close() error                        { return nil }
func (c *stubConn) Begin() (driver.Tx, error)           { return stubTx{}, nil }
func (c *stubConn) Ping(context.Context) error          { return nil }

func (c *stubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.execs = append(c.execs, query)
	c.args = append(c.args, args)
	return driver.RowsAffected(1), nil
}

func (c *stubConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.execs = append(c.execs, query)
	c.args = append(c.args, args)
	return emptyRows{}, nil
}

type stubTx struct{}

func (stubTx) Commit() error   { return nil }
func (stubTx) Rollback() error { return nil }

type emptyRows struct{}

func (emptyRows) Columns() []string         { return nil }
func (emptyRows) Close() error              { return nil }
func (emptyRows) Next([]driver.Value) error { return io.EOF }

func openStub(t *testing.T) (backend.DataContext, *stubConn) {
	t.Helper()
	conn := &stubConn{}
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) {
		return sql.OpenDB(&stubConnector{conn: conn}), nil
	})
	t.Cleanup(restore)
	ctx, err := Open("", "CREATE TABLE invoices (id TEXT PRIMARY KEY)")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return ctx, conn
}

func TestOpenAppliesDDL(t *testing.T) {
	_, conn := openStub(t)
	if len(conn.execs) != 1 || conn.execs[0] != "CREATE TABLE invoices (id TEXT PRIMARY KEY)" {
		t.Fatalf("ddl not applied: %v", conn.execs)
	}
}

func TestExecRendersOrdinalPlaceholders(t *testing.T) {
	c, conn := openStub(t)
	_, err := c.ExecuteNonQuery(backend.Command{
		Text: "UPDATE invoices SET title = :title WHERE id = :key",
		Params: []backend.Param{
			{Name: "title", Value: "March"},
			{Name: "key", Value: "a"},
		},
		Op:    backend.OpUpdate,
		Table: "invoices",
	})
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	got := conn.execs[len(conn.execs)-1]
	want := "UPDATE invoices SET title = $1 WHERE id = $2"
	if got != want {
		t.Fatalf("rendered:\n got %q\nwant %q", got, want)
	}
	sent := conn.args[len(conn.args)-1]
	if len(sent) != 2 || sent[0].Value != "March" || sent[1].Value != "a" {
		t.Fatalf("args: %v", sent)
	}
}

func TestStoredProcedureSupported(t *testing.T) {
	c, conn := openStub(t)
	_, err := c.ExecuteNonQuery(backend.Command{
		Text:   "CALL sp_update_invoices(:title, :key)",
		Params: []backend.Param{{Name: "title", Value: "x"}, {Name: "key", Value: "a"}},
		Op:     backend.OpCall,
		Table:  "invoices",
	})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	got := conn.execs[len(conn.execs)-1]
	if got != "CALL sp_update_invoices($1, $2)" {
		t.Fatalf("rendered: %q", got)
	}
}

func TestTransactionProtocol(t *testing.T) {
	c, _ := openStub(t)
	if c.InTransaction() {
		t.Fatal("fresh context in transaction")
	}
	if err := c.BeginTransaction(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := c.BeginTransaction(); err == nil {
		t.Fatal("nested begin must fail")
	}
	if err := c.CommitTransaction(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if c.InTransaction() {
		t.Fatal("transaction still open after commit")
	}
	if err := c.AbortTransaction(); err == nil {
		t.Fatal("abort without transaction must fail")
	}
}
