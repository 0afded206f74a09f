// Package mysqltest provides a scripted database/sql driver. Each test lists
// the statements it expects in order together with their results, so SQL
// stores can be tested without a MySQL server.
package mysqltest

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

type opType int

const (
	opExec opType = iota
	opQuery
	opBegin
	opCommit
	opRollback
)

func (t opType) String() string {
	return [...]string{"exec", "query", "begin", "commit", "rollback"}[t]
}

// Op is one expected driver call.
type Op struct {
	typ    opType
	query  string
	result Result
	rows   Rows
	err    error
}

// WithError makes the call fail with err.
func (o Op) WithError(err error) Op {
	o.err = err
	return o
}

// Result is returned by an Exec.
type Result struct {
	LastInsertID int64
	RowsAffected int64
}

// execResult adapts Result to driver.Result.
type execResult struct{ r Result }

func (e execResult) LastInsertId() (int64, error) { return e.r.LastInsertID, nil }
func (e execResult) RowsAffected() (int64, error) { return e.r.RowsAffected, nil }

// Rows is returned by a Query.
type Rows struct {
	Columns []string
	Values  [][]driver.Value
}

// Exec expects query to be executed. Whitespace differences are ignored; an
// empty query matches any statement.
func Exec(query string, result Result) Op { return Op{typ: opExec, query: query, result: result} }

// Query expects query to be run and answers with rows.
func Query(query string, rows Rows) Op { return Op{typ: opQuery, query: query, rows: rows} }

func Begin() Op    { return Op{typ: opBegin} }
func Commit() Op   { return Op{typ: opCommit} }
func Rollback() Op { return Op{typ: opRollback} }

// Driver replays a script of operations.
type Driver struct {
	mu   sync.Mutex
	ops  []Op
	next int
	name string
}

var seq atomic.Int32

// New registers a fresh driver for ops and returns its name. The test fails
// at cleanup if any operation was not consumed.
func New(t testing.TB, ops ...Op) (*Driver, string) {
	t.Helper()
	d := &Driver{ops: ops, name: fmt.Sprintf("mysqltest-%d", seq.Add(1))}
	sql.Register(d.name, d)
	t.Cleanup(func() { d.AssertConsumed(t) })
	return d, d.name
}

// Open opens a single-connection pool on a new scripted driver.
func Open(t testing.TB, ops ...Op) *sql.DB {
	t.Helper()
	_, name := New(t, ops...)
	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("open scripted db: %v", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

// AssertConsumed fails t unless every operation ran.
func (d *Driver) AssertConsumed(t testing.TB) {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.next != len(d.ops) {
		t.Errorf("not all operations consumed: %d/%d", d.next, len(d.ops))
	}
}

func (d *Driver) Open(string) (driver.Conn, error) { return &conn{d: d}, nil }

func (d *Driver) take(expected opType, query string) (*Op, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.next >= len(d.ops) {
		return nil, fmt.Errorf("unexpected %s: %s", expected, normalize(query))
	}
	op := &d.ops[d.next]
	if op.typ != expected {
		return nil, fmt.Errorf("expected %s, got %s", op.typ, expected)
	}
	d.next++
	if op.query != "" && normalize(op.query) != normalize(query) {
		return nil, fmt.Errorf("unexpected query. want %q got %q", normalize(op.query), normalize(query))
	}
	return op, op.err
}

type conn struct{ d *Driver }

func (c *conn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported: %s", query)
}

func (c *conn) Close() error { return nil }

func (c *conn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *conn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	if _, err := c.d.take(opBegin, ""); err != nil {
		return nil, err
	}
	return &tx{d: c.d}, nil
}

func (c *conn) ExecContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Result, error) {
	op, err := c.d.take(opExec, query)
	if err != nil {
		return nil, err
	}
	return execResult{op.result}, nil
}

func (c *conn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	op, err := c.d.take(opQuery, query)
	if err != nil {
		return nil, err
	}
	return &rows{columns: op.rows.Columns, values: op.rows.Values}, nil
}

func (c *conn) Ping(context.Context) error { return nil }

// CheckNamedValue accepts every argument as is.
func (c *conn) CheckNamedValue(*driver.NamedValue) error { return nil }

type tx struct{ d *Driver }

func (t *tx) Commit() error {
	_, err := t.d.take(opCommit, "")
	return err
}

func (t *tx) Rollback() error {
	_, err := t.d.take(opRollback, "")
	return err
}

type rows struct {
	columns []string
	values  [][]driver.Value
	idx     int
}

func (r *rows) Columns() []string { return r.columns }
func (r *rows) Close() error      { return nil }

func (r *rows) Next(dest []driver.Value) error {
	if r.idx >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.idx])
	r.idx++
	return nil
}

func normalize(query string) string {
	return strings.Join(strings.Fields(query), " ")
}
