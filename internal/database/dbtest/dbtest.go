// Package dbtest provides a scripted database.DB for unit tests of code
// that issues SQL without needing a live server.
//
// Queries are answered from results registered with OnQuery, matched by
// substring; the most recently registered match wins. Exec records every
// statement and fails the ones registered with FailExec.
package dbtest

import (
	"context"
	"reflect"
	"strings"
	"sync"

	"github.com/koustreak/reshape/internal/database"
	"github.com/koustreak/reshape/internal/errs"
)

// Statement is one recorded Exec call.
type Statement struct {
	SQL  string
	Args []any
	InTx bool
}

type result struct {
	match   string
	columns []string
	rows    [][]any
}

type failure struct {
	match string
	err   error
}

// DB is a scripted database.DB.
type DB struct {
	mu         sync.Mutex
	driver     database.Driver
	results    []result
	failures   []failure
	statements []Statement

	Commits   int
	Rollbacks int
}

// New returns an empty DB reporting driver.
func New(driver database.Driver) *DB {
	return &DB{driver: driver}
}

// OnQuery answers queries containing match with columns and rows.
func (d *DB) OnQuery(match string, columns []string, rows ...[]any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results = append(d.results, result{match: match, columns: columns, rows: rows})
}

// FailExec makes statements containing match fail with err.
func (d *DB) FailExec(match string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures = append(d.failures, failure{match: match, err: err})
}

// Statements returns the SQL of every recorded Exec call, in order.
func (d *DB) Statements() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.statements))
	for i, s := range d.statements {
		out[i] = s.SQL
	}
	return out
}

// Recorded returns every recorded Exec call, in order.
func (d *DB) Recorded() []Statement {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Statement(nil), d.statements...)
}

func (d *DB) Driver() database.Driver    { return d.driver }
func (d *DB) Ping(context.Context) error { return nil }
func (d *DB) Close()                     {}

func (d *DB) Begin(context.Context) (database.Tx, error) {
	return &tx{db: d}, nil
}

func (d *DB) Exec(_ context.Context, sql string, args ...any) (int64, error) {
	return d.exec(sql, args, false)
}

func (d *DB) Query(_ context.Context, sql string, _ ...any) (database.Rows, error) {
	return d.query(sql), nil
}

func (d *DB) QueryRow(_ context.Context, sql string, _ ...any) database.Row {
	return row{rows: d.query(sql)}
}

func (d *DB) exec(sql string, args []any, inTx bool) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.statements = append(d.statements, Statement{SQL: sql, Args: args, InTx: inTx})
	for _, f := range d.failures {
		if strings.Contains(sql, f.match) {
			return 0, f.err
		}
	}
	return 0, nil
}

func (d *DB) query(sql string) *rows {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := len(d.results) - 1; i >= 0; i-- {
		if strings.Contains(sql, d.results[i].match) {
			r := d.results[i]
			return &rows{columns: r.columns, data: r.rows}
		}
	}
	return &rows{}
}

type tx struct {
	db *DB
}

func (t *tx) Exec(_ context.Context, sql string, args ...any) (int64, error) {
	return t.db.exec(sql, args, true)
}

func (t *tx) Query(ctx context.Context, sql string, args ...any) (database.Rows, error) {
	return t.db.Query(ctx, sql, args...)
}

func (t *tx) QueryRow(ctx context.Context, sql string, args ...any) database.Row {
	return t.db.QueryRow(ctx, sql, args...)
}

func (t *tx) Commit(context.Context) error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	t.db.Commits++
	return nil
}

func (t *tx) Rollback(context.Context) error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	t.db.Rollbacks++
	return nil
}

type rows struct {
	columns []string
	data    [][]any
	pos     int
}

func (r *rows) Next() bool {
	if r.pos >= len(r.data) {
		return false
	}
	r.pos++
	return true
}

func (r *rows) Scan(dest ...any) error {
	if r.pos == 0 || r.pos > len(r.data) {
		return errs.New(errs.ErrKindQueryFailed, "scan called without a current row")
	}
	current := r.data[r.pos-1]
	if len(dest) != len(current) {
		return errs.Newf(errs.ErrKindQueryFailed, "scan expects %d destinations, got %d", len(current), len(dest))
	}
	for i, v := range current {
		if err := assign(dest[i], v); err != nil {
			return err
		}
	}
	return nil
}

func (r *rows) Columns() ([]string, error) { return r.columns, nil }
func (r *rows) Close()                     {}
func (r *rows) Err() error                 { return nil }

type row struct {
	rows *rows
}

func (r row) Scan(dest ...any) error {
	if !r.rows.Next() {
		return errs.New(errs.ErrKindNotFound, "no rows in result set")
	}
	return r.rows.Scan(dest...)
}

// assign stores v in the pointer dest, converting between compatible
// kinds and allocating for pointer-to-pointer destinations.
func assign(dest, v any) error {
	if p, ok := dest.(*any); ok {
		*p = v
		return nil
	}
	dv := reflect.ValueOf(dest)
	if dv.Kind() != reflect.Pointer || dv.IsNil() {
		return errs.Newf(errs.ErrKindQueryFailed, "scan destination %T is not a pointer", dest)
	}
	target := dv.Elem()
	if v == nil {
		target.SetZero()
		return nil
	}
	if target.Kind() == reflect.Pointer {
		inner := reflect.New(target.Type().Elem())
		if err := assign(inner.Interface(), v); err != nil {
			return err
		}
		target.Set(inner)
		return nil
	}

	sv := reflect.ValueOf(v)
	if !compatible(sv.Kind(), target.Kind()) || !sv.Type().ConvertibleTo(target.Type()) {
		return errs.Newf(errs.ErrKindQueryFailed, "cannot scan %T into %s", v, target.Type())
	}
	target.Set(sv.Convert(target.Type()))
	return nil
}

func compatible(from, to reflect.Kind) bool {
	class := func(k reflect.Kind) int {
		switch k {
		case reflect.String:
			return 1
		case reflect.Bool:
			return 2
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
			reflect.Float32, reflect.Float64:
			return 3
		default:
			return 4
		}
	}
	return class(from) == class(to)
}

var _ database.DB = (*DB)(nil)
