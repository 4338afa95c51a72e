// Package sqlite provides a SQLite implementation of database.DB.
//
// The default build uses the pure Go modernc.org/sqlite driver. Building
// with -tags cgo_sqlite switches to github.com/mattn/go-sqlite3.
//
// Usage:
//
//	cfg := database.DefaultConfig(database.DriverSQLite, "app.db")
//	db, err := sqlite.New(ctx, cfg)
//	if err != nil { ... }
//	defer db.Close()
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/koustreak/reshape/internal/database"
	"github.com/koustreak/reshape/internal/errs"
)

// SQLite primary result codes used for error classification.
// Full list: https://www.sqlite.org/rescode.html
const (
	codeError      = 1
	codePerm       = 3
	codeBusy       = 5
	codeLocked     = 6
	codeReadOnly   = 8
	codeCantOpen   = 14
	codeConstraint = 19
	codeAuth       = 23
	codeNotADB     = 26
)

// Driver is a SQLite implementation of database.DB backed by database/sql.
type Driver struct {
	db *sql.DB
}

// New opens a SQLite database using the provided Config and returns a Driver.
// It calls Ping to validate the connection before returning.
func New(ctx context.Context, cfg *database.Config) (*Driver, error) {
	if cfg.DSN == "" {
		return nil, errs.New(errs.ErrKindInvalidInput, "sqlite DSN (database path) is empty")
	}

	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "invalid DSN", err)
	}

	maxConns := int(cfg.MaxConns)
	if maxConns <= 0 {
		maxConns = 1
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxLifetime(cfg.MaxConnLifetime)
	db.SetConnMaxIdleTime(cfg.MaxConnIdleTime)

	d := &Driver{db: db}

	pingCtx := ctx
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	if err := d.Ping(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return d, nil
}

// DriverType reports which SQLite implementation was compiled in:
// "purego" (modernc.org/sqlite) or "cgo" (mattn/go-sqlite3).
func DriverType() string {
	return driverType
}

// --- database.DB implementation ---

func (d *Driver) Ping(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return mapError(err, "ping failed")
	}
	return nil
}

func (d *Driver) Close() {
	_ = d.db.Close()
}

func (d *Driver) Driver() database.Driver {
	return database.DriverSQLite
}

func (d *Driver) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return execResult(d.db.ExecContext(ctx, query, args...))
}

func (d *Driver) Query(ctx context.Context, query string, args ...any) (database.Rows, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "query failed")
	}
	return &sqliteRows{rows: rows}, nil
}

func (d *Driver) QueryRow(ctx context.Context, query string, args ...any) database.Row {
	return &sqliteRow{row: d.db.QueryRowContext(ctx, query, args...)}
}

// Begin starts a transaction. database/sql binds it to one connection for
// its whole lifetime, which temp tables created inside it rely on.
func (d *Driver) Begin(ctx context.Context) (database.Tx, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, mapError(err, "begin transaction failed")
	}
	return &sqliteTx{tx: tx}, nil
}

// --- sql.DB type wrappers ---

type sqliteRows struct {
	rows *sql.Rows
}

func (r *sqliteRows) Next() bool                 { return r.rows.Next() }
func (r *sqliteRows) Scan(dest ...any) error     { return mapError(r.rows.Scan(dest...), "scan failed") }
func (r *sqliteRows) Columns() ([]string, error) { return r.rows.Columns() }
func (r *sqliteRows) Close()                     { _ = r.rows.Close() }
func (r *sqliteRows) Err() error                 { return mapError(r.rows.Err(), "row iteration failed") }

type sqliteRow struct {
	row *sql.Row
}

func (r *sqliteRow) Scan(dest ...any) error {
	return mapError(r.row.Scan(dest...), "scan failed")
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return execResult(t.tx.ExecContext(ctx, query, args...))
}

func (t *sqliteTx) Query(ctx context.Context, query string, args ...any) (database.Rows, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "query failed")
	}
	return &sqliteRows{rows: rows}, nil
}

func (t *sqliteTx) QueryRow(ctx context.Context, query string, args ...any) database.Row {
	return &sqliteRow{row: t.tx.QueryRowContext(ctx, query, args...)}
}

func (t *sqliteTx) Commit(_ context.Context) error {
	return mapError(t.tx.Commit(), "commit failed")
}

func (t *sqliteTx) Rollback(_ context.Context) error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return mapError(err, "rollback failed")
}

func execResult(res sql.Result, err error) (int64, error) {
	if err != nil {
		return 0, mapError(err, "exec failed")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, mapError(err, "rows affected unavailable")
	}
	return n, nil
}

// --- error mapping ---

// mapError translates SQLite driver errors into *errs.Error.
// A nil err maps to a nil error interface, never a typed nil.
func mapError(err error, msg string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}

	if errors.Is(err, sql.ErrNoRows) {
		return errs.Wrap(errs.ErrKindNotFound, msg, err)
	}

	if code, ok := resultCode(err); ok {
		return errs.Wrap(classifyCode(code, err.Error()), msg, err)
	}

	return errs.Wrap(errs.ErrKindQueryFailed, msg, err)
}

// classifyCode maps SQLite primary result codes to ErrKind.
func classifyCode(code int, text string) errs.ErrKind {
	switch code {
	case codeConstraint:
		return errs.ErrKindConflict
	case codeBusy, codeLocked:
		return errs.ErrKindTimeout
	case codePerm, codeReadOnly, codeAuth:
		return errs.ErrKindPermissionDenied
	case codeCantOpen, codeNotADB:
		return errs.ErrKindConnectionFailed
	case codeError:
		if strings.Contains(text, "no such table") || strings.Contains(text, "no such column") {
			return errs.ErrKindNotFound
		}
		return errs.ErrKindQueryFailed
	default:
		return errs.ErrKindQueryFailed
	}
}

var _ database.DB = (*Driver)(nil)
