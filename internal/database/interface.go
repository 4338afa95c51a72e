package database

import "context"

// Execer runs statements. Both DB and Tx implement it, so schema code can
// run the same statements inside or outside a transaction.
type Execer interface {
	// Exec executes a statement that returns no rows and reports the
	// number of rows affected.
	Exec(ctx context.Context, sql string, args ...any) (int64, error)

	// Query executes a SQL statement that returns multiple rows.
	Query(ctx context.Context, sql string, args ...any) (Rows, error)

	// QueryRow executes a SQL statement that returns at most one row.
	// Errors are deferred to Row.Scan.
	QueryRow(ctx context.Context, sql string, args ...any) Row
}

// DB is the central contract for all database connections.
// All layers above this package talk only to this interface;
// they never import the sqlite, postgres or mysql packages directly.
type DB interface {
	Execer

	// Ping verifies the database is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the connection pool.
	Close()

	// Begin starts a transaction on a single pooled connection.
	Begin(ctx context.Context) (Tx, error)

	// Driver identifies the engine behind this connection.
	Driver() Driver
}

// Tx is an open transaction. Statements run through it share one
// connection until Commit or Rollback.
type Tx interface {
	Execer
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Rows is an abstraction over a database result set.
// Callers must always call Close() when done, even on error.
type Rows interface {
	// Next advances to the next row.
	// Returns false when no more rows exist or on error.
	Next() bool

	// Scan copies the current row's columns into the provided destinations.
	Scan(dest ...any) error

	// Columns returns the column names of the result set.
	Columns() ([]string, error)

	// Close releases resources held by the result set.
	Close()

	// Err returns any error encountered during iteration.
	Err() error
}

// Row is an abstraction over a single database row.
type Row interface {
	Scan(dest ...any) error
}
