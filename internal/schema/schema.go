// Package schema defines the engine-neutral schema model (types, columns,
// indexes, table definitions and alteration ops) and the Introspector and
// Migrator contracts implemented per engine.
package schema

import (
	"context"

	"github.com/koustreak/reshape/internal/database"
)

// Introspector reads table structure.
type Introspector interface {
	// Tables returns all user tables, sorted by name.
	Tables(ctx context.Context) ([]string, error)

	// TableExists checks whether a table exists.
	TableExists(ctx context.Context, table string) (bool, error)

	// Columns returns the columns of a table in declaration order.
	Columns(ctx context.Context, table string) ([]Column, error)

	// Indexes returns the secondary indexes of a table. The primary key is
	// not included.
	Indexes(ctx context.Context, table string) ([]Index, error)

	// PrimaryKey returns the primary key as an Index named PrimaryKeyName.
	// A table without a key yields an Index with no columns.
	PrimaryKey(ctx context.Context, table string) (Index, error)
}

// Migrator changes table structure. Every mutating call invalidates the
// cached metadata of the tables it touches before returning.
type Migrator interface {
	Introspector

	Dialect() Dialect

	// Conn is the statement executor in use: the open transaction if there
	// is one, else the database.
	Conn() database.Execer

	CreateTable(ctx context.Context, table string, columns []Column, primaryKey ...string) error
	DropTable(ctx context.Context, table string) error
	RenameTable(ctx context.Context, table, newName string) error

	AddColumn(ctx context.Context, table string, column Column) error
	RemoveColumn(ctx context.Context, table, column string) error
	ChangeColumn(ctx context.Context, table, column string, t Type, opts ChangeOptions) error
	ChangeColumnDefault(ctx context.Context, table, column string, def any) error
	RenameColumn(ctx context.Context, table, column, newName string) error

	AddPrimaryKey(ctx context.Context, table string, columns ...string) error
	RemovePrimaryKey(ctx context.Context, table string) error

	AddIndex(ctx context.Context, table string, columns []string, opts IndexOptions) error
	RemoveIndex(ctx context.Context, table, name string) error

	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	InTransaction() bool
}

// Describe gathers columns, indexes and primary key of one table.
func Describe(ctx context.Context, in Introspector, table string) (*TableInfo, error) {
	cols, err := in.Columns(ctx, table)
	if err != nil {
		return nil, err
	}
	idx, err := in.Indexes(ctx, table)
	if err != nil {
		return nil, err
	}
	pk, err := in.PrimaryKey(ctx, table)
	if err != nil {
		return nil, err
	}
	if idx == nil {
		idx = []Index{}
	}
	return &TableInfo{Name: table, Columns: cols, Indexes: idx, PrimaryKey: pk}, nil
}
