// Package sqlite implements schema.Migrator for SQLite.
//
// SQLite cannot alter most column properties in place, so column and
// primary key changes rebuild the table: it is moved to a temporary
// "altered_" twin and copied back with the change applied, inside one
// transaction.
//
// Usage:
//
//	m := sqlite.New(db, sqlite.WithCache(schema.NewMemoryCache(0)), sqlite.WithLogger(log))
//	err := m.RemoveColumn(ctx, "users", "legacy_flag")
//
// A Schema is not safe for concurrent use; callers serialize alterations.
package sqlite

import (
	"context"

	"github.com/koustreak/reshape/internal/database"
	"github.com/koustreak/reshape/internal/errs"
	"github.com/koustreak/reshape/internal/logger"
	"github.com/koustreak/reshape/internal/schema"
)

// Schema is the SQLite schema.Migrator.
type Schema struct {
	*Reader
	*schema.Session

	cache   schema.Cache
	log     *logger.Logger
	dialect Dialect
}

// Option configures a Schema.
type Option func(*Schema)

// WithCache sets the metadata cache. The default caches nothing.
func WithCache(c schema.Cache) Option {
	return func(s *Schema) { s.cache = c }
}

// WithLogger sets the logger. The default discards output.
func WithLogger(l *logger.Logger) Option {
	return func(s *Schema) { s.log = l }
}

// New returns a Schema operating on db.
func New(db database.DB, opts ...Option) *Schema {
	s := &Schema{
		cache:   schema.NopCache{},
		log:     logger.Nop(),
		dialect: NewDialect(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Session = schema.NewSession(db, s.cache, s.log)
	s.Reader = NewReader(s.Conn(), s.cache)
	return s
}

func (s *Schema) Dialect() schema.Dialect { return s.dialect }

// --- native statements ---

// CreateTable creates a table from columns with an optional explicit key.
func (s *Schema) CreateTable(ctx context.Context, table string, columns []schema.Column, primaryKey ...string) error {
	defer schema.Invalidate(s.cache, table)

	def := schema.NewTableDefinition(table, s.dialect)
	for _, c := range columns {
		if err := def.Column(c); err != nil {
			return err
		}
	}
	if len(primaryKey) > 0 {
		if err := def.PrimaryKey(primaryKey...); err != nil {
			return err
		}
	}
	return def.End(ctx, s.Conn())
}

func (s *Schema) DropTable(ctx context.Context, table string) error {
	defer schema.Invalidate(s.cache, table)
	_, err := s.Conn().Exec(ctx, "DROP TABLE "+s.dialect.QuoteIdent(table))
	return errs.Annotate(err, "drop table "+table)
}

// RenameTable uses the native ALTER TABLE ... RENAME TO.
func (s *Schema) RenameTable(ctx context.Context, table, newName string) error {
	defer schema.Invalidate(s.cache, table, newName)
	_, err := s.Conn().Exec(ctx, "ALTER TABLE "+s.dialect.QuoteIdent(table)+" RENAME TO "+s.dialect.QuoteIdent(newName))
	return errs.Annotate(err, "rename table "+table)
}

// AddIndex creates an index. An empty opts.Name derives one.
func (s *Schema) AddIndex(ctx context.Context, table string, columns []string, opts schema.IndexOptions) error {
	defer schema.Invalidate(s.cache, table)
	if len(columns) == 0 {
		return errs.New(errs.ErrKindInvalidInput, "index needs at least one column")
	}
	name := opts.Name
	if name == "" {
		name = schema.IndexName(table, columns...)
	}
	_, err := s.Conn().Exec(ctx, createIndexSQL(s.dialect, table, name, columns, opts.Unique))
	return errs.Annotate(err, "add index "+name)
}

func (s *Schema) RemoveIndex(ctx context.Context, table, name string) error {
	defer schema.Invalidate(s.cache, table)
	_, err := s.Conn().Exec(ctx, "DROP INDEX "+s.dialect.QuoteIdent(name))
	return errs.Annotate(err, "remove index "+name)
}

func createIndexSQL(d Dialect, table, name string, columns []string, unique bool) string {
	create := "CREATE INDEX "
	if unique {
		create = "CREATE UNIQUE INDEX "
	}
	return create + d.QuoteIdent(name) + " ON " + d.QuoteIdent(table) + " (" + schema.QuoteColumns(d, columns) + ")"
}

var _ schema.Migrator = (*Schema)(nil)
