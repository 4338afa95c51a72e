// Package postgres implements schema.Migrator for PostgreSQL with native
// ALTER TABLE statements. Operations that need several statements run in
// one transaction, since PostgreSQL DDL is transactional.
package postgres

import (
	"context"

	"github.com/google/uuid"

	"github.com/koustreak/reshape/internal/database"
	"github.com/koustreak/reshape/internal/errs"
	"github.com/koustreak/reshape/internal/logger"
	"github.com/koustreak/reshape/internal/schema"
)

// DefaultNamespace is the schema searched when none is configured.
const DefaultNamespace = "public"

// Schema is the PostgreSQL schema.Migrator.
type Schema struct {
	*Reader
	*schema.Session

	cache     schema.Cache
	log       *logger.Logger
	dialect   Dialect
	namespace string
}

// Option configures a Schema.
type Option func(*Schema)

func WithCache(c schema.Cache) Option {
	return func(s *Schema) { s.cache = c }
}

func WithLogger(l *logger.Logger) Option {
	return func(s *Schema) { s.log = l }
}

// WithNamespace sets the PostgreSQL schema whose tables are managed.
func WithNamespace(name string) Option {
	return func(s *Schema) { s.namespace = name }
}

// New returns a Schema operating on db.
func New(db database.DB, opts ...Option) *Schema {
	s := &Schema{
		cache:     schema.NopCache{},
		log:       logger.Nop(),
		dialect:   NewDialect(),
		namespace: DefaultNamespace,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Session = schema.NewSession(db, s.cache, s.log)
	s.Reader = NewReader(s.Conn(), s.cache, s.namespace)
	return s
}

func (s *Schema) Dialect() schema.Dialect { return s.dialect }

func (s *Schema) q(name string) string { return s.dialect.QuoteIdent(name) }

// alter runs statements against table in one transaction and logs the
// outcome under a fresh run id.
func (s *Schema) alter(ctx context.Context, table, what string, statements ...string) (err error) {
	defer schema.Invalidate(s.cache, table)

	op := s.log.StartOp(uuid.New().String(), table)
	defer func() { op.Done("alter table", err, map[string]interface{}{"op": what}) }()

	run := func() error {
		for _, stmt := range statements {
			if _, err := s.Conn().Exec(ctx, stmt); err != nil {
				return errs.Annotate(err, what)
			}
		}
		return nil
	}
	if len(statements) == 1 {
		return run()
	}
	return s.InTx(ctx, run)
}

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
	_, err := s.Conn().Exec(ctx, "DROP TABLE "+s.q(table))
	return errs.Annotate(err, "drop table "+table)
}

func (s *Schema) RenameTable(ctx context.Context, table, newName string) error {
	defer schema.Invalidate(s.cache, newName)
	return s.alter(ctx, table, "rename table "+table+" to "+newName,
		"ALTER TABLE "+s.q(table)+" RENAME TO "+s.q(newName))
}

func (s *Schema) AddColumn(ctx context.Context, table string, column schema.Column) error {
	def, err := schema.ColumnSQL(s.dialect, column)
	if err != nil {
		return err
	}
	return s.alter(ctx, table, "add column "+column.Name,
		"ALTER TABLE "+s.q(table)+" ADD COLUMN "+def)
}

func (s *Schema) RemoveColumn(ctx context.Context, table, column string) error {
	return s.alter(ctx, table, "remove column "+column,
		"ALTER TABLE "+s.q(table)+" DROP COLUMN "+s.q(column))
}

// ChangeColumn retypes column, then applies the options that are set.
// Existing columns cannot become serial keys in place.
func (s *Schema) ChangeColumn(ctx context.Context, table, column string, t schema.Type, opts schema.ChangeOptions) error {
	if t.Kind == schema.KindAutoincrementKey {
		return errs.New(errs.ErrKindInvalidInput, "cannot change an existing column to an autoincrement key")
	}
	typ, err := s.dialect.TypeSQL(t)
	if err != nil {
		return err
	}

	prefix := "ALTER TABLE " + s.q(table) + " ALTER COLUMN " + s.q(column)
	statements := []string{prefix + " TYPE " + typ}
	if opts.NotNull != nil {
		if *opts.NotNull {
			statements = append(statements, prefix+" SET NOT NULL")
		} else {
			statements = append(statements, prefix+" DROP NOT NULL")
		}
	}
	if opts.SetDefault {
		stmt, err := s.defaultSQL(prefix, opts.Default, t.Kind)
		if err != nil {
			return err
		}
		statements = append(statements, stmt)
	}
	return s.alter(ctx, table, "change column "+column, statements...)
}

// ChangeColumnDefault sets the default of column; nil removes it.
func (s *Schema) ChangeColumnDefault(ctx context.Context, table, column string, def any) error {
	col, err := s.column(ctx, table, column)
	if err != nil {
		return err
	}
	if col.IsAutoincrement() {
		return errs.Newf(errs.ErrKindInvalidInput, "column %q is an autoincrement key and takes no default", column)
	}
	stmt, err := s.defaultSQL("ALTER TABLE "+s.q(table)+" ALTER COLUMN "+s.q(column), def, col.Type.Kind)
	if err != nil {
		return err
	}
	return s.alter(ctx, table, "change default of "+column, stmt)
}

func (s *Schema) defaultSQL(prefix string, def any, kind schema.Kind) (string, error) {
	if def == nil {
		return prefix + " DROP DEFAULT", nil
	}
	v, err := s.dialect.QuoteValue(def, kind)
	if err != nil {
		return "", err
	}
	return prefix + " SET DEFAULT " + v, nil
}

func (s *Schema) RenameColumn(ctx context.Context, table, column, newName string) error {
	if column == newName {
		return nil
	}
	return s.alter(ctx, table, "rename column "+column+" to "+newName,
		"ALTER TABLE "+s.q(table)+" RENAME COLUMN "+s.q(column)+" TO "+s.q(newName))
}

// AddPrimaryKey replaces the primary key of table with columns.
func (s *Schema) AddPrimaryKey(ctx context.Context, table string, columns ...string) error {
	if len(columns) == 0 {
		return errs.New(errs.ErrKindInvalidInput, "primary key needs at least one column")
	}
	name, err := s.primaryKeyConstraint(ctx, table)
	if err != nil {
		return err
	}
	var statements []string
	if name != "" {
		statements = append(statements, "ALTER TABLE "+s.q(table)+" DROP CONSTRAINT "+s.q(name))
	}
	statements = append(statements,
		"ALTER TABLE "+s.q(table)+" ADD PRIMARY KEY ("+schema.QuoteColumns(s.dialect, columns)+")")
	return s.alter(ctx, table, "add primary key", statements...)
}

// RemovePrimaryKey drops the key constraint. A table without one is left
// as it is.
func (s *Schema) RemovePrimaryKey(ctx context.Context, table string) error {
	name, err := s.primaryKeyConstraint(ctx, table)
	if err != nil {
		return err
	}
	if name == "" {
		return nil
	}
	return s.alter(ctx, table, "remove primary key",
		"ALTER TABLE "+s.q(table)+" DROP CONSTRAINT "+s.q(name))
}

func (s *Schema) AddIndex(ctx context.Context, table string, columns []string, opts schema.IndexOptions) error {
	if len(columns) == 0 {
		return errs.New(errs.ErrKindInvalidInput, "index needs at least one column")
	}
	name := opts.Name
	if name == "" {
		name = schema.IndexName(table, columns...)
	}
	create := "CREATE INDEX "
	if opts.Unique {
		create = "CREATE UNIQUE INDEX "
	}
	return s.alter(ctx, table, "add index "+name,
		create+s.q(name)+" ON "+s.q(table)+" ("+schema.QuoteColumns(s.dialect, columns)+")")
}

func (s *Schema) RemoveIndex(ctx context.Context, table, name string) error {
	return s.alter(ctx, table, "remove index "+name, "DROP INDEX "+s.q(name))
}

func (s *Schema) column(ctx context.Context, table, name string) (schema.Column, error) {
	cols, err := s.Columns(ctx, table)
	if err != nil {
		return schema.Column{}, err
	}
	for _, c := range cols {
		if c.Name == name {
			return c, nil
		}
	}
	return schema.Column{}, errs.Newf(errs.ErrKindNotFound, "no column %q in table %q", name, table)
}

var _ schema.Migrator = (*Schema)(nil)
