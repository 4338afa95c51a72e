// Package mysql implements schema.Migrator for MySQL with native ALTER
// TABLE statements. MySQL commits DDL implicitly, so each operation is a
// single statement and transactions only group data changes.
package mysql

import (
	"context"

	"github.com/google/uuid"

	"github.com/koustreak/reshape/internal/database"
	"github.com/koustreak/reshape/internal/errs"
	"github.com/koustreak/reshape/internal/logger"
	"github.com/koustreak/reshape/internal/schema"
)

// tableOptions is appended to CREATE TABLE.
const tableOptions = " ENGINE=InnoDB DEFAULT CHARSET=utf8mb4"

// Schema is the MySQL schema.Migrator.
type Schema struct {
	*Reader
	*schema.Session

	cache   schema.Cache
	log     *logger.Logger
	dialect Dialect
}

type Option func(*Schema)

func WithCache(c schema.Cache) Option {
	return func(s *Schema) { s.cache = c }
}

func WithLogger(l *logger.Logger) Option {
	return func(s *Schema) { s.log = l }
}

// New returns a Schema operating on the current database of db.
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

func (s *Schema) q(name string) string { return s.dialect.QuoteIdent(name) }

func (s *Schema) alter(ctx context.Context, table, what, statement string) (err error) {
	defer schema.Invalidate(s.cache, table)

	op := s.log.StartOp(uuid.New().String(), table)
	defer func() { op.Done("alter table", err, map[string]interface{}{"op": what}) }()

	if _, err := s.Conn().Exec(ctx, statement); err != nil {
		return errs.Annotate(err, what)
	}
	return nil
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
	sql, err := def.SQL()
	if err != nil {
		return err
	}
	_, err = s.Conn().Exec(ctx, sql+tableOptions)
	return errs.Annotate(err, "create table "+table)
}

func (s *Schema) DropTable(ctx context.Context, table string) error {
	defer schema.Invalidate(s.cache, table)
	_, err := s.Conn().Exec(ctx, "DROP TABLE "+s.q(table))
	return errs.Annotate(err, "drop table "+table)
}

func (s *Schema) RenameTable(ctx context.Context, table, newName string) error {
	defer schema.Invalidate(s.cache, newName)
	return s.alter(ctx, table, "rename table "+table+" to "+newName,
		"ALTER TABLE "+s.q(table)+" RENAME "+s.q(newName))
}

func (s *Schema) AddColumn(ctx context.Context, table string, column schema.Column) error {
	def, err := schema.ColumnSQL(s.dialect, column)
	if err != nil {
		return err
	}
	return s.alter(ctx, table, "add column "+column.Name, "ALTER TABLE "+s.q(table)+" ADD "+def)
}

func (s *Schema) RemoveColumn(ctx context.Context, table, column string) error {
	return s.alter(ctx, table, "remove column "+column, "ALTER TABLE "+s.q(table)+" DROP "+s.q(column))
}

// ChangeColumn rewrites the column with CHANGE. Unset options keep their
// current value. Turning a column into an autoincrement key drops the
// existing primary key in the same statement.
func (s *Schema) ChangeColumn(ctx context.Context, table, column string, t schema.Type, opts schema.ChangeOptions) error {
	f, err := s.field(ctx, table, column)
	if err != nil {
		return err
	}
	current := toColumn(f)
	col := schema.Column{Name: column, Type: t, NotNull: current.NotNull, Default: current.Default}
	if opts.NotNull != nil {
		col.NotNull = *opts.NotNull
	}
	if opts.SetDefault {
		col.Default = opts.Default
	}
	def, err := schema.ColumnSQL(s.dialect, col)
	if err != nil {
		return err
	}

	stmt := "ALTER TABLE " + s.q(table) + " "
	if t.Kind == schema.KindAutoincrementKey {
		pk, err := s.PrimaryKey(ctx, table)
		if err != nil {
			return err
		}
		if len(pk.Columns) > 0 {
			stmt += "DROP PRIMARY KEY, "
		}
	}
	stmt += "CHANGE " + s.q(column) + " " + def
	return s.alter(ctx, table, "change column "+column, stmt)
}

// ChangeColumnDefault sets the default of column; nil removes it.
func (s *Schema) ChangeColumnDefault(ctx context.Context, table, column string, def any) error {
	f, err := s.field(ctx, table, column)
	if err != nil {
		return err
	}
	col := toColumn(f)
	if col.IsAutoincrement() {
		return errs.Newf(errs.ErrKindInvalidInput, "column %q is an autoincrement key and takes no default", column)
	}

	stmt := "ALTER TABLE " + s.q(table) + " ALTER COLUMN " + s.q(column)
	if def == nil {
		stmt += " DROP DEFAULT"
	} else {
		v, err := s.dialect.QuoteValue(def, col.Type.Kind)
		if err != nil {
			return err
		}
		stmt += " SET DEFAULT " + v
	}
	return s.alter(ctx, table, "change default of "+column, stmt)
}

// RenameColumn uses CHANGE with the column's current definition.
func (s *Schema) RenameColumn(ctx context.Context, table, column, newName string) error {
	if column == newName {
		return nil
	}
	f, err := s.field(ctx, table, column)
	if err != nil {
		return err
	}
	def, err := s.fieldDefinition(f)
	if err != nil {
		return err
	}
	return s.alter(ctx, table, "rename column "+column+" to "+newName,
		"ALTER TABLE "+s.q(table)+" CHANGE "+s.q(column)+" "+s.q(newName)+" "+def)
}

// fieldDefinition restates a column as SHOW FIELDS reports it.
func (s *Schema) fieldDefinition(f fieldRow) (string, error) {
	sql := f.Type
	if !f.Null {
		sql += " NOT NULL"
	}
	if f.Default != nil {
		col := toColumn(f)
		v, err := s.dialect.QuoteValue(col.Default, col.Type.Kind)
		if err != nil {
			return "", err
		}
		sql += " DEFAULT " + v
	}
	if f.autoIncrement() {
		sql += " AUTO_INCREMENT"
	}
	return sql, nil
}

// AddPrimaryKey replaces the primary key of table with columns.
func (s *Schema) AddPrimaryKey(ctx context.Context, table string, columns ...string) error {
	if len(columns) == 0 {
		return errs.New(errs.ErrKindInvalidInput, "primary key needs at least one column")
	}
	pk, err := s.PrimaryKey(ctx, table)
	if err != nil {
		return err
	}
	stmt := "ALTER TABLE " + s.q(table) + " "
	if len(pk.Columns) > 0 {
		stmt += "DROP PRIMARY KEY, "
	}
	stmt += "ADD PRIMARY KEY (" + schema.QuoteColumns(s.dialect, columns) + ")"
	return s.alter(ctx, table, "add primary key", stmt)
}

func (s *Schema) RemovePrimaryKey(ctx context.Context, table string) error {
	pk, err := s.PrimaryKey(ctx, table)
	if err != nil {
		return err
	}
	if len(pk.Columns) == 0 {
		return nil
	}
	return s.alter(ctx, table, "remove primary key", "ALTER TABLE "+s.q(table)+" DROP PRIMARY KEY")
}

// AddIndex creates an index. Derived names are cut to 64 characters.
func (s *Schema) AddIndex(ctx context.Context, table string, columns []string, opts schema.IndexOptions) error {
	if len(columns) == 0 {
		return errs.New(errs.ErrKindInvalidInput, "index needs at least one column")
	}
	name := opts.Name
	if name == "" {
		name = indexName(table, columns...)
	}
	create := "CREATE INDEX "
	if opts.Unique {
		create = "CREATE UNIQUE INDEX "
	}
	return s.alter(ctx, table, "add index "+name,
		create+s.q(name)+" ON "+s.q(table)+" ("+schema.QuoteColumns(s.dialect, columns)+")")
}

func (s *Schema) RemoveIndex(ctx context.Context, table, name string) error {
	return s.alter(ctx, table, "remove index "+name, "DROP INDEX "+s.q(name)+" ON "+s.q(table))
}

var _ schema.Migrator = (*Schema)(nil)
