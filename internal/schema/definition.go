package schema

import (
	"context"
	"slices"
	"strings"

	"github.com/koustreak/reshape/internal/database"
	"github.com/koustreak/reshape/internal/errs"
)

// TableDefinition accumulates the schema of a table before its
// CREATE TABLE statement is issued. It is built, mutated by alteration ops,
// finalized once by End and then discarded.
type TableDefinition struct {
	name      string
	dialect   Dialect
	temporary bool

	columns    []Column
	primaryKey []string

	finalized bool
}

// DefinitionOption configures a new TableDefinition.
type DefinitionOption func(*TableDefinition)

// Temporary makes End issue CREATE TEMPORARY TABLE.
func Temporary() DefinitionOption {
	return func(d *TableDefinition) { d.temporary = true }
}

// NewTableDefinition starts an empty definition. No key column is added
// implicitly; autoincrement keys are declared per column.
func NewTableDefinition(name string, d Dialect, opts ...DefinitionOption) *TableDefinition {
	def := &TableDefinition{name: name, dialect: d}
	for _, opt := range opts {
		opt(def)
	}
	return def
}

func (d *TableDefinition) Name() string { return d.name }

func (d *TableDefinition) IsTemporary() bool { return d.temporary }

// Column appends a column. A second column with the same name is an error.
// Autoincrement keys are forced NOT NULL with no default.
func (d *TableDefinition) Column(c Column) error {
	if err := d.mutable(); err != nil {
		return err
	}
	if c.Name == "" {
		return errs.New(errs.ErrKindInvalidInput, "column name is empty")
	}
	if _, ok := d.Lookup(c.Name); ok {
		return errs.Newf(errs.ErrKindInvalidInput, "column %q declared twice in table %q", c.Name, d.name)
	}
	c, err := normalizeColumn(c)
	if err != nil {
		return err
	}
	d.columns = append(d.columns, c)
	return nil
}

// ReplaceColumn swaps the column named c.Name for c, keeping its position.
func (d *TableDefinition) ReplaceColumn(c Column) error {
	if err := d.mutable(); err != nil {
		return err
	}
	i := d.index(c.Name)
	if i < 0 {
		return errs.Newf(errs.ErrKindNotFound, "no column %q in table %q", c.Name, d.name)
	}
	c, err := normalizeColumn(c)
	if err != nil {
		return err
	}
	d.columns[i] = c
	return nil
}

// RemoveColumn deletes a column and drops it from the explicit primary key.
func (d *TableDefinition) RemoveColumn(name string) error {
	if err := d.mutable(); err != nil {
		return err
	}
	i := d.index(name)
	if i < 0 {
		return errs.Newf(errs.ErrKindNotFound, "no column %q in table %q", name, d.name)
	}
	d.columns = slices.Delete(d.columns, i, i+1)
	d.primaryKey = slices.DeleteFunc(d.primaryKey, func(c string) bool { return c == name })
	return nil
}

// Lookup returns the column with the given name.
func (d *TableDefinition) Lookup(name string) (Column, bool) {
	if i := d.index(name); i >= 0 {
		return d.columns[i], true
	}
	return Column{}, false
}

// Columns returns a copy of the columns in declaration order.
func (d *TableDefinition) Columns() []Column {
	return slices.Clone(d.columns)
}

// ColumnNames returns the column names in declaration order.
func (d *TableDefinition) ColumnNames() []string {
	names := make([]string, len(d.columns))
	for i, c := range d.columns {
		names[i] = c.Name
	}
	return names
}

// PrimaryKey sets the explicit primary key columns.
func (d *TableDefinition) PrimaryKey(columns ...string) error {
	if err := d.mutable(); err != nil {
		return err
	}
	if len(columns) == 0 {
		return errs.New(errs.ErrKindInvalidInput, "primary key needs at least one column")
	}
	d.primaryKey = slices.Clone(columns)
	return nil
}

// ClearPrimaryKey drops the explicit primary key. An autoincrement column
// still creates an implicit one.
func (d *TableDefinition) ClearPrimaryKey() error {
	if err := d.mutable(); err != nil {
		return err
	}
	d.primaryKey = nil
	return nil
}

// PrimaryKeyColumns returns the explicit primary key, or nil.
func (d *TableDefinition) PrimaryKeyColumns() []string {
	return slices.Clone(d.primaryKey)
}

// AutoincrementColumn returns the name of the autoincrement key column.
func (d *TableDefinition) AutoincrementColumn() (string, bool) {
	for _, c := range d.columns {
		if c.IsAutoincrement() {
			return c.Name, true
		}
	}
	return "", false
}

// SQL renders the CREATE TABLE statement.
func (d *TableDefinition) SQL() (string, error) {
	if len(d.columns) == 0 {
		return "", errs.Newf(errs.ErrKindInvalidInput, "table %q has no columns", d.name)
	}

	autoinc := 0
	for _, c := range d.columns {
		if c.IsAutoincrement() {
			autoinc++
		}
	}
	if autoinc > 1 {
		return "", errs.Newf(errs.ErrKindInvalidInput, "table %q declares %d autoincrement keys", d.name, autoinc)
	}
	if autoinc == 1 && len(d.primaryKey) > 0 {
		return "", errs.Newf(errs.ErrKindInvalidInput,
			"table %q has an autoincrement key and an explicit primary key", d.name)
	}
	for _, pk := range d.primaryKey {
		if d.index(pk) < 0 {
			return "", errs.Newf(errs.ErrKindInvalidInput, "primary key column %q not in table %q", pk, d.name)
		}
	}

	parts := make([]string, 0, len(d.columns)+1)
	for _, c := range d.columns {
		sql, err := ColumnSQL(d.dialect, c)
		if err != nil {
			return "", errs.Annotate(err, "column "+c.Name)
		}
		parts = append(parts, "  "+sql)
	}
	if len(d.primaryKey) > 0 {
		parts = append(parts, "  PRIMARY KEY ("+QuoteColumns(d.dialect, d.primaryKey)+")")
	}

	create := "CREATE TABLE "
	if d.temporary {
		create = "CREATE TEMPORARY TABLE "
	}
	return create + d.dialect.QuoteIdent(d.name) + " (\n" + strings.Join(parts, ",\n") + "\n)", nil
}

// End issues the CREATE TABLE statement. The definition is immutable
// afterwards, whether or not the statement succeeded.
func (d *TableDefinition) End(ctx context.Context, exec database.Execer) error {
	if err := d.mutable(); err != nil {
		return err
	}
	sql, err := d.SQL()
	d.finalized = true
	if err != nil {
		return err
	}
	if _, err := exec.Exec(ctx, sql); err != nil {
		return errs.Annotate(err, "create table "+d.name)
	}
	return nil
}

func (d *TableDefinition) mutable() error {
	if d.finalized {
		return errs.Newf(errs.ErrKindPrecondition, "table definition %q already finalized", d.name)
	}
	return nil
}

func (d *TableDefinition) index(name string) int {
	return slices.IndexFunc(d.columns, func(c Column) bool { return c.Name == name })
}

func normalizeColumn(c Column) (Column, error) {
	if err := c.Type.Validate(); err != nil {
		return Column{}, errs.Annotate(err, "column "+c.Name)
	}
	if c.IsAutoincrement() {
		c.NotNull = true
		c.Default = nil
	}
	return c, nil
}
