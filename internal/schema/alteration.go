package schema

import (
	"fmt"

	"github.com/koustreak/reshape/internal/errs"
)

// Op is one structural change applied to a TableDefinition during a
// rebuild. The set is closed: AddColumn, RemoveColumn, ChangeColumn,
// ChangeDefault, SetPrimaryKey and ClearPrimaryKey.
type Op interface {
	fmt.Stringer
	isOp()
}

// AddColumn appends a column.
type AddColumn struct {
	Column Column
}

// RemoveColumn drops a column, and drops it from the primary key.
type RemoveColumn struct {
	Name string
}

// ChangeColumn retypes a column. Changing to an autoincrement key clears
// the explicit primary key; changing an autoincrement key to anything else
// declares the column as the explicit primary key.
type ChangeColumn struct {
	Name    string
	Type    Type
	Options ChangeOptions
}

// ChangeDefault replaces a column's default. A nil Default removes it.
type ChangeDefault struct {
	Name    string
	Default any
}

// SetPrimaryKey declares an explicit primary key.
type SetPrimaryKey struct {
	Columns []string
}

// ClearPrimaryKey removes the explicit primary key.
type ClearPrimaryKey struct{}

func (AddColumn) isOp()       {}
func (RemoveColumn) isOp()    {}
func (ChangeColumn) isOp()    {}
func (ChangeDefault) isOp()   {}
func (SetPrimaryKey) isOp()   {}
func (ClearPrimaryKey) isOp() {}

func (o AddColumn) String() string     { return "add column " + o.Column.Name }
func (o RemoveColumn) String() string  { return "remove column " + o.Name }
func (o ChangeColumn) String() string  { return fmt.Sprintf("change column %s to %s", o.Name, o.Type) }
func (o ChangeDefault) String() string { return "change default of " + o.Name }
func (o SetPrimaryKey) String() string { return fmt.Sprintf("set primary key %v", o.Columns) }
func (ClearPrimaryKey) String() string { return "clear primary key" }

// Apply runs ops against def in order and stops at the first failure.
func Apply(def *TableDefinition, ops ...Op) error {
	for _, op := range ops {
		if err := apply(def, op); err != nil {
			return errs.Annotate(err, op.String())
		}
	}
	return nil
}

func apply(def *TableDefinition, op Op) error {
	switch o := op.(type) {
	case AddColumn:
		return def.Column(o.Column)

	case RemoveColumn:
		return def.RemoveColumn(o.Name)

	case ChangeColumn:
		col, ok := def.Lookup(o.Name)
		if !ok {
			return errs.Newf(errs.ErrKindNotFound, "no column %q in table %q", o.Name, def.Name())
		}
		wasKey := col.IsAutoincrement()
		col.Type = o.Type
		if o.Type.Kind == KindAutoincrementKey {
			if err := def.ClearPrimaryKey(); err != nil {
				return err
			}
			return def.ReplaceColumn(col)
		}
		if o.Options.NotNull != nil {
			col.NotNull = *o.Options.NotNull
		}
		if o.Options.SetDefault {
			col.Default = o.Options.Default
		}
		if err := def.ReplaceColumn(col); err != nil {
			return err
		}
		if wasKey && len(def.PrimaryKeyColumns()) == 0 {
			return def.PrimaryKey(o.Name)
		}
		return nil

	case ChangeDefault:
		col, ok := def.Lookup(o.Name)
		if !ok {
			return errs.Newf(errs.ErrKindNotFound, "no column %q in table %q", o.Name, def.Name())
		}
		if col.IsAutoincrement() {
			return errs.Newf(errs.ErrKindInvalidInput, "autoincrement key %q cannot have a default", o.Name)
		}
		col.Default = o.Default
		return def.ReplaceColumn(col)

	case SetPrimaryKey:
		return def.PrimaryKey(o.Columns...)

	case ClearPrimaryKey:
		return def.ClearPrimaryKey()

	default:
		return errs.Newf(errs.ErrKindInvalidInput, "unsupported alteration %T", op)
	}
}
