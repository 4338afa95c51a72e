package sqlite

import (
	"context"

	"github.com/google/uuid"

	"github.com/koustreak/reshape/internal/errs"
	"github.com/koustreak/reshape/internal/schema"
)

// alterTable rebuilds table: it is moved to a temporary altered_ twin
// (renaming columns on the way) and moved back with ops applied. Both hops
// run in one transaction. If the caller has a transaction open the rebuild
// joins it and the caller decides the outcome.
func (s *Schema) alterTable(ctx context.Context, table string, rename map[string]string, ops ...schema.Op) (err error) {
	altered := alteredPrefix + table

	// Registered first so it runs after the transaction has ended.
	defer schema.Invalidate(s.cache, table, altered)

	op := s.log.StartOp(uuid.New().String(), table)
	defer func() { op.Done("alter table", err, map[string]interface{}{"ops": opNames(rename, ops)}) }()

	return s.InTx(ctx, func() error {
		if err := s.moveTable(ctx, table, altered, copyOptions{temporary: true, rename: rename}); err != nil {
			return errs.Annotate(err, "alter table "+table)
		}
		if err := s.moveTable(ctx, altered, table, copyOptions{}, ops...); err != nil {
			return errs.Annotate(err, "alter table "+table)
		}
		return nil
	})
}

func opNames(rename map[string]string, ops []schema.Op) []string {
	names := make([]string, 0, len(rename)+len(ops))
	for from, to := range rename {
		names = append(names, "rename column "+from+" to "+to)
	}
	for _, op := range ops {
		names = append(names, op.String())
	}
	return names
}

// AddColumn rebuilds table with an extra column, then compacts the
// database. It refuses to run inside an open transaction because VACUUM
// cannot.
func (s *Schema) AddColumn(ctx context.Context, table string, column schema.Column) error {
	if s.InTransaction() {
		return errs.New(errs.ErrKindPrecondition, "cannot add columns to a SQLite database while inside a transaction")
	}
	if err := s.alterTable(ctx, table, nil, schema.AddColumn{Column: column}); err != nil {
		return err
	}
	if _, err := s.Conn().Exec(ctx, "VACUUM"); err != nil {
		return errs.Annotate(err, "vacuum after add column")
	}
	return nil
}

func (s *Schema) RemoveColumn(ctx context.Context, table, column string) error {
	return s.alterTable(ctx, table, nil, schema.RemoveColumn{Name: column})
}

// ChangeColumn retypes column. Options left unset keep their value.
func (s *Schema) ChangeColumn(ctx context.Context, table, column string, t schema.Type, opts schema.ChangeOptions) error {
	return s.alterTable(ctx, table, nil, schema.ChangeColumn{Name: column, Type: t, Options: opts})
}

// ChangeColumnDefault sets the default of column; nil removes it.
func (s *Schema) ChangeColumnDefault(ctx context.Context, table, column string, def any) error {
	return s.alterTable(ctx, table, nil, schema.ChangeDefault{Name: column, Default: def})
}

// RenameColumn renames a column during the away hop of the rebuild.
func (s *Schema) RenameColumn(ctx context.Context, table, column, newName string) error {
	if column == newName {
		return nil
	}
	return s.alterTable(ctx, table, map[string]string{column: newName})
}

func (s *Schema) AddPrimaryKey(ctx context.Context, table string, columns ...string) error {
	return s.alterTable(ctx, table, nil, schema.SetPrimaryKey{Columns: columns})
}

func (s *Schema) RemovePrimaryKey(ctx context.Context, table string) error {
	return s.alterTable(ctx, table, nil, schema.ClearPrimaryKey{})
}
